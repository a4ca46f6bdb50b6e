package auth

import (
	"crypto/aes"
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"math/big"
)

// DHKeyPair holds one side of a Diffie-Hellman exchange over the
// server-supplied group.
type DHKeyPair struct {
	Private *big.Int
	Public  *big.Int

	generator *big.Int
	prime     *big.Int
	keyLen    int
}

// NewDHKeyPair generates a keypair for the group (generator, prime).
// keyLen is the byte width of the group; public values and shared secrets
// are left-padded to it.
func NewDHKeyPair(generator, prime []byte, keyLen int) (*DHKeyPair, error) {
	g := new(big.Int).SetBytes(generator)
	p := new(big.Int).SetBytes(prime)

	if p.Sign() <= 0 {
		return nil, fmt.Errorf("invalid prime")
	}

	priv, err := rand.Int(rand.Reader, p)
	if err != nil {
		return nil, fmt.Errorf("dh private key: %w", err)
	}

	return &DHKeyPair{
		Private:   priv,
		Public:    new(big.Int).Exp(g, priv, p),
		generator: g,
		prime:     p,
		keyLen:    keyLen,
	}, nil
}

// PublicBytes returns the public value left-padded to the group width.
func (kp *DHKeyPair) PublicBytes() []byte {
	return leftPad(kp.Public.Bytes(), kp.keyLen)
}

// SharedSecret combines the peer's public value with our private key.
func (kp *DHKeyPair) SharedSecret(peerPublic []byte) []byte {
	peer := new(big.Int).SetBytes(peerPublic)
	secret := new(big.Int).Exp(peer, kp.Private, kp.prime)

	return leftPad(secret.Bytes(), kp.keyLen)
}

// AESECBEncrypt encrypts plaintext block-by-block with AES in ECB mode.
// Apple Remote Desktop wraps its credential buffer this way, keyed by the
// MD5 of the DH shared secret.
func AESECBEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	if len(plaintext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("plaintext length %d is not a multiple of the block size", len(plaintext))
	}

	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], plaintext[i:i+block.BlockSize()])
	}

	return out, nil
}

// MD5Sum returns the MD5 digest of p.
func MD5Sum(p []byte) []byte {
	sum := md5.Sum(p)

	return sum[:]
}

func leftPad(p []byte, n int) []byte {
	if len(p) >= n {
		return p
	}

	out := make([]byte, n)
	copy(out[n-len(p):], p)

	return out
}
