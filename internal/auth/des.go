// Package auth implements the cryptographic primitives used by the RFB
// security handshakes: the VNC flavor of DES, Diffie-Hellman key agreement,
// AES-EAX authenticated encryption and the RA2 session cipher. Nothing in
// this package touches the wire; the protocol engine drives it.
package auth

import (
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// reverseBits mirrors the bit order of a byte. VNC derives DES keys from
// passwords with each byte bit-reversed, a quirk inherited from the original
// AT&T implementation.
func reverseBits(b byte) byte {
	b = (b&0xF0)>>4 | (b&0x0F)<<4
	b = (b&0xCC)>>2 | (b&0x33)<<2
	b = (b&0xAA)>>1 | (b&0x55)<<1

	return b
}

// VNCDESKey derives the 8-byte DES key from a password: ASCII bytes,
// right-padded with zeros, each byte bit-reversed. Characters beyond the
// eighth are ignored.
func VNCDESKey(password string) []byte {
	key := make([]byte, 8)

	for i := 0; i < len(password) && i < 8; i++ {
		key[i] = reverseBits(password[i])
	}

	return key
}

// GenDES encrypts the server challenge with the password-derived key in ECB
// mode, two independent 8-byte blocks. This is the VNCAuth response.
func GenDES(password string, challenge []byte) ([]byte, error) {
	if len(challenge)%8 != 0 {
		return nil, fmt.Errorf("challenge length %d is not a multiple of 8", len(challenge))
	}

	block, err := des.NewCipher(VNCDESKey(password))
	if err != nil {
		return nil, fmt.Errorf("des cipher: %w", err)
	}

	out := make([]byte, len(challenge))
	for i := 0; i < len(challenge); i += 8 {
		block.Encrypt(out[i:i+8], challenge[i:i+8])
	}

	return out, nil
}

// DESCBCEncrypt encrypts plaintext with single DES in CBC mode. MSLogonII
// uses the shared secret as both key and IV.
func DESCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(plaintext)%8 != 0 {
		return nil, fmt.Errorf("plaintext length %d is not a multiple of 8", len(plaintext))
	}

	block, err := des.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("des cipher: %w", err)
	}

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)

	return out, nil
}
