package rfb

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"math/big"

	"github.com/kulaginds/vnc-html5/internal/auth"
)

const (
	ra2MinKeyBits = 1024
	ra2MaxKeyBits = 8192

	ra2ClientKeyBits  = 2048
	ra2ClientKeyBytes = ra2ClientKeyBits / 8

	ra2SubtypeUserPass = 1
	ra2SubtypePassOnly = 2
)

// authRA2 runs the RSA-AES (RA2ne) handshake: RSA key exchange, random
// session secrets, AES-EAX protected verification hashes and credentials.
func (c *Client) authRA2() error {
	// Phase 1: server public key, subject to host approval.
	serverKeyBits, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	if serverKeyBits < ra2MinKeyBits || serverKeyBits > ra2MaxKeyBits {
		return fmt.Errorf("%w: ra2 server key of %d bits", ErrProtocolViolation, serverKeyBits)
	}

	serverKeyBytes := int(serverKeyBits+7) / 8

	serverN, err := c.sock.ReadBytes(serverKeyBytes)
	if err != nil {
		return err
	}

	serverE, err := c.sock.ReadBytes(serverKeyBytes)
	if err != nil {
		return err
	}

	serverPublicKey := make([]byte, 0, 4+2*serverKeyBytes)
	serverPublicKey = append(serverPublicKey, byte(serverKeyBits>>24), byte(serverKeyBits>>16), byte(serverKeyBits>>8), byte(serverKeyBits))
	serverPublicKey = append(serverPublicKey, serverN...)
	serverPublicKey = append(serverPublicKey, serverE...)

	if c.events.ServerVerification != nil {
		if err := c.events.ServerVerification("RSA", serverPublicKey); err != nil {
			return fmt.Errorf("%w: server key rejected: %v", ErrAuthenticationFailed, err)
		}
	}

	serverRSA := &rsa.PublicKey{
		N: new(big.Int).SetBytes(serverN),
		E: int(new(big.Int).SetBytes(serverE).Int64()),
	}

	// Phase 2: our own 2048-bit key.
	clientKey, err := rsa.GenerateKey(rand.Reader, ra2ClientKeyBits)
	if err != nil {
		return fmt.Errorf("ra2: generate client key: %w", err)
	}

	clientN := leftPadTo(clientKey.N.Bytes(), ra2ClientKeyBytes)
	clientE := leftPadTo(big.NewInt(int64(clientKey.E)).Bytes(), ra2ClientKeyBytes)

	clientPublicKey := make([]byte, 0, 4+2*ra2ClientKeyBytes)
	clientPublicKey = append(clientPublicKey, 0x00, 0x00, byte(ra2ClientKeyBits>>8), byte(ra2ClientKeyBits&0xff))
	clientPublicKey = append(clientPublicKey, clientN...)
	clientPublicKey = append(clientPublicKey, clientE...)

	if err := c.sock.PushBytes(clientPublicKey); err != nil {
		return err
	}

	if err := c.sock.Flush(); err != nil {
		return err
	}

	// Phases 3 and 4: exchange 16-byte randoms under RSA-PKCS#1 v1.5.
	clientRandom := make([]byte, 16)
	if _, err := rand.Read(clientRandom); err != nil {
		return fmt.Errorf("ra2: random: %w", err)
	}

	encryptedClientRandom, err := rsa.EncryptPKCS1v15(rand.Reader, serverRSA, clientRandom)
	if err != nil {
		return fmt.Errorf("ra2: encrypt client random: %w", err)
	}

	_ = c.sock.Push16(uint16(serverKeyBytes))
	_ = c.sock.PushBytes(encryptedClientRandom)

	if err := c.sock.Flush(); err != nil {
		return err
	}

	announced, err := c.sock.ReadU16()
	if err != nil {
		return err
	}

	if int(announced) != ra2ClientKeyBytes {
		return fmt.Errorf("%w: ra2 encrypted random of %d bytes", ErrProtocolViolation, announced)
	}

	encryptedServerRandom, err := c.sock.ReadBytes(ra2ClientKeyBytes)
	if err != nil {
		return err
	}

	serverRandom, err := rsa.DecryptPKCS1v15(nil, clientKey, encryptedServerRandom)
	if err != nil {
		return fmt.Errorf("%w: ra2 decrypt server random: %v", ErrAuthenticationFailed, err)
	}

	if len(serverRandom) != 16 {
		return fmt.Errorf("%w: ra2 server random of %d bytes", ErrProtocolViolation, len(serverRandom))
	}

	// Phase 5: derive the two direction keys and ciphers.
	clientSessionKey := sha1Concat(serverRandom, clientRandom)[:16]
	serverSessionKey := sha1Concat(clientRandom, serverRandom)[:16]

	clientCipher, err := auth.NewRA2Cipher(clientSessionKey)
	if err != nil {
		return err
	}

	serverCipher, err := auth.NewRA2Cipher(serverSessionKey)
	if err != nil {
		return err
	}

	// Phase 6: exchange and verify the key hashes.
	clientHash := sha1Concat(clientPublicKey, serverPublicKey)
	serverHash := sha1Concat(serverPublicKey, clientPublicKey)

	if err := c.sock.PushBytes(clientCipher.MakeMessage(clientHash)); err != nil {
		return err
	}

	if err := c.sock.Flush(); err != nil {
		return err
	}

	gotHash, err := c.readRA2Message(serverCipher)
	if err != nil {
		return err
	}

	if !bytes.Equal(gotHash, serverHash) {
		return fmt.Errorf("%w: ra2 server hash mismatch", ErrAuthenticationFailed)
	}

	// Phase 7: credential subtype and delivery.
	subtype, err := c.readRA2Message(serverCipher)
	if err != nil {
		return err
	}

	if len(subtype) != 1 {
		return fmt.Errorf("%w: ra2 subtype of %d bytes", ErrProtocolViolation, len(subtype))
	}

	var creds Credentials

	switch subtype[0] {
	case ra2SubtypeUserPass:
		creds, err = c.requireCredentials("username", "password")
	case ra2SubtypePassOnly:
		creds, err = c.requireCredentials("password")
		creds.Username = ""
	default:
		return fmt.Errorf("%w: ra2 subtype %d", ErrProtocolViolation, subtype[0])
	}

	if err != nil {
		return err
	}

	credMsg := make([]byte, 0, 3+len(creds.Username)+len(creds.Password))
	credMsg = append(credMsg, uint8(len(creds.Username)))
	credMsg = append(credMsg, creds.Username...)
	credMsg = append(credMsg, 0x00)
	credMsg = append(credMsg, uint8(len(creds.Password)))
	credMsg = append(credMsg, creds.Password...)

	if err := c.sock.PushBytes(clientCipher.MakeMessage(credMsg)); err != nil {
		return err
	}

	return c.sock.Flush()
}

// readRA2Message reads one AEAD-framed message from the server direction.
func (c *Client) readRA2Message(cipher *auth.RA2Cipher) ([]byte, error) {
	length, err := c.sock.ReadU16()
	if err != nil {
		return nil, err
	}

	sealed, err := c.sock.ReadBytes(int(length) + 16)
	if err != nil {
		return nil, err
	}

	msg, err := cipher.ReceiveMessage(int(length), sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: ra2: %v", ErrAuthenticationFailed, err)
	}

	return msg, nil
}

func sha1Concat(parts ...[]byte) []byte {
	h := sha1.New()

	for _, p := range parts {
		h.Write(p)
	}

	return h.Sum(nil)
}

func leftPadTo(p []byte, n int) []byte {
	if len(p) >= n {
		return p[len(p)-n:]
	}

	out := make([]byte, n)
	copy(out[n-len(p):], p)

	return out
}
