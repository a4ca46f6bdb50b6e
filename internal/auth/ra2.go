package auth

import "fmt"

// RA2Cipher frames one direction of an RA2 session. Each message is
// AES-EAX sealed with a 16-byte counter nonce that starts at zero and is
// incremented as a little-endian multiprecision integer after every
// operation. The associated data is the 2-byte big-endian plaintext length.
type RA2Cipher struct {
	eax     *EAX
	counter [16]byte
}

// NewRA2Cipher creates a direction cipher from a 16-byte session key.
func NewRA2Cipher(key []byte) (*RA2Cipher, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("ra2: session key must be 16 bytes, got %d", len(key))
	}

	eax, err := NewEAX(key)
	if err != nil {
		return nil, err
	}

	return &RA2Cipher{eax: eax}, nil
}

// MakeMessage seals plaintext into the wire form
// [u16 BE length] || ciphertext || tag(16) and advances the counter.
func (c *RA2Cipher) MakeMessage(plaintext []byte) []byte {
	ad := []byte{byte(len(plaintext) >> 8), byte(len(plaintext))}

	sealed := c.eax.Seal(c.counter[:], ad, plaintext)
	c.advance()

	out := make([]byte, 2+len(sealed))
	out[0] = ad[0]
	out[1] = ad[1]
	copy(out[2:], sealed)

	return out
}

// ReceiveMessage opens ciphertext||tag for the announced plaintext length
// and advances the counter once the tag verifies. A tag failure leaves the
// counter unchanged; callers treat any failure as fatal.
func (c *RA2Cipher) ReceiveMessage(length int, sealed []byte) ([]byte, error) {
	ad := []byte{byte(length >> 8), byte(length)}

	plaintext, err := c.eax.Open(c.counter[:], ad, sealed)
	if err != nil {
		return nil, err
	}

	c.advance()

	if len(plaintext) != length {
		return nil, fmt.Errorf("ra2: length mismatch: announced %d, got %d", length, len(plaintext))
	}

	return plaintext, nil
}

func (c *RA2Cipher) advance() {
	for i := 0; i < len(c.counter); i++ {
		c.counter[i]++
		if c.counter[i] != 0 {
			break
		}
	}
}
