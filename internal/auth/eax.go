package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrEAXTagMismatch indicates that an authenticated message failed
// verification.
var ErrEAXTagMismatch = errors.New("eax: message authentication failed")

const eaxTagSize = 16

// EAX implements the EAX authenticated-encryption mode over AES, as used by
// the RA2 security types. Tag size is fixed at a full block.
type EAX struct {
	block cipher.Block
	k1    []byte
	k2    []byte
}

// NewEAX creates an EAX instance for the given AES key (16, 24 or 32
// bytes).
func NewEAX(key []byte) (*EAX, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	l := make([]byte, aes.BlockSize)
	block.Encrypt(l, l)

	k1 := dbl(l)
	k2 := dbl(k1)

	return &EAX{block: block, k1: k1, k2: k2}, nil
}

// Seal encrypts and authenticates plaintext, binding the associated data.
// The result is ciphertext followed by a 16-byte tag.
func (e *EAX) Seal(nonce, associated, plaintext []byte) []byte {
	nMac := e.omac(0, nonce)
	hMac := e.omac(1, associated)

	out := make([]byte, len(plaintext)+eaxTagSize)
	cipher.NewCTR(e.block, nMac).XORKeyStream(out, plaintext)

	cMac := e.omac(2, out[:len(plaintext)])

	tag := out[len(plaintext):]
	for i := 0; i < eaxTagSize; i++ {
		tag[i] = nMac[i] ^ cMac[i] ^ hMac[i]
	}

	return out
}

// Open verifies and decrypts a Seal output. It returns ErrEAXTagMismatch
// without releasing any plaintext when the tag does not verify.
func (e *EAX) Open(nonce, associated, sealed []byte) ([]byte, error) {
	if len(sealed) < eaxTagSize {
		return nil, ErrEAXTagMismatch
	}

	ciphertext := sealed[:len(sealed)-eaxTagSize]
	tag := sealed[len(sealed)-eaxTagSize:]

	nMac := e.omac(0, nonce)
	hMac := e.omac(1, associated)
	cMac := e.omac(2, ciphertext)

	expected := make([]byte, eaxTagSize)
	for i := 0; i < eaxTagSize; i++ {
		expected[i] = nMac[i] ^ cMac[i] ^ hMac[i]
	}

	if subtle.ConstantTimeCompare(expected, tag) != 1 {
		return nil, ErrEAXTagMismatch
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCTR(e.block, nMac).XORKeyStream(out, ciphertext)

	return out, nil
}

// omac computes OMAC1 (CMAC) over a tweak block followed by data. The tweak
// distinguishes the nonce, header and ciphertext MACs.
func (e *EAX) omac(tweak byte, data []byte) []byte {
	msg := make([]byte, aes.BlockSize+len(data))
	msg[aes.BlockSize-1] = tweak
	copy(msg[aes.BlockSize:], data)

	return e.cmac(msg)
}

// cmac implements AES-CMAC (RFC 4493).
func (e *EAX) cmac(msg []byte) []byte {
	n := len(msg) / aes.BlockSize
	rem := len(msg) % aes.BlockSize

	var last [aes.BlockSize]byte

	if n > 0 && rem == 0 {
		// Complete final block: XOR with K1.
		off := (n - 1) * aes.BlockSize
		for i := 0; i < aes.BlockSize; i++ {
			last[i] = msg[off+i] ^ e.k1[i]
		}
		msg = msg[:off]
	} else {
		// Padded final block: append 0x80, zero-fill, XOR with K2.
		off := n * aes.BlockSize
		copy(last[:], msg[off:])
		last[rem] = 0x80
		for i := 0; i < aes.BlockSize; i++ {
			last[i] ^= e.k2[i]
		}
		msg = msg[:off]
	}

	mac := make([]byte, aes.BlockSize)
	for off := 0; off < len(msg); off += aes.BlockSize {
		for i := 0; i < aes.BlockSize; i++ {
			mac[i] ^= msg[off+i]
		}
		e.block.Encrypt(mac, mac)
	}

	for i := 0; i < aes.BlockSize; i++ {
		mac[i] ^= last[i]
	}
	e.block.Encrypt(mac, mac)

	return mac
}

// dbl doubles a value in GF(2^128) with the CMAC reduction polynomial.
func dbl(p []byte) []byte {
	out := make([]byte, len(p))

	var carry byte
	for i := len(p) - 1; i >= 0; i-- {
		out[i] = p[i]<<1 | carry
		carry = p[i] >> 7
	}

	if carry != 0 {
		out[len(out)-1] ^= 0x87
	}

	return out
}
