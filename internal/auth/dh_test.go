package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 512-bit MODP-style prime, small enough to keep the test fast.
var testPrime = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xC9, 0x0F, 0xDA, 0xA2,
	0x21, 0x68, 0xC2, 0x34, 0xC4, 0xC6, 0x62, 0x8B, 0x80, 0xDC, 0x1C, 0xD1,
	0x29, 0x02, 0x4E, 0x08, 0x8A, 0x67, 0xCC, 0x74, 0x02, 0x0B, 0xBE, 0xA6,
	0x3B, 0x13, 0x9B, 0x22, 0x51, 0x4A, 0x08, 0x79, 0x8E, 0x34, 0x04, 0xDD,
	0xEF, 0x95, 0x19, 0xB3, 0xCD, 0x3A, 0x43, 0x1B, 0x30, 0x2B, 0x0A, 0x6D,
	0xF2, 0x5F, 0x14, 0x37,
}

func TestDH_Agreement(t *testing.T) {
	generator := []byte{0x02}

	alice, err := NewDHKeyPair(generator, testPrime, len(testPrime))
	require.NoError(t, err)

	bob, err := NewDHKeyPair(generator, testPrime, len(testPrime))
	require.NoError(t, err)

	aliceSecret := alice.SharedSecret(bob.PublicBytes())
	bobSecret := bob.SharedSecret(alice.PublicBytes())

	assert.Equal(t, aliceSecret, bobSecret)
	assert.Len(t, aliceSecret, len(testPrime))
}

func TestDH_PublicPaddedToGroupWidth(t *testing.T) {
	kp, err := NewDHKeyPair([]byte{0x02}, testPrime, len(testPrime))
	require.NoError(t, err)

	assert.Len(t, kp.PublicBytes(), len(testPrime))
}

func TestNewDHKeyPair_RejectsZeroPrime(t *testing.T) {
	_, err := NewDHKeyPair([]byte{0x02}, []byte{0x00}, 1)
	assert.Error(t, err)
}

func TestAESECBEncrypt(t *testing.T) {
	key := MD5Sum([]byte("shared secret"))
	require.Len(t, key, 16)

	plaintext := make([]byte, 128)
	out, err := AESECBEncrypt(key, plaintext)
	require.NoError(t, err)
	require.Len(t, out, 128)

	// ECB: identical blocks encrypt identically.
	assert.Equal(t, out[0:16], out[16:32])

	_, err = AESECBEncrypt(key, make([]byte, 100))
	assert.Error(t, err, "ragged plaintext rejected")
}
