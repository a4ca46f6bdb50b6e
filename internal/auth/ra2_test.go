package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRA2Cipher_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")

	sender, err := NewRA2Cipher(key)
	require.NoError(t, err)

	receiver, err := NewRA2Cipher(key)
	require.NoError(t, err)

	messages := [][]byte{
		[]byte("first"),
		{},
		[]byte("a longer message that spans multiple AES blocks for good measure"),
	}

	// Counters advance in step: every message decrypts in order.
	for _, msg := range messages {
		wire := sender.MakeMessage(msg)

		length := int(wire[0])<<8 | int(wire[1])
		assert.Equal(t, len(msg), length)

		got, err := receiver.ReceiveMessage(length, wire[2:])
		require.NoError(t, err)
		assert.Equal(t, msg, got)
	}
}

func TestRA2Cipher_CounterAdvances(t *testing.T) {
	key := make([]byte, 16)

	sender, err := NewRA2Cipher(key)
	require.NoError(t, err)

	first := sender.MakeMessage([]byte("x"))
	second := sender.MakeMessage([]byte("x"))

	// Same plaintext, different counter nonce: ciphertext must differ.
	assert.NotEqual(t, first, second)
}

func TestRA2Cipher_OutOfStepRejected(t *testing.T) {
	key := make([]byte, 16)

	sender, err := NewRA2Cipher(key)
	require.NoError(t, err)

	receiver, err := NewRA2Cipher(key)
	require.NoError(t, err)

	// Drop the first message: the receiver's counter no longer matches.
	_ = sender.MakeMessage([]byte("dropped"))
	wire := sender.MakeMessage([]byte("seen"))

	_, err = receiver.ReceiveMessage(4, wire[2:])
	assert.ErrorIs(t, err, ErrEAXTagMismatch)
}

func TestRA2Cipher_CounterIsLittleEndian(t *testing.T) {
	c, err := NewRA2Cipher(make([]byte, 16))
	require.NoError(t, err)

	for i := 0; i < 256; i++ {
		c.advance()
	}

	// 256 increments: byte 0 wrapped to zero, byte 1 carries.
	assert.Equal(t, byte(0), c.counter[0])
	assert.Equal(t, byte(1), c.counter[1])
}

func TestNewRA2Cipher_RejectsBadKeyLength(t *testing.T) {
	_, err := NewRA2Cipher(make([]byte, 8))
	assert.Error(t, err)
}
