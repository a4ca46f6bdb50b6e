package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCP_RoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	tr := NewTCP(client)
	defer tr.Close()

	go func() {
		_, _ = server.Write([]byte{0x01, 0x02, 0x03})
	}()

	chunk, err := tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, chunk)

	done := make(chan []byte, 1)

	go func() {
		buf := make([]byte, 16)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()

	require.NoError(t, tr.WriteMessage([]byte{0xAA, 0xBB}))

	select {
	case got := <-done:
		assert.Equal(t, []byte{0xAA, 0xBB}, got)
	case <-time.After(time.Second):
		t.Fatal("write did not reach the peer")
	}
}

func TestTCP_ReadAfterCloseFails(t *testing.T) {
	server, client := net.Pipe()

	tr := NewTCP(client)

	require.NoError(t, server.Close())

	_, err := tr.ReadMessage()
	assert.Error(t, err)
}

func TestTCP_ChunksAreIndependentCopies(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	tr := NewTCP(client)
	defer tr.Close()

	go func() {
		_, _ = server.Write([]byte{0x11})
		time.Sleep(10 * time.Millisecond)
		_, _ = server.Write([]byte{0x22})
	}()

	first, err := tr.ReadMessage()
	require.NoError(t, err)

	second, err := tr.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, []byte{0x11}, first, "earlier chunk unaffected by buffer reuse")
	assert.Equal(t, []byte{0x22}, second)
}

func TestDialTCP_AppendsDefaultPort(t *testing.T) {
	// Without a port the dial fails on the address itself ("missing port
	// in address"); with the default port appended it fails resolving the
	// invalid host instead.
	_, err := DialTCP("256.256.256.256")
	assert.Error(t, err)
	assert.NotContains(t, err.Error(), "missing port")
}
