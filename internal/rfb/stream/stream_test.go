package stream

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *captureSink) send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]byte, len(p))
	copy(frame, p)
	s.frames = append(s.frames, frame)

	return nil
}

func (s *captureSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return bytes.Join(s.frames, nil)
}

func newTestBuffer() (*Buffer, *captureSink) {
	sink := &captureSink{}

	return New(sink.send), sink
}

func TestBuffer_TypedReads(t *testing.T) {
	b, _ := newTestBuffer()
	b.ReceiveChunk([]byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE})

	v8, err := b.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x12), v8)

	v16, err := b.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x3456), v16)

	v32, err := b.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x789ABCDE), v32)

	assert.Equal(t, 0, b.Available())
}

func TestBuffer_SignedRead(t *testing.T) {
	b, _ := newTestBuffer()
	b.ReceiveChunk([]byte{0xFF, 0xFF, 0xFF, 0xF8})

	v, err := b.ReadS32()
	require.NoError(t, err)
	assert.Equal(t, int32(-8), v)
}

func TestBuffer_PeekDoesNotConsume(t *testing.T) {
	b, _ := newTestBuffer()
	b.ReceiveChunk([]byte{0xAA, 0xBB})

	v, err := b.Peek8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAA), v)

	p, err := b.PeekBytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, p)

	assert.Equal(t, 2, b.Available())
}

func TestBuffer_Wait(t *testing.T) {
	b, _ := newTestBuffer()
	b.ReceiveChunk([]byte{1, 2, 3})

	assert.False(t, b.Wait(3), "enough bytes available")
	assert.True(t, b.Wait(4), "caller should yield")
}

func TestBuffer_AccountingInvariant(t *testing.T) {
	b, _ := newTestBuffer()

	received := 0
	read := 0

	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 7),
		bytes.Repeat([]byte{2}, 130),
		bytes.Repeat([]byte{3}, 3),
	}

	for _, c := range chunks {
		b.ReceiveChunk(c)
		received += len(c)
	}

	for _, n := range []int{1, 2, 4, 64, 9} {
		_, err := b.ReadBytes(n)
		require.NoError(t, err)
		read += n

		assert.Equal(t, received-read, b.Available())
	}
}

func TestBuffer_PendingReadResolvesOnArrival(t *testing.T) {
	b, _ := newTestBuffer()

	done := make(chan []byte)

	go func() {
		p, err := b.ReadBytes(4)
		require.NoError(t, err)
		done <- p
	}()

	// Partial data must not wake the reader.
	b.ReceiveChunk([]byte{0x01, 0x02})

	select {
	case <-done:
		t.Fatal("read resolved before enough bytes arrived")
	case <-time.After(20 * time.Millisecond):
	}

	b.ReceiveChunk([]byte{0x03, 0x04})

	select {
	case p := <-done:
		assert.Equal(t, []byte{1, 2, 3, 4}, p)
	case <-time.After(time.Second):
		t.Fatal("read did not resolve")
	}
}

func TestBuffer_ConcurrentReadRejected(t *testing.T) {
	b, _ := newTestBuffer()

	started := make(chan struct{})

	go func() {
		close(started)
		_, _ = b.ReadBytes(8) // blocks forever
	}()

	<-started
	time.Sleep(20 * time.Millisecond)

	_, err := b.ReadU8()
	assert.ErrorIs(t, err, ErrConcurrentRead)

	b.Close(nil)
}

func TestBuffer_CloseFailsPendingRead(t *testing.T) {
	b, _ := newTestBuffer()

	errCh := make(chan error)

	go func() {
		_, err := b.ReadBytes(16)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close(nil)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("pending read not failed on close")
	}

	// Later reads fail immediately.
	_, err := b.ReadU8()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBuffer_GrowsForOversizedChunk(t *testing.T) {
	b, _ := newTestBuffer()

	big := bytes.Repeat([]byte{0x5A}, initialCapacity*2)
	b.ReceiveChunk(big)

	got, err := b.ReadBytes(len(big))
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestBuffer_CompactsTail(t *testing.T) {
	b, _ := newTestBuffer()

	// Nearly fill the queue, drain most of it, then append a chunk that
	// only fits after the unread tail moves to the front.
	b.ReceiveChunk(bytes.Repeat([]byte{0x01}, initialCapacity-8))

	_, err := b.ReadBytes(initialCapacity - 16)
	require.NoError(t, err)

	tail := bytes.Repeat([]byte{0x02}, 64)
	b.ReceiveChunk(tail)

	got, err := b.ReadBytes(8 + 64)
	require.NoError(t, err)
	assert.Equal(t, append(bytes.Repeat([]byte{0x01}, 8), tail...), got)
}

func TestBuffer_SendBufferedUntilFlush(t *testing.T) {
	b, sink := newTestBuffer()

	require.NoError(t, b.Push8(4))
	require.NoError(t, b.Push16(0x0102))
	require.NoError(t, b.Push32(0xDEADBEEF))
	require.NoError(t, b.PushString("ab"))

	assert.Empty(t, sink.frames, "nothing on the wire before flush")

	require.NoError(t, b.Flush())

	require.Len(t, sink.frames, 1)
	assert.Equal(t, []byte{4, 0x01, 0x02, 0xDE, 0xAD, 0xBE, 0xEF, 'a', 'b'}, sink.frames[0])

	// Flushing an empty queue transmits nothing.
	require.NoError(t, b.Flush())
	assert.Len(t, sink.frames, 1)
}

func TestBuffer_SendAutoFlushOnOverflow(t *testing.T) {
	b, sink := newTestBuffer()

	first := bytes.Repeat([]byte{0x11}, sendCapacity-1)
	require.NoError(t, b.PushBytes(first))
	assert.Empty(t, sink.frames)

	// Two more bytes exceed capacity: the buffered frame goes out first.
	require.NoError(t, b.PushBytes([]byte{0x22, 0x22}))
	require.Len(t, sink.frames, 1)
	assert.Equal(t, first, sink.frames[0])

	require.NoError(t, b.Flush())
	assert.Equal(t, append(first, 0x22, 0x22), sink.joined())
}

func TestBuffer_SendSplitsOversizedPush(t *testing.T) {
	b, sink := newTestBuffer()

	huge := bytes.Repeat([]byte{0x33}, sendCapacity*2+5)
	require.NoError(t, b.PushBytes(huge))

	require.Len(t, sink.frames, 3)
	assert.Len(t, sink.frames[0], sendCapacity)
	assert.Len(t, sink.frames[1], sendCapacity)
	assert.Len(t, sink.frames[2], 5)
	assert.Equal(t, huge, sink.joined())
}

func TestBuffer_ReadStringLatin1(t *testing.T) {
	b, _ := newTestBuffer()
	b.ReceiveChunk([]byte{'R', 'F', 'B', 0xE9})

	s, err := b.ReadString(4)
	require.NoError(t, err)
	assert.Equal(t, "RFBé", s)
}
