// Package stream implements the per-connection byte queue that the RFB
// protocol engine reads from and writes to. The receive side is fed with
// opaque chunks from the transport; typed reads block until enough bytes
// have arrived. The send side accumulates bytes until Flush transmits them
// as a single message.
package stream

import (
	"errors"
	"sync"
)

var (
	// ErrConcurrentRead indicates that two readers blocked on the buffer at
	// the same time. The engine has exactly one read driver, so this is a
	// programming error.
	ErrConcurrentRead = errors.New("concurrent read on stream buffer")

	// ErrClosed indicates the transport closed while a read was pending or
	// before it could be satisfied.
	ErrClosed = errors.New("stream buffer closed")
)

const (
	initialCapacity = 64 * 1024
	sendCapacity    = 10 * 1024
)

// Sink transmits one outgoing message.
type Sink func(p []byte) error

// Buffer is the duplex byte queue for one connection.
//
// Receive-side invariants: 0 <= rQi <= rQlen <= len(rQ); the unread byte
// count is rQlen-rQi; after compaction rQi is 0.
type Buffer struct {
	mu sync.Mutex

	rQ    []byte
	rQi   int
	rQlen int

	waiting bool
	need    int
	wake    chan error

	closed   bool
	closeErr error

	sQ    []byte
	sQlen int
	sink  Sink
}

// New creates a buffer whose Flush transmits through sink.
func New(sink Sink) *Buffer {
	return &Buffer{
		rQ:   make([]byte, initialCapacity),
		wake: make(chan error, 1),
		sQ:   make([]byte, sendCapacity),
		sink: sink,
	}
}

// Available returns the number of unread received bytes.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.rQlen - b.rQi
}

// Wait reports whether fewer than n bytes are currently available. It never
// blocks; callers that poll instead of blocking use it to decide to yield.
func (b *Buffer) Wait(n int) bool {
	return b.Available() < n
}

// ReceiveChunk appends an incoming transport message to the receive queue
// and wakes a pending reader whose demand is now satisfied.
func (b *Buffer) ReceiveChunk(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if b.rQlen+len(p) > len(b.rQ) {
		unread := b.rQlen - b.rQi

		if 8*(unread+len(p)) > len(b.rQ) {
			grown := make([]byte, nextPow2(8*(unread+len(p))))
			copy(grown, b.rQ[b.rQi:b.rQlen])
			b.rQ = grown
		} else {
			copy(b.rQ, b.rQ[b.rQi:b.rQlen])
		}

		b.rQi = 0
		b.rQlen = unread
	}

	copy(b.rQ[b.rQlen:], p)
	b.rQlen += len(p)

	if b.waiting && b.rQlen-b.rQi >= b.need {
		b.waiting = false
		b.wake <- nil
	}
}

// Close fails any pending read and makes every later read return the given
// error (ErrClosed when err is nil).
func (b *Buffer) Close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if err == nil {
		err = ErrClosed
	}

	b.closed = true
	b.closeErr = err

	if b.waiting {
		b.waiting = false
		b.wake <- err
	}
}

// waitFor blocks until n bytes are available. It must be called with the
// mutex held and returns with the mutex held.
func (b *Buffer) waitFor(n int) error {
	for b.rQlen-b.rQi < n {
		if b.closed {
			return b.closeErr
		}

		if b.waiting {
			return ErrConcurrentRead
		}

		b.waiting = true
		b.need = n

		b.mu.Unlock()
		err := <-b.wake
		b.mu.Lock()

		if err != nil {
			return err
		}
	}

	return nil
}

// consume marks n bytes as read and compacts the queue once it is drained.
func (b *Buffer) consume(n int) {
	b.rQi += n

	if b.rQi == b.rQlen {
		b.rQi = 0
		b.rQlen = 0
	}
}

// Peek8 returns the next byte without consuming it.
func (b *Buffer) Peek8() (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(1); err != nil {
		return 0, err
	}

	return b.rQ[b.rQi], nil
}

// ReadU8 consumes one byte.
func (b *Buffer) ReadU8() (uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(1); err != nil {
		return 0, err
	}

	v := b.rQ[b.rQi]
	b.consume(1)

	return v, nil
}

// ReadU16 consumes a big-endian 16-bit value.
func (b *Buffer) ReadU16() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(2); err != nil {
		return 0, err
	}

	v := uint16(b.rQ[b.rQi])<<8 | uint16(b.rQ[b.rQi+1])
	b.consume(2)

	return v, nil
}

// ReadU32 consumes a big-endian 32-bit value.
func (b *Buffer) ReadU32() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(4); err != nil {
		return 0, err
	}

	v := uint32(b.rQ[b.rQi])<<24 |
		uint32(b.rQ[b.rQi+1])<<16 |
		uint32(b.rQ[b.rQi+2])<<8 |
		uint32(b.rQ[b.rQi+3])
	b.consume(4)

	return v, nil
}

// ReadS32 consumes a big-endian 32-bit value and sign-extends it.
func (b *Buffer) ReadS32() (int32, error) {
	v, err := b.ReadU32()

	return int32(v), err
}

// ReadString consumes n bytes and interprets them as latin-1 characters.
func (b *Buffer) ReadString(n int) (string, error) {
	p, err := b.ReadBytes(n)
	if err != nil {
		return "", err
	}

	chars := make([]rune, len(p))
	for i, c := range p {
		chars[i] = rune(c)
	}

	return string(chars), nil
}

// ReadBytes consumes n bytes and returns a copy.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(n); err != nil {
		return nil, err
	}

	p := make([]byte, n)
	copy(p, b.rQ[b.rQi:b.rQi+n])
	b.consume(n)

	return p, nil
}

// PeekBytes returns a copy of the next n bytes without consuming them.
func (b *Buffer) PeekBytes(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(n); err != nil {
		return nil, err
	}

	p := make([]byte, n)
	copy(p, b.rQ[b.rQi:b.rQi+n])

	return p, nil
}

// Skip consumes and discards n bytes.
func (b *Buffer) Skip(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.waitFor(n); err != nil {
		return err
	}

	b.consume(n)

	return nil
}

// Push8 appends one byte to the send queue.
func (b *Buffer) Push8(v uint8) error {
	return b.PushBytes([]byte{v})
}

// Push16 appends a big-endian 16-bit value to the send queue.
func (b *Buffer) Push16(v uint16) error {
	return b.PushBytes([]byte{byte(v >> 8), byte(v)})
}

// Push32 appends a big-endian 32-bit value to the send queue.
func (b *Buffer) Push32(v uint32) error {
	return b.PushBytes([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// PushString appends the bytes of s (latin-1, one byte per char).
func (b *Buffer) PushString(s string) error {
	return b.PushBytes([]byte(s))
}

// PushBytes appends p to the send queue. A push that no longer fits flushes
// the queue first; a push larger than the queue capacity is transmitted
// directly in capacity-sized frames.
func (b *Buffer) PushBytes(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sQlen+len(p) > len(b.sQ) {
		if err := b.flushLocked(); err != nil {
			return err
		}
	}

	if len(p) > len(b.sQ) {
		for off := 0; off < len(p); off += len(b.sQ) {
			end := off + len(b.sQ)
			if end > len(p) {
				end = len(p)
			}

			if err := b.sink(p[off:end]); err != nil {
				return err
			}
		}

		return nil
	}

	copy(b.sQ[b.sQlen:], p)
	b.sQlen += len(p)

	return nil
}

// Flush transmits the accumulated send queue as a single message.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.flushLocked()
}

func (b *Buffer) flushLocked() error {
	if b.sQlen == 0 {
		return nil
	}

	out := make([]byte, b.sQlen)
	copy(out, b.sQ[:b.sQlen])
	b.sQlen = 0

	return b.sink(out)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}
