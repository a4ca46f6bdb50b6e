package rfb

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// mockTransport scripts the server side of a connection.
type mockTransport struct {
	incoming chan []byte
	sentCh   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		incoming: make(chan []byte, 64),
		sentCh:   make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

var errTransportClosed = errors.New("mock transport closed")

func (m *mockTransport) ReadMessage() ([]byte, error) {
	select {
	case p := <-m.incoming:
		return p, nil
	case <-m.done:
		return nil, errTransportClosed
	}
}

func (m *mockTransport) WriteMessage(p []byte) error {
	select {
	case <-m.done:
		return errTransportClosed
	default:
	}

	frame := make([]byte, len(p))
	copy(frame, p)
	m.sentCh <- frame

	return nil
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.done) })

	return nil
}

// serve feeds one chunk of server bytes.
func (m *mockTransport) serve(p []byte) {
	m.incoming <- p
}

// expectFrame waits for the next client frame.
func (m *mockTransport) expectFrame(t *testing.T) []byte {
	t.Helper()

	select {
	case p := <-m.sentCh:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")

		return nil
	}
}

// expectNoFrame asserts the client stays quiet for a moment.
func (m *mockTransport) expectNoFrame(t *testing.T) {
	t.Helper()

	select {
	case p := <-m.sentCh:
		t.Fatalf("unexpected client frame % x", p)
	case <-time.After(50 * time.Millisecond):
	}
}

// testRenderer records renderer calls for engine-level tests.
type testRenderer struct {
	mu      sync.Mutex
	resizes [][2]int
	fills   int
	blits   int
	copies  int
	images  int
	flips   int
	flushes int

	pending bool

	cursorSets int
}

func (r *testRenderer) Resize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizes = append(r.resizes, [2]int{w, h})
}

func (r *testRenderer) FillRect(x, y, w, h int, color []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills++
}

func (r *testRenderer) BlitImage(x, y, w, h int, rgba []byte, offset int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blits++
}

func (r *testRenderer) CopyImage(srcX, srcY, dstX, dstY, w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copies++
}

func (r *testRenderer) ImageRect(x, y, w, h int, mime string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images++

	return nil
}

func (r *testRenderer) Flip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flips++
}

func (r *testRenderer) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pending
}

func (r *testRenderer) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	r.pending = false

	return nil
}

func (r *testRenderer) SetCursor(rgba []byte, w, h, hotX, hotY int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursorSets++
}

func (r *testRenderer) counts() (fills, blits, copies, images, flips int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fills, r.blits, r.copies, r.images, r.flips
}

// testClient wires a client to a mock transport and renderer.
func testClient(t *testing.T, opts Options, events Events) (*Client, *mockTransport, *testRenderer) {
	t.Helper()

	mt := newMockTransport()
	tr := &testRenderer{}

	c, err := New(mt, tr, events, opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	return c, mt, tr
}

// runClient starts the read driver and returns the error channel.
func runClient(c *Client) chan error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- c.Run()
	}()

	return errCh
}

// waitErr waits for Run to finish.
func waitErr(t *testing.T, errCh chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")

		return nil
	}
}

// serverPixelFormat is a plausible 16-byte true-color format.
var serverPixelFormat = []byte{
	32, 24, 0, 1,
	0, 255, 0, 255, 0, 255,
	16, 8, 0,
	0, 0, 0,
}

// serveServerInit feeds a minimal ServerInitialisation message.
func serveServerInit(mt *mockTransport, w, h int, name string) {
	msg := []byte{byte(w >> 8), byte(w), byte(h >> 8), byte(h)}
	msg = append(msg, serverPixelFormat...)
	msg = append(msg, 0, 0, 0, byte(len(name)))
	msg = append(msg, name...)

	mt.serve(msg)
}

// completeHandshake walks a scripted None-auth 3.8 handshake and consumes
// the client's setup messages. Afterwards the connection is in the normal
// phase.
func completeHandshake(t *testing.T, mt *mockTransport) {
	t.Helper()

	mt.serve([]byte("RFB 003.008\n"))
	mt.expectFrame(t) // version reply

	mt.serve([]byte{1, secTypeNone})
	mt.expectFrame(t) // security type choice

	mt.serve([]byte{0, 0, 0, 0}) // SecurityResult OK
	mt.expectFrame(t)            // ClientInit

	serveServerInit(mt, 800, 600, "test server")

	mt.expectFrame(t) // SetPixelFormat
	mt.expectFrame(t) // SetEncodings
	mt.expectFrame(t) // initial FramebufferUpdateRequest
}
