// Package transport abstracts the message-oriented duplex channel the RFB
// engine runs over. Both a WebSocket (a websockified VNC server) and a
// plain TCP connection chunked into messages satisfy the same surface.
package transport

// Transport is a duplex channel delivering opaque byte chunks.
// ReadMessage blocks until a chunk arrives and returns an error once the
// channel closes; Close is safe to call concurrently with a blocked read.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(p []byte) error
	Close() error
}
