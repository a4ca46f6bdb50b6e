package transport

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	tcpConnectionTimeout = 5 * time.Second
	tcpChunkSize         = 64 * 1024
	vncDefaultPort       = "5900"
)

// TCP adapts a stream connection to the message surface by delivering
// whatever each read returns as one chunk. The RFB engine treats chunk
// boundaries as arbitrary, so no framing is needed.
type TCP struct {
	conn net.Conn
	buf  []byte
}

// DialTCP connects to a VNC host. The default port is appended when the
// address carries none.
func DialTCP(hostport string) (*TCP, error) {
	if !strings.Contains(hostport, ":") {
		hostport = net.JoinHostPort(hostport, vncDefaultPort)
	}

	conn, err := net.DialTimeout("tcp", hostport, tcpConnectionTimeout)
	if err != nil {
		return nil, fmt.Errorf("tcp connect: %w", err)
	}

	return NewTCP(conn), nil
}

// NewTCP wraps an existing stream connection.
func NewTCP(conn net.Conn) *TCP {
	return &TCP{
		conn: conn,
		buf:  make([]byte, tcpChunkSize),
	}
}

func (t *TCP) ReadMessage() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, fmt.Errorf("read tcp: %w", err)
	}

	chunk := make([]byte, n)
	copy(chunk, t.buf[:n])

	return chunk, nil
}

func (t *TCP) WriteMessage(p []byte) error {
	if _, err := t.conn.Write(p); err != nil {
		return fmt.Errorf("write tcp: %w", err)
	}

	return nil
}

func (t *TCP) Close() error {
	return t.conn.Close()
}
