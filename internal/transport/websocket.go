package transport

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2
)

// WebSocket adapts a gorilla websocket connection to the Transport
// surface. Messages are binary frames.
type WebSocket struct {
	conn *websocket.Conn
}

// DialWebSocket connects to a WebSocket endpoint, typically a websockified
// VNC server. protocols lists the subprotocols to offer; "binary" is
// customary.
func DialWebSocket(url string, protocols []string) (*WebSocket, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		Subprotocols:    protocols,
	}

	conn, _, err := dialer.Dial(url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	return &WebSocket{conn: conn}, nil
}

// NewWebSocket wraps an already-established connection, such as one
// upgraded by an HTTP handler.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (w *WebSocket) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read websocket message: %w", err)
	}

	return data, nil
}

func (w *WebSocket) WriteMessage(p []byte) error {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}

	return nil
}

func (w *WebSocket) Close() error {
	return w.conn.Close()
}
