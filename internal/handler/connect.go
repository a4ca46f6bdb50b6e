// Package handler bridges a browser WebSocket session to a VNC host: it
// runs the RFB engine against the host and streams decoded framebuffer
// regions to the browser as binary messages.
package handler

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kulaginds/vnc-html5/internal/config"
	"github.com/kulaginds/vnc-html5/internal/rfb"
	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/transport"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192 * 2
)

// Browser-bound frame types.
const (
	frameTypeRegion = 0x00 // u8 type, u16 x, u16 y, u16 w, u16 h, RGBA
	frameTypeEvent  = 0xFF // u8 type, JSON event
)

// Browser-sent input opcodes.
const (
	inputPointer = 0
	inputKey     = 1
	inputCutText = 2
	inputQEMUKey = 3
)

// Connect upgrades the request to a WebSocket and runs a VNC session
// against the host named in the query string.
func Connect(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r.Header.Get("Origin"))
		},
	}
	protocol := r.Header.Get("Sec-Websocket-Protocol")

	wsConn, err := upgrader.Upgrade(w, r, http.Header{
		"Sec-Websocket-Protocol": {protocol},
	})
	if err != nil {
		log.Println(fmt.Errorf("upgrade websocket: %w", err))

		return
	}

	defer func() {
		if err = wsConn.Close(); err != nil {
			log.Println(fmt.Errorf("error closing websocket: %w", err))
		}
	}()

	host := r.URL.Query().Get("host")
	if host == "" {
		log.Println("connect: missing host parameter")

		return
	}

	cfg := config.GetGlobalConfig()
	if cfg == nil {
		var err error
		cfg, err = config.Load()
		if err != nil {
			log.Printf("Failed to load config: %v", err)
			cfg = &config.Config{}
		}
	}

	opts := rfb.DefaultOptions()
	opts.Credentials = rfb.Credentials{
		Username: r.URL.Query().Get("username"),
		Password: r.URL.Query().Get("password"),
	}
	opts.Shared = cfg.VNC.Shared
	opts.ViewOnly = cfg.VNC.ViewOnly
	opts.ShowDotCursor = cfg.VNC.ShowDotCursor
	opts.RepeaterID = cfg.VNC.RepeaterID
	opts.QualityLevel = queryInt(r, "quality", cfg.VNC.QualityLevel)
	opts.CompressionLevel = queryInt(r, "compression", cfg.VNC.CompressionLevel)

	vncConn, err := transport.DialTCP(host)
	if err != nil {
		log.Println(fmt.Errorf("vnc connect: %w", err))

		return
	}

	session := newSession(wsConn)

	canvas := render.NewCanvas(0, 0)
	canvas.OnFlip = session.sendRegion

	client, err := rfb.New(vncConn, canvas, session.events(), opts)
	if err != nil {
		log.Println(fmt.Errorf("vnc init: %w", err))

		return
	}

	session.client = client

	go session.wsToVNC()

	if err := client.Run(); err != nil {
		log.Println(fmt.Errorf("vnc session: %w", err))
	}
}

// vncConn is the slice of the RFB client the session drives; an interface
// for testing.
type vncConn interface {
	SendPointerEvent(x, y int, buttonMask uint8) error
	SendKeyEvent(keysym uint32, down bool) error
	SendQEMUExtendedKeyEvent(keysym, keycode uint32, down bool) error
	SendCutText(text string) error
	FramebufferSize() (int, int)
	Disconnect()
}

// session pairs one browser WebSocket with one RFB client.
type session struct {
	wsConn *websocket.Conn
	wsMu   sync.Mutex
	client vncConn
}

func newSession(wsConn *websocket.Conn) *session {
	return &session{wsConn: wsConn}
}

// sendRegion ships the dirty part of a flipped framebuffer to the browser.
func (s *session) sendRegion(img *image.RGBA, dirty image.Rectangle) {
	dirty = dirty.Intersect(img.Bounds())
	if dirty.Empty() {
		return
	}

	w := dirty.Dx()
	h := dirty.Dy()

	frame := make([]byte, 9+w*h*4)
	frame[0] = frameTypeRegion
	binary.BigEndian.PutUint16(frame[1:], uint16(dirty.Min.X))
	binary.BigEndian.PutUint16(frame[3:], uint16(dirty.Min.Y))
	binary.BigEndian.PutUint16(frame[5:], uint16(w))
	binary.BigEndian.PutUint16(frame[7:], uint16(h))

	for row := 0; row < h; row++ {
		src := img.PixOffset(dirty.Min.X, dirty.Min.Y+row)
		copy(frame[9+row*w*4:], img.Pix[src:src+w*4])
	}

	s.write(frame)
}

// sendEvent ships a JSON event frame to the browser.
func (s *session) sendEvent(event string, fields map[string]interface{}) {
	if fields == nil {
		fields = map[string]interface{}{}
	}

	fields["type"] = event

	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("marshal %s event: %v", event, err)

		return
	}

	frame := make([]byte, 1+len(data))
	frame[0] = frameTypeEvent
	copy(frame[1:], data)

	s.write(frame)
}

func (s *session) write(frame []byte) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	if err := s.wsConn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if err != websocket.ErrCloseSent {
			log.Println(fmt.Errorf("failed sending message to ws: %w", err))
		}
	}
}

// events maps engine callbacks onto browser event frames.
func (s *session) events() rfb.Events {
	return rfb.Events{
		Connect: func() {
			w, h := s.client.FramebufferSize()
			s.sendEvent("connect", map[string]interface{}{"width": w, "height": h})
		},
		Disconnect: func(clean bool) {
			s.sendEvent("disconnect", map[string]interface{}{"clean": clean})
			_ = s.wsConn.Close()
		},
		Clipboard: func(text string) {
			s.sendEvent("clipboard", map[string]interface{}{"text": text})
		},
		Bell: func() {
			s.sendEvent("bell", nil)
		},
		DesktopName: func(name string) {
			s.sendEvent("desktopname", map[string]interface{}{"name": name})
		},
		SecurityFailure: func(status uint32, reason string) {
			s.sendEvent("securityfailure", map[string]interface{}{"status": status, "reason": reason})
		},
		Capabilities: func(caps map[string]bool) {
			s.sendEvent("capabilities", map[string]interface{}{"capabilities": caps})
		},
	}
}

// wsToVNC forwards browser input frames into the RFB client.
func (s *session) wsToVNC() {
	defer s.client.Disconnect()

	for {
		_, data, err := s.wsConn.ReadMessage()
		if err != nil {
			if strings.HasSuffix(err.Error(), "use of closed network connection") {
				return
			}

			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Println(fmt.Errorf("error reading message from ws: %w", err))
			}

			return
		}

		if err = s.handleInput(data); err != nil {
			log.Println(fmt.Errorf("failed writing to vnc: %w", err))

			return
		}
	}
}

func (s *session) handleInput(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case inputPointer:
		if len(data) < 6 {
			return fmt.Errorf("short pointer event")
		}

		mask := data[1]
		x := int(binary.BigEndian.Uint16(data[2:]))
		y := int(binary.BigEndian.Uint16(data[4:]))

		return s.client.SendPointerEvent(x, y, mask)

	case inputKey:
		if len(data) < 6 {
			return fmt.Errorf("short key event")
		}

		down := data[1] != 0
		keysym := binary.BigEndian.Uint32(data[2:])

		return s.client.SendKeyEvent(keysym, down)

	case inputCutText:
		return s.client.SendCutText(string(data[1:]))

	case inputQEMUKey:
		if len(data) < 10 {
			return fmt.Errorf("short qemu key event")
		}

		down := data[1] != 0
		keysym := binary.BigEndian.Uint32(data[2:])
		keycode := binary.BigEndian.Uint32(data[6:])

		return s.client.SendQEMUExtendedKeyEvent(keysym, keycode, down)

	default:
		return fmt.Errorf("unknown input opcode %d", data[0])
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return fallback
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	normalized := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	normalized = strings.TrimSuffix(normalized, "/")

	allowed := os.Getenv("ALLOWED_ORIGINS")
	if allowed == "" {
		return strings.HasPrefix(normalized, "localhost") || strings.HasPrefix(normalized, "127.0.0.1")
	}

	// Always allow localhost-style origins for development, even when a list is provided
	if strings.HasPrefix(normalized, "localhost") || strings.HasPrefix(normalized, "127.0.0.1") {
		return true
	}

	for _, entry := range strings.Split(allowed, ",") {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}

		// Support allow-list entries with or without scheme
		if candidate == origin || candidate == normalized {
			return true
		}

		if strings.TrimPrefix(candidate, "http://") == normalized || strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}

	return false
}
