package rfb

import (
	"fmt"
	"strings"

	"github.com/kulaginds/vnc-html5/internal/logging"
	"github.com/kulaginds/vnc-html5/internal/rfb/zstream"
)

// Extended clipboard format bits (0-15) and action bits (24-31).
const (
	extClipFormatText uint32 = 1 << 0

	extClipActionCaps    uint32 = 1 << 24
	extClipActionRequest uint32 = 1 << 25
	extClipActionPeek    uint32 = 1 << 26
	extClipActionNotify  uint32 = 1 << 27
	extClipActionProvide uint32 = 1 << 28
)

// clipboardState tracks the server-advertised extended clipboard formats
// and actions, plus the last local text for Provide replies.
type clipboardState struct {
	serverFormats map[uint32]bool
	serverActions map[uint32]bool
	localText     string
}

func (s *clipboardState) init() {
	s.serverFormats = make(map[uint32]bool)
	s.serverActions = make(map[uint32]bool)
}

func (s *clipboardState) extended() bool {
	return len(s.serverActions) > 0
}

// handleServerCutText reads a ServerCutText message. A non-negative length
// carries latin-1 text; a negative one carries an extended clipboard
// payload.
func (c *Client) handleServerCutText() error {
	if err := c.sock.Skip(3); err != nil {
		return err
	}

	length, err := c.sock.ReadS32()
	if err != nil {
		return err
	}

	if length >= 0 {
		text, err := c.sock.ReadString(int(length))
		if err != nil {
			return err
		}

		c.events.clipboard(text)

		return nil
	}

	flags, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	payload, err := c.sock.ReadBytes(int(-length) - 4)
	if err != nil {
		return err
	}

	return c.handleExtendedClipboard(flags, payload)
}

func (c *Client) handleExtendedClipboard(flags uint32, payload []byte) error {
	switch {
	case flags&extClipActionCaps != 0:
		return c.handleClipboardCaps(flags, payload)

	case flags&extClipActionRequest != 0:
		return c.sendClipboardProvide(c.clipboard.localText)

	case flags&extClipActionPeek != 0:
		notify := uint32(0)
		if c.clipboard.localText != "" {
			notify = extClipFormatText
		}

		return c.sendClipboardAction(extClipActionNotify | notify)

	case flags&extClipActionNotify != 0:
		// The server announced new clipboard data; ask for the text.
		if flags&extClipFormatText != 0 {
			return c.sendClipboardAction(extClipActionRequest | extClipFormatText)
		}

		return nil

	case flags&extClipActionProvide != 0:
		return c.handleClipboardProvide(flags, payload)

	default:
		logging.Debug("rfb: ignoring extended clipboard flags %#08x", flags)

		return nil
	}
}

// handleClipboardCaps records the server's formats and actions and
// publishes our own capabilities: every action, text only.
func (c *Client) handleClipboardCaps(flags uint32, payload []byte) error {
	c.clipboard.init()

	for bit := 0; bit < 16; bit++ {
		if flags&(1<<bit) != 0 {
			c.clipboard.serverFormats[1<<bit] = true
		}
	}

	for bit := 24; bit < 32; bit++ {
		if flags&(1<<bit) != 0 {
			c.clipboard.serverActions[1<<bit] = true
		}
	}

	// The payload lists a maximum size per advertised format; unlimited
	// transfers are fine for text, so the values are ignored.
	_ = payload

	caps := extClipActionCaps |
		extClipActionRequest |
		extClipActionPeek |
		extClipActionNotify |
		extClipActionProvide |
		extClipFormatText

	return c.sendClipboardAction(caps)
}

// handleClipboardProvide inflates the payload and extracts the text
// format: CRLF line endings are canonicalized and the trailing NUL
// stripped before the event fires.
func (c *Client) handleClipboardProvide(flags uint32, payload []byte) error {
	inflated, err := zstream.InflateAll(payload)
	if err != nil {
		return fmt.Errorf("%w: clipboard provide: %v", ErrProtocolViolation, err)
	}

	pos := 0

	for bit := 0; bit < 16; bit++ {
		format := uint32(1) << bit
		if flags&format == 0 {
			continue
		}

		if pos+4 > len(inflated) {
			return fmt.Errorf("%w: clipboard provide truncated", ErrProtocolViolation)
		}

		size := int(inflated[pos])<<24 | int(inflated[pos+1])<<16 | int(inflated[pos+2])<<8 | int(inflated[pos+3])
		pos += 4

		if pos+size > len(inflated) {
			return fmt.Errorf("%w: clipboard provide truncated", ErrProtocolViolation)
		}

		data := inflated[pos : pos+size]
		pos += size

		if format != extClipFormatText {
			continue
		}

		text := string(data)
		text = strings.TrimSuffix(text, "\x00")
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\r", "\n")

		c.events.clipboard(text)
	}

	return nil
}

// sendClipboardAction transmits a flags-only extended clipboard message
// (Caps, Request, Peek or Notify).
func (c *Client) sendClipboardAction(flags uint32) error {
	payload := []byte{byte(flags >> 24), byte(flags >> 16), byte(flags >> 8), byte(flags)}

	return c.sendClientCutText(payload, true)
}

// sendClipboardProvide transmits local text as an extended Provide
// message: 4 flag bytes, then a deflated (u32 length, text, NUL) record.
func (c *Client) sendClipboardProvide(text string) error {
	flags := extClipActionProvide | extClipFormatText

	body := make([]byte, 0, 4+len(text)+1)
	size := len(text) + 1
	body = append(body, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	body = append(body, text...)
	body = append(body, 0x00)

	deflated, err := zstream.Deflate(body)
	if err != nil {
		return err
	}

	payload := make([]byte, 0, 4+len(deflated))
	payload = append(payload, byte(flags>>24), byte(flags>>16), byte(flags>>8), byte(flags))
	payload = append(payload, deflated...)

	return c.sendClientCutText(payload, true)
}

// SendCutText publishes local clipboard text to the server, using the
// extended protocol when the server negotiated it and the classic latin-1
// message otherwise.
func (c *Client) SendCutText(text string) error {
	if c.viewOnly || c.State() != StateConnected {
		return nil
	}

	c.clipboard.localText = text

	if c.clipboard.extended() {
		// Announce the new data; the server requests it when interested.
		return c.sendClipboardAction(extClipActionNotify | extClipFormatText)
	}

	latin1 := make([]byte, len([]rune(text)))
	for i, r := range []rune(text) {
		if r > 0xFF {
			latin1[i] = '?'
		} else {
			latin1[i] = byte(r)
		}
	}

	return c.sendClientCutText(latin1, false)
}
