package rfb

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/logging"
	"github.com/kulaginds/vnc-html5/internal/rfb/encoding"
	"github.com/kulaginds/vnc-html5/internal/rfb/render"
)

// normalLoop dispatches server messages until the connection ends.
func (c *Client) normalLoop() error {
	for {
		msgType, err := c.sock.ReadU8()
		if err != nil {
			return err
		}

		switch msgType {
		case msgFramebufferUpdate:
			err = c.handleFramebufferUpdate()

		case msgSetColorMapEntries:
			err = fmt.Errorf("%w: SetColorMapEntries in true-color mode", ErrProtocolViolation)

		case msgBell:
			c.events.bell()

		case msgServerCutText:
			err = c.handleServerCutText()

		case msgEndOfContinuousUpdates:
			err = c.handleEndOfContinuousUpdates()

		case msgServerFence:
			err = c.handleServerFence()

		case msgServerXVP:
			err = c.handleServerXVP()

		default:
			err = fmt.Errorf("%w: server message type %d", ErrProtocolViolation, msgType)
		}

		if err != nil {
			return err
		}
	}
}

// handleFramebufferUpdate processes one update: rectangles in wire order,
// a flip at the end, and a fresh update request unless continuous updates
// are active. Renderer backpressure is honored before any decoding.
func (c *Client) handleFramebufferUpdate() error {
	if c.renderer.Pending() {
		if err := c.renderer.Flush(); err != nil {
			return fmt.Errorf("renderer flush: %w", err)
		}
	}

	if err := c.sock.Skip(1); err != nil {
		return err
	}

	rects, err := c.sock.ReadU16()
	if err != nil {
		return err
	}

	for i := uint16(0); i < rects; i++ {
		x, err := c.sock.ReadU16()
		if err != nil {
			return err
		}

		y, err := c.sock.ReadU16()
		if err != nil {
			return err
		}

		w, err := c.sock.ReadU16()
		if err != nil {
			return err
		}

		h, err := c.sock.ReadU16()
		if err != nil {
			return err
		}

		encType, err := c.sock.ReadS32()
		if err != nil {
			return err
		}

		if encType == pseudoLastRect {
			break
		}

		rect := encoding.Rect{X: int(x), Y: int(y), W: int(w), H: int(h)}

		if done, err := c.handlePseudoEncoding(rect, encType); err != nil {
			return err
		} else if done {
			continue
		}

		decoder, ok := c.decoders[encType]
		if !ok {
			return fmt.Errorf("%w: encoding %d", ErrUnsupportedFeature, encType)
		}

		if err := decoder.DecodeRect(rect, c.sock, c.renderer, c.fbDepth); err != nil {
			return fmt.Errorf("%w: encoding %d: %v", ErrDecode, encType, err)
		}
	}

	c.renderer.Flip()

	if !c.enabledContinuousUpdates {
		return c.sendFramebufferUpdateRequest(true, 0, 0, c.fbWidth, c.fbHeight)
	}

	return nil
}

// handlePseudoEncoding consumes a pseudo-rectangle inline. It reports true
// when the encoding was a pseudo-encoding.
func (c *Client) handlePseudoEncoding(rect encoding.Rect, encType int32) (bool, error) {
	switch encType {
	case pseudoCursor:
		return true, c.handleCursor(rect)

	case pseudoVMwareCursor:
		return true, c.handleVMwareCursor(rect)

	case pseudoDesktopName:
		return true, c.handleDesktopName()

	case pseudoDesktopSize:
		c.resizeFramebuffer(rect.W, rect.H)

		return true, nil

	case pseudoExtDesktopSize:
		return true, c.handleExtendedDesktopSize(rect)

	case pseudoQEMUExtKeyEvent:
		c.qemuExtKeyEventSupported = true

		return true, nil

	default:
		return false, nil
	}
}

func (c *Client) resizeFramebuffer(w, h int) {
	c.fbWidth = w
	c.fbHeight = h

	c.renderer.Resize(w, h)

	logging.Debug("rfb: framebuffer resized to %dx%d", w, h)
}

// handleCursor reads a rich cursor rectangle: RGBA pixels followed by a
// 1-bit transparency mask, one row-padded bit per pixel.
func (c *Client) handleCursor(rect encoding.Rect) error {
	w, h := rect.W, rect.H

	if w == 0 || h == 0 {
		c.setCursor(nil, 0, 0, 0, 0)

		return nil
	}

	pixels, err := c.sock.ReadBytes(w * h * 4)
	if err != nil {
		return err
	}

	mask, err := c.sock.ReadBytes((w + 7) / 8 * h)
	if err != nil {
		return err
	}

	rgba := make([]byte, w*h*4)
	maskStride := (w + 7) / 8

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			copy(rgba[i*4:], pixels[i*4:i*4+3])

			if mask[y*maskStride+x/8]>>(7-x%8)&1 != 0 {
				rgba[i*4+3] = 0xFF
			}
		}
	}

	c.setCursor(rgba, w, h, rect.X, rect.Y)

	return nil
}

// handleVMwareCursor reads the VMware cursor rectangle: classic AND/XOR
// masks or a straight alpha image.
func (c *Client) handleVMwareCursor(rect encoding.Rect) error {
	cursorType, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	if err := c.sock.Skip(1); err != nil {
		return err
	}

	w, h := rect.W, rect.H

	switch cursorType {
	case 0: // classic AND/XOR
		andMask, err := c.sock.ReadBytes(w * h * 4)
		if err != nil {
			return err
		}

		xorMask, err := c.sock.ReadBytes(w * h * 4)
		if err != nil {
			return err
		}

		rgba := make([]byte, w*h*4)

		for i := 0; i < w*h; i++ {
			// An AND of zero means the XOR holds the opaque pixel;
			// anything else renders transparent (inverted pixels are
			// approximated as transparent).
			if andMask[i*4] == 0 && andMask[i*4+1] == 0 && andMask[i*4+2] == 0 && andMask[i*4+3] == 0 {
				copy(rgba[i*4:], xorMask[i*4:i*4+3])
				rgba[i*4+3] = 0xFF
			}
		}

		c.setCursor(rgba, w, h, rect.X, rect.Y)

	case 1: // alpha
		pixels, err := c.sock.ReadBytes(w * h * 4)
		if err != nil {
			return err
		}

		c.setCursor(pixels, w, h, rect.X, rect.Y)

	default:
		return fmt.Errorf("%w: vmware cursor type %d", ErrProtocolViolation, cursorType)
	}

	return nil
}

// setCursor hands a cursor image to the renderer, substituting the dot
// cursor for an invisible one when configured.
func (c *Client) setCursor(rgba []byte, w, h, hotX, hotY int) {
	setter, ok := c.renderer.(render.CursorSetter)
	if !ok {
		return
	}

	if isCursorVisible(rgba) {
		setter.SetCursor(rgba, w, h, hotX, hotY)

		return
	}

	if c.showDotCursor {
		dot, dw, dh := dotCursor()
		setter.SetCursor(dot, dw, dh, dw/2, dh/2)
	} else {
		setter.SetCursor(nil, 0, 0, 0, 0)
	}
}

// refreshCursor re-applies the dot-cursor policy after a toggle.
func (c *Client) refreshCursor() {
	if c.showDotCursor {
		c.setCursor(nil, 0, 0, 0, 0)
	}
}

func isCursorVisible(rgba []byte) bool {
	for i := 3; i < len(rgba); i += 4 {
		if rgba[i] != 0 {
			return true
		}
	}

	return false
}

// dotCursor returns a 5x5 black square with a white border, the classic
// fallback pointer.
func dotCursor() ([]byte, int, int) {
	const size = 5

	rgba := make([]byte, size*size*4)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := (y*size + x) * 4

			border := x == 0 || y == 0 || x == size-1 || y == size-1
			if border {
				rgba[i] = 0xFF
				rgba[i+1] = 0xFF
				rgba[i+2] = 0xFF
			}

			rgba[i+3] = 0xFF
		}
	}

	return rgba, size, size
}

func (c *Client) handleDesktopName() error {
	length, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	name, err := c.sock.ReadBytes(int(length))
	if err != nil {
		return err
	}

	c.fbName = string(name)
	c.events.desktopName(c.fbName)

	return nil
}

// handleExtendedDesktopSize reads the screen list. The rectangle position
// encodes the reason (x) and status (y) of a resize.
func (c *Client) handleExtendedDesktopSize(rect encoding.Rect) error {
	numScreens, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	if err := c.sock.Skip(3); err != nil {
		return err
	}

	for i := 0; i < int(numScreens); i++ {
		id, err := c.sock.ReadU32()
		if err != nil {
			return err
		}

		if err := c.sock.Skip(8); err != nil { // x, y, w, h of the screen
			return err
		}

		flags, err := c.sock.ReadU32()
		if err != nil {
			return err
		}

		if i == 0 {
			c.screenID = id
			c.screenFlags = flags
		}
	}

	c.supportsSetDesktopSize = true

	// reason 1 is the reply to our own request; a non-zero status there
	// means the resize was refused and the old geometry stands.
	reason, status := rect.X, rect.Y
	if reason == 1 && status != 0 {
		logging.Warn("rfb: server refused resize (status %d)", status)

		return nil
	}

	c.resizeFramebuffer(rect.W, rect.H)

	return nil
}

// handleEndOfContinuousUpdates marks support on first receipt and enables
// the mode.
func (c *Client) handleEndOfContinuousUpdates() error {
	first := !c.supportsContinuousUpdates

	c.supportsContinuousUpdates = true

	if first {
		c.enabledContinuousUpdates = true

		logging.Info("rfb: enabling continuous updates")

		return c.sendEnableContinuousUpdates(true, 0, 0, c.fbWidth, c.fbHeight)
	}

	c.enabledContinuousUpdates = false

	return nil
}

// handleServerFence echoes fence requests with only the blocking bits
// preserved.
func (c *Client) handleServerFence() error {
	if err := c.sock.Skip(3); err != nil {
		return err
	}

	flags, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	length, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	payload, err := c.sock.ReadBytes(int(length))
	if err != nil {
		return err
	}

	c.supportsFence = true

	if flags&fenceRequest == 0 {
		return nil
	}

	return c.sendFence(flags&(fenceBlockBefore|fenceBlockAfter), payload)
}

func (c *Client) handleServerXVP() error {
	if err := c.sock.Skip(1); err != nil {
		return err
	}

	version, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	op, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	switch op {
	case xvpOpFail:
		logging.Warn("rfb: xvp operation failed")

	case xvpOpInit:
		c.xvpVersion = version

		c.events.capabilities(map[string]bool{"power": true})

	default:
		return fmt.Errorf("%w: xvp message %d", ErrProtocolViolation, op)
	}

	return nil
}
