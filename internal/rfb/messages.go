package rfb

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/encoding"
)

// Client-sent messages. Each helper serializes one message into the send
// queue and flushes it; sendMu keeps concurrent senders from interleaving.

func (c *Client) sendSetPixelFormat(depth int) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	pf := pixelFormatFor(depth)

	s := c.sock

	_ = s.Push8(msgSetPixelFormat)
	_ = s.PushBytes([]byte{0, 0, 0})
	_ = s.Push8(pf.BitsPerPixel)
	_ = s.Push8(pf.Depth)
	_ = s.Push8(pf.BigEndian)
	_ = s.Push8(pf.TrueColor)
	_ = s.Push16(pf.RedMax)
	_ = s.Push16(pf.GreenMax)
	_ = s.Push16(pf.BlueMax)
	_ = s.Push8(pf.RedShift)
	_ = s.Push8(pf.GreenShift)
	_ = s.Push8(pf.BlueShift)
	_ = s.PushBytes([]byte{0, 0, 0})

	return s.Flush()
}

// pixelFormatFor builds the true-color format requested for a depth: bits
// per channel is depth/3, channel maxima fill those bits, and the shifts
// stack red low.
func pixelFormatFor(depth int) PixelFormat {
	bits := depth / 3

	var bpp uint8

	switch {
	case depth > 16:
		bpp = 32
	case depth > 8:
		bpp = 16
	default:
		bpp = 8
	}

	channelMax := uint16(1<<bits) - 1

	return PixelFormat{
		BitsPerPixel: bpp,
		Depth:        uint8(depth),
		BigEndian:    0,
		TrueColor:    1,
		RedMax:       channelMax,
		GreenMax:     channelMax,
		BlueMax:      channelMax,
		RedShift:     0,
		GreenShift:   uint8(bits),
		BlueShift:    uint8(2 * bits),
	}
}

// encodingList builds the encoding preference order: CopyRect first, the
// compressed encodings at full depth, Raw last, then the pseudo-encodings.
func (c *Client) encodingList() []int32 {
	encs := []int32{encoding.TypeCopyRect}

	if c.fbDepth == 24 {
		encs = append(encs,
			encoding.TypeTight,
			encoding.TypeTightPNG,
			encoding.TypeZRLE,
			encoding.TypeJPEG,
			encoding.TypeHextile,
			encoding.TypeRRE,
		)
	}

	encs = append(encs, encoding.TypeRaw)

	encs = append(encs,
		pseudoQualityLevel0+int32(c.qualityLevel),
		pseudoCompressLevel0+int32(c.compressionLevel),
		pseudoDesktopSize,
		pseudoLastRect,
		pseudoQEMUExtKeyEvent,
		pseudoExtDesktopSize,
		pseudoXvp,
		pseudoFence,
		pseudoContinuousUpdates,
		pseudoDesktopName,
		pseudoExtClipboard,
	)

	if c.fbDepth == 24 {
		encs = append(encs, pseudoVMwareCursor, pseudoCursor)
	}

	return encs
}

func (c *Client) sendEncodings() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	encs := c.encodingList()

	s := c.sock

	_ = s.Push8(msgSetEncodings)
	_ = s.Push8(0)
	_ = s.Push16(uint16(len(encs)))

	for _, e := range encs {
		_ = s.Push32(uint32(e))
	}

	return s.Flush()
}

func (c *Client) sendFramebufferUpdateRequest(incremental bool, x, y, w, h int) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgFramebufferUpdateRequest)

	if incremental {
		_ = s.Push8(1)
	} else {
		_ = s.Push8(0)
	}

	_ = s.Push16(uint16(x))
	_ = s.Push16(uint16(y))
	_ = s.Push16(uint16(w))
	_ = s.Push16(uint16(h))

	return s.Flush()
}

// SendKeyEvent transmits a key press or release for an X11 keysym.
func (c *Client) SendKeyEvent(keysym uint32, down bool) error {
	if c.viewOnly || c.State() != StateConnected {
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgKeyEvent)

	if down {
		_ = s.Push8(1)
	} else {
		_ = s.Push8(0)
	}

	_ = s.Push16(0)
	_ = s.Push32(keysym)

	return s.Flush()
}

// SendQEMUExtendedKeyEvent transmits a key event with the hardware
// keycode, for servers that advertised the QEMU extension. Extended
// scancodes (0xE0 prefix) fold into bit 7.
func (c *Client) SendQEMUExtendedKeyEvent(keysym uint32, keycode uint32, down bool) error {
	if c.viewOnly || c.State() != StateConnected {
		return nil
	}

	if !c.qemuExtKeyEventSupported {
		return c.SendKeyEvent(keysym, down)
	}

	rfbKeycode := keycode
	if keycode>>8 == 0xE0 {
		rfbKeycode = keycode&0xFF | 0x80
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgQEMUMessage)
	_ = s.Push8(0)

	if down {
		_ = s.Push16(1)
	} else {
		_ = s.Push16(0)
	}

	_ = s.Push32(keysym)
	_ = s.Push32(rfbKeycode)

	return s.Flush()
}

// SendPointerEvent transmits the pointer position and button mask.
func (c *Client) SendPointerEvent(x, y int, buttonMask uint8) error {
	if c.viewOnly || c.State() != StateConnected {
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgPointerEvent)
	_ = s.Push8(buttonMask)
	_ = s.Push16(uint16(x))
	_ = s.Push16(uint16(y))

	return s.Flush()
}

// sendClientCutText transmits a classic latin-1 clipboard message. The
// extended variant reuses the message type with a negative length.
func (c *Client) sendClientCutText(payload []byte, extended bool) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgClientCutText)
	_ = s.PushBytes([]byte{0, 0, 0})

	length := int32(len(payload))
	if extended {
		length = -length
	}

	_ = s.Push32(uint32(length))
	_ = s.PushBytes(payload)

	return s.Flush()
}

func (c *Client) sendEnableContinuousUpdates(enable bool, x, y, w, h int) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgEnableContinuousUpdates)

	if enable {
		_ = s.Push8(1)
	} else {
		_ = s.Push8(0)
	}

	_ = s.Push16(uint16(x))
	_ = s.Push16(uint16(y))
	_ = s.Push16(uint16(w))
	_ = s.Push16(uint16(h))

	return s.Flush()
}

func (c *Client) sendFence(flags uint32, payload []byte) error {
	if len(payload) > 64 {
		return fmt.Errorf("%w: fence payload %d bytes", ErrProtocolViolation, len(payload))
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgClientFence)
	_ = s.PushBytes([]byte{0, 0, 0})
	_ = s.Push32(flags)
	_ = s.Push8(uint8(len(payload)))
	_ = s.PushBytes(payload)

	return s.Flush()
}

// SendXVPOp transmits an XVP power operation (shutdown, reboot, reset).
func (c *Client) SendXVPOp(version uint8, op uint8) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgClientXVP)
	_ = s.Push8(0)
	_ = s.Push8(version)
	_ = s.Push8(op)

	return s.Flush()
}

// SendDesktopSize requests a server-side resize, once the server has
// granted a screen via ExtendedDesktopSize.
func (c *Client) SendDesktopSize(w, h int) error {
	if !c.supportsSetDesktopSize {
		return nil
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	s := c.sock

	_ = s.Push8(msgSetDesktopSize)
	_ = s.Push8(0)
	_ = s.Push16(uint16(w))
	_ = s.Push16(uint16(h))
	_ = s.Push8(1) // one screen
	_ = s.Push8(0)
	_ = s.Push32(c.screenID)
	_ = s.Push16(0)
	_ = s.Push16(0)
	_ = s.Push16(uint16(w))
	_ = s.Push16(uint16(h))
	_ = s.Push32(c.screenFlags)

	return s.Flush()
}
