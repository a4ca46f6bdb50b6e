package rfb

import (
	"fmt"
	"strings"

	"github.com/kulaginds/vnc-html5/internal/logging"
)

const repeaterIDLength = 250

// handshake walks the connection from ProtocolVersion to the end of
// ServerInitialisation.
func (c *Client) handshake() error {
	if err := c.negotiateProtocolVersion(); err != nil {
		return fmt.Errorf("protocol version: %w", err)
	}

	if err := c.negotiateSecurity(); err != nil {
		return fmt.Errorf("security: %w", err)
	}

	if err := c.authenticate(); err != nil {
		return fmt.Errorf("authentication: %w", err)
	}

	if err := c.handleSecurityResult(); err != nil {
		return fmt.Errorf("security result: %w", err)
	}

	if err := c.clientInitialisation(); err != nil {
		return fmt.Errorf("client initialisation: %w", err)
	}

	if err := c.serverInitialisation(); err != nil {
		return fmt.Errorf("server initialisation: %w", err)
	}

	return nil
}

// negotiateProtocolVersion reads the server banner, answers an UltraVNC
// repeater when one is in front, clamps the version to 3.8 and replies.
func (c *Client) negotiateProtocolVersion() error {
	c.setInitState(InitProtocolVersion)

	for {
		banner, err := c.sock.ReadString(12)
		if err != nil {
			return err
		}

		if !strings.HasPrefix(banner, "RFB ") || banner[11] != '\n' {
			return fmt.Errorf("%w: bad version banner %q", ErrProtocolViolation, banner)
		}

		version := banner[4:11]

		if version == "000.000" {
			// UltraVNC repeater: answer with the padded target ID and wait
			// for the real server's banner.
			if err := c.sendRepeaterID(); err != nil {
				return err
			}

			continue
		}

		switch version {
		case "003.003", "003.006":
			c.version = Version33
		case "003.007":
			c.version = Version37
		case "003.008", "003.889", "004.000", "004.001", "005.000":
			c.version = Version38
		default:
			return fmt.Errorf("%w: server version %q", ErrUnsupportedFeature, version)
		}

		logging.Info("rfb: negotiated protocol version %s", c.version)

		var reply string

		switch c.version {
		case Version33:
			reply = "RFB 003.003\n"
		case Version37:
			reply = "RFB 003.007\n"
		case Version38:
			reply = "RFB 003.008\n"
		}

		if err := c.sock.PushString(reply); err != nil {
			return err
		}

		return c.sock.Flush()
	}
}

func (c *Client) sendRepeaterID() error {
	id := make([]byte, repeaterIDLength)
	copy(id, "ID:"+c.opts.RepeaterID)

	if err := c.sock.PushBytes(id); err != nil {
		return err
	}

	return c.sock.Flush()
}

// negotiateSecurity picks the first server-offered security type this
// client implements.
func (c *Client) negotiateSecurity() error {
	c.setInitState(InitSecurity)

	if c.version < Version37 {
		scheme, err := c.sock.ReadU32()
		if err != nil {
			return err
		}

		if scheme == 0 {
			return c.handleSecurityReason(1)
		}

		c.authScheme = int32(scheme)

		return nil
	}

	numTypes, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	if numTypes == 0 {
		return c.handleSecurityReason(1)
	}

	offered, err := c.sock.ReadBytes(int(numTypes))
	if err != nil {
		return err
	}

	supported := []int32{
		secTypeNone,
		secTypeVNCAuth,
		secTypeTight,
		secTypeVeNCrypt,
		secTypeXVP,
		secTypeARD,
		secTypeRA2ne,
		secTypeMSLogonII,
		secTypePlain,
	}

	c.authScheme = -1

	for _, t := range offered {
		for _, s := range supported {
			if int32(t) == s {
				c.authScheme = s
				break
			}
		}

		if c.authScheme != -1 {
			break
		}
	}

	if c.authScheme == -1 {
		return fmt.Errorf("%w: no supported security type in %v", ErrUnsupportedFeature, offered)
	}

	logging.Debug("rfb: selected security type %d", c.authScheme)

	if err := c.sock.Push8(uint8(c.authScheme)); err != nil {
		return err
	}

	return c.sock.Flush()
}

// handleSecurityReason reads the server's failure reason, reports it and
// fails the handshake.
func (c *Client) handleSecurityReason(status uint32) error {
	c.setInitState(InitSecurityReason)

	length, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	reason := ""

	if length > 0 {
		reason, err = c.sock.ReadString(int(length))
		if err != nil {
			return err
		}
	}

	c.events.securityFailure(status, reason)

	if reason != "" {
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, reason)
	}

	return ErrAuthenticationFailed
}

// handleSecurityResult reads the post-authentication status. Protocol 3.3
// carries no result message at all; 3.8 failures come with a reason text.
func (c *Client) handleSecurityResult() error {
	if c.version < Version37 {
		return nil
	}

	c.setInitState(InitSecurityResult)

	status, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	if status == 0 {
		return nil
	}

	if c.version == Version38 {
		return c.handleSecurityReason(status)
	}

	c.events.securityFailure(status, "")

	return fmt.Errorf("%w: security handshake failed (status %d)", ErrAuthenticationFailed, status)
}

func (c *Client) clientInitialisation() error {
	c.setInitState(InitClientInitialisation)

	shared := uint8(0)
	if c.opts.Shared {
		shared = 1
	}

	if err := c.sock.Push8(shared); err != nil {
		return err
	}

	return c.sock.Flush()
}

// serverInitialisation reads the framebuffer geometry, the server pixel
// format and name, negotiates our own format and encodings, and requests
// the first full update.
func (c *Client) serverInitialisation() error {
	c.setInitState(InitServerInitialisation)

	width, err := c.sock.ReadU16()
	if err != nil {
		return err
	}

	height, err := c.sock.ReadU16()
	if err != nil {
		return err
	}

	// The server's 16-byte pixel format is noted but not used: we always
	// switch the session to our own true-color format.
	serverPF, err := c.sock.ReadBytes(16)
	if err != nil {
		return err
	}

	if serverPF[3] == 0 {
		logging.Warn("rfb: server advertises color-map mode, forcing true color")
	}

	nameLen, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	name, err := c.sock.ReadBytes(int(nameLen))
	if err != nil {
		return err
	}

	c.fbWidth = int(width)
	c.fbHeight = int(height)
	c.fbName = string(name)

	if c.tightVNC {
		if err := c.readTightServerCapabilities(); err != nil {
			return err
		}
	}

	logging.Info("rfb: server %q, framebuffer %dx%d", c.fbName, c.fbWidth, c.fbHeight)

	c.renderer.Resize(c.fbWidth, c.fbHeight)
	c.events.desktopName(c.fbName)

	c.fbDepth = 24
	if c.fbName == intelAMTServerName {
		logging.Warn("rfb: Intel AMT KVM only supports 8 bit depth")
		c.fbDepth = 8
	}

	if err := c.sendSetPixelFormat(c.fbDepth); err != nil {
		return err
	}

	if err := c.sendEncodings(); err != nil {
		return err
	}

	return c.sendFramebufferUpdateRequest(false, 0, 0, c.fbWidth, c.fbHeight)
}

// readTightServerCapabilities consumes the capability lists the Tight
// security extension appends to ServerInit. The entries are ignored.
func (c *Client) readTightServerCapabilities() error {
	counts, err := c.sock.ReadBytes(8)
	if err != nil {
		return err
	}

	numServer := int(counts[0])<<8 | int(counts[1])
	numClient := int(counts[2])<<8 | int(counts[3])
	numEncodings := int(counts[4])<<8 | int(counts[5])

	total := 16 * (numServer + numClient + numEncodings)

	return c.sock.Skip(total)
}
