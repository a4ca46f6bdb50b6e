package encoding

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// Hextile subencoding bits.
const (
	hextileRaw          = 0x01
	hextileBackground   = 0x02
	hextileForeground   = 0x04
	hextileAnySubrects  = 0x08
	hextileSubrectColor = 0x10
)

// Hextile decodes 16x16 tiles with per-tile subencodings. Foreground and
// background colors persist across the tiles of one rectangle.
type Hextile struct {
	tile []byte // 16*16*4 scratch, allocated once
}

func (e *Hextile) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, _ int) error {
	if e.tile == nil {
		e.tile = make([]byte, 16*16*4)
	}

	var foreground, background []byte

	lastRaw := false

	for ty := 0; ty < r.H; ty += 16 {
		th := min(16, r.H-ty)

		for tx := 0; tx < r.W; tx += 16 {
			tw := min(16, r.W-tx)

			sub, err := s.ReadU8()
			if err != nil {
				return fmt.Errorf("hextile: read subencoding: %w", err)
			}

			if sub > 30 {
				return fmt.Errorf("%w: hextile: subencoding %#02x", ErrProtocol, sub)
			}

			if sub == 0 {
				// A blank tile directly after a raw tile is an artifact
				// some servers emit; its pixels stay untouched.
				wasRaw := lastRaw
				lastRaw = false

				if wasRaw {
					continue
				}

				if background != nil {
					d.FillRect(r.X+tx, r.Y+ty, tw, th, background)
				}

				continue
			}

			if sub&hextileRaw != 0 {
				if err := e.rawTile(s, d, r.X+tx, r.Y+ty, tw, th); err != nil {
					return err
				}

				lastRaw = true

				continue
			}

			lastRaw = false

			if sub&hextileBackground != 0 {
				if background, err = s.ReadBytes(4); err != nil {
					return fmt.Errorf("hextile: read background: %w", err)
				}
			}

			if sub&hextileForeground != 0 {
				if foreground, err = s.ReadBytes(4); err != nil {
					return fmt.Errorf("hextile: read foreground: %w", err)
				}
			}

			if background != nil {
				d.FillRect(r.X+tx, r.Y+ty, tw, th, background)
			}

			if sub&hextileAnySubrects == 0 {
				continue
			}

			count, err := s.ReadU8()
			if err != nil {
				return fmt.Errorf("hextile: read subrect count: %w", err)
			}

			for i := 0; i < int(count); i++ {
				color := foreground

				if sub&hextileSubrectColor != 0 {
					if color, err = s.ReadBytes(4); err != nil {
						return fmt.Errorf("hextile: read subrect color: %w", err)
					}
				}

				geom, err := s.ReadBytes(2)
				if err != nil {
					return fmt.Errorf("hextile: read subrect geometry: %w", err)
				}

				sx := int(geom[0] >> 4)
				sy := int(geom[0] & 0x0F)
				sw := int(geom[1]>>4) + 1
				sh := int(geom[1]&0x0F) + 1

				d.FillRect(r.X+tx+sx, r.Y+ty+sy, sw, sh, color)
			}
		}
	}

	return nil
}

// rawTile reads tw*th wire pixels into the scratch buffer and blits them.
func (e *Hextile) rawTile(s *stream.Buffer, d render.Renderer, x, y, tw, th int) error {
	wire, err := s.ReadBytes(tw * th * 4)
	if err != nil {
		return fmt.Errorf("hextile: read raw tile: %w", err)
	}

	copy(e.tile, wire)
	for i := 3; i < tw*th*4; i += 4 {
		e.tile[i] = 0xFF
	}

	d.BlitImage(x, y, tw, th, e.tile[:tw*th*4], 0)

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}
