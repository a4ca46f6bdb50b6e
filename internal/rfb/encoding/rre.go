package encoding

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// RRE decodes rise-and-run-length encoded rectangles: a background fill
// followed by colored subrectangles. Colors are always 4-byte pixels.
type RRE struct{}

func (*RRE) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, _ int) error {
	subrects, err := s.ReadU32()
	if err != nil {
		return fmt.Errorf("rre: read subrect count: %w", err)
	}

	background, err := s.ReadBytes(4)
	if err != nil {
		return fmt.Errorf("rre: read background: %w", err)
	}

	if r.W == 0 || r.H == 0 {
		if subrects != 0 {
			return fmt.Errorf("%w: rre: %d subrects in empty rectangle", ErrProtocol, subrects)
		}

		return nil
	}

	d.FillRect(r.X, r.Y, r.W, r.H, background)

	for i := uint32(0); i < subrects; i++ {
		color, err := s.ReadBytes(4)
		if err != nil {
			return fmt.Errorf("rre: read subrect color: %w", err)
		}

		geom, err := s.ReadBytes(8)
		if err != nil {
			return fmt.Errorf("rre: read subrect geometry: %w", err)
		}

		sx := int(geom[0])<<8 | int(geom[1])
		sy := int(geom[2])<<8 | int(geom[3])
		sw := int(geom[4])<<8 | int(geom[5])
		sh := int(geom[6])<<8 | int(geom[7])

		d.FillRect(r.X+sx, r.Y+sy, sw, sh, color)
	}

	return nil
}
