package encoding

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// Raw decodes uncompressed pixel data: one byte per pixel at depth 8, four
// bytes at depth 24. Stateless across rectangles.
type Raw struct{}

func (*Raw) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, depth int) error {
	if r.W == 0 || r.H == 0 {
		return nil
	}

	wire, err := s.ReadBytes(r.W * r.H * pixelSize(depth))
	if err != nil {
		return fmt.Errorf("raw: read pixels: %w", err)
	}

	rgba := make([]byte, r.W*r.H*4)

	if depth == 8 {
		for i, b := range wire {
			expand8(b, rgba[i*4:])
		}
	} else {
		copy(rgba, wire)
		for i := 3; i < len(rgba); i += 4 {
			rgba[i] = 0xFF
		}
	}

	d.BlitImage(r.X, r.Y, r.W, r.H, rgba, 0)

	return nil
}
