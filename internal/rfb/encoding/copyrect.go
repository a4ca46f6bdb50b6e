package encoding

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// CopyRect moves an already-rendered framebuffer region. Its 4-byte source
// position header is consumed even for empty rectangles.
type CopyRect struct{}

func (*CopyRect) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, _ int) error {
	srcX, err := s.ReadU16()
	if err != nil {
		return fmt.Errorf("copyrect: read source: %w", err)
	}

	srcY, err := s.ReadU16()
	if err != nil {
		return fmt.Errorf("copyrect: read source: %w", err)
	}

	if r.W == 0 || r.H == 0 {
		return nil
	}

	d.CopyImage(int(srcX), int(srcY), r.X, r.Y, r.W, r.H)

	return nil
}
