// Package encoding implements the rectangle decoders for the framebuffer
// update encodings: Raw, CopyRect, RRE, Hextile, Tight, TightPNG, ZRLE and
// JPEG. Each decoder consumes exactly the bytes of one rectangle from the
// connection's stream buffer and emits pixels to the renderer.
package encoding

import (
	"errors"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// Encoding type identifiers on the wire.
const (
	TypeRaw      int32 = 0
	TypeCopyRect int32 = 1
	TypeRRE      int32 = 2
	TypeHextile  int32 = 5
	TypeTight    int32 = 7
	TypeZRLE     int32 = 16
	TypeJPEG     int32 = 21
	TypeTightPNG int32 = -260
)

var (
	// ErrProtocol indicates bytes that are invalid for the encoding's wire
	// format: an out-of-range subencoding, a bad control value, a malformed
	// marker.
	ErrProtocol = errors.New("encoding: protocol violation")

	// ErrUnsupported indicates a wire feature this client does not decode,
	// such as the Tight gradient filter.
	ErrUnsupported = errors.New("encoding: unsupported feature")
)

// Rect describes one framebuffer update rectangle.
type Rect struct {
	X, Y int
	W, H int
}

// Decoder consumes one rectangle's bytes from the stream and draws it.
// A decoder must not read past its rectangle, and must consume any
// fixed-size header even when the rectangle is empty. Decoders keep their
// own cross-rectangle state (zlib streams, caches) for the lifetime of a
// connection.
type Decoder interface {
	DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, depth int) error
}

// pixelSize returns the wire bytes per pixel for the given color depth.
func pixelSize(depth int) int {
	if depth == 8 {
		return 1
	}

	return 4
}

// expand8 converts one depth-8 wire pixel (2 bits per channel) into RGBA.
func expand8(b byte, out []byte) {
	out[0] = byte(int(b&3) * 255 / 3)
	out[1] = byte(int((b>>2)&3) * 255 / 3)
	out[2] = byte(int((b>>4)&3) * 255 / 3)
	out[3] = 0xFF
}
