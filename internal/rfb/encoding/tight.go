package encoding

import (
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
	"github.com/kulaginds/vnc-html5/internal/rfb/zstream"
)

// Tight compression control values (upper nibble of the control byte).
const (
	tightFill = 0x08
	tightJpeg = 0x09
	tightPng  = 0x0A
)

// Tight basic-compression filter ids.
const (
	tightFilterCopy     = 0
	tightFilterPalette  = 1
	tightFilterGradient = 2
)

// Below this size the payload is sent raw instead of zlib-compressed.
const tightMinToCompress = 12

// Tight decodes the Tight encoding: per-rectangle control byte, four
// resettable zlib streams, copy/palette filters and embedded JPEG images.
// The streams and the scratch buffer persist for the connection.
type Tight struct {
	// png switches the dialect: TightPNG replaces basic compression with
	// PNG rectangles.
	png bool

	zlibs   [4]zstream.Reader
	scratch []byte
}

// NewTight creates a decoder for the Tight encoding.
func NewTight() *Tight {
	return &Tight{}
}

// NewTightPNG creates a decoder for the TightPNG dialect, in which basic
// compression is illegal and PNG rectangles are legal.
func NewTightPNG() *Tight {
	return &Tight{png: true}
}

func (e *Tight) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, _ int) error {
	ctl, err := s.ReadU8()
	if err != nil {
		return fmt.Errorf("tight: read control byte: %w", err)
	}

	// The low four bits ask for stream resets before anything else.
	for i := 0; i < 4; i++ {
		if ctl&(1<<i) != 0 {
			e.zlibs[i].Reset()
		}
	}

	comp := ctl >> 4

	switch {
	case comp == tightFill:
		return e.fillRect(r, s, d)

	case comp == tightJpeg:
		return e.imageRect(r, s, d, "image/jpeg")

	case comp == tightPng:
		if !e.png {
			return fmt.Errorf("%w: tight: png rectangle outside tightpng", ErrUnsupported)
		}

		return e.imageRect(r, s, d, "image/png")

	case comp&0x08 == 0:
		if e.png {
			return fmt.Errorf("%w: tightpng: basic compression", ErrProtocol)
		}

		return e.basicRect(r, s, d, comp)

	default:
		return fmt.Errorf("%w: tight: control byte %#02x", ErrProtocol, ctl)
	}
}

func (e *Tight) fillRect(r Rect, s *stream.Buffer, d render.Renderer) error {
	color, err := s.ReadBytes(3)
	if err != nil {
		return fmt.Errorf("tight: read fill color: %w", err)
	}

	d.FillRect(r.X, r.Y, r.W, r.H, color)

	return nil
}

func (e *Tight) imageRect(r Rect, s *stream.Buffer, d render.Renderer, mime string) error {
	length, err := ReadCompactLen(s)
	if err != nil {
		return fmt.Errorf("tight: read image length: %w", err)
	}

	data, err := s.ReadBytes(length)
	if err != nil {
		return fmt.Errorf("tight: read image data: %w", err)
	}

	return d.ImageRect(r.X, r.Y, r.W, r.H, mime, data)
}

func (e *Tight) basicRect(r Rect, s *stream.Buffer, d render.Renderer, comp uint8) error {
	filter := uint8(tightFilterCopy)

	if comp&0x04 != 0 {
		f, err := s.ReadU8()
		if err != nil {
			return fmt.Errorf("tight: read filter byte: %w", err)
		}

		filter = f
	}

	streamID := int(comp & 0x03)

	switch filter {
	case tightFilterCopy:
		return e.copyFilter(r, s, d, streamID)
	case tightFilterPalette:
		return e.paletteFilter(r, s, d, streamID)
	case tightFilterGradient:
		return fmt.Errorf("%w: tight: gradient filter", ErrUnsupported)
	default:
		return fmt.Errorf("%w: tight: filter %#02x", ErrProtocol, filter)
	}
}

// copyFilter reads w*h RGB pixels through the compression rule and blits
// them.
func (e *Tight) copyFilter(r Rect, s *stream.Buffer, d render.Renderer, streamID int) error {
	data, err := e.readData(s, streamID, r.W*r.H*3)
	if err != nil {
		return err
	}

	rgba := e.scratchFor(r.W * r.H * 4)

	for i := 0; i < r.W*r.H; i++ {
		rgba[i*4] = data[i*3]
		rgba[i*4+1] = data[i*3+1]
		rgba[i*4+2] = data[i*3+2]
		rgba[i*4+3] = 0xFF
	}

	d.BlitImage(r.X, r.Y, r.W, r.H, rgba, 0)

	return nil
}

// paletteFilter reads an indexed rectangle: 1 bit per pixel for two colors,
// 8 bits otherwise, rows padded to whole bytes.
func (e *Tight) paletteFilter(r Rect, s *stream.Buffer, d render.Renderer, streamID int) error {
	n, err := s.ReadU8()
	if err != nil {
		return fmt.Errorf("tight: read palette size: %w", err)
	}

	numColors := int(n) + 1

	palette, err := s.ReadBytes(numColors * 3)
	if err != nil {
		return fmt.Errorf("tight: read palette: %w", err)
	}

	bpp := 8
	if numColors == 2 {
		bpp = 1
	}

	stride := (r.W*bpp + 7) / 8

	data, err := e.readData(s, streamID, stride*r.H)
	if err != nil {
		return err
	}

	rgba := e.scratchFor(r.W * r.H * 4)

	if bpp == 1 {
		monoRect(data, palette, rgba, r.W, r.H, stride)
	} else {
		for i := 0; i < r.W*r.H; i++ {
			idx := int(data[i]) * 3
			rgba[i*4] = palette[idx]
			rgba[i*4+1] = palette[idx+1]
			rgba[i*4+2] = palette[idx+2]
			rgba[i*4+3] = 0xFF
		}
	}

	d.BlitImage(r.X, r.Y, r.W, r.H, rgba, 0)

	return nil
}

// monoRect expands a 1-bit-per-pixel bitmap, MSB first within each row
// byte, through a two-entry palette.
func monoRect(data, palette, rgba []byte, w, h, stride int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			bit := (data[y*stride+x/8] >> (7 - x%8)) & 1
			idx := int(bit) * 3
			o := (y*w + x) * 4
			rgba[o] = palette[idx]
			rgba[o+1] = palette[idx+1]
			rgba[o+2] = palette[idx+2]
			rgba[o+3] = 0xFF
		}
	}
}

// readData applies the compression rule: payloads smaller than 12 bytes
// arrive raw, larger ones as a compact-length-prefixed zlib chunk inflated
// through the requested stream.
func (e *Tight) readData(s *stream.Buffer, streamID, uncompressedLen int) ([]byte, error) {
	if uncompressedLen < tightMinToCompress {
		data, err := s.ReadBytes(uncompressedLen)
		if err != nil {
			return nil, fmt.Errorf("tight: read raw data: %w", err)
		}

		return data, nil
	}

	compLen, err := ReadCompactLen(s)
	if err != nil {
		return nil, fmt.Errorf("tight: read compressed length: %w", err)
	}

	compressed, err := s.ReadBytes(compLen)
	if err != nil {
		return nil, fmt.Errorf("tight: read compressed data: %w", err)
	}

	data, err := e.zlibs[streamID].Inflate(compressed, uncompressedLen)
	if err != nil {
		return nil, fmt.Errorf("tight: stream %d: %w", streamID, err)
	}

	return data, nil
}

// scratchFor returns the reusable RGBA buffer, grown lazily.
func (e *Tight) scratchFor(n int) []byte {
	if cap(e.scratch) < n {
		e.scratch = make([]byte, n)
	}

	return e.scratch[:n]
}

// ReadCompactLen reads the Tight 1-3 byte variable-length integer: seven
// data bits per byte, continuation flag 0x80, third byte unrestricted.
func ReadCompactLen(s *stream.Buffer) (int, error) {
	b, err := s.ReadU8()
	if err != nil {
		return 0, err
	}

	length := int(b & 0x7F)

	if b&0x80 == 0 {
		return length, nil
	}

	if b, err = s.ReadU8(); err != nil {
		return 0, err
	}

	length |= int(b&0x7F) << 7

	if b&0x80 == 0 {
		return length, nil
	}

	if b, err = s.ReadU8(); err != nil {
		return 0, err
	}

	length |= int(b) << 14

	return length, nil
}

// CompactLen encodes a length in the Tight variable-length format. Used by
// tests as the reference inverse of ReadCompactLen.
func CompactLen(n int) []byte {
	out := []byte{byte(n & 0x7F)}

	if n > 0x7F {
		out[0] |= 0x80
		out = append(out, byte((n>>7)&0x7F))

		if n > 0x3FFF {
			out[1] |= 0x80
			out = append(out, byte(n>>14))
		}
	}

	return out
}
