package encoding

import (
	"fmt"
	"io"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
	"github.com/kulaginds/vnc-html5/internal/rfb/zstream"
)

const zrleTileSize = 64

// ZRLE decodes zlib-compressed run-length encoded rectangles. One zlib
// stream persists for the whole connection; pixels inside it are 3-byte
// CPIXELs. Tiles are 64x64, row-major.
type ZRLE struct {
	zlib zstream.Reader
	rgba []byte
}

func (e *ZRLE) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, _ int) error {
	length, err := s.ReadU32()
	if err != nil {
		return fmt.Errorf("zrle: read length: %w", err)
	}

	compressed, err := s.ReadBytes(int(length))
	if err != nil {
		return fmt.Errorf("zrle: read compressed data: %w", err)
	}

	e.zlib.Append(compressed)

	if cap(e.rgba) < zrleTileSize*zrleTileSize*4 {
		e.rgba = make([]byte, zrleTileSize*zrleTileSize*4)
	}

	for ty := 0; ty < r.H; ty += zrleTileSize {
		th := min(zrleTileSize, r.H-ty)

		for tx := 0; tx < r.W; tx += zrleTileSize {
			tw := min(zrleTileSize, r.W-tx)

			if err := e.decodeTile(d, r.X+tx, r.Y+ty, tw, th); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *ZRLE) decodeTile(d render.Renderer, x, y, tw, th int) error {
	sub, err := e.readByte()
	if err != nil {
		return fmt.Errorf("zrle: read tile subencoding: %w", err)
	}

	isRLE := sub&0x80 != 0
	paletteSize := int(sub & 0x7F)

	switch {
	case !isRLE && paletteSize == 0:
		return e.rawTile(d, x, y, tw, th)

	case !isRLE && paletteSize == 1:
		return e.solidTile(d, x, y, tw, th)

	case !isRLE && paletteSize <= 16:
		return e.packedTile(d, x, y, tw, th, paletteSize)

	case isRLE && paletteSize == 0:
		return e.plainRLETile(d, x, y, tw, th)

	case isRLE && paletteSize >= 2 && paletteSize <= 127:
		return e.paletteRLETile(d, x, y, tw, th, paletteSize)

	default:
		return fmt.Errorf("%w: zrle: tile subencoding %#02x", ErrProtocol, sub)
	}
}

func (e *ZRLE) rawTile(d render.Renderer, x, y, tw, th int) error {
	rgba := e.rgba[:tw*th*4]

	for i := 0; i < tw*th; i++ {
		if err := e.readCPixel(rgba[i*4:]); err != nil {
			return fmt.Errorf("zrle: raw tile: %w", err)
		}
	}

	d.BlitImage(x, y, tw, th, rgba, 0)

	return nil
}

func (e *ZRLE) solidTile(d render.Renderer, x, y, tw, th int) error {
	var color [4]byte

	if err := e.readCPixel(color[:]); err != nil {
		return fmt.Errorf("zrle: solid tile: %w", err)
	}

	d.FillRect(x, y, tw, th, color[:])

	return nil
}

// packedTile decodes a packed-palette tile: 1, 2 or 4 index bits per pixel
// depending on the palette size, each row padded to a whole byte.
func (e *ZRLE) packedTile(d render.Renderer, x, y, tw, th, paletteSize int) error {
	palette, err := e.readPalette(paletteSize)
	if err != nil {
		return err
	}

	var bpp int

	switch {
	case paletteSize <= 2:
		bpp = 1
	case paletteSize <= 4:
		bpp = 2
	default:
		bpp = 4
	}

	stride := (tw*bpp + 7) / 8

	packed := make([]byte, stride*th)
	if err := e.readFull(packed); err != nil {
		return fmt.Errorf("zrle: packed tile: %w", err)
	}

	rgba := e.rgba[:tw*th*4]
	mask := byte(1<<bpp) - 1

	for py := 0; py < th; py++ {
		for px := 0; px < tw; px++ {
			bitOff := px * bpp
			b := packed[py*stride+bitOff/8]
			shift := 8 - bpp - bitOff%8
			idx := int(b>>shift) & int(mask)

			if idx >= paletteSize {
				return fmt.Errorf("%w: zrle: palette index %d of %d", ErrProtocol, idx, paletteSize)
			}

			copy(rgba[(py*tw+px)*4:], palette[idx*4:idx*4+4])
		}
	}

	d.BlitImage(x, y, tw, th, rgba, 0)

	return nil
}

func (e *ZRLE) plainRLETile(d render.Renderer, x, y, tw, th int) error {
	rgba := e.rgba[:tw*th*4]

	for pos := 0; pos < tw*th; {
		var color [4]byte

		if err := e.readCPixel(color[:]); err != nil {
			return fmt.Errorf("zrle: plain rle: %w", err)
		}

		runLen, err := e.readRunLength()
		if err != nil {
			return fmt.Errorf("zrle: plain rle: %w", err)
		}

		if pos+runLen > tw*th {
			return fmt.Errorf("%w: zrle: run of %d overflows tile", ErrProtocol, runLen)
		}

		for i := 0; i < runLen; i++ {
			copy(rgba[(pos+i)*4:], color[:])
		}

		pos += runLen
	}

	d.BlitImage(x, y, tw, th, rgba, 0)

	return nil
}

func (e *ZRLE) paletteRLETile(d render.Renderer, x, y, tw, th, paletteSize int) error {
	palette, err := e.readPalette(paletteSize)
	if err != nil {
		return err
	}

	rgba := e.rgba[:tw*th*4]

	for pos := 0; pos < tw*th; {
		b, err := e.readByte()
		if err != nil {
			return fmt.Errorf("zrle: palette rle: %w", err)
		}

		idx := int(b & 0x7F)
		if idx >= paletteSize {
			return fmt.Errorf("%w: zrle: palette index %d of %d", ErrProtocol, idx, paletteSize)
		}

		runLen := 1

		if b&0x80 != 0 {
			if runLen, err = e.readRunLength(); err != nil {
				return fmt.Errorf("zrle: palette rle: %w", err)
			}
		}

		if pos+runLen > tw*th {
			return fmt.Errorf("%w: zrle: run of %d overflows tile", ErrProtocol, runLen)
		}

		for i := 0; i < runLen; i++ {
			copy(rgba[(pos+i)*4:], palette[idx*4:idx*4+4])
		}

		pos += runLen
	}

	d.BlitImage(x, y, tw, th, rgba, 0)

	return nil
}

// readRunLength reads the ZRLE run length: 255-valued bytes accumulate,
// the terminator adds its value, and the total is offset by one.
func (e *ZRLE) readRunLength() (int, error) {
	runLen := 1

	for {
		b, err := e.readByte()
		if err != nil {
			return 0, err
		}

		runLen += int(b)

		if b != 255 {
			return runLen, nil
		}
	}
}

func (e *ZRLE) readPalette(size int) ([]byte, error) {
	palette := make([]byte, size*4)

	for i := 0; i < size; i++ {
		if err := e.readCPixel(palette[i*4:]); err != nil {
			return nil, fmt.Errorf("zrle: read palette: %w", err)
		}
	}

	return palette, nil
}

// readCPixel reads one 3-byte compact pixel into out as opaque RGBA.
func (e *ZRLE) readCPixel(out []byte) error {
	var p [3]byte

	if err := e.readFull(p[:]); err != nil {
		return err
	}

	out[0] = p[0]
	out[1] = p[1]
	out[2] = p[2]
	out[3] = 0xFF

	return nil
}

func (e *ZRLE) readByte() (byte, error) {
	var p [1]byte

	if err := e.readFull(p[:]); err != nil {
		return 0, err
	}

	return p[0], nil
}

func (e *ZRLE) readFull(p []byte) error {
	if _, err := io.ReadFull(&e.zlib, p); err != nil {
		return err
	}

	return nil
}
