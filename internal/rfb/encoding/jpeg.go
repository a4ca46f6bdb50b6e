package encoding

import (
	"bytes"
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// JPEG marker types.
const (
	jpegSOI  = 0xD8
	jpegEOI  = 0xD9
	jpegSOF0 = 0xC0
	jpegSOF2 = 0xC2
	jpegDHT  = 0xC4
	jpegDQT  = 0xDB
	jpegSOS  = 0xDA
)

// JPEG decodes rectangles whose payload is a standalone JPEG image. Servers
// may omit the Huffman and quantization tables on frames after the first;
// the decoder caches the last seen tables and splices them back in after
// the start-of-frame segment.
type JPEG struct {
	huffmanTables []byte
	quantTables   []byte
}

func (e *JPEG) DecodeRect(r Rect, s *stream.Buffer, d render.Renderer, _ int) error {
	var (
		blob     bytes.Buffer
		sofIndex = -1
		sawHuff  bool
		sawQuant bool
		huffman  bytes.Buffer
		quant    bytes.Buffer
	)

	for {
		marker, err := s.ReadBytes(2)
		if err != nil {
			return fmt.Errorf("jpeg: read marker: %w", err)
		}

		if marker[0] != 0xFF {
			return fmt.Errorf("%w: jpeg: bad marker %#02x%02x", ErrProtocol, marker[0], marker[1])
		}

		typ := marker[1]

		// Standalone markers carry no length field.
		if typ == 0x01 || (typ >= 0xD0 && typ <= 0xD9) {
			blob.Write(marker)

			if typ == jpegEOI {
				break
			}

			continue
		}

		lenBytes, err := s.ReadBytes(2)
		if err != nil {
			return fmt.Errorf("jpeg: read segment length: %w", err)
		}

		segLen := int(lenBytes[0])<<8 | int(lenBytes[1])
		if segLen < 2 {
			return fmt.Errorf("%w: jpeg: segment length %d", ErrProtocol, segLen)
		}

		body, err := s.ReadBytes(segLen - 2)
		if err != nil {
			return fmt.Errorf("jpeg: read segment body: %w", err)
		}

		switch typ {
		case jpegSOF0, jpegSOF2:
			blob.Write(marker)
			blob.Write(lenBytes)
			blob.Write(body)
			sofIndex = blob.Len()

		case jpegDHT:
			sawHuff = true
			huffman.Write(marker)
			huffman.Write(lenBytes)
			huffman.Write(body)
			blob.Write(marker)
			blob.Write(lenBytes)
			blob.Write(body)

		case jpegDQT:
			sawQuant = true
			quant.Write(marker)
			quant.Write(lenBytes)
			quant.Write(body)
			blob.Write(marker)
			blob.Write(lenBytes)
			blob.Write(body)

		case jpegSOS:
			blob.Write(marker)
			blob.Write(lenBytes)
			blob.Write(body)

			if err := e.scanEntropy(s, &blob); err != nil {
				return err
			}

		default:
			blob.Write(marker)
			blob.Write(lenBytes)
			blob.Write(body)
		}
	}

	if sofIndex < 0 {
		return fmt.Errorf("%w: jpeg: missing start of frame", ErrProtocol)
	}

	// Refresh the table cache, or splice the cached tables into a frame
	// that omitted them.
	if sawHuff {
		e.huffmanTables = append(e.huffmanTables[:0], huffman.Bytes()...)
	}

	if sawQuant {
		e.quantTables = append(e.quantTables[:0], quant.Bytes()...)
	}

	data := blob.Bytes()

	if !sawHuff || !sawQuant {
		var inject []byte

		if !sawQuant {
			inject = append(inject, e.quantTables...)
		}

		if !sawHuff {
			inject = append(inject, e.huffmanTables...)
		}

		if len(inject) > 0 {
			spliced := make([]byte, 0, len(data)+len(inject))
			spliced = append(spliced, data[:sofIndex]...)
			spliced = append(spliced, inject...)
			spliced = append(spliced, data[sofIndex:]...)
			data = spliced
		}
	}

	return d.ImageRect(r.X, r.Y, r.W, r.H, "image/jpeg", data)
}

// scanEntropy copies entropy-coded bytes following a start-of-scan header
// until the next real marker: 0xFF followed by anything other than a stuff
// byte (0x00) or a restart marker (0xD0-0xD7) ends the scan and stays in
// the stream.
func (e *JPEG) scanEntropy(s *stream.Buffer, blob *bytes.Buffer) error {
	for {
		pair, err := s.PeekBytes(2)
		if err != nil {
			return fmt.Errorf("jpeg: scan entropy data: %w", err)
		}

		if pair[0] != 0xFF {
			blob.WriteByte(pair[0])

			if err := s.Skip(1); err != nil {
				return err
			}

			continue
		}

		if pair[1] == 0x00 || (pair[1] >= 0xD0 && pair[1] <= 0xD7) {
			blob.Write(pair)

			if err := s.Skip(2); err != nil {
				return err
			}

			continue
		}

		return nil
	}
}
