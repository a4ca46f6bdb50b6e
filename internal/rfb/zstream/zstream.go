// Package zstream wraps compress/zlib with the stream lifetime rules the
// Tight and ZRLE encodings require: one zlib stream persists across
// rectangles and messages, compressed input arrives in bounded chunks, and
// the stream is reset only when the wire commands it.
package zstream

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// Reader is a persistent inflate stream. Compressed chunks are appended to
// an internal buffer; decompressed output is pulled on demand so that a
// chunk flushed mid-stream by the server (Z_SYNC_FLUSH) inflates without
// ending the stream.
type Reader struct {
	raw bytes.Buffer
	zr  io.ReadCloser
}

// Append feeds a compressed chunk into the stream.
func (r *Reader) Append(p []byte) {
	r.raw.Write(p)
}

// Read inflates into p, continuing the persistent stream.
func (r *Reader) Read(p []byte) (int, error) {
	if r.zr == nil {
		zr, err := zlib.NewReader(&r.raw)
		if err != nil {
			return 0, fmt.Errorf("zlib init: %w", err)
		}

		r.zr = zr
	}

	return r.zr.Read(p)
}

// Inflate appends a compressed chunk and returns exactly outLen inflated
// bytes. The returned slice is owned by the caller.
func (r *Reader) Inflate(compressed []byte, outLen int) ([]byte, error) {
	r.Append(compressed)

	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("inflate %d bytes: %w", outLen, err)
	}

	return out, nil
}

// Reset discards all stream state. The next Read starts a fresh zlib
// stream, expecting a new header.
func (r *Reader) Reset() {
	if r.zr != nil {
		r.zr.Close()
		r.zr = nil
	}

	r.raw.Reset()
}

// Deflate compresses p as one complete zlib stream. Used by the extended
// clipboard Provide payload, which is framed per message rather than as a
// persistent stream.
func Deflate(p []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}

	return buf.Bytes(), nil
}

// InflateAll decompresses one complete zlib stream. Counterpart of Deflate
// for incoming Provide payloads.
func InflateAll(p []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("zlib init: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}

	return out, nil
}
