package zstream

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deflateChunks compresses each chunk with a sync flush so the stream stays
// open between chunks, the way Tight servers emit per-rectangle payloads.
func deflateChunks(t *testing.T, chunks [][]byte) [][]byte {
	t.Helper()

	var buf bytes.Buffer

	zw, err := zlib.NewWriterLevel(&buf, flate.DefaultCompression)
	require.NoError(t, err)

	out := make([][]byte, 0, len(chunks))

	for _, chunk := range chunks {
		_, err = zw.Write(chunk)
		require.NoError(t, err)
		require.NoError(t, zw.Flush())

		compressed := make([]byte, buf.Len())
		copy(compressed, buf.Bytes())
		buf.Reset()

		out = append(out, compressed)
	}

	return out
}

func TestReader_InflateAcrossChunks(t *testing.T) {
	chunks := [][]byte{
		bytes.Repeat([]byte{0xAB}, 300),
		[]byte("second rectangle payload"),
		bytes.Repeat([]byte{0x00, 0x01, 0x02}, 100),
	}

	compressed := deflateChunks(t, chunks)

	var r Reader

	for i, c := range compressed {
		got, err := r.Inflate(c, len(chunks[i]))
		require.NoError(t, err, "chunk %d", i)
		assert.Equal(t, chunks[i], got, "chunk %d", i)
	}
}

func TestReader_Reset(t *testing.T) {
	first := deflateChunks(t, [][]byte{[]byte("before reset")})
	second := deflateChunks(t, [][]byte{[]byte("after reset")})

	var r Reader

	got, err := r.Inflate(first[0], len("before reset"))
	require.NoError(t, err)
	assert.Equal(t, []byte("before reset"), got)

	r.Reset()

	// A fresh stream expects a new zlib header, which second[0] carries.
	got, err = r.Inflate(second[0], len("after reset"))
	require.NoError(t, err)
	assert.Equal(t, []byte("after reset"), got)
}

func TestDeflate_RoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x04, 'A', 'B', '\r', '\n', 0x00}

	compressed, err := Deflate(payload)
	require.NoError(t, err)

	got, err := InflateAll(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
