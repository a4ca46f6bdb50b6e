package rfb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kulaginds/vnc-html5/internal/rfb/encoding"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
)

// frameClient builds a client whose sends land in the returned slice of
// frames, bypassing any transport.
func frameClient(t *testing.T) (*Client, *[][]byte) {
	t.Helper()

	var frames [][]byte

	sink := func(p []byte) error {
		frame := make([]byte, len(p))
		copy(frame, p)
		frames = append(frames, frame)

		return nil
	}

	c := &Client{
		state:            StateConnected,
		fbDepth:          24,
		fbWidth:          1024,
		fbHeight:         768,
		qualityLevel:     6,
		compressionLevel: 2,
	}
	c.sock = stream.New(sink)
	c.clipboard.init()

	return c, &frames
}

func lastFrame(t *testing.T, frames *[][]byte) []byte {
	t.Helper()

	require.NotEmpty(t, *frames)

	return (*frames)[len(*frames)-1]
}

func TestSetPixelFormat_Depth24(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.sendSetPixelFormat(24))

	f := lastFrame(t, frames)
	require.Len(t, f, 20)

	assert.Equal(t, uint8(0), f[0])
	assert.Equal(t, []byte{0, 0, 0}, f[1:4])
	assert.Equal(t, uint8(32), f[4], "bpp")
	assert.Equal(t, uint8(24), f[5], "depth")
	assert.Equal(t, uint8(0), f[6], "big endian")
	assert.Equal(t, uint8(1), f[7], "true color")
	assert.Equal(t, uint16(255), binary.BigEndian.Uint16(f[8:]), "red max")
	assert.Equal(t, uint16(255), binary.BigEndian.Uint16(f[10:]), "green max")
	assert.Equal(t, uint16(255), binary.BigEndian.Uint16(f[12:]), "blue max")
	assert.Equal(t, uint8(0), f[14], "red shift")
	assert.Equal(t, uint8(8), f[15], "green shift")
	assert.Equal(t, uint8(16), f[16], "blue shift")
}

func TestSetPixelFormat_Depth8(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.sendSetPixelFormat(8))

	f := lastFrame(t, frames)

	assert.Equal(t, uint8(8), f[4], "bpp")
	assert.Equal(t, uint8(8), f[5], "depth")
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(f[8:]), "red max")
	assert.Equal(t, uint8(2), f[15], "green shift")
	assert.Equal(t, uint8(4), f[16], "blue shift")
}

func TestSendEncodings(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.sendEncodings())

	f := lastFrame(t, frames)

	assert.Equal(t, uint8(2), f[0])
	count := int(binary.BigEndian.Uint16(f[2:]))
	require.Len(t, f, 4+4*count)

	encs := make([]int32, count)
	for i := range encs {
		encs[i] = int32(binary.BigEndian.Uint32(f[4+4*i:]))
	}

	// CopyRect leads, Raw is the last regular encoding, pseudo-encodings
	// follow.
	assert.Equal(t, encoding.TypeCopyRect, encs[0])
	assert.Contains(t, encs, encoding.TypeTight)
	assert.Contains(t, encs, encoding.TypeTightPNG)
	assert.Contains(t, encs, encoding.TypeZRLE)
	assert.Contains(t, encs, encoding.TypeJPEG)
	assert.Contains(t, encs, pseudoQualityLevel0+6)
	assert.Contains(t, encs, pseudoCompressLevel0+2)
	assert.Contains(t, encs, pseudoLastRect)
	assert.Contains(t, encs, pseudoExtClipboard)
	assert.Contains(t, encs, pseudoVMwareCursor)

	rawIdx := -1
	tightIdx := -1

	for i, e := range encs {
		switch e {
		case encoding.TypeRaw:
			rawIdx = i
		case encoding.TypeTight:
			tightIdx = i
		}
	}

	assert.Greater(t, rawIdx, tightIdx, "raw is preferred last")
}

func TestSendEncodings_Depth8OmitsCompressed(t *testing.T) {
	c, frames := frameClient(t)
	c.fbDepth = 8

	require.NoError(t, c.sendEncodings())

	f := lastFrame(t, frames)
	count := int(binary.BigEndian.Uint16(f[2:]))

	encs := make([]int32, count)
	for i := range encs {
		encs[i] = int32(binary.BigEndian.Uint32(f[4+4*i:]))
	}

	assert.NotContains(t, encs, encoding.TypeTight)
	assert.NotContains(t, encs, pseudoCursor)
	assert.Contains(t, encs, encoding.TypeRaw)
}

func TestFramebufferUpdateRequest(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.sendFramebufferUpdateRequest(true, 1, 2, 300, 400))

	f := lastFrame(t, frames)
	require.Len(t, f, 10)

	assert.Equal(t, []byte{3, 1}, f[0:2])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(f[2:]))
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(f[4:]))
	assert.Equal(t, uint16(300), binary.BigEndian.Uint16(f[6:]))
	assert.Equal(t, uint16(400), binary.BigEndian.Uint16(f[8:]))
}

func TestKeyEvent(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.SendKeyEvent(0xFF0D, true))

	f := lastFrame(t, frames)
	require.Len(t, f, 8)

	assert.Equal(t, []byte{4, 1, 0, 0}, f[0:4])
	assert.Equal(t, uint32(0xFF0D), binary.BigEndian.Uint32(f[4:]))

	require.NoError(t, c.SendKeyEvent(0xFF0D, false))
	assert.Equal(t, uint8(0), lastFrame(t, frames)[1])
}

func TestPointerEvent(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.SendPointerEvent(640, 480, 0x05))

	f := lastFrame(t, frames)
	require.Len(t, f, 6)

	assert.Equal(t, []byte{5, 0x05}, f[0:2])
	assert.Equal(t, uint16(640), binary.BigEndian.Uint16(f[2:]))
	assert.Equal(t, uint16(480), binary.BigEndian.Uint16(f[4:]))
}

func TestViewOnlySuppressesInput(t *testing.T) {
	c, frames := frameClient(t)
	c.viewOnly = true

	require.NoError(t, c.SendKeyEvent('a', true))
	require.NoError(t, c.SendPointerEvent(1, 1, 0))
	require.NoError(t, c.SendCutText("nope"))

	assert.Empty(t, *frames)
}

func TestClientCutText_Classic(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.SendCutText("hello"))

	f := lastFrame(t, frames)

	assert.Equal(t, uint8(6), f[0])
	assert.Equal(t, []byte{0, 0, 0}, f[1:4])
	assert.Equal(t, int32(5), int32(binary.BigEndian.Uint32(f[4:])))
	assert.Equal(t, "hello", string(f[8:]))
}

func TestClientCutText_ExtendedLengthIsNegative(t *testing.T) {
	c, frames := frameClient(t)

	payload := []byte{0x10, 0x00, 0x00, 0x01}
	require.NoError(t, c.sendClientCutText(payload, true))

	f := lastFrame(t, frames)

	length := int32(binary.BigEndian.Uint32(f[4:]))
	assert.Equal(t, int32(-4), length, "extended length is the two's complement of the payload size")
	assert.Equal(t, payload, f[8:])
}

func TestEnableContinuousUpdates(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.sendEnableContinuousUpdates(true, 0, 0, 1024, 768))

	f := lastFrame(t, frames)
	require.Len(t, f, 10)

	assert.Equal(t, []byte{150, 1}, f[0:2])
	assert.Equal(t, uint16(1024), binary.BigEndian.Uint16(f[6:]))
}

func TestClientFence(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.sendFence(fenceBlockBefore|fenceBlockAfter, []byte{0xAB}))

	f := lastFrame(t, frames)

	assert.Equal(t, uint8(248), f[0])
	assert.Equal(t, []byte{0, 0, 0}, f[1:4])
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(f[4:]))
	assert.Equal(t, uint8(1), f[8])
	assert.Equal(t, uint8(0xAB), f[9])

	assert.Error(t, c.sendFence(0, make([]byte, 65)), "payload over 64 bytes rejected")
}

func TestXVPOp(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.SendXVPOp(1, XVPOpReboot))

	f := lastFrame(t, frames)
	assert.Equal(t, []byte{250, 0, 1, XVPOpReboot}, f)
}

func TestSetDesktopSize(t *testing.T) {
	c, frames := frameClient(t)
	c.supportsSetDesktopSize = true
	c.screenID = 0x11223344
	c.screenFlags = 0x55667788

	require.NoError(t, c.SendDesktopSize(1920, 1080))

	f := lastFrame(t, frames)
	require.Len(t, f, 24)

	assert.Equal(t, []byte{251, 0}, f[0:2])
	assert.Equal(t, uint16(1920), binary.BigEndian.Uint16(f[2:]))
	assert.Equal(t, uint16(1080), binary.BigEndian.Uint16(f[4:]))
	assert.Equal(t, []byte{1, 0}, f[6:8])
	assert.Equal(t, uint32(0x11223344), binary.BigEndian.Uint32(f[8:]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(f[12:]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(f[14:]))
	assert.Equal(t, uint16(1920), binary.BigEndian.Uint16(f[16:]))
	assert.Equal(t, uint16(1080), binary.BigEndian.Uint16(f[18:]))
	assert.Equal(t, uint32(0x55667788), binary.BigEndian.Uint32(f[20:]))
}

func TestSetDesktopSize_IgnoredWithoutSupport(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.SendDesktopSize(1920, 1080))
	assert.Empty(t, *frames)
}

func TestQEMUExtendedKeyEvent(t *testing.T) {
	c, frames := frameClient(t)
	c.qemuExtKeyEventSupported = true

	require.NoError(t, c.SendQEMUExtendedKeyEvent(0xFF51, 0xE04B, true))

	f := lastFrame(t, frames)
	require.Len(t, f, 12)

	assert.Equal(t, []byte{255, 0}, f[0:2])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(f[2:]))
	assert.Equal(t, uint32(0xFF51), binary.BigEndian.Uint32(f[4:]))
	assert.Equal(t, uint32(0xCB), binary.BigEndian.Uint32(f[8:]), "0xE0 prefix folds into bit 7")
}

func TestQEMUExtendedKeyEvent_PlainScancode(t *testing.T) {
	c, frames := frameClient(t)
	c.qemuExtKeyEventSupported = true

	require.NoError(t, c.SendQEMUExtendedKeyEvent(0x61, 0x1E, false))

	f := lastFrame(t, frames)
	assert.Equal(t, uint32(0x1E), binary.BigEndian.Uint32(f[8:]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(f[2:]))
}

func TestQEMUExtendedKeyEvent_FallsBackWithoutSupport(t *testing.T) {
	c, frames := frameClient(t)

	require.NoError(t, c.SendQEMUExtendedKeyEvent(0x61, 0x1E, true))

	f := lastFrame(t, frames)
	assert.Equal(t, uint8(4), f[0], "plain KeyEvent sent instead")
}
