package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"sync"
)

// Canvas is an in-memory RGBA framebuffer implementing Renderer. Draws
// accumulate on the working image; Flip hands a snapshot to the OnFlip
// callback together with the bounding box of everything drawn since the
// previous Flip.
type Canvas struct {
	mu    sync.Mutex
	img   *image.RGBA
	dirty image.Rectangle

	// OnFlip, when set, receives the framebuffer and the dirty region at
	// every commit. The image must not be retained past the call.
	OnFlip func(img *image.RGBA, dirty image.Rectangle)

	cursor     *image.RGBA
	cursorHotX int
	cursorHotY int
}

// NewCanvas creates a canvas of the given size.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

func (c *Canvas) markDirty(r image.Rectangle) {
	c.dirty = c.dirty.Union(r)
}

// Resize reallocates the framebuffer.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.dirty = c.img.Bounds()
}

// FillRect fills an area with an opaque color.
func (c *Canvas) FillRect(x, y, w, h int, color []byte) {
	if len(color) < 3 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r := image.Rect(x, y, x+w, y+h).Intersect(c.img.Bounds())

	for py := r.Min.Y; py < r.Max.Y; py++ {
		row := c.img.Pix[c.img.PixOffset(r.Min.X, py):c.img.PixOffset(r.Max.X, py)]
		for i := 0; i < len(row); i += 4 {
			row[i] = color[0]
			row[i+1] = color[1]
			row[i+2] = color[2]
			row[i+3] = 0xFF
		}
	}

	c.markDirty(r)
}

// BlitImage copies raw RGBA pixels into the framebuffer.
func (c *Canvas) BlitImage(x, y, w, h int, rgba []byte, offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := &image.RGBA{
		Pix:    rgba[offset:],
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}

	r := image.Rect(x, y, x+w, y+h)
	draw.Draw(c.img, r, src, image.Point{}, draw.Src)

	c.markDirty(r.Intersect(c.img.Bounds()))
}

// CopyImage copies a framebuffer region onto itself.
func (c *Canvas) CopyImage(srcX, srcY, dstX, dstY, w, h int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := image.Rect(srcX, srcY, srcX+w, srcY+h)
	dst := image.Rect(dstX, dstY, dstX+w, dstY+h)

	// Overlapping regions need an intermediate copy; draw.Draw does not
	// guarantee a particular traversal order.
	if src.Overlaps(dst) {
		tmp := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(tmp, tmp.Bounds(), c.img, src.Min, draw.Src)
		draw.Draw(c.img, dst, tmp, image.Point{}, draw.Src)
	} else {
		draw.Draw(c.img, dst, c.img, src.Min, draw.Src)
	}

	c.markDirty(dst.Intersect(c.img.Bounds()))
}

// ImageRect decodes a JPEG or PNG blob and draws it.
func (c *Canvas) ImageRect(x, y, w, h int, mime string, data []byte) error {
	var (
		img image.Image
		err error
	)

	switch mime {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	case "image/png":
		img, err = png.Decode(bytes.NewReader(data))
	default:
		return fmt.Errorf("unsupported image type %q", mime)
	}

	if err != nil {
		return fmt.Errorf("decode %s: %w", mime, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r := image.Rect(x, y, x+w, y+h)
	draw.Draw(c.img, r, img, img.Bounds().Min, draw.Src)

	c.markDirty(r.Intersect(c.img.Bounds()))

	return nil
}

// Flip commits the accumulated draws.
func (c *Canvas) Flip() {
	c.mu.Lock()
	onFlip := c.OnFlip
	dirty := c.dirty
	c.dirty = image.Rectangle{}
	img := c.img
	c.mu.Unlock()

	if onFlip != nil && !dirty.Empty() {
		onFlip(img, dirty)
	}
}

// Pending reports whether committed frames are still in flight. The canvas
// delivers synchronously, so there is never a backlog.
func (c *Canvas) Pending() bool {
	return false
}

// Flush blocks until delivery completes; a no-op for synchronous delivery.
func (c *Canvas) Flush() error {
	return nil
}

// SetCursor stores the cursor image last sent by the server.
func (c *Canvas) SetCursor(rgba []byte, width, height, hotX, hotY int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if width <= 0 || height <= 0 || len(rgba) < width*height*4 {
		c.cursor = nil
		return
	}

	cur := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(cur.Pix, rgba[:width*height*4])

	c.cursor = cur
	c.cursorHotX = hotX
	c.cursorHotY = hotY
}

// Cursor returns the current cursor image and hotspot, or nil when the
// server has not supplied one.
func (c *Canvas) Cursor() (*image.RGBA, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cursor, c.cursorHotX, c.cursorHotY
}

// Image returns a copy of the framebuffer.
func (c *Canvas) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	clone := image.NewRGBA(c.img.Bounds())
	copy(clone.Pix, c.img.Pix)

	return clone
}

// Size returns the framebuffer dimensions.
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.img.Bounds().Dx(), c.img.Bounds().Dy()
}

// DataURL encodes the framebuffer as a base64 PNG data URL.
func (c *Canvas) DataURL() (string, error) {
	var buf bytes.Buffer

	c.mu.Lock()
	err := png.Encode(&buf, c.img)
	c.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
