// Package render defines the surface the pixel decoders draw onto, and an
// in-memory RGBA canvas implementation of it.
package render

// Renderer is the contract between the protocol engine's decoders and the
// display. Decoders borrow it only for the duration of one rectangle;
// coordinates are framebuffer-absolute.
type Renderer interface {
	// Resize reallocates the framebuffer. Contents are undefined afterwards.
	Resize(width, height int)

	// FillRect fills an area with an opaque color. The color slice holds
	// RGB or RGBA bytes; alpha, when present, is ignored and forced opaque.
	FillRect(x, y, w, h int, color []byte)

	// BlitImage copies w*h RGBA pixels starting at rgba[offset].
	BlitImage(x, y, w, h int, rgba []byte, offset int)

	// CopyImage copies a region of the framebuffer onto itself.
	CopyImage(srcX, srcY, dstX, dstY, w, h int)

	// ImageRect decodes an encoded image (image/jpeg or image/png) and
	// draws it at the given position.
	ImageRect(x, y, w, h int, mime string, data []byte) error

	// Flip commits all draws accumulated since the previous Flip.
	Flip()

	// Pending reports whether committed frames are still being delivered.
	// The engine awaits Flush before starting the next update when true.
	Pending() bool

	// Flush blocks until all committed frames have been delivered.
	Flush() error
}

// CursorSetter is implemented by renderers that can display a local cursor
// image. The engine feeds it cursor pseudo-rectangle payloads.
type CursorSetter interface {
	SetCursor(rgba []byte, width, height, hotX, hotY int)
}
