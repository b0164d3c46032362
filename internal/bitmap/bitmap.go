// Package bitmap holds the decoded pixel buffer that moves through the loading
// pipeline.
//
// A Bitmap has exactly one owner at a time. Whoever produces a new Bitmap from
// an old one must release the old one; Replace does both in one call and is
// the expected way for a transformation to hand back its output.
package bitmap

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"sync/atomic"
)

// DefaultMaxPixels caps the width*height of any buffer the pipeline
// allocates at 64 megapixels.
const DefaultMaxPixels = 64 << 20

// Bitmap is an owned, releasable decoded image.
type Bitmap struct {
	img      image.Image
	width    int
	height   int
	format   PixelFormat
	released atomic.Bool
}

// New wraps img. It returns nil when img is nil.
func New(img image.Image) *Bitmap {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	return &Bitmap{
		img:    img,
		width:  b.Dx(),
		height: b.Dy(),
		format: FormatOf(img),
	}
}

// Image returns the pixels, or nil once the bitmap has been released.
func (b *Bitmap) Image() image.Image {
	if b.released.Load() {
		return nil
	}
	return b.img
}

// Width is the width in pixels. It stays valid after Release.
func (b *Bitmap) Width() int { return b.width }

// Height is the height in pixels. It stays valid after Release.
func (b *Bitmap) Height() int { return b.height }

// Format is the pixel layout of the underlying image.
func (b *Bitmap) Format() PixelFormat { return b.format }

// SizeBytes estimates the memory held by the pixel buffer.
func (b *Bitmap) SizeBytes() int64 {
	return int64(b.width) * int64(b.height) * int64(b.format.BytesPerPixel())
}

// Release retires the bitmap. Releasing twice is harmless.
func (b *Bitmap) Release() {
	b.released.Store(true)
}

// IsReleased reports whether Release has been called.
func (b *Bitmap) IsReleased() bool {
	return b.released.Load()
}

// Replace consumes b and returns a new bitmap owning img. If img is the very
// image b already wraps, b is returned unchanged.
func (b *Bitmap) Replace(img image.Image) *Bitmap {
	if !b.released.Load() && img == b.img {
		return b
	}
	next := New(img)
	b.Release()
	return next
}

// EncodePNG writes the pixels as PNG.
func (b *Bitmap) EncodePNG(w io.Writer) error {
	img := b.Image()
	if img == nil {
		return fmt.Errorf("encode %dx%d bitmap: already released", b.width, b.height)
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode bitmap: %w", err)
	}
	return nil
}

// DecodePNG reads a bitmap previously written with EncodePNG.
func DecodePNG(r io.Reader) (*Bitmap, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bitmap: %w", err)
	}
	return New(img), nil
}

func (b *Bitmap) String() string {
	state := "live"
	if b.IsReleased() {
		state = "released"
	}
	return fmt.Sprintf("Bitmap(%dx%d %s %s)", b.width, b.height, b.format, state)
}
