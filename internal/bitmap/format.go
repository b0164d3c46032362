package bitmap

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// PixelFormat is the preferred in-memory layout of a decoded bitmap.
type PixelFormat int

const (
	// FormatDefault keeps whatever layout the decoder produced.
	FormatDefault PixelFormat = iota
	// FormatNRGBA is 8-bit non-premultiplied RGBA.
	FormatNRGBA
	// FormatRGBA is 8-bit premultiplied RGBA.
	FormatRGBA
	// FormatGray is 8-bit grayscale.
	FormatGray
)

func (f PixelFormat) String() string {
	switch f {
	case FormatNRGBA:
		return "nrgba"
	case FormatRGBA:
		return "rgba"
	case FormatGray:
		return "gray"
	default:
		return "default"
	}
}

// ParsePixelFormat maps a name back to a PixelFormat. Unknown or empty names
// yield FormatDefault and false.
func ParsePixelFormat(name string) (PixelFormat, bool) {
	switch name {
	case "nrgba", "argb8888":
		return FormatNRGBA, true
	case "rgba":
		return FormatRGBA, true
	case "gray":
		return FormatGray, true
	default:
		return FormatDefault, name == "" || name == "default"
	}
}

// BytesPerPixel is used for memory accounting only.
func (f PixelFormat) BytesPerPixel() int {
	if f == FormatGray {
		return 1
	}
	return 4
}

// FormatOf classifies the concrete image type.
func FormatOf(img image.Image) PixelFormat {
	switch img.(type) {
	case *image.NRGBA:
		return FormatNRGBA
	case *image.RGBA:
		return FormatRGBA
	case *image.Gray:
		return FormatGray
	default:
		return FormatDefault
	}
}

// Convert returns img in layout f, rebased to a (0,0) origin. Images already in
// layout f are returned as is.
func Convert(img image.Image, f PixelFormat) image.Image {
	if f == FormatDefault || (FormatOf(img) == f && img.Bounds().Min == image.Point{}) {
		return img
	}

	switch f {
	case FormatNRGBA:
		return imaging.Clone(img)
	case FormatRGBA:
		b := img.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	case FormatGray:
		b := img.Bounds()
		dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	return img
}
