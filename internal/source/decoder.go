package source

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/geometry"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// DefaultMaxPixels caps decoded images.
const DefaultMaxPixels = bitmap.DefaultMaxPixels

// Decoder turns encoded bytes into a bitmap sized and laid out for a request.
type Decoder struct {
	// MaxPixels is the largest width*height that may be decoded. Zero means
	// DefaultMaxPixels.
	MaxPixels int64
}

// Decoded is a decoded image plus what was learned from its metadata.
type Decoded struct {
	Bitmap       *bitmap.Bitmap
	Format       string
	ExifRotation int
	SampleSize   int
}

// Decode reads the header, rejects images over the pixel budget, decodes,
// subsamples toward the request's target size and converts to the requested
// pixel format.
func (d *Decoder) Decode(data []byte, req *request.Request) (Decoded, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, failure.New(failure.LocalIO, "decode", fmt.Errorf("failed to read image header: %w", err))
	}

	limit := d.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > limit {
		return Decoded{}, fmt.Errorf("decode %dx%d %s image (%d pixels, budget %d): %w",
			cfg.Width, cfg.Height, format, pixels, limit, failure.ErrResourceExhausted)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, failure.New(failure.LocalIO, "decode", fmt.Errorf("failed to decode image: %w", err))
	}

	out := Decoded{Format: format, SampleSize: 1}
	if format == "jpeg" {
		out.ExifRotation = ExifRotation(data)
	}

	if req.HasSize() {
		b := img.Bounds()
		s := geometry.SampleSize(req.TargetWidth(), req.TargetHeight(), b.Dx(), b.Dy())
		if s > 1 {
			img = imaging.Resize(img, b.Dx()/s, b.Dy()/s, imaging.Box)
			out.SampleSize = s
		}
	}

	out.Bitmap = bitmap.New(bitmap.Convert(img, req.PixelFormat()))
	return out, nil
}

// ExifRotation returns the clockwise rotation in degrees encoded in the EXIF
// orientation tag, or 0 when there is none.
func ExifRotation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}
	switch orientation {
	case 3:
		return 180
	case 6:
		return 90
	case 8:
		return 270
	default:
		return 0
	}
}
