package transform

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/geometry"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// MaxFaces is how many faces are requested from a detector for a
// face-centered crop.
const MaxFaces = 5

// Matrix applies the request's geometry and the EXIF rotation to bmp.
//
// When the plan is an identity over the whole image bmp is returned as is.
// Otherwise bmp is released and a new bitmap is returned. An output larger
// than maxPixels fails with failure.ErrResourceExhausted and leaves bmp
// live; zero means bitmap.DefaultMaxPixels.
func Matrix(req *request.Request, bmp *bitmap.Bitmap, exifRotation int, maxPixels int64) (*bitmap.Bitmap, error) {
	img := bmp.Image()
	if img == nil {
		return nil, errors.New("matrix transform: input bitmap already released")
	}
	w, h := bmp.Width(), bmp.Height()

	var focal *geometry.Point
	if req.Mode() == geometry.ModeFaceCenterCrop && req.FaceDetector() != nil {
		if p, ok := geometry.Centroid(detectFaces(req.FaceDetector(), img)); ok {
			focal = &p
		}
	}

	plan := geometry.Plan(req.Geometry(), w, h, exifRotation, focal)
	if plan.IsNoop(w, h) {
		return bmp, nil
	}

	out, err := Blit(img, plan, maxPixels)
	if err != nil {
		return nil, err
	}
	return bmp.Replace(bitmap.Convert(out, bmp.Format())), nil
}

// detectFaces runs d on a detection-friendly copy of img: NRGBA with an even
// width. The copy is discarded afterwards.
func detectFaces(d request.FaceDetector, img image.Image) []geometry.Face {
	b := img.Bounds()
	width := b.Dx()
	if width%2 != 0 {
		width--
	}
	if width <= 0 {
		return nil
	}
	normalized := imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+width, b.Max.Y))
	return d.FindFaces(normalized, MaxFaces)
}

// Blit draws the plan's rectangle of img through its matrix into a new
// buffer sized to the transformed bounds. The buffer is checked against
// maxPixels before it is allocated.
func Blit(img image.Image, plan geometry.Transform, maxPixels int64) (image.Image, error) {
	r := plan.Rect
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("matrix transform: empty draw rect %+v", r)
	}
	if maxPixels <= 0 {
		maxPixels = bitmap.DefaultMaxPixels
	}

	m := plan.Matrix
	dst := m.MapRect(float64(r.Width), float64(r.Height))
	fw, fh := math.Round(dst.Width()), math.Round(dst.Height())
	if fw <= 0 || fh <= 0 {
		return nil, fmt.Errorf("matrix transform: %s collapses %dx%d to %.0fx%.0f", m, r.Width, r.Height, fw, fh)
	}
	if fw*fh > float64(maxPixels) {
		return nil, fmt.Errorf("matrix transform: output %.0fx%.0f exceeds budget of %d pixels: %w",
			fw, fh, maxPixels, failure.ErrResourceExhausted)
	}
	dw, dh := int(fw), int(fh)
	m.PostTranslate(-dst.Left, -dst.Top)

	b := img.Bounds()
	src := imaging.Crop(img, image.Rect(b.Min.X+r.X, b.Min.Y+r.Y, b.Min.X+r.X+r.Width, b.Min.Y+r.Y+r.Height))

	out := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Transform(out, m.Aff3(), src, src.Bounds(), xdraw.Src, nil)
	return out, nil
}
