// Package request describes what image a caller wants and derives the
// fingerprint used to merge identical requests and to address caches.
package request

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/geometry"
)

// Transformation is a caller-supplied step run after the geometry matrix.
//
// Transform receives the current bitmap and must return the bitmap to hand to
// the next step. A transformation that produces new pixels must release its
// input; Bitmap.Replace does exactly that. Returning nil, returning a different
// bitmap while the input is still live, or returning the input after
// releasing it are contract violations.
type Transformation interface {
	Transform(src *bitmap.Bitmap) *bitmap.Bitmap
	// Key identifies the transformation in request fingerprints. Two
	// transformations with the same key must produce the same pixels.
	Key() string
}

// FaceDetector finds faces for face-centered crops.
type FaceDetector interface {
	FindFaces(img image.Image, maxCount int) []geometry.Face
	// Key identifies the detector in request fingerprints.
	Key() string
}

// CachePolicy controls which cache tiers a request may use.
type CachePolicy struct {
	SkipMemory bool `json:"skip_memory_cache"`
	SkipDisk   bool `json:"skip_disk_cache"`
	CacheOnly  bool `json:"cache_only"`
}

// Request is an immutable description of a desired image. Build one with
// Builder.
type Request struct {
	uri             string
	stableKey       string
	geometry        geometry.Params
	faceDetector    FaceDetector
	transformations []Transformation
	format          bitmap.PixelFormat
	policy          CachePolicy
	key             string
	cacheKey        string
}

// URI is the source locator.
func (r *Request) URI() string { return r.uri }

// Geometry returns the geometric parameters.
func (r *Request) Geometry() geometry.Params { return r.geometry }

// TargetWidth is the requested width, 0 when unconstrained.
func (r *Request) TargetWidth() int { return r.geometry.TargetWidth }

// TargetHeight is the requested height, 0 when unconstrained.
func (r *Request) TargetHeight() int { return r.geometry.TargetHeight }

// Mode is the resize mode.
func (r *Request) Mode() geometry.Mode { return r.geometry.Mode }

// FaceDetector is only set for face-centered crops.
func (r *Request) FaceDetector() FaceDetector { return r.faceDetector }

// Transformations returns a copy of the custom transformation chain.
func (r *Request) Transformations() []Transformation {
	out := make([]Transformation, len(r.transformations))
	copy(out, r.transformations)
	return out
}

// PixelFormat is the preferred decoded layout.
func (r *Request) PixelFormat() bitmap.PixelFormat { return r.format }

// Policy returns the cache policy.
func (r *Request) Policy() CachePolicy { return r.policy }

// HasSize reports whether a target size was requested.
func (r *Request) HasSize() bool { return r.geometry.HasSize() }

// NeedsMatrixTransform reports whether the geometry stage has work to do
// before EXIF rotation is taken into account.
func (r *Request) NeedsMatrixTransform() bool { return r.geometry.NeedsMatrix() }

// HasCustomTransformations reports whether a custom chain is attached.
func (r *Request) HasCustomTransformations() bool { return len(r.transformations) > 0 }

// NeedsTransformation reports whether any transform stage has work to do.
func (r *Request) NeedsTransformation() bool {
	return r.NeedsMatrixTransform() || r.HasCustomTransformations()
}

// Key is the request fingerprint.
func (r *Request) Key() string { return r.key }

// CacheKey identifies the output pixels: the key without the cache policy.
func (r *Request) CacheKey() string { return r.cacheKey }

// Name is a short label for logs.
func (r *Request) Name() string {
	if r.stableKey != "" {
		return r.stableKey
	}
	return r.uri
}

func (r *Request) String() string {
	return strings.ReplaceAll(r.key, "\n", " ")
}

// Builder assembles a Request. The zero value is not usable; call NewBuilder.
type Builder struct {
	r   Request
	err error
}

// NewBuilder starts a request for uri.
func NewBuilder(uri string) *Builder {
	return &Builder{r: Request{uri: uri}}
}

// StableKey replaces the URI in the fingerprint, for sources whose URI
// changes while the content does not (signed URLs, for example).
func (b *Builder) StableKey(key string) *Builder {
	b.r.stableKey = key
	return b
}

// Resize sets the target size. Either dimension may be 0 to leave it
// unconstrained, but not both.
func (b *Builder) Resize(width, height int) *Builder {
	switch {
	case width < 0:
		b.fail(errors.New("width must be positive number or 0"))
	case height < 0:
		b.fail(errors.New("height must be positive number or 0"))
	case width == 0 && height == 0:
		b.fail(errors.New("at least one dimension has to be positive number"))
	}
	b.r.geometry.TargetWidth = width
	b.r.geometry.TargetHeight = height
	return b
}

// CenterCrop crops the source to the target aspect ratio around its center.
func (b *Builder) CenterCrop() *Builder {
	if b.r.geometry.Mode == geometry.ModeCenterInside {
		b.fail(errors.New("center crop can not be used after calling centerInside"))
	}
	b.r.geometry.Mode = geometry.ModeCenterCrop
	return b
}

// CenterInside scales the source to fit inside the target.
func (b *Builder) CenterInside() *Builder {
	if b.r.geometry.Mode == geometry.ModeCenterCrop {
		b.fail(errors.New("center inside can not be used after calling centerCrop"))
	}
	b.r.geometry.Mode = geometry.ModeCenterInside
	return b
}

// FaceCenterCrop crops around the faces d finds, falling back to the center.
func (b *Builder) FaceCenterCrop(d FaceDetector) *Builder {
	if d == nil {
		b.fail(errors.New("face detector must not be nil"))
	}
	if b.r.geometry.Mode == geometry.ModeCenterInside {
		b.fail(errors.New("face center crop can not be used after calling centerInside"))
	}
	b.r.geometry.Mode = geometry.ModeFaceCenterCrop
	b.r.faceDetector = d
	return b
}

// Rotate rotates by degrees around the bitmap origin.
func (b *Builder) Rotate(degrees float64) *Builder {
	b.r.geometry.Rotation = degrees
	b.r.geometry.HasPivot = false
	return b
}

// RotateAround rotates by degrees around (px, py).
func (b *Builder) RotateAround(degrees, px, py float64) *Builder {
	b.r.geometry.Rotation = degrees
	b.r.geometry.HasPivot = true
	b.r.geometry.PivotX = px
	b.r.geometry.PivotY = py
	return b
}

// Transform appends custom transformations in order.
func (b *Builder) Transform(ts ...Transformation) *Builder {
	for _, t := range ts {
		if t == nil {
			b.fail(errors.New("transformation must not be nil"))
			continue
		}
		if t.Key() == "" {
			b.fail(errors.New("transformation key must not be empty"))
			continue
		}
		b.r.transformations = append(b.r.transformations, t)
	}
	return b
}

// Config sets the preferred pixel format.
func (b *Builder) Config(f bitmap.PixelFormat) *Builder {
	b.r.format = f
	return b
}

// Policy sets the cache policy.
func (b *Builder) Policy(p CachePolicy) *Builder {
	b.r.policy = p
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates and freezes the request.
func (b *Builder) Build() (*Request, error) {
	if b.err != nil {
		return nil, fmt.Errorf("invalid request: %w", b.err)
	}
	if b.r.uri == "" {
		return nil, errors.New("invalid request: uri must not be empty")
	}

	g := b.r.geometry
	if g.Mode != geometry.ModeNone && (g.TargetWidth == 0 || g.TargetHeight == 0) {
		return nil, fmt.Errorf("invalid request: %s requires calling resize with positive width and height", g.Mode)
	}

	r := b.r
	r.transformations = append([]Transformation(nil), b.r.transformations...)
	r.cacheKey = createCacheKey(&r)
	r.key = createKey(&r)
	return &r, nil
}
