package request

import (
	"fmt"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
)

// Options is the wire form of a request shared by the MCP and HTTP surfaces.
type Options struct {
	URI             string   `json:"uri"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	Rotation        float64  `json:"rotation,omitempty"`
	PivotX          *float64 `json:"pivot_x,omitempty"`
	PivotY          *float64 `json:"pivot_y,omitempty"`
	Transformations []string `json:"transformations,omitempty"`
	Config          string   `json:"config,omitempty"`
	CachePolicy
}

// Resolver turns the names used in Options into live collaborators.
type Resolver struct {
	// Transformation resolves a transformation name such as "blur:2".
	Transformation func(name string) (Transformation, error)
	// FaceDetector is used for mode "face_center_crop".
	FaceDetector FaceDetector
	// MaxPixels rejects target sizes whose area exceeds it. Zero means
	// bitmap.DefaultMaxPixels.
	MaxPixels int64
}

// Build converts o into a Request.
func (o Options) Build(res Resolver) (*Request, error) {
	b := NewBuilder(o.URI)

	if o.Width != 0 || o.Height != 0 {
		limit := res.MaxPixels
		if limit <= 0 {
			limit = bitmap.DefaultMaxPixels
		}
		// A zero side is derived from the source, so only the given side is
		// checked alone.
		if area := int64(max(o.Width, 1)) * int64(max(o.Height, 1)); area > limit {
			return nil, fmt.Errorf("target size %dx%d exceeds budget of %d pixels: %w",
				o.Width, o.Height, limit, failure.ErrResourceExhausted)
		}
		b.Resize(o.Width, o.Height)
	}

	switch o.Mode {
	case "", "none", "fit":
	case "center_crop":
		b.CenterCrop()
	case "center_inside":
		b.CenterInside()
	case "face_center_crop":
		if res.FaceDetector == nil {
			return nil, fmt.Errorf("mode %q: no face detector configured", o.Mode)
		}
		b.FaceCenterCrop(res.FaceDetector)
	default:
		return nil, fmt.Errorf("unknown mode: %s", o.Mode)
	}

	if o.Rotation != 0 {
		switch {
		case o.PivotX != nil && o.PivotY != nil:
			b.RotateAround(o.Rotation, *o.PivotX, *o.PivotY)
		case o.PivotX != nil || o.PivotY != nil:
			return nil, fmt.Errorf("rotation pivot needs both pivot_x and pivot_y")
		default:
			b.Rotate(o.Rotation)
		}
	}

	for _, name := range o.Transformations {
		if res.Transformation == nil {
			return nil, fmt.Errorf("transformation %q: no transformations available", name)
		}
		t, err := res.Transformation(name)
		if err != nil {
			return nil, err
		}
		b.Transform(t)
	}

	format, ok := bitmap.ParsePixelFormat(o.Config)
	if !ok {
		return nil, fmt.Errorf("unknown pixel format: %s", o.Config)
	}
	b.Config(format)
	b.Policy(o.CachePolicy)

	return b.Build()
}
