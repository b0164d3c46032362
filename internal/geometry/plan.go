package geometry

// Mode selects how a sized request maps the source onto the target.
type Mode int

const (
	// ModeNone scales each axis independently to the exact target size.
	ModeNone Mode = iota
	// ModeCenterCrop fills the target and crops around the image center.
	ModeCenterCrop
	// ModeCenterInside fits the whole source inside the target.
	ModeCenterInside
	// ModeFaceCenterCrop fills the target and crops around detected faces.
	ModeFaceCenterCrop
)

func (m Mode) String() string {
	switch m {
	case ModeCenterCrop:
		return "centerCrop"
	case ModeCenterInside:
		return "centerInside"
	case ModeFaceCenterCrop:
		return "faceCenterCrop"
	default:
		return "none"
	}
}

// Params is the geometric part of a request.
type Params struct {
	TargetWidth  int
	TargetHeight int
	Rotation     float64
	HasPivot     bool
	PivotX       float64
	PivotY       float64
	Mode         Mode
}

// HasSize reports whether a target size was requested.
func (p Params) HasSize() bool {
	return p.TargetWidth != 0 || p.TargetHeight != 0
}

// NeedsMatrix reports whether the request alone calls for a matrix transform.
func (p Params) NeedsMatrix() bool {
	return p.HasSize() || p.Rotation != 0
}

// Transform is a planned blit: draw Rect out of the source through Matrix.
type Transform struct {
	Matrix Matrix
	Rect   Rect
}

// IsNoop reports whether applying t to a w x h source would reproduce it.
func (t Transform) IsNoop(w, h int) bool {
	return t.Matrix.IsIdentity() && t.Rect == FullRect(w, h)
}

// Plan builds the transform for an iw x ih source.
//
// focal is only consulted for crop modes. A nil focal means the image
// center, which is also what face-centered crops fall back to when no face
// was found. exifRotation is pre-applied regardless of the mode.
func Plan(p Params, iw, ih, exifRotation int, focal *Point) Transform {
	t := Transform{Matrix: Identity(), Rect: FullRect(iw, ih)}

	if p.NeedsMatrix() {
		tw, th := p.TargetWidth, p.TargetHeight

		if p.Rotation != 0 {
			if p.HasPivot {
				t.Matrix.SetRotateAround(p.Rotation, p.PivotX, p.PivotY)
			} else {
				t.Matrix.SetRotate(p.Rotation)
			}
		}

		center := Point{X: iw / 2, Y: ih / 2}
		switch p.Mode {
		case ModeCenterCrop:
			scale, r := CenterCrop(tw, th, iw, ih, center)
			t.Matrix.PreScale(scale, scale)
			t.Rect = r
		case ModeFaceCenterCrop:
			if focal != nil {
				center = *focal
			}
			scale, r := CenterCrop(tw, th, iw, ih, center)
			t.Matrix.PreScale(scale, scale)
			t.Rect = r
		case ModeCenterInside:
			widthRatio := float64(tw) / float64(iw)
			heightRatio := float64(th) / float64(ih)
			scale := min(widthRatio, heightRatio)
			t.Matrix.PreScale(scale, scale)
		default:
			if tw != 0 && th != 0 && (tw != iw || th != ih) {
				t.Matrix.PreScale(float64(tw)/float64(iw), float64(th)/float64(ih))
			}
		}
	}

	if exifRotation != 0 {
		t.Matrix.PreRotate(float64(exifRotation))
	}
	return t
}
