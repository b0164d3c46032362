package geometry

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Matrix is a 2x3 affine transform. The zero value is not the identity; use
// Identity or one of the Set methods.
type Matrix struct {
	A, B, Tx float64
	C, D, Ty float64
}

// Identity returns the identity matrix.
func Identity() Matrix {
	return Matrix{A: 1, D: 1}
}

// IsIdentity reports whether m leaves every point where it is.
func (m Matrix) IsIdentity() bool {
	return m == Identity()
}

// SetRotate resets m to a rotation of degrees around the origin.
func (m *Matrix) SetRotate(degrees float64) {
	sin, cos := sinCos(degrees)
	*m = Matrix{A: cos, B: -sin, C: sin, D: cos}
}

// SetRotateAround resets m to a rotation of degrees around (px, py).
func (m *Matrix) SetRotateAround(degrees, px, py float64) {
	sin, cos := sinCos(degrees)
	*m = Matrix{
		A: cos, B: -sin, Tx: px - (cos*px - sin*py),
		C: sin, D: cos, Ty: py - (sin*px + cos*py),
	}
}

// PreScale concatenates a scale so that it is applied before m.
func (m *Matrix) PreScale(sx, sy float64) {
	m.A *= sx
	m.C *= sx
	m.B *= sy
	m.D *= sy
}

// PreRotate concatenates a rotation around the origin so that it is applied
// before m.
func (m *Matrix) PreRotate(degrees float64) {
	var r Matrix
	r.SetRotate(degrees)
	*m = m.Concat(r)
}

// PostTranslate concatenates a translation so that it is applied after m.
func (m *Matrix) PostTranslate(dx, dy float64) {
	m.Tx += dx
	m.Ty += dy
}

// Concat returns m*n: n is applied first, then m.
func (m Matrix) Concat(n Matrix) Matrix {
	return Matrix{
		A:  m.A*n.A + m.B*n.C,
		B:  m.A*n.B + m.B*n.D,
		Tx: m.A*n.Tx + m.B*n.Ty + m.Tx,
		C:  m.C*n.A + m.D*n.C,
		D:  m.C*n.B + m.D*n.D,
		Ty: m.C*n.Tx + m.D*n.Ty + m.Ty,
	}
}

// MapPoint transforms a single point.
func (m Matrix) MapPoint(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.Tx, m.C*x + m.D*y + m.Ty
}

// RectF is a floating point rectangle given by its edges.
type RectF struct {
	Left, Top, Right, Bottom float64
}

// Width returns Right - Left.
func (r RectF) Width() float64 { return r.Right - r.Left }

// Height returns Bottom - Top.
func (r RectF) Height() float64 { return r.Bottom - r.Top }

// MapRect transforms the four corners of a w x h rectangle at the origin and
// returns their bounding box.
func (m Matrix) MapRect(w, h float64) RectF {
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = m.MapPoint(0, 0)
	xs[1], ys[1] = m.MapPoint(w, 0)
	xs[2], ys[2] = m.MapPoint(0, h)
	xs[3], ys[3] = m.MapPoint(w, h)

	out := RectF{Left: xs[0], Top: ys[0], Right: xs[0], Bottom: ys[0]}
	for i := 1; i < 4; i++ {
		out.Left = math.Min(out.Left, xs[i])
		out.Right = math.Max(out.Right, xs[i])
		out.Top = math.Min(out.Top, ys[i])
		out.Bottom = math.Max(out.Bottom, ys[i])
	}
	return out
}

// Aff3 converts m to the source-to-destination form used by
// golang.org/x/image/draw.
func (m Matrix) Aff3() f64.Aff3 {
	return f64.Aff3{m.A, m.B, m.Tx, m.C, m.D, m.Ty}
}

func (m Matrix) String() string {
	return fmt.Sprintf("[%g %g %g][%g %g %g]", m.A, m.B, m.Tx, m.C, m.D, m.Ty)
}

// sinCos snaps results that are within float noise of zero so that quarter
// turns produce exact matrices.
func sinCos(degrees float64) (float64, float64) {
	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)
	const eps = 1e-12
	if math.Abs(sin) < eps {
		sin = 0
	}
	if math.Abs(cos) < eps {
		cos = 0
	}
	return sin, cos
}
