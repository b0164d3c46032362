package geometry

import "math"

// Point is an integer pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is the source sub-rectangle a transform is drawn from.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FullRect returns the rectangle covering a whole w x h image.
func FullRect(w, h int) Rect {
	return Rect{Width: w, Height: h}
}

// Face is one detected face bounding box in source pixel coordinates.
type Face struct {
	TopLeft Point `json:"top_left"`
	Width   int   `json:"width"`
	Height  int   `json:"height"`
}

// CenterCrop computes a crop that fills a tw x th target while keeping focal
// visible.
//
// Parameters:
//   - tw, th: Target width and height. Both must be positive.
//   - iw, ih: Source width and height.
//   - focal: Point in source coordinates that should stay centered.
//
// Returns:
//   - float64: The uniform scale to pre-apply to the matrix.
//   - Rect: The source rectangle to draw from. The axis that is not cropped
//     spans the whole source.
//
// When the width ratio dominates, the source height is cropped to
// ceil(ih * heightRatio / widthRatio); otherwise the width is cropped
// symmetrically. The crop origin is focal minus half the cropped size,
// clamped with EnsureMargin.
func CenterCrop(tw, th, iw, ih int, focal Point) (float64, Rect) {
	r := FullRect(iw, ih)
	widthRatio := float64(tw) / float64(iw)
	heightRatio := float64(th) / float64(ih)

	if widthRatio > heightRatio {
		newSize := int(math.Ceil(float64(ih) * (heightRatio / widthRatio)))
		r.Y = EnsureMargin(focal.Y-newSize/2, ih, newSize)
		r.Height = newSize
		return widthRatio, r
	}

	newSize := int(math.Ceil(float64(iw) * (widthRatio / heightRatio)))
	r.X = EnsureMargin(focal.X-newSize/2, iw, newSize)
	r.Width = newSize
	return heightRatio, r
}

// EnsureMargin clamps a crop origin so that [start, start+distance) lies in
// [0, end].
func EnsureMargin(start, end, distance int) int {
	if start < 0 {
		return 0
	}
	if start+distance <= end {
		return start
	}
	return end - distance
}

// Centroid returns the arithmetic mean of the face centers. Integer division
// is used throughout, so the result is truncated toward zero.
func Centroid(faces []Face) (Point, bool) {
	if len(faces) == 0 {
		return Point{}, false
	}
	var p Point
	for _, f := range faces {
		p.X += f.TopLeft.X + f.Width/2
		p.Y += f.TopLeft.Y + f.Height/2
	}
	p.X /= len(faces)
	p.Y /= len(faces)
	return p, true
}

// SampleSize returns the integer subsampling factor for decoding a
// w x h source that will be shown at reqW x reqH. A zero requested dimension
// does not constrain the factor. The result is at least 1.
func SampleSize(reqW, reqH, w, h int) int {
	if reqW <= 0 && reqH <= 0 {
		return 1
	}
	if h <= reqH && w <= reqW {
		return 1
	}

	sample := math.MaxInt
	if reqH > 0 {
		sample = min(sample, int(math.Floor(float64(h)/float64(reqH))))
	}
	if reqW > 0 {
		sample = min(sample, int(math.Floor(float64(w)/float64(reqW))))
	}
	if sample < 1 {
		return 1
	}
	return sample
}
