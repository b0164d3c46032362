package detection

import (
	"fmt"
	"image"
	"sort"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/image-loader-mcp/internal/geometry"
)

// SkinToneDetector detects faces as large, compact regions of skin-colored
// pixels.
//
// The zero value is not useful; start from NewSkinToneDetector and adjust
// fields before first use. A detector must not be modified while in use.
type SkinToneDetector struct {
	// HueMin and HueMax bound the hue in degrees.
	HueMin, HueMax float64
	// SatMin and SatMax bound the HSV saturation (0..1).
	SatMin, SatMax float64
	// ValMin is the minimum HSV value (0..1).
	ValMin float64
	// MinAreaFraction is the smallest region kept, as a fraction of the
	// image area.
	MinAreaFraction float64
	// MinFill is the minimum ratio of skin pixels to bounding box area.
	MinFill float64
	// MaxAspect bounds the bounding box aspect ratio in either direction.
	MaxAspect float64
}

// NewSkinToneDetector returns a detector with ranges that cover a broad band
// of human skin tones under daylight.
func NewSkinToneDetector() *SkinToneDetector {
	return &SkinToneDetector{
		HueMin:          0,
		HueMax:          50,
		SatMin:          0.23,
		SatMax:          0.68,
		ValMin:          0.35,
		MinAreaFraction: 0.005,
		MinFill:         0.4,
		MaxAspect:       2.0,
	}
}

// Key identifies the detector and its parameters in request fingerprints.
func (d *SkinToneDetector) Key() string {
	return fmt.Sprintf("skin(h%g-%g,s%g-%g,v%g,a%g,f%g,r%g)",
		d.HueMin, d.HueMax, d.SatMin, d.SatMax, d.ValMin, d.MinAreaFraction, d.MinFill, d.MaxAspect)
}

// region is one connected group of skin pixels.
type region struct {
	bounds Bounds
	pixels int
}

// Bounds is a bounding box with inclusive X1/Y1 and exclusive X2/Y2.
type Bounds struct {
	X1, Y1, X2, Y2 int
}

func (b Bounds) width() int  { return b.X2 - b.X1 }
func (b Bounds) height() int { return b.Y2 - b.Y1 }

// FindFaces returns at most maxCount faces, largest first. It returns nil
// when maxCount is not positive or nothing face-like is found.
func (d *SkinToneDetector) FindFaces(img image.Image, maxCount int) []geometry.Face {
	if img == nil || maxCount <= 0 {
		return nil
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	mask := d.skinMask(img)
	minArea := int(d.MinAreaFraction * float64(width*height))
	if minArea < 4 {
		minArea = 4
	}

	var faces []region
	for _, r := range findRegions(mask, width, height) {
		if d.faceLike(r, minArea) {
			faces = append(faces, r)
		}
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].pixels > faces[j].pixels
	})
	if len(faces) > maxCount {
		faces = faces[:maxCount]
	}

	out := make([]geometry.Face, 0, len(faces))
	for _, f := range faces {
		out = append(out, geometry.Face{
			TopLeft: geometry.Point{X: f.bounds.X1, Y: f.bounds.Y1},
			Width:   f.bounds.width(),
			Height:  f.bounds.height(),
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IsSkin reports whether c falls inside the detector's HSV ranges. Fully
// transparent pixels are never skin.
func (d *SkinToneDetector) IsSkin(c colorful.Color, alpha uint32) bool {
	if alpha == 0 {
		return false
	}
	h, s, v := c.Hsv()
	return h >= d.HueMin && h <= d.HueMax &&
		s >= d.SatMin && s <= d.SatMax &&
		v >= d.ValMin
}

func (d *SkinToneDetector) skinMask(img image.Image) [][]bool {
	b := img.Bounds()
	mask := make([][]bool, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		mask[y] = make([]bool, b.Dx())
		for x := 0; x < b.Dx(); x++ {
			px := img.At(x+b.Min.X, y+b.Min.Y)
			_, _, _, a := px.RGBA()
			c, ok := colorful.MakeColor(px)
			if !ok {
				continue
			}
			mask[y][x] = d.IsSkin(c, a)
		}
	}
	return mask
}

func (d *SkinToneDetector) faceLike(r region, minArea int) bool {
	w, h := r.bounds.width(), r.bounds.height()
	if r.pixels < minArea || w == 0 || h == 0 {
		return false
	}
	aspect := float64(w) / float64(h)
	if aspect > d.MaxAspect || aspect < 1/d.MaxAspect {
		return false
	}
	return float64(r.pixels)/float64(w*h) >= d.MinFill
}

// findRegions groups set mask pixels into 8-connected regions.
func findRegions(mask [][]bool, width, height int) []region {
	visited := make([][]bool, height)
	for y := 0; y < height; y++ {
		visited[y] = make([]bool, width)
	}

	var regions []region
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask[y][x] && !visited[y][x] {
				regions = append(regions, floodFill(mask, visited, x, y, width, height))
			}
		}
	}
	return regions
}

// floodFill marks the region containing (startX, startY) as visited and
// returns its bounds and pixel count. It uses an explicit stack so large
// regions cannot overflow the goroutine stack.
func floodFill(mask, visited [][]bool, startX, startY, width, height int) region {
	r := region{bounds: Bounds{X1: startX, Y1: startY, X2: startX + 1, Y2: startY + 1}}
	stack := []geometry.Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height {
			continue
		}
		if visited[p.Y][p.X] || !mask[p.Y][p.X] {
			continue
		}

		visited[p.Y][p.X] = true
		r.pixels++
		r.bounds.X1 = min(r.bounds.X1, p.X)
		r.bounds.Y1 = min(r.bounds.Y1, p.Y)
		r.bounds.X2 = max(r.bounds.X2, p.X+1)
		r.bounds.Y2 = max(r.bounds.Y2, p.Y+1)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, geometry.Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}
	return r
}
