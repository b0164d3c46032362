package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"

	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// Default hysteresis thresholds for edges, on a 0-255 gradient scale.
const (
	DefaultEdgeLow  = 50
	DefaultEdgeHigh = 150
)

// newEdges parses "edges[:low:high]".
func newEdges(args []string) (request.Transformation, error) {
	low, high := DefaultEdgeLow, DefaultEdgeHigh
	switch len(args) {
	case 0:
	case 2:
		var err error
		if low, err = strconv.Atoi(args[0]); err != nil {
			return nil, fmt.Errorf("edges: invalid low threshold %q", args[0])
		}
		if high, err = strconv.Atoi(args[1]); err != nil {
			return nil, fmt.Errorf("edges: invalid high threshold %q", args[1])
		}
	default:
		return nil, fmt.Errorf("edges: expected edges[:<low>:<high>]")
	}
	if low < 0 || high > 255 || low > high {
		return nil, fmt.Errorf("edges: thresholds must satisfy 0 <= low <= high <= 255")
	}
	return Func{
		Name: fmt.Sprintf("edges:%d:%d", low, high),
		Fn:   func(img image.Image) image.Image { return cannyEdges(img, low, high) },
	}, nil
}

// cannyEdges marks edges white on black. Gradients come from a Sobel pass
// over the smoothed luminance, are thinned to local maxima along the
// gradient direction, then kept if above high or above low and touching a
// strong pixel.
func cannyEdges(img image.Image, low, high int) image.Image {
	smooth := effect.Grayscale(blur.Gaussian(img, 1.4))
	b := smooth.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w < 3 || h < 3 {
		return out
	}

	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lum[y*w+x] = float64(smooth.RGBAAt(b.Min.X+x, b.Min.Y+y).R) / 255
		}
	}
	at := func(x, y int) float64 {
		return lum[clampInt(y, 0, h-1)*w+clampInt(x, 0, w-1)]
	}

	mag := make([]float64, w*h)
	dir := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			mag[y*w+x] = math.Hypot(gx, gy)
			dir[y*w+x] = math.Atan2(gy, gx)
		}
	}

	thin := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			dx, dy := neighborStep(dir[i])
			if mag[i] >= mag[(y+dy)*w+x+dx] && mag[i] >= mag[(y-dy)*w+x-dx] {
				thin[i] = mag[i]
			}
		}
	}

	lo, hi := float64(low)/255, float64(high)/255
	strongNear := func(x, y int) bool {
		for ky := -1; ky <= 1; ky++ {
			for kx := -1; kx <= 1; kx++ {
				if thin[clampInt(y+ky, 0, h-1)*w+clampInt(x+kx, 0, w-1)] >= hi {
					return true
				}
			}
		}
		return false
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := thin[y*w+x]
			if v >= hi || (v >= lo && strongNear(x, y)) {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// neighborStep quantizes a gradient angle to one of four pixel directions.
func neighborStep(angle float64) (dx, dy int) {
	a := math.Mod(angle+math.Pi, math.Pi)
	switch {
	case a < math.Pi/8 || a >= 7*math.Pi/8:
		return 1, 0
	case a < 3*math.Pi/8:
		return 1, 1
	case a < 5*math.Pi/8:
		return 0, 1
	default:
		return -1, 1
	}
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
