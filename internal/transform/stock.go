package transform

import (
	"fmt"
	"image"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// Func adapts a pixel function into a Transformation. The input bitmap is
// consumed through Bitmap.Replace.
type Func struct {
	Name string
	Fn   func(image.Image) image.Image
}

// Transform implements request.Transformation.
func (f Func) Transform(src *bitmap.Bitmap) *bitmap.Bitmap {
	img := src.Image()
	if img == nil {
		return nil
	}
	return src.Replace(f.Fn(img))
}

// Key implements request.Transformation.
func (f Func) Key() string { return f.Name }

type factory func(args []string) (request.Transformation, error)

var stock = map[string]factory{
	"grayscale": noArgs("grayscale", func(img image.Image) image.Image { return effect.Grayscale(img) }),
	"invert":    noArgs("invert", func(img image.Image) image.Image { return effect.Invert(img) }),
	"sepia":     noArgs("sepia", func(img image.Image) image.Image { return effect.Sepia(img) }),
	"flip_h":    noArgs("flip_h", func(img image.Image) image.Image { return imaging.FlipH(img) }),
	"flip_v":    noArgs("flip_v", func(img image.Image) image.Image { return imaging.FlipV(img) }),
	"circle":    noArgs("circle", circle),
	"blur":      newBlur,
	"tint":      newTint,
	"edges":     newEdges,
	"grid":      newGrid,
}

// Names lists the stock transformation names.
func Names() []string {
	names := make([]string, 0, len(stock))
	for n := range stock {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup parses a stock transformation spelled "name[:arg[:arg]]", for
// example "blur:2.5" or "tint:#ff8800:0.3".
func Lookup(name string) (request.Transformation, error) {
	parts := strings.Split(strings.TrimSpace(name), ":")
	f, ok := stock[strings.ToLower(parts[0])]
	if !ok {
		return nil, fmt.Errorf("unknown transformation: %s", parts[0])
	}
	return f(parts[1:])
}

func noArgs(name string, fn func(image.Image) image.Image) factory {
	return func(args []string) (request.Transformation, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("transformation %s takes no arguments", name)
		}
		return Func{Name: name, Fn: fn}, nil
	}
}

func newBlur(args []string) (request.Transformation, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("blur: expected blur:<radius>")
	}
	radius, err := strconv.ParseFloat(args[0], 64)
	if err != nil || radius <= 0 {
		return nil, fmt.Errorf("blur: invalid radius %q", args[0])
	}
	return Func{
		Name: "blur:" + strconv.FormatFloat(radius, 'f', -1, 64),
		Fn:   func(img image.Image) image.Image { return blur.Gaussian(img, radius) },
	}, nil
}

func newTint(args []string) (request.Transformation, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("tint: expected tint:#rrggbb[:amount]")
	}
	tint, err := colorful.Hex(args[0])
	if err != nil {
		return nil, fmt.Errorf("tint: %w", err)
	}
	amount := 0.5
	if len(args) == 2 {
		amount, err = strconv.ParseFloat(args[1], 64)
		if err != nil || amount < 0 || amount > 1 {
			return nil, fmt.Errorf("tint: amount must be between 0 and 1, got %q", args[1])
		}
	}
	return Func{
		Name: fmt.Sprintf("tint:%s:%s", tint.Hex(), strconv.FormatFloat(amount, 'f', -1, 64)),
		Fn:   func(img image.Image) image.Image { return tintImage(img, tint, amount) },
	}, nil
}

func tintImage(img image.Image, tint colorful.Color, amount float64) image.Image {
	src := imaging.Clone(img)
	out := image.NewNRGBA(src.Bounds())
	b := src.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			px := src.NRGBAAt(x, y)
			c := colorful.Color{R: float64(px.R) / 255, G: float64(px.G) / 255, B: float64(px.B) / 255}
			r, g, bl := c.BlendRgb(tint, amount).Clamped().RGB255()
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: bl, A: px.A})
		}
	}
	return out
}

// circle crops to the centered square and clears everything outside the
// inscribed circle.
func circle(img image.Image) image.Image {
	b := img.Bounds()
	size := min(b.Dx(), b.Dy())
	sq := imaging.CropCenter(img, size, size)

	r := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - r
			dy := float64(y) + 0.5 - r
			if dx*dx+dy*dy > r*r {
				sq.SetNRGBA(x, y, color.NRGBA{})
			}
		}
	}
	return sq
}
