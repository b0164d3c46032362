package transform

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/request"
)

var defaultGridColor = color.NRGBA{R: 255, A: 128}

// newGrid parses "grid:<spacing>[:#rrggbb[aa]]".
func newGrid(args []string) (request.Transformation, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("grid: expected grid:<spacing>[:#rrggbb[aa]]")
	}
	spacing, err := strconv.Atoi(args[0])
	if err != nil || spacing <= 0 {
		return nil, fmt.Errorf("grid: invalid spacing %q", args[0])
	}
	c := defaultGridColor
	if len(args) == 2 {
		if c, err = parseHexColor(args[1]); err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
	}
	return Func{
		Name: fmt.Sprintf("grid:%d:#%02x%02x%02x%02x", spacing, c.R, c.G, c.B, c.A),
		Fn:   func(img image.Image) image.Image { return gridOverlay(img, spacing, c) },
	}, nil
}

// gridOverlay composites lines every spacing pixels over img.
func gridOverlay(img image.Image, spacing int, c color.NRGBA) image.Image {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	line := image.NewUniform(c)
	for x := spacing; x < b.Dx(); x += spacing {
		draw.Draw(out, image.Rect(x, 0, x+1, b.Dy()), line, image.Point{}, draw.Over)
	}
	for y := spacing; y < b.Dy(); y += spacing {
		draw.Draw(out, image.Rect(0, y, b.Dx(), y+1), line, image.Point{}, draw.Over)
	}
	return out
}

// parseHexColor accepts #rrggbb or #rrggbbaa.
func parseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if len(hex) == 6 {
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
