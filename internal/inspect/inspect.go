// Package inspect summarizes a loaded bitmap for clients that cannot look at
// pixels themselves: dimensions, pixel format, provenance and a small
// palette of the dominant colors.
package inspect

import (
	"fmt"
	"image"
	"sort"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
)

// DefaultPaletteSize is the palette length used when none is requested.
const DefaultPaletteSize = 5

// RGB is an 8-bit color without alpha.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// HSL is hue in degrees with saturation and lightness in percent.
type HSL struct {
	H int `json:"h"`
	S int `json:"s"`
	L int `json:"l"`
}

// Swatch is one palette entry.
type Swatch struct {
	Hex        string  `json:"hex"`
	RGB        RGB     `json:"rgb"`
	HSL        HSL     `json:"hsl"`
	Percentage float64 `json:"percentage"`
}

// Summary describes one loaded bitmap.
type Summary struct {
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Format     string   `json:"format"`
	SizeBytes  int64    `json:"size_bytes"`
	LoadedFrom string   `json:"loaded_from"`
	Palette    []Swatch `json:"palette,omitempty"`
}

// Describe summarizes bmp with a palette of at most paletteSize colors. A
// released bitmap keeps its dimensions but has no palette.
func Describe(bmp *bitmap.Bitmap, from cache.LoadedFrom, paletteSize int) Summary {
	s := Summary{
		Width:      bmp.Width(),
		Height:     bmp.Height(),
		Format:     bmp.Format().String(),
		SizeBytes:  bmp.SizeBytes(),
		LoadedFrom: from.String(),
	}
	if img := bmp.Image(); img != nil && paletteSize > 0 {
		s.Palette = DominantColors(img, paletteSize)
	}
	return s
}

// DominantColors returns the count most frequent colors, most frequent
// first. Components are quantized to multiples of 16 so near-identical
// shades are counted together. Fully transparent pixels are ignored.
func DominantColors(img image.Image, count int) []Swatch {
	type bucket struct{ r, g, b uint8 }

	bounds := img.Bounds()
	counts := make(map[bucket]int)
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			r, g, b := c.RGB255()
			counts[bucket{r / 16 * 16, g / 16 * 16, b / 16 * 16}]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	swatches := make([]Swatch, 0, len(counts))
	for k, n := range counts {
		swatches = append(swatches, newSwatch(k.r, k.g, k.b, float64(n)*100/float64(total)))
	}
	// Ties break on hex so the palette is deterministic.
	sort.Slice(swatches, func(i, j int) bool {
		if swatches[i].Percentage != swatches[j].Percentage {
			return swatches[i].Percentage > swatches[j].Percentage
		}
		return swatches[i].Hex < swatches[j].Hex
	})
	if len(swatches) > count {
		swatches = swatches[:count]
	}
	return swatches
}

func newSwatch(r, g, b uint8, pct float64) Swatch {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	h, s, l := c.Hsl()
	return Swatch{
		Hex:        fmt.Sprintf("#%02X%02X%02X", r, g, b),
		RGB:        RGB{R: r, G: g, B: b},
		HSL:        HSL{H: int(h), S: int(s * 100), L: int(l * 100)},
		Percentage: pct,
	}
}
