package request

import (
	"strconv"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/geometry"
)

// createKey builds the fingerprint over every request field, the cache
// policy included. Requests with equal keys merge onto one hunter.
func createKey(r *Request) string {
	p := r.policy
	if !p.SkipMemory && !p.SkipDisk && !p.CacheOnly {
		return r.cacheKey
	}
	var b strings.Builder
	b.WriteString(r.cacheKey)
	b.WriteString("policy:")
	for _, f := range []struct {
		set  bool
		name string
	}{{p.SkipMemory, "skipMemory"}, {p.SkipDisk, "skipDisk"}, {p.CacheOnly, "cacheOnly"}} {
		if f.set {
			b.WriteByte(' ')
			b.WriteString(f.name)
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// createCacheKey covers the fields that can change the output pixels. Cache
// entries are stored under it, so requests that differ only in policy share
// them.
func createCacheKey(r *Request) string {
	var b strings.Builder
	b.Grow(64 + len(r.uri))

	if r.stableKey != "" {
		b.WriteString(r.stableKey)
	} else {
		b.WriteString(r.uri)
	}
	b.WriteByte('\n')

	g := r.geometry
	if g.Rotation != 0 {
		b.WriteString("rotation:")
		b.WriteString(formatFloat(g.Rotation))
		if g.HasPivot {
			b.WriteByte('@')
			b.WriteString(formatFloat(g.PivotX))
			b.WriteByte('x')
			b.WriteString(formatFloat(g.PivotY))
		}
		b.WriteByte('\n')
	}

	if g.HasSize() {
		b.WriteString("resize:")
		b.WriteString(strconv.Itoa(g.TargetWidth))
		b.WriteByte('x')
		b.WriteString(strconv.Itoa(g.TargetHeight))
		b.WriteByte('\n')
	}

	switch g.Mode {
	case geometry.ModeCenterCrop:
		b.WriteString("centerCrop\n")
	case geometry.ModeCenterInside:
		b.WriteString("centerInside\n")
	case geometry.ModeFaceCenterCrop:
		b.WriteString("faceCenterCrop:")
		b.WriteString(r.faceDetector.Key())
		b.WriteByte('\n')
	}

	if r.format != bitmap.FormatDefault {
		b.WriteString("config:")
		b.WriteString(r.format.String())
		b.WriteByte('\n')
	}

	for _, t := range r.transformations {
		b.WriteString(t.Key())
		b.WriteByte('\n')
	}

	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
