// Package cache holds the two cache tiers consulted before any decode and the
// resolver that walks them.
//
// The primary tier is an in-process LRU of decoded bitmaps. The secondary tier
// is pluggable: a sharded directory of PNG files or a Redis instance. Both
// group entries by source URI so one URI can be evicted from every tier. Secondary
// backends may fail; the resolver logs those failures and treats them as a
// miss, so lookups never surface an error to the caller.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
)

// LoadedFrom tags which tier, or fresh load, produced a bitmap.
type LoadedFrom int

const (
	// Memory is the primary in-process cache.
	Memory LoadedFrom = iota
	// Disk is the secondary cache, and also local sources read straight
	// from the filesystem.
	Disk
	// Network is a fresh remote fetch.
	Network
)

func (l LoadedFrom) String() string {
	switch l {
	case Memory:
		return "MEMORY"
	case Disk:
		return "DISK"
	case Network:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// Primary is the in-process tier. Implementations must be safe for concurrent
// use and must not fail.
type Primary interface {
	Get(key string) (*bitmap.Bitmap, bool)
	Set(key string, bmp *bitmap.Bitmap)
}

// Secondary is a slower, possibly remote, tier.
type Secondary interface {
	Get(ctx context.Context, key string) (*bitmap.Bitmap, bool, error)
	Set(ctx context.Context, key string, bmp *bitmap.Bitmap) error
	// EvictURI removes every entry whose key starts with uri and reports
	// how many went.
	EvictURI(ctx context.Context, uri string) (int, error)
	Name() string
}

// sourceOf returns the first line of a fingerprint: the URI, or the stable
// key that replaced it.
func sourceOf(key string) string {
	src, _, _ := strings.Cut(key, "\n")
	return src
}

// Hash converts a request fingerprint into a fixed-length hex name suitable
// for file names and Redis keys.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
