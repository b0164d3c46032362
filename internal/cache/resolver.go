package cache

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
)

// Resolver walks the cache tiers in order and records hit/miss statistics.
// Memory and Stats are required; Secondary and Logger are optional.
type Resolver struct {
	Memory    Primary
	Secondary Secondary
	Stats     *stats.Stats
	Logger    *log.Logger
}

// Resolve looks key up in the tiers the policy allows. ok is false when no
// tier holds the key; the caller decides what a miss means for cache-only
// requests.
func (r *Resolver) Resolve(ctx context.Context, key string, p request.CachePolicy) (*bitmap.Bitmap, LoadedFrom, bool) {
	if !p.SkipMemory {
		if bmp, ok := r.Memory.Get(key); ok {
			r.Stats.CacheHit()
			return bmp, Memory, true
		}
		r.Stats.CacheMiss()
	}

	if !p.SkipDisk && r.Secondary != nil {
		bmp, ok, err := r.Secondary.Get(ctx, key)
		if err != nil {
			r.logger().Warn("secondary cache lookup failed", "backend", r.Secondary.Name(), "err", err)
		}
		if ok {
			r.Stats.DiskHit()
			return bmp, Disk, true
		}
		r.Stats.DiskMiss()
	}

	return nil, 0, false
}

// Store writes bmp to the secondary tier unless it came from there. It
// reports whether a write was attempted.
func (r *Resolver) Store(ctx context.Context, key string, bmp *bitmap.Bitmap, from LoadedFrom) bool {
	if bmp == nil || r.Secondary == nil || from == Disk {
		return false
	}
	if err := r.Secondary.Set(ctx, key, bmp); err != nil {
		r.logger().Warn("secondary cache store failed", "backend", r.Secondary.Name(), "err", err)
	}
	return true
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
