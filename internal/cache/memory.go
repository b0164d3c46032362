package cache

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
)

// DefaultMemoryEntries is used when a non-positive size is configured.
const DefaultMemoryEntries = 256

// MemoryCache is the primary tier: an LRU of decoded bitmaps keyed by request
// fingerprint.
//
// Bitmaps handed out by Get are shared with every caller and with the cache
// itself, so callers must treat them as read-only. Entries whose bitmap has
// been released are dropped on lookup.
type MemoryCache struct {
	lru *lru.Cache[string, *bitmap.Bitmap]
	max int
}

// NewMemoryCache creates a cache holding at most maxEntries bitmaps.
func NewMemoryCache(maxEntries int) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	c, err := lru.New[string, *bitmap.Bitmap](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &MemoryCache{lru: c, max: maxEntries}, nil
}

// Get returns the cached bitmap for key.
func (c *MemoryCache) Get(key string) (*bitmap.Bitmap, bool) {
	bmp, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if bmp.IsReleased() {
		c.lru.Remove(key)
		return nil, false
	}
	return bmp, true
}

// Set stores bmp under key, evicting the least recently used entry when full.
func (c *MemoryCache) Set(key string, bmp *bitmap.Bitmap) {
	if bmp == nil {
		return
	}
	c.lru.Add(key, bmp)
}

// EvictURI removes every entry derived from uri, whatever its size or
// transformations. It returns the number of entries removed.
func (c *MemoryCache) EvictURI(uri string) int {
	prefix := uri + "\n"
	n := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Clear empties the cache.
func (c *MemoryCache) Clear() {
	c.lru.Purge()
}

// Len is the number of cached bitmaps.
func (c *MemoryCache) Len() int { return c.lru.Len() }

// MaxLen is the configured capacity.
func (c *MemoryCache) MaxLen() int { return c.max }

var _ Primary = (*MemoryCache)(nil)
