package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
)

// FileCache stores bitmaps as PNG files under a directory. Each source URI
// gets its own directory, sharded by the first two hex characters of its
// hash; entries inside are named by the hashed fingerprint.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

// Name identifies the backend in logs.
func (c *FileCache) Name() string { return "file" }

// Get reads the entry for key. A missing file is a miss; an undecodable
// file is removed and reported as a miss.
func (c *FileCache) Get(ctx context.Context, key string) (*bitmap.Bitmap, bool, error) {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	bmp, err := bitmap.DecodePNG(bytes.NewReader(data))
	if err != nil {
		_ = os.Remove(path)
		return nil, false, nil
	}
	return bmp, true, nil
}

// Set writes bmp atomically by renaming a temporary file into place.
func (c *FileCache) Set(ctx context.Context, key string, bmp *bitmap.Bitmap) error {
	var buf bytes.Buffer
	if err := bmp.EncodePNG(&buf); err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// EvictURI removes the directory holding every entry for uri.
func (c *FileCache) EvictURI(ctx context.Context, uri string) (int, error) {
	dir := c.sourceDir(uri)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list cache entries: %w", err)
	}

	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".png" {
			n++
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("evict cache entries: %w", err)
	}
	return n, nil
}

func (c *FileCache) sourceDir(src string) string {
	h := Hash(src)
	return filepath.Join(c.dir, h[:2], h[2:])
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.sourceDir(sourceOf(key)), Hash(key)+".png")
}

var _ Secondary = (*FileCache)(nil)
