package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// FileHandler serves file:// URIs and absolute paths.
type FileHandler struct {
	local
	Decoder *Decoder
}

// CanHandle implements Handler.
func (h *FileHandler) CanHandle(req *request.Request) bool {
	return KindOf(req.URI()) == KindFile
}

// Load implements Handler.
func (h *FileHandler) Load(ctx context.Context, req *request.Request) (Result, error) {
	path, err := FilePath(req.URI())
	if err != nil {
		return Result{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open image: %w", err)
	}

	dec, err := h.Decoder.Decode(data, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Bitmap: dec.Bitmap, LoadedFrom: cache.Disk, ExifRotation: dec.ExifRotation}, nil
}

// FilePath extracts the filesystem path from a file URI or bare path.
func FilePath(uri string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(uri), "file://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid file uri %q: %w", uri, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("invalid file uri %q: remote host %q", uri, u.Host)
	}
	if u.Path == "" {
		return "", fmt.Errorf("invalid file uri %q: empty path", uri)
	}
	return u.Path, nil
}
