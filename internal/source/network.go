package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
)

const (
	// DefaultRetryCount is the retry budget each network hunter starts with.
	DefaultRetryCount = 2
	// DefaultMaxBytes caps a single download.
	DefaultMaxBytes = 32 << 20
	httpTimeout     = 15 * time.Second
)

// NetworkHandler serves http and https URIs.
type NetworkHandler struct {
	Client    *http.Client
	Decoder   *Decoder
	Stats     *stats.Stats
	UserAgent string
	// MaxBytes caps the response body; zero means DefaultMaxBytes.
	MaxBytes int64
	// Retries overrides DefaultRetryCount when positive; a negative value
	// disables retries.
	Retries int
}

// NewNetworkHandler returns a handler with a timeout-bounded client.
func NewNetworkHandler(dec *Decoder, st *stats.Stats) *NetworkHandler {
	return &NetworkHandler{
		Client:  &http.Client{Timeout: httpTimeout},
		Decoder: dec,
		Stats:   st,
	}
}

// CanHandle implements Handler.
func (h *NetworkHandler) CanHandle(req *request.Request) bool {
	return KindOf(req.URI()) == KindNetwork
}

// Load implements Handler.
func (h *NetworkHandler) Load(ctx context.Context, req *request.Request) (Result, error) {
	data, err := h.fetch(ctx, req.URI())
	if err != nil {
		return Result{}, err
	}
	if h.Stats != nil {
		h.Stats.DownloadFinished(int64(len(data)))
	}

	dec, err := h.Decoder.Decode(data, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Bitmap: dec.Bitmap, LoadedFrom: cache.Network, ExifRotation: dec.ExifRotation}, nil
}

func (h *NetworkHandler) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, failure.New(failure.PermanentTransport, "fetch", err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, failure.New(failure.RetryableTransport, "fetch", fmt.Errorf("GET %s: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("GET %s: %w", url, failure.ResponseFor(resp.StatusCode))
	}

	limit := h.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("GET %s: content length %d over %d: %w", url, resp.ContentLength, limit, failure.ErrResourceExhausted)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, failure.New(failure.RetryableTransport, "fetch", fmt.Errorf("GET %s: read body: %w", url, err))
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("GET %s: body over %d bytes: %w", url, limit, failure.ErrResourceExhausted)
	}
	return data, nil
}

// RetryCount implements Handler.
func (h *NetworkHandler) RetryCount() int {
	switch {
	case h.Retries > 0:
		return h.Retries
	case h.Retries < 0:
		return 0
	}
	return DefaultRetryCount
}

// ShouldRetry implements Handler: retry unless offline or known to be
// disconnected.
func (h *NetworkHandler) ShouldRetry(offline bool, state *NetworkState) bool {
	if offline {
		return false
	}
	return state == nil || state.Connected
}

// SupportsReplay implements Handler.
func (h *NetworkHandler) SupportsReplay() bool { return true }
