package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/ironsheep/image-loader-mcp/internal/config"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/loader"
	"github.com/ironsheep/image-loader-mcp/internal/source"
)

func createTestImageFile(t *testing.T, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "api-test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Disk.Dir = t.TempDir()
	l, err := loader.New(context.Background(), cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("loader.New failed: %v", err)
	}
	srv := httptest.NewServer(NewRouter(l, log.New(io.Discard)))
	t.Cleanup(func() {
		srv.Close()
		l.Close()
	})
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestImage(t *testing.T) {
	srv := newTestServer(t)
	path := createTestImageFile(t, 40, 20, color.NRGBA{B: 255, A: 255})
	q := url.Values{"uri": {path}, "width": {"10"}, "height": {"10"}, "mode": {"center_crop"}, "transform": {"grayscale", "invert"}}

	for _, want := range []string{"DISK", "MEMORY"} {
		resp := get(t, srv, "/v1/image?"+q.Encode())
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("status = %d: %s", resp.StatusCode, body)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := resp.Header.Get(HeaderLoadedFrom); got != want {
			t.Errorf("%s = %q, want %q", HeaderLoadedFrom, got, want)
		}
		img, err := png.Decode(resp.Body)
		if err != nil {
			t.Fatalf("body is not PNG: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
			t.Errorf("size = %dx%d, want 10x10", b.Dx(), b.Dy())
		}
	}
}

func TestImage_Errors(t *testing.T) {
	srv := newTestServer(t)
	missing := filepath.Join(t.TempDir(), "missing.png")
	corrupt := filepath.Join(t.TempDir(), "corrupt.png")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name       string
		query      url.Values
		wantStatus int
	}{
		{"no uri", url.Values{}, http.StatusBadRequest},
		{"bad width", url.Values{"uri": {"/a.png"}, "width": {"wide"}}, http.StatusBadRequest},
		{"bad flag", url.Values{"uri": {"/a.png"}, "cache_only": {"maybe"}}, http.StatusBadRequest},
		{"bad mode", url.Values{"uri": {"/a.png"}, "mode": {"stretch"}}, http.StatusBadRequest},
		{"bad transform", url.Values{"uri": {"/a.png"}, "transform": {"warp"}}, http.StatusBadRequest},
		{"missing file", url.Values{"uri": {missing}}, http.StatusNotFound},
		{"corrupt file", url.Values{"uri": {corrupt}}, http.StatusUnprocessableEntity},
		{"cache only miss", url.Values{"uri": {missing}, "cache_only": {"true"}}, http.StatusNotFound},
		{"bad data uri", url.Values{"uri": {"data:image/png;base64,%%%"}}, http.StatusBadRequest},
		{"unknown scheme", url.Values{"uri": {"gopher://host/a.png"}}, http.StatusBadRequest},
		{"oversized target", url.Values{"uri": {"/a.png"}, "width": {"100000"}, "height": {"100000"}}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, srv, "/v1/image?"+tt.query.Encode())
			if resp.StatusCode != tt.wantStatus {
				body, _ := io.ReadAll(resp.Body)
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error body has no message")
			}
		})
	}
}

func TestStatsAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	path := createTestImageFile(t, 4, 4, color.White)
	get(t, srv, "/v1/image?"+url.Values{"uri": {path}}.Encode())

	resp := get(t, srv, "/v1/stats")
	var snap struct {
		CacheMisses         int64 `json:"cache_misses"`
		OriginalBitmapCount int64 `json:"original_bitmap_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("stats body is not JSON: %v", err)
	}
	if snap.CacheMisses != 1 || snap.OriginalBitmapCount != 1 {
		t.Errorf("stats = %+v, want one miss and one decode", snap)
	}

	resp = get(t, srv, "/metrics")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `image_loader_cache_lookups_total{result="miss",tier="memory"} 1`) {
		t.Errorf("metrics do not include the memory miss:\n%s", body)
	}

	if resp := get(t, srv, "/healthz"); resp.StatusCode != http.StatusNoContent {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestParseOptions(t *testing.T) {
	q := url.Values{
		"uri":             {"https://example.com/a.png"},
		"width":           {"30"},
		"rotate":          {"90"},
		"pivot_x":         {"1.5"},
		"pivot_y":         {"2"},
		"transform":       {"blur:2", "sepia"},
		"skip_disk_cache": {"1"},
		"config":          {"gray"},
	}
	opts, err := ParseOptions(q)
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if opts.Width != 30 || opts.Height != 0 || opts.Rotation != 90 {
		t.Errorf("geometry = %d %d %v", opts.Width, opts.Height, opts.Rotation)
	}
	if opts.PivotX == nil || *opts.PivotX != 1.5 || opts.PivotY == nil || *opts.PivotY != 2 {
		t.Errorf("pivot = %v %v", opts.PivotX, opts.PivotY)
	}
	if len(opts.Transformations) != 2 || opts.Transformations[0] != "blur:2" {
		t.Errorf("transformations = %v", opts.Transformations)
	}
	if !opts.SkipDisk || opts.SkipMemory || opts.CacheOnly || opts.Config != "gray" {
		t.Errorf("policy = %+v config %q", opts.CachePolicy, opts.Config)
	}

	if _, err := ParseOptions(url.Values{"uri": {"/a.png"}, "pivot_x": {"left"}}); err == nil {
		t.Error("expected an error for a non-numeric pivot")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no result", fmt.Errorf("hunt: %w", failure.ErrNoResult), http.StatusNotFound},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"remote 404", failure.New(failure.PermanentTransport, "fetch", failure.ResponseFor(404)), http.StatusNotFound},
		{"remote 403", failure.New(failure.PermanentTransport, "fetch", failure.ResponseFor(403)), http.StatusBadGateway},
		{"remote 503", failure.ResponseFor(503), http.StatusBadGateway},
		{"too large", fmt.Errorf("decode: %w", failure.ErrResourceExhausted), http.StatusRequestEntityTooLarge},
		{"missing file", &fs.PathError{Op: "open", Path: "/a", Err: fs.ErrNotExist}, http.StatusNotFound},
		{"violation", failure.New(failure.ContractViolation, "transform", errors.New("nil")), http.StatusInternalServerError},
		{"unknown scheme", fmt.Errorf("%w: ftp://x", source.ErrUnrecognized), http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
