// Package httpapi serves the image loader over HTTP.
//
//	GET /v1/image    load an image and return it as PNG
//	GET /v1/stats    statistics snapshot as JSON
//	GET /metrics     Prometheus exposition
//	GET /healthz     liveness
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/source"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
)

// HeaderLoadedFrom carries the provenance of a served image.
const HeaderLoadedFrom = "X-Loaded-From"

const defaultTimeout = 30 * time.Second

// Loader is what the handlers need from the image loader.
type Loader interface {
	Build(opts request.Options) (*request.Request, error)
	LoadRequest(ctx context.Context, req *request.Request) (*bitmap.Bitmap, cache.LoadedFrom, error)
	Snapshot() stats.Snapshot
	Gatherer() prometheus.Gatherer
}

type handler struct {
	loader  Loader
	logger  *log.Logger
	timeout time.Duration
}

// NewRouter returns the HTTP surface for l.
func NewRouter(l Loader, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{loader: l, logger: logger, timeout: defaultTimeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/image", h.image)
		r.Get("/stats", h.stats)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(l.Gatherer(), promhttp.HandlerOpts{}))
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *handler) image(w http.ResponseWriter, r *http.Request) {
	opts, err := ParseOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := h.loader.Build(opts)
	if err != nil {
		status := http.StatusBadRequest
		if failure.Classify(err) == failure.ResourceExhaustion {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	bmp, from, err := h.loader.LoadRequest(ctx, req)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("image load failed", "request", req.Name(), "err", err)
		}
		writeError(w, status, err)
		return
	}

	var buf bytes.Buffer
	if err := bmp.EncodePNG(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set(HeaderLoadedFrom, from.String())
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.loader.Snapshot())
}

// ParseOptions reads request options from query parameters. transform may
// repeat; its order is kept.
func ParseOptions(q url.Values) (request.Options, error) {
	opts := request.Options{
		URI:             q.Get("uri"),
		Mode:            q.Get("mode"),
		Transformations: q["transform"],
		Config:          q.Get("config"),
	}
	if opts.URI == "" {
		return opts, errors.New("uri is required")
	}

	var err error
	if opts.Width, err = intParam(q, "width"); err != nil {
		return opts, err
	}
	if opts.Height, err = intParam(q, "height"); err != nil {
		return opts, err
	}
	if opts.Rotation, err = floatParam(q, "rotate"); err != nil {
		return opts, err
	}
	for name, dst := range map[string]**float64{"pivot_x": &opts.PivotX, "pivot_y": &opts.PivotY} {
		if q.Get(name) == "" {
			continue
		}
		v, err := floatParam(q, name)
		if err != nil {
			return opts, err
		}
		*dst = &v
	}
	for name, dst := range map[string]*bool{
		"skip_memory_cache": &opts.SkipMemory,
		"skip_disk_cache":   &opts.SkipDisk,
		"cache_only":        &opts.CacheOnly,
	} {
		if *dst, err = boolParam(q, name); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func floatParam(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

func boolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// StatusFor maps a load failure to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, failure.ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, source.ErrUnrecognized):
		return http.StatusBadRequest
	}

	switch failure.Classify(err) {
	case failure.PermanentTransport:
		var re *failure.ResponseError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Op == "data" {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case failure.RetryableTransport:
		return http.StatusBadGateway
	case failure.ResourceExhaustion:
		return http.StatusRequestEntityTooLarge
	case failure.LocalIO:
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Op == "decode" {
			return http.StatusUnprocessableEntity
		}
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"kind":  failure.Classify(err).String(),
	})
}
