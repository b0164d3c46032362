// Package loader assembles the caches, sources and dispatcher described by a
// config.Config into one service shared by the MCP and HTTP surfaces.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/config"
	"github.com/ironsheep/image-loader-mcp/internal/detection"
	"github.com/ironsheep/image-loader-mcp/internal/dispatch"
	"github.com/ironsheep/image-loader-mcp/internal/hunter"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/source"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

// Loader is a running image loader.
type Loader struct {
	cfg        config.Config
	logger     *log.Logger
	memory     *cache.MemoryCache
	secondary  cache.Secondary
	stats      *stats.Stats
	registry   *prometheus.Registry
	dispatcher *dispatch.Dispatcher
	resolver   request.Resolver
	closers    []func() error
}

// New builds a loader from cfg. Connecting to a redis secondary tier
// happens here, so ctx bounds that handshake.
func New(ctx context.Context, cfg config.Config, logger *log.Logger) (*Loader, error) {
	if logger == nil {
		logger = log.Default()
	}

	memory, err := cache.NewMemoryCache(cfg.Memory.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	st, err := stats.New(memory, registry)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		cfg:      cfg,
		logger:   logger,
		memory:   memory,
		stats:    st,
		registry: registry,
		resolver: request.Resolver{
			Transformation: transform.Lookup,
			FaceDetector:   detection.NewSkinToneDetector(),
			MaxPixels:      cfg.Decode.MaxPixels,
		},
	}

	switch strings.ToLower(cfg.Disk.Backend) {
	case config.BackendFile:
		fc, err := cache.NewFileCache(cfg.Disk.Dir)
		if err != nil {
			return nil, fmt.Errorf("file cache: %w", err)
		}
		l.secondary = fc
	case config.BackendRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		l.secondary = rc
		l.closers = append(l.closers, rc.Close)
	}

	dec := &source.Decoder{MaxPixels: cfg.Decode.MaxPixels}
	network := source.NewNetworkHandler(dec, st)
	network.Client = &http.Client{Timeout: cfg.Network.Timeout}
	network.UserAgent = cfg.Network.UserAgent
	network.MaxBytes = cfg.Network.MaxBytes
	network.Retries = cfg.Network.Retries
	if network.Retries == 0 {
		network.Retries = -1
	}

	deps := hunter.Deps{
		Cache: &cache.Resolver{
			Memory:    memory,
			Secondary: l.secondary,
			Stats:     st,
			Logger:    logger,
		},
		Stats:     st,
		Gate:      transform.NewGate(),
		Fatal:     l.fatal,
		MaxPixels: cfg.Decode.MaxPixels,
		Logger:    logger,
	}
	l.dispatcher = dispatch.New(deps, source.NewTable(dec, network), dispatch.Options{
		Workers:     cfg.Workers,
		ScanNetwork: cfg.ScanNetwork,
	})

	backend := "none"
	if l.secondary != nil {
		backend = l.secondary.Name()
	}
	logger.Debug("loader ready", "workers", cfg.Workers, "memory", cfg.Memory.MaxEntries, "secondary", backend)
	return l, nil
}

// fatal receives transformation contract violations. They are programming
// errors in a transformation, so they are logged loudly instead of taking
// the process down.
func (l *Loader) fatal(err error) {
	l.logger.Error("transformation contract violated", "err", err)
}

// Build turns wire options into a request using the stock transformations and
// the skin-tone face detector.
func (l *Loader) Build(opts request.Options) (*request.Request, error) {
	return opts.Build(l.resolver)
}

// Load resolves opts and waits for the result.
func (l *Loader) Load(ctx context.Context, opts request.Options) (*bitmap.Bitmap, cache.LoadedFrom, error) {
	req, err := l.Build(opts)
	if err != nil {
		return nil, 0, err
	}
	return l.LoadRequest(ctx, req)
}

// LoadRequest submits a built request and waits for the result.
func (l *Loader) LoadRequest(ctx context.Context, req *request.Request) (*bitmap.Bitmap, cache.LoadedFrom, error) {
	return l.dispatcher.Load(ctx, req)
}

// Evict drops every entry for uri from both tiers and reports how many went.
func (l *Loader) Evict(ctx context.Context, uri string) (int, error) {
	n := l.memory.EvictURI(uri)
	if l.secondary == nil {
		return n, nil
	}
	m, err := l.secondary.EvictURI(ctx, uri)
	if err != nil {
		return n, fmt.Errorf("evict %s from %s cache: %w", uri, l.secondary.Name(), err)
	}
	l.logger.Debug("evicted", "uri", uri, "memory", n, l.secondary.Name(), m)
	return n + m, nil
}

// Clear empties the memory cache.
func (l *Loader) Clear() {
	l.memory.Clear()
}

// Snapshot returns the current statistics.
func (l *Loader) Snapshot() stats.Snapshot {
	return l.stats.Snapshot()
}

// Gatherer exposes the loader's Prometheus registry.
func (l *Loader) Gatherer() prometheus.Gatherer {
	return l.registry
}

// SecondaryName is the configured secondary backend, or "none".
func (l *Loader) SecondaryName() string {
	if l.secondary == nil {
		return config.BackendNone
	}
	return l.secondary.Name()
}

// NetworkChanged forwards connectivity changes to the dispatcher.
func (l *Loader) NetworkChanged(connected, offline bool) {
	l.dispatcher.NetworkChanged(&source.NetworkState{Connected: connected}, offline)
}

// Close stops the dispatcher and releases backend connections.
func (l *Loader) Close() error {
	errs := []error{l.dispatcher.Close()}
	for _, c := range l.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
