// Package stats counts what the loading pipeline does and produces
// point-in-time snapshots of those counters.
//
// Recording is fire-and-forget: every method is safe for concurrent use and
// never blocks on anything but an atomic add. When a Prometheus registerer is
// supplied, each counter is mirrored into a Prometheus collector as well.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sizer reports the fill level of the primary cache for snapshots.
type Sizer interface {
	Len() int
	MaxLen() int
}

// Stats is the statistics sink shared by all hunters.
type Stats struct {
	cache Sizer

	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	diskHits       atomic.Int64
	diskMisses     atomic.Int64
	downloadCount  atomic.Int64
	downloadBytes  atomic.Int64
	decodedCount   atomic.Int64
	decodedBytes   atomic.Int64
	transformCount atomic.Int64
	transformBytes atomic.Int64

	prom *promCollectors
}

type promCollectors struct {
	lookups *prometheus.CounterVec
	bitmaps *prometheus.CounterVec
	bytes   *prometheus.CounterVec
}

// New creates a Stats sink. cache may be nil. When reg is nil no Prometheus
// collectors are registered.
func New(cache Sizer, reg prometheus.Registerer) (*Stats, error) {
	s := &Stats{cache: cache}
	if reg == nil {
		return s, nil
	}

	pc := &promCollectors{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_loader",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		bitmaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_loader",
			Name:      "bitmaps_total",
			Help:      "Bitmaps produced by stage.",
		}, []string{"stage"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "image_loader",
			Name:      "bytes_total",
			Help:      "Bytes handled by stage.",
		}, []string{"stage"}),
	}
	collectors := []*prometheus.CounterVec{pc.lookups, pc.bitmaps, pc.bytes}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, fmt.Errorf("register stats metric: %w", err)
			}
			collectors[i] = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	pc.lookups, pc.bitmaps, pc.bytes = collectors[0], collectors[1], collectors[2]
	s.prom = pc
	return s, nil
}

// MustNew is New without a registerer; it cannot fail.
func MustNew(cache Sizer) *Stats {
	s, _ := New(cache, nil)
	return s
}

// CacheHit records a primary cache hit.
func (s *Stats) CacheHit() {
	s.cacheHits.Add(1)
	s.lookup("memory", "hit")
}

// CacheMiss records a primary cache miss.
func (s *Stats) CacheMiss() {
	s.cacheMisses.Add(1)
	s.lookup("memory", "miss")
}

// DiskHit records a secondary cache hit.
func (s *Stats) DiskHit() {
	s.diskHits.Add(1)
	s.lookup("disk", "hit")
}

// DiskMiss records a secondary cache miss.
func (s *Stats) DiskMiss() {
	s.diskMisses.Add(1)
	s.lookup("disk", "miss")
}

// DownloadFinished records the size of a fetched payload.
func (s *Stats) DownloadFinished(size int64) {
	s.downloadCount.Add(1)
	s.downloadBytes.Add(size)
	s.stage("download", size)
}

// BitmapDecoded records a freshly decoded bitmap of size bytes.
func (s *Stats) BitmapDecoded(size int64) {
	s.decodedCount.Add(1)
	s.decodedBytes.Add(size)
	s.stage("decoded", size)
}

// BitmapTransformed records a transformed bitmap of size bytes.
func (s *Stats) BitmapTransformed(size int64) {
	s.transformCount.Add(1)
	s.transformBytes.Add(size)
	s.stage("transformed", size)
}

func (s *Stats) lookup(tier, result string) {
	if s.prom != nil {
		s.prom.lookups.WithLabelValues(tier, result).Inc()
	}
}

func (s *Stats) stage(stage string, size int64) {
	if s.prom != nil {
		s.prom.bitmaps.WithLabelValues(stage).Inc()
		s.prom.bytes.WithLabelValues(stage).Add(float64(size))
	}
}

// Snapshot captures the current counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		CacheHits:                  s.cacheHits.Load(),
		CacheMisses:                s.cacheMisses.Load(),
		DiskHits:                   s.diskHits.Load(),
		DiskMisses:                 s.diskMisses.Load(),
		DownloadCount:              s.downloadCount.Load(),
		TotalDownloadSize:          s.downloadBytes.Load(),
		OriginalBitmapCount:        s.decodedCount.Load(),
		TotalOriginalBitmapSize:    s.decodedBytes.Load(),
		TransformedBitmapCount:     s.transformCount.Load(),
		TotalTransformedBitmapSize: s.transformBytes.Load(),
		Timestamp:                  time.Now(),
	}
	if s.cache != nil {
		snap.Size = s.cache.Len()
		snap.MaxSize = s.cache.MaxLen()
	}
	snap.AverageDownloadSize = average(snap.TotalDownloadSize, snap.DownloadCount)
	snap.AverageOriginalBitmapSize = average(snap.TotalOriginalBitmapSize, snap.OriginalBitmapCount)
	snap.AverageTransformedBitmapSize = average(snap.TotalTransformedBitmapSize, snap.TransformedBitmapCount)
	return snap
}

func average(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}
