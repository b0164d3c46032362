package dispatch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/hunter"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/source"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

const waitFor = 2 * time.Second

func createInMemoryBitmap(width, height int, c color.Color) *bitmap.Bitmap {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return bitmap.New(img)
}

// scriptedHandler serves every network URI. attempt is called with the
// 1-based attempt number for the URI.
type scriptedHandler struct {
	attempt func(ctx context.Context, uri string, n int) (source.Result, error)
	retries int
	retry   bool
	replay  bool

	mu    sync.Mutex
	loads map[string]int
}

func (s *scriptedHandler) CanHandle(*request.Request) bool { return true }

func (s *scriptedHandler) Load(ctx context.Context, req *request.Request) (source.Result, error) {
	s.mu.Lock()
	if s.loads == nil {
		s.loads = map[string]int{}
	}
	s.loads[req.URI()]++
	n := s.loads[req.URI()]
	s.mu.Unlock()
	return s.attempt(ctx, req.URI(), n)
}

func (s *scriptedHandler) RetryCount() int                             { return s.retries }
func (s *scriptedHandler) ShouldRetry(bool, *source.NetworkState) bool { return s.retry }
func (s *scriptedHandler) SupportsReplay() bool                        { return s.replay }

func (s *scriptedHandler) loadsOf(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[uri]
}

func succeeds(context.Context, string, int) (source.Result, error) {
	return source.Result{Bitmap: createInMemoryBitmap(2, 2, color.White), LoadedFrom: cache.Network}, nil
}

// blocking returns an attempt func that signals started and waits for release.
func blocking(started chan<- string, release <-chan struct{}) func(context.Context, string, int) (source.Result, error) {
	return func(ctx context.Context, uri string, n int) (source.Result, error) {
		started <- uri
		select {
		case <-release:
			return succeeds(ctx, uri, n)
		case <-ctx.Done():
			return source.Result{}, ctx.Err()
		}
	}
}

type recorder struct {
	ch chan outcome
}

func newRecorder() *recorder { return &recorder{ch: make(chan outcome, 8)} }

func (r *recorder) Complete(bmp *bitmap.Bitmap, from cache.LoadedFrom) {
	r.ch <- outcome{bmp: bmp, from: from}
}

func (r *recorder) Error(err error) { r.ch <- outcome{err: err} }

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an outcome")
		return outcome{}
	}
}

func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case o := <-r.ch:
		t.Errorf("unexpected outcome: %+v", o)
	default:
	}
}

type fixture struct {
	d       *Dispatcher
	memory  *cache.MemoryCache
	handler *scriptedHandler
}

func newFixture(t *testing.T, handler *scriptedHandler, opts Options) *fixture {
	t.Helper()
	mem, err := cache.NewMemoryCache(16)
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	st := stats.MustNew(mem)
	logger := log.New(io.Discard)
	deps := hunter.Deps{
		Cache:  &cache.Resolver{Memory: mem, Stats: st, Logger: logger},
		Stats:  st,
		Gate:   transform.NewGate(),
		Logger: logger,
	}
	d := New(deps, source.Table{source.KindNetwork: handler}, opts)
	t.Cleanup(func() { d.Close() })
	return &fixture{d: d, memory: mem, handler: handler}
}

func newAction(t *testing.T, uri string, target hunter.Target) *hunter.Action {
	t.Helper()
	req, err := request.NewBuilder(uri).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return hunter.NewAction(req, target)
}

func buildRequest(t *testing.T, uri string) *request.Request {
	t.Helper()
	req, err := request.NewBuilder(uri).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return req
}

func TestSubmit_DeduplicatesByKey(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	f := newFixture(t, &scriptedHandler{attempt: blocking(started, release)}, Options{Workers: 4})

	const uri = "https://example.com/a.png"
	recorders := make([]*recorder, 5)
	for i := range recorders {
		recorders[i] = newRecorder()
		if err := f.d.Submit(newAction(t, uri, recorders[i])); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if n := f.d.InFlight(); n != 1 {
		t.Fatalf("InFlight = %d, want 1", n)
	}
	close(release)

	var first *bitmap.Bitmap
	for i, r := range recorders {
		o := r.wait(t)
		if o.err != nil {
			t.Fatalf("action %d failed: %v", i, o.err)
		}
		if o.from != cache.Network {
			t.Errorf("action %d loaded from %s, want NETWORK", i, o.from)
		}
		if first == nil {
			first = o.bmp
		} else if o.bmp != first {
			t.Errorf("action %d got a different bitmap", i)
		}
	}
	if n := f.handler.loadsOf(uri); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
	if n := f.d.InFlight(); n != 0 {
		t.Errorf("InFlight after completion = %d, want 0", n)
	}
}

func TestLoad_SecondLoadHitsMemory(t *testing.T) {
	f := newFixture(t, &scriptedHandler{attempt: succeeds}, Options{})
	req := buildRequest(t, "https://example.com/a.png")

	first, from, err := f.d.Load(context.Background(), req)
	if err != nil || from != cache.Network {
		t.Fatalf("first Load = (%s, %v), want NETWORK", from, err)
	}
	second, from, err := f.d.Load(context.Background(), req)
	if err != nil || from != cache.Memory {
		t.Fatalf("second Load = (%s, %v), want MEMORY", from, err)
	}
	if first != second {
		t.Error("memory hit should return the cached bitmap")
	}
	if n := f.handler.loadsOf(req.URI()); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

func TestLoad_SkipMemoryIsNotCached(t *testing.T) {
	f := newFixture(t, &scriptedHandler{attempt: succeeds}, Options{})
	req, err := request.NewBuilder("https://example.com/a.png").
		Policy(request.CachePolicy{SkipMemory: true}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if _, _, err := f.d.Load(context.Background(), req); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.memory.Len() != 0 {
		t.Errorf("memory cache holds %d entries, want 0", f.memory.Len())
	}
}

func TestFailure_DeliveredToEveryAction(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	permanent := failure.New(failure.PermanentTransport, "fetch", failure.ResponseFor(404))
	handler := &scriptedHandler{attempt: func(ctx context.Context, uri string, n int) (source.Result, error) {
		started <- uri
		<-release
		return source.Result{}, permanent
	}}
	f := newFixture(t, handler, Options{})

	a, b := newRecorder(), newRecorder()
	for _, r := range []*recorder{a, b} {
		if err := f.d.Submit(newAction(t, "https://example.com/missing.png", r)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	f.d.InFlight()
	close(release)

	for _, r := range []*recorder{a, b} {
		o := r.wait(t)
		if !errors.Is(o.err, permanent) {
			t.Errorf("got %v, want the permanent failure", o.err)
		}
	}
}

func TestRetry(t *testing.T) {
	transient := failure.New(failure.RetryableTransport, "fetch", failure.ResponseFor(503))
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantLoads int
	}{
		{"succeeds after transient failures", 2, false, 3},
		{"budget exhausted", 10, true, 3},
		{"no failures", 0, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &scriptedHandler{
				retries: 2,
				retry:   true,
				attempt: func(ctx context.Context, uri string, n int) (source.Result, error) {
					if n <= tt.failures {
						return source.Result{}, transient
					}
					return succeeds(ctx, uri, n)
				},
			}
			f := newFixture(t, handler, Options{})
			req := buildRequest(t, "https://example.com/flaky.png")

			_, _, err := f.d.Load(context.Background(), req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && failure.Classify(err) != failure.RetryableTransport {
				t.Errorf("error kind = %s, want retryable transport", failure.Classify(err))
			}
			if n := handler.loadsOf(req.URI()); n != tt.wantLoads {
				t.Errorf("loads = %d, want %d", n, tt.wantLoads)
			}
		})
	}
}

func TestRetry_HandlerRefusalFailsImmediately(t *testing.T) {
	transient := failure.New(failure.RetryableTransport, "fetch", failure.ResponseFor(503))
	handler := &scriptedHandler{
		retries: 2,
		retry:   false,
		attempt: func(context.Context, string, int) (source.Result, error) { return source.Result{}, transient },
	}
	f := newFixture(t, handler, Options{})
	req := buildRequest(t, "https://example.com/flaky.png")

	if _, _, err := f.d.Load(context.Background(), req); !errors.Is(err, transient) {
		t.Fatalf("Load error = %v, want the transient failure", err)
	}
	if n := handler.loadsOf(req.URI()); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

func TestReplay_OnNetworkChange(t *testing.T) {
	var online atomic.Bool
	transient := failure.New(failure.RetryableTransport, "fetch", errors.New("connection reset"))
	handler := &scriptedHandler{
		retries: 2,
		retry:   true,
		replay:  true,
		attempt: func(ctx context.Context, uri string, n int) (source.Result, error) {
			if !online.Load() {
				return source.Result{}, transient
			}
			return succeeds(ctx, uri, n)
		},
	}
	f := newFixture(t, handler, Options{ScanNetwork: true})
	f.d.NetworkChanged(&source.NetworkState{Connected: false}, false)

	r := newRecorder()
	action := newAction(t, "https://example.com/a.png", r)
	if err := f.d.Submit(action); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if o := r.wait(t); !errors.Is(o.err, transient) {
		t.Fatalf("first outcome = %+v, want the transient failure", o)
	}
	if n := f.d.Parked(); n != 1 {
		t.Fatalf("Parked = %d, want 1", n)
	}
	if !action.WillReplay() {
		t.Error("parked action should be marked for replay")
	}

	online.Store(true)
	f.d.NetworkChanged(&source.NetworkState{Connected: true}, false)

	o := r.wait(t)
	if o.err != nil || o.bmp == nil {
		t.Fatalf("replayed outcome = %+v, want a bitmap", o)
	}
	if action.WillReplay() {
		t.Error("replayed action should no longer be marked")
	}
	if n := f.d.Parked(); n != 0 {
		t.Errorf("Parked after replay = %d, want 0", n)
	}
}

func TestReplay_CancelledActionIsDropped(t *testing.T) {
	transient := failure.New(failure.RetryableTransport, "fetch", errors.New("connection reset"))
	handler := &scriptedHandler{
		retries: 1,
		retry:   true,
		replay:  true,
		attempt: func(context.Context, string, int) (source.Result, error) { return source.Result{}, transient },
	}
	f := newFixture(t, handler, Options{ScanNetwork: true})
	f.d.NetworkChanged(&source.NetworkState{Connected: false}, false)

	r := newRecorder()
	action := newAction(t, "https://example.com/a.png", r)
	if err := f.d.Submit(action); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	r.wait(t)

	f.d.Cancel(action)
	if n := f.d.Parked(); n != 0 {
		t.Errorf("Parked after cancel = %d, want 0", n)
	}
	f.d.NetworkChanged(&source.NetworkState{Connected: true}, false)
	f.d.InFlight()
	if n := handler.loadsOf("https://example.com/a.png"); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

func TestCancel_QueuedHunterNeverRuns(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	f := newFixture(t, &scriptedHandler{attempt: blocking(started, release)}, Options{Workers: 1})

	busy := newRecorder()
	if err := f.d.Submit(newAction(t, "https://example.com/busy.png", busy)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("first hunter never started")
	}

	queued := newRecorder()
	action := newAction(t, "https://example.com/queued.png", queued)
	if err := f.d.Submit(action); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	f.d.Cancel(action)
	if n := f.d.InFlight(); n != 1 {
		t.Errorf("InFlight = %d, want 1", n)
	}

	close(release)
	if o := busy.wait(t); o.err != nil {
		t.Fatalf("busy action failed: %v", o.err)
	}
	f.d.Close()

	if n := f.handler.loadsOf("https://example.com/queued.png"); n != 0 {
		t.Errorf("cancelled hunter loaded %d times", n)
	}
	queued.quiet(t)
}

func TestCancel_OtherActionsStillDelivered(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	f := newFixture(t, &scriptedHandler{attempt: blocking(started, release)}, Options{})

	const uri = "https://example.com/a.png"
	gone, kept := newRecorder(), newRecorder()
	cancelled := newAction(t, uri, gone)
	for _, a := range []*hunter.Action{cancelled, newAction(t, uri, kept)} {
		if err := f.d.Submit(a); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	f.d.Cancel(cancelled)
	if n := f.d.InFlight(); n != 1 {
		t.Fatalf("InFlight = %d, want 1", n)
	}
	close(release)

	if o := kept.wait(t); o.err != nil {
		t.Fatalf("remaining action failed: %v", o.err)
	}
	gone.quiet(t)
}

func TestLoad_ContextDeadline(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, &scriptedHandler{attempt: blocking(started, release)}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := f.d.Load(ctx, buildRequest(t, "https://example.com/slow.png"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Load error = %v, want deadline exceeded", err)
	}
}

func TestLoad_UnknownScheme(t *testing.T) {
	f := newFixture(t, &scriptedHandler{attempt: succeeds}, Options{})

	_, _, err := f.d.Load(context.Background(), buildRequest(t, "ftp://example.com/a.png"))
	if err == nil || !strings.Contains(err.Error(), "unrecognized type of request") {
		t.Errorf("Load error = %v, want unrecognized type of request", err)
	}
	if n := f.d.InFlight(); n != 0 {
		t.Errorf("InFlight = %d, want 0", n)
	}
}

func TestClosed(t *testing.T) {
	f := newFixture(t, &scriptedHandler{attempt: succeeds}, Options{})
	if err := f.d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := f.d.Submit(newAction(t, "https://example.com/a.png", nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
	if _, _, err := f.d.Load(context.Background(), buildRequest(t, "https://example.com/a.png")); !errors.Is(err, ErrClosed) {
		t.Errorf("Load after Close = %v, want ErrClosed", err)
	}
	if n := f.d.InFlight(); n != 0 {
		t.Errorf("InFlight after Close = %d, want 0", n)
	}
}

func TestSubmit_PoliciesDoNotMerge(t *testing.T) {
	started := make(chan string, 4)
	release := make(chan struct{})
	f := newFixture(t, &scriptedHandler{attempt: blocking(started, release)}, Options{Workers: 1})

	busy := newRecorder()
	if err := f.d.Submit(newAction(t, "https://example.com/busy.png", busy)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	const uri = "https://example.com/a.png"
	cacheOnlyReq, err := request.NewBuilder(uri).Policy(request.CachePolicy{CacheOnly: true}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cacheOnly, normal := newRecorder(), newRecorder()
	if err := f.d.Submit(hunter.NewAction(cacheOnlyReq, cacheOnly)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := f.d.Submit(newAction(t, uri, normal)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if n := f.d.InFlight(); n != 3 {
		t.Fatalf("InFlight = %d, want 3", n)
	}
	close(release)

	if o := busy.wait(t); o.err != nil {
		t.Fatalf("busy action failed: %v", o.err)
	}
	if o := cacheOnly.wait(t); !errors.Is(o.err, failure.ErrNoResult) {
		t.Errorf("cache-only action: err = %v, want ErrNoResult", o.err)
	}
	o := normal.wait(t)
	if o.err != nil {
		t.Fatalf("normal action failed: %v", o.err)
	}
	if o.from != cache.Network {
		t.Errorf("normal action loaded from %s, want NETWORK", o.from)
	}
	if n := f.handler.loadsOf(uri); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}

func TestLoad_PolicyVariantsShareCacheEntry(t *testing.T) {
	f := newFixture(t, &scriptedHandler{attempt: succeeds}, Options{})
	const uri = "https://example.com/a.png"

	if _, from, err := f.d.Load(context.Background(), buildRequest(t, uri)); err != nil || from != cache.Network {
		t.Fatalf("first load: from=%s err=%v", from, err)
	}
	req, err := request.NewBuilder(uri).Policy(request.CachePolicy{CacheOnly: true}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, from, err := f.d.Load(context.Background(), req); err != nil || from != cache.Memory {
		t.Errorf("cache-only load: from=%s err=%v, want MEMORY", from, err)
	}
	if n := f.handler.loadsOf(uri); n != 1 {
		t.Errorf("loads = %d, want 1", n)
	}
}
