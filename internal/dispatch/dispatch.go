// Package dispatch schedules hunters and delivers their outcomes.
//
// All bookkeeping (the in-flight hunter map, parked replay actions and the
// network state) is owned by a single event-loop goroutine; public methods and
// hunter callbacks post closures to it. Hunters run on worker goroutines whose
// concurrency is bounded by a weighted semaphore.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/hunter"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/source"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 3

// ErrClosed is returned once the dispatcher has been closed.
var ErrClosed = errors.New("dispatcher closed")

// Options configures a Dispatcher.
type Options struct {
	// Workers bounds how many hunters run at once.
	Workers int
	// ScanNetwork enables parking failed replayable actions until
	// NetworkChanged reports connectivity.
	ScanNetwork bool
}

// Dispatcher owns the set of in-flight hunters.
type Dispatcher struct {
	deps   hunter.Deps
	table  source.Table
	opts   Options
	logger *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	events  chan func()
	stopped chan struct{}
	workers *semaphore.Weighted
	group   errgroup.Group
	close   sync.Once

	// Loop-owned state.
	hunters map[string]*hunter.Hunter
	failed  map[uuid.UUID]*hunter.Action
	network *source.NetworkState
	offline bool
}

// New starts a dispatcher. deps.Cache must be set; its Memory tier receives
// completed bitmaps.
func New(deps hunter.Deps, table source.Table, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		deps:    deps,
		table:   table,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan func(), 128),
		stopped: make(chan struct{}),
		workers: semaphore.NewWeighted(int64(opts.Workers)),
		hunters: make(map[string]*hunter.Hunter),
		failed:  make(map[uuid.UUID]*hunter.Action),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	for {
		select {
		case fn := <-d.events:
			fn()
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) post(fn func()) error {
	if d.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case d.events <- fn:
		return nil
	case <-d.ctx.Done():
		return ErrClosed
	}
}

// Close stops the event loop and waits for running hunters to return.
// Hunters still waiting for a worker fail with ErrClosed.
func (d *Dispatcher) Close() error {
	d.close.Do(func() {
		d.cancel()
		<-d.stopped
		_ = d.group.Wait()
	})
	return nil
}

// Submit schedules action, attaching it to an in-flight hunter with the same
// key when there is one.
func (d *Dispatcher) Submit(action *hunter.Action) error {
	return d.post(func() { d.performSubmit(action) })
}

// Cancel marks action cancelled and detaches it. The hunter is cancelled too
// when nothing else is attached and it has not started.
func (d *Dispatcher) Cancel(action *hunter.Action) {
	action.Cancel()
	_ = d.post(func() { d.performCancel(action) })
}

// NetworkChanged records connectivity. When connected, actions parked for
// replay are resubmitted.
func (d *Dispatcher) NetworkChanged(state *source.NetworkState, offline bool) {
	_ = d.post(func() { d.performNetworkChange(state, offline) })
}

// InFlight returns the number of hunters currently tracked. It round-trips
// through the event loop, so every earlier Submit and Cancel has been applied.
func (d *Dispatcher) InFlight() int {
	ch := make(chan int, 1)
	if err := d.post(func() { ch <- len(d.hunters) }); err != nil {
		return 0
	}
	select {
	case n := <-ch:
		return n
	case <-d.ctx.Done():
		return 0
	}
}

// Parked returns the number of actions waiting for replay.
func (d *Dispatcher) Parked() int {
	ch := make(chan int, 1)
	if err := d.post(func() { ch <- len(d.failed) }); err != nil {
		return 0
	}
	select {
	case n := <-ch:
		return n
	case <-d.ctx.Done():
		return 0
	}
}

// Load submits req and waits for its first outcome. When ctx ends first the
// action is cancelled and ctx.Err() is returned.
func (d *Dispatcher) Load(ctx context.Context, req *request.Request) (*bitmap.Bitmap, cache.LoadedFrom, error) {
	target := make(chanTarget, 1)
	action := hunter.NewAction(req, target)
	if err := d.Submit(action); err != nil {
		return nil, 0, err
	}

	select {
	case out := <-target:
		return out.bmp, out.from, out.err
	case <-ctx.Done():
		d.Cancel(action)
		return nil, 0, ctx.Err()
	case <-d.ctx.Done():
		return nil, 0, ErrClosed
	}
}

// DispatchComplete implements hunter.Dispatcher.
func (d *Dispatcher) DispatchComplete(h *hunter.Hunter) {
	_ = d.post(func() { d.performComplete(h) })
}

// DispatchFailed implements hunter.Dispatcher.
func (d *Dispatcher) DispatchFailed(h *hunter.Hunter) {
	_ = d.post(func() { d.performError(h) })
}

// DispatchRetry implements hunter.Dispatcher.
func (d *Dispatcher) DispatchRetry(h *hunter.Hunter) {
	_ = d.post(func() { d.performRetry(h) })
}

func (d *Dispatcher) performSubmit(action *hunter.Action) {
	if action.IsCancelled() {
		return
	}
	action.MarkForReplay(false)
	delete(d.failed, action.ID)

	if h, ok := d.hunters[action.Key]; ok {
		h.Attach(action)
		return
	}

	h, err := hunter.ForRequest(d.deps, d.table, action)
	if err != nil {
		d.logger.Warn("rejected request", "action", action.Name(), "request", action.Request.Name(), "err", err)
		action.Fail(err)
		return
	}
	d.hunters[action.Key] = h
	d.schedule(h)
	d.logger.Debug("enqueued", "hunter", h.Name(), "request", action.Request.Name())
}

func (d *Dispatcher) schedule(h *hunter.Hunter) {
	h.Schedule()
	d.group.Go(func() error {
		if err := d.workers.Acquire(d.ctx, 1); err != nil {
			for _, a := range h.Attached() {
				a.Fail(ErrClosed)
			}
			return nil
		}
		defer d.workers.Release(1)
		h.Run(d.ctx, d)
		return nil
	})
}

func (d *Dispatcher) performCancel(action *hunter.Action) {
	if h, ok := d.hunters[action.Key]; ok {
		h.Detach(action)
		if h.Cancel() {
			delete(d.hunters, action.Key)
			d.logger.Debug("canceled", "hunter", h.Name(), "request", action.Request.Name())
		}
	}
	if _, ok := d.failed[action.ID]; ok {
		delete(d.failed, action.ID)
		d.logger.Debug("canceled", "action", action.Name(), "from", "replaying")
	}
}

func (d *Dispatcher) performComplete(h *hunter.Hunter) {
	if !h.Policy().SkipMemory {
		d.deps.Cache.Memory.Set(h.CacheKey(), h.Result())
	}
	d.forget(h)
	d.deliver(h)
	d.logger.Debug("batched", "hunter", h.Name(), "for", "completion")
}

func (d *Dispatcher) performError(h *hunter.Hunter) {
	d.forget(h)
	d.deliver(h)
	d.logger.Debug("batched", "hunter", h.Name(), "for", "error", "err", h.Err())
}

func (d *Dispatcher) performRetry(h *hunter.Hunter) {
	if h.IsCancelled() {
		return
	}
	if d.ctx.Err() != nil {
		d.performError(h)
		return
	}

	shouldRetry := h.ShouldRetry(d.offline, d.network)
	supportsReplay := h.SupportsReplay()

	if !shouldRetry {
		willReplay := d.opts.ScanNetwork && supportsReplay
		d.performError(h)
		if willReplay {
			d.markForReplay(h)
		}
		return
	}

	if !d.opts.ScanNetwork || d.network == nil || d.network.Connected {
		d.logger.Debug("retrying", "hunter", h.Name(), "err", h.Err())
		d.schedule(h)
		return
	}

	d.performError(h)
	if supportsReplay {
		d.markForReplay(h)
	}
}

func (d *Dispatcher) performNetworkChange(state *source.NetworkState, offline bool) {
	d.network = state
	d.offline = offline
	if offline || state == nil || !state.Connected || len(d.failed) == 0 {
		return
	}

	parked := make([]*hunter.Action, 0, len(d.failed))
	for _, a := range d.failed {
		parked = append(parked, a)
	}
	for _, a := range parked {
		delete(d.failed, a.ID)
		if a.IsCancelled() {
			continue
		}
		d.logger.Debug("replaying", "action", a.Name(), "request", a.Request.Name())
		d.performSubmit(a)
	}
}

func (d *Dispatcher) markForReplay(h *hunter.Hunter) {
	for _, a := range h.Attached() {
		if a.IsCancelled() {
			continue
		}
		a.MarkForReplay(true)
		d.failed[a.ID] = a
	}
}

// forget drops h from the in-flight map unless a newer hunter took its key.
func (d *Dispatcher) forget(h *hunter.Hunter) {
	if cur, ok := d.hunters[h.Key()]; ok && cur == h {
		delete(d.hunters, h.Key())
	}
}

func (d *Dispatcher) deliver(h *hunter.Hunter) {
	result, from, err := h.Result(), h.LoadedFrom(), h.Err()
	for _, a := range h.Attached() {
		if result != nil {
			a.Complete(result, from)
		} else {
			a.Fail(err)
		}
	}
}

type outcome struct {
	bmp  *bitmap.Bitmap
	from cache.LoadedFrom
	err  error
}

// chanTarget keeps the first outcome and drops the rest.
type chanTarget chan outcome

func (c chanTarget) Complete(bmp *bitmap.Bitmap, from cache.LoadedFrom) {
	select {
	case c <- outcome{bmp: bmp, from: from}:
	default:
	}
}

func (c chanTarget) Error(err error) {
	select {
	case c <- outcome{err: err}:
	default:
	}
}
