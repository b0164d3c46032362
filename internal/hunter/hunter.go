// Package hunter executes image requests.
//
// A Hunter is the unit of work for one request fingerprint. It walks the
// cache tiers, loads and decodes through the source handler chosen when it
// was created, runs the transform stages inside the transform gate, writes
// the secondary cache and finally reports exactly one outcome to a
// Dispatcher. Requests with the same fingerprint attach to the same Hunter as
// Actions, so concurrent duplicates share one decode.
//
// The hunter never retries on its own. A retryable failure is reported as a
// retry outcome and the dispatcher decides, through ShouldRetry, whether to
// schedule another attempt.
package hunter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/request"
	"github.com/ironsheep/image-loader-mcp/internal/source"
	"github.com/ironsheep/image-loader-mcp/internal/stats"
	"github.com/ironsheep/image-loader-mcp/internal/transform"
)

// State is the lifecycle of a hunter attempt.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateRetrying
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateRetrying:
		return "retrying"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dispatcher receives the outcome of each attempt. Exactly one method is
// called per Run.
type Dispatcher interface {
	DispatchComplete(h *Hunter)
	DispatchFailed(h *Hunter)
	DispatchRetry(h *Hunter)
}

// Deps are the collaborators shared by all hunters.
type Deps struct {
	Cache *cache.Resolver
	Stats *stats.Stats
	// Gate serializes transforms; nil means transform.DefaultGate.
	Gate *transform.Gate
	// Fatal receives transformation contract violations; nil means
	// transform.PanicFatal.
	Fatal transform.FatalFunc
	// MaxPixels bounds the matrix stage output; zero means
	// bitmap.DefaultMaxPixels.
	MaxPixels int64
	Logger    *log.Logger
}

var sequence atomic.Uint64

// Hunter is the unit of work for one fingerprint.
type Hunter struct {
	seq      uint64
	deps     Deps
	handler  source.Handler
	req      *request.Request
	key      string
	cacheKey string
	policy   request.CachePolicy

	mu      sync.Mutex
	action  *Action
	actions []*Action
	future  *Future

	state        atomic.Int32
	retryCount   int
	result       *bitmap.Bitmap
	loadedFrom   cache.LoadedFrom
	exifRotation int
	err          error
}

// ForRequest creates a hunter for action, resolving its source handler from
// table once. The action becomes the hunter's primary action.
func ForRequest(deps Deps, table source.Table, action *Action) (*Hunter, error) {
	handler, err := table.HandlerFor(action.Request)
	if err != nil {
		return nil, err
	}
	return New(deps, handler, action), nil
}

// New creates a hunter that loads through handler.
func New(deps Deps, handler source.Handler, action *Action) *Hunter {
	if deps.Gate == nil {
		deps.Gate = transform.DefaultGate
	}
	if deps.Fatal == nil {
		deps.Fatal = transform.PanicFatal
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Hunter{
		seq:        sequence.Add(1),
		deps:       deps,
		handler:    handler,
		req:        action.Request,
		key:        action.Key,
		cacheKey:   action.Request.CacheKey(),
		policy:     action.Policy(),
		action:     action,
		retryCount: handler.RetryCount(),
	}
}

// Schedule creates the execution handle for the next attempt and resets the
// hunter to Idle. The dispatcher calls it before handing the hunter to a
// worker.
func (h *Hunter) Schedule() *Future {
	f := &Future{}
	h.mu.Lock()
	h.future = f
	h.mu.Unlock()
	h.state.Store(int32(StateIdle))
	return f
}

// Run executes one attempt and reports its outcome to d. An attempt whose
// future was cancelled does nothing.
func (h *Hunter) Run(ctx context.Context, d Dispatcher) {
	h.mu.Lock()
	f := h.future
	h.mu.Unlock()
	if f != nil {
		if !f.start() {
			return
		}
		defer f.finish()
	}

	h.state.Store(int32(StateRunning))
	h.deps.Logger.Debug("executing", "hunter", h.Name(), "request", h.req.Name())

	result, err := h.safeHunt(ctx)
	h.result = result

	switch {
	case err == nil && result != nil:
		h.state.Store(int32(StateSucceeded))
		d.DispatchComplete(h)
		return
	case err == nil:
		err = failure.ErrNoResult
	}

	switch kind := failure.Classify(err); {
	case kind == failure.ResourceExhaustion:
		var dump strings.Builder
		if dumpErr := h.deps.Stats.Snapshot().Dump(&dump); dumpErr != nil {
			dump.WriteString(dumpErr.Error())
		}
		h.err = failure.Exhausted(err, dump.String())
	case kind.Retryable():
		h.err = err
		h.state.Store(int32(StateRetrying))
		d.DispatchRetry(h)
		return
	default:
		h.err = err
	}
	h.state.Store(int32(StateFailed))
	d.DispatchFailed(h)
}

func (h *Hunter) safeHunt(ctx context.Context) (bmp *bitmap.Bitmap, err error) {
	defer func() {
		if r := recover(); r != nil {
			bmp = nil
			if e, ok := r.(error); ok {
				err = fmt.Errorf("hunt panicked: %w", e)
			} else {
				err = fmt.Errorf("hunt panicked: %v", r)
			}
		}
	}()
	return h.Hunt(ctx)
}

// Hunt resolves the request: caches first, then load and decode, then the
// transform stages, then the secondary cache write. A nil bitmap with a nil
// error means there was nothing to deliver, as for a cache-only miss.
func (h *Hunter) Hunt(ctx context.Context) (*bitmap.Bitmap, error) {
	if bmp, from, ok := h.deps.Cache.Resolve(ctx, h.cacheKey, h.policy); ok {
		h.loadedFrom = from
		h.deps.Logger.Debug("decoded", "hunter", h.Name(), "request", h.req.Name(), "from", from)
		return bmp, nil
	}
	if h.policy.CacheOnly {
		return nil, nil
	}

	res, err := h.handler.Load(ctx, h.req)
	if err != nil {
		return nil, err
	}
	h.loadedFrom = res.LoadedFrom
	h.exifRotation = res.ExifRotation
	bmp := res.Bitmap
	if bmp == nil {
		return nil, nil
	}

	h.deps.Logger.Debug("decoded", "hunter", h.Name(), "request", h.req.Name(), "from", h.loadedFrom)
	h.deps.Stats.BitmapDecoded(bmp.SizeBytes())

	if h.req.NeedsTransformation() || h.exifRotation != 0 {
		err := h.deps.Gate.Do(ctx, func() error {
			if h.req.NeedsMatrixTransform() || h.exifRotation != 0 {
				out, err := transform.Matrix(h.req, bmp, h.exifRotation, h.deps.MaxPixels)
				if err != nil {
					return err
				}
				bmp = out
				h.deps.Logger.Debug("transformed", "hunter", h.Name(), "request", h.req.Name())
			}
			if h.req.HasCustomTransformations() {
				out, err := transform.Apply(h.req.Transformations(), bmp, h.deps.Fatal)
				if err != nil {
					return err
				}
				bmp = out
				h.deps.Logger.Debug("transformed", "hunter", h.Name(), "request", h.req.Name(), "custom", true)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if bmp != nil {
			h.deps.Stats.BitmapTransformed(bmp.SizeBytes())
		}
	}

	if bmp != nil {
		h.deps.Cache.Store(ctx, h.cacheKey, bmp, h.loadedFrom)
	}
	return bmp, nil
}

// Attach joins action to this hunter. The first action fills the primary
// slot; later ones go to the overflow list.
func (h *Hunter) Attach(action *Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deps.Logger.Debug("joined", "hunter", h.Name(), "action", action.Name(), "request", action.Request.Name())

	if h.action == nil {
		h.action = action
		return
	}
	if h.actions == nil {
		h.actions = make([]*Action, 0, 3)
	}
	h.actions = append(h.actions, action)
}

// Detach removes action. Clearing the primary slot does not promote an
// overflow action.
func (h *Hunter) Detach(action *Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	detached := false
	if h.action == action {
		h.action = nil
		detached = true
	} else {
		for i, a := range h.actions {
			if a == action {
				h.actions = append(h.actions[:i], h.actions[i+1:]...)
				detached = true
				break
			}
		}
	}
	if detached {
		h.deps.Logger.Debug("removed", "hunter", h.Name(), "action", action.Name(), "request", action.Request.Name())
	}
}

// Cancel cancels the pending attempt. It succeeds only when no action is
// attached and the attempt has not started.
func (h *Hunter) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.action != nil || len(h.actions) > 0 || h.future == nil {
		return false
	}
	if !h.future.Cancel() {
		return false
	}
	h.state.Store(int32(StateCancelled))
	return true
}

// IsCancelled reports whether the current attempt was cancelled.
func (h *Hunter) IsCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.future != nil && h.future.IsCancelled()
}

// ShouldRetry spends one unit of the retry budget and asks the handler
// whether another attempt makes sense. It returns false once the budget is
// exhausted.
func (h *Hunter) ShouldRetry(offline bool, state *source.NetworkState) bool {
	h.mu.Lock()
	hasBudget := h.retryCount > 0
	if hasBudget {
		h.retryCount--
	}
	h.mu.Unlock()

	if !hasBudget {
		return false
	}
	return h.handler.ShouldRetry(offline, state)
}

// SupportsReplay reports whether the handler allows replay after a
// connectivity change.
func (h *Hunter) SupportsReplay() bool {
	return h.handler.SupportsReplay()
}

// Action returns the primary action, which may be nil.
func (h *Hunter) Action() *Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.action
}

// Actions returns a copy of the overflow list.
func (h *Hunter) Actions() []*Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Action(nil), h.actions...)
}

// Attached returns the primary and overflow actions together.
func (h *Hunter) Attached() []*Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Action, 0, 1+len(h.actions))
	if h.action != nil {
		out = append(out, h.action)
	}
	return append(out, h.actions...)
}

// Key is the request fingerprint.
func (h *Hunter) Key() string { return h.key }

// CacheKey is the key the result is cached under.
func (h *Hunter) CacheKey() string { return h.cacheKey }

// Request is the request the hunter was created for.
func (h *Hunter) Request() *request.Request { return h.req }

// Policy is the cache policy of the action that created the hunter.
func (h *Hunter) Policy() request.CachePolicy { return h.policy }

// Result is the bitmap produced by the last attempt.
func (h *Hunter) Result() *bitmap.Bitmap { return h.result }

// LoadedFrom is the provenance of Result.
func (h *Hunter) LoadedFrom() cache.LoadedFrom { return h.loadedFrom }

// ExifRotation is the rotation discovered while decoding.
func (h *Hunter) ExifRotation() int { return h.exifRotation }

// Err is the terminal cause of the last failed or retried attempt.
func (h *Hunter) Err() error { return h.err }

// State is the current lifecycle state.
func (h *Hunter) State() State { return State(h.state.Load()) }

// Future is the current execution handle, nil before Schedule.
func (h *Hunter) Future() *Future {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.future
}

// Name is a short label for logs.
func (h *Hunter) Name() string {
	return fmt.Sprintf("Hunter-%d", h.seq)
}

// IsNoResult reports whether err is the cause recorded when a hunt produced
// nothing without a more specific error.
func IsNoResult(err error) bool {
	return errors.Is(err, failure.ErrNoResult)
}
