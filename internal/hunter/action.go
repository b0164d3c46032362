package hunter

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/cache"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// Target receives the outcome of an Action. Calls happen on the dispatcher's
// goroutine and must not block. An action parked for replay may see an Error
// followed later by the outcome of the replayed attempt.
type Target interface {
	Complete(bmp *bitmap.Bitmap, from cache.LoadedFrom)
	Error(err error)
}

// Action is one caller's interest in a request. Several actions may share a
// hunter; an action never refers to its hunter.
type Action struct {
	ID      uuid.UUID
	Request *request.Request
	Key     string

	SkipMemory bool
	SkipDisk   bool
	CacheOnly  bool

	Target Target

	cancelled  atomic.Bool
	willReplay atomic.Bool
}

// NewAction creates an action for req, mirroring its cache flags.
func NewAction(req *request.Request, target Target) *Action {
	p := req.Policy()
	return &Action{
		ID:         uuid.New(),
		Request:    req,
		Key:        req.Key(),
		SkipMemory: p.SkipMemory,
		SkipDisk:   p.SkipDisk,
		CacheOnly:  p.CacheOnly,
		Target:     target,
	}
}

// Policy rebuilds the cache policy from the mirrored flags.
func (a *Action) Policy() request.CachePolicy {
	return request.CachePolicy{SkipMemory: a.SkipMemory, SkipDisk: a.SkipDisk, CacheOnly: a.CacheOnly}
}

// Cancel marks the action so that no outcome is delivered to it.
func (a *Action) Cancel() { a.cancelled.Store(true) }

// IsCancelled reports whether Cancel was called.
func (a *Action) IsCancelled() bool { return a.cancelled.Load() }

// MarkForReplay records that the action will be resubmitted when
// connectivity returns.
func (a *Action) MarkForReplay(v bool) { a.willReplay.Store(v) }

// WillReplay reports whether the action is parked for replay.
func (a *Action) WillReplay() bool { return a.willReplay.Load() }

// Complete delivers a result unless the action was cancelled. It reports
// whether delivery happened.
func (a *Action) Complete(bmp *bitmap.Bitmap, from cache.LoadedFrom) bool {
	if a.IsCancelled() {
		return false
	}
	if a.Target != nil {
		a.Target.Complete(bmp, from)
	}
	return true
}

// Fail delivers err unless the action was cancelled. It reports whether
// delivery happened.
func (a *Action) Fail(err error) bool {
	if a.IsCancelled() {
		return false
	}
	if a.Target != nil {
		a.Target.Error(err)
	}
	return true
}

// Name is a short label for logs.
func (a *Action) Name() string {
	return a.ID.String()[:8]
}
