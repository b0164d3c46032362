// Package transform turns a decoded bitmap into the bitmap a request asked
// for: the geometry matrix first, then the caller's transformation chain.
//
// Transforms allocate full-size pixel buffers, so they run one at a time
// through a Gate. Decodes and fetches are not gated.
package transform

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate admits one transform at a time.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// DefaultGate is shared by every hunter that is not given its own.
var DefaultGate = NewGate()

// Do runs fn while holding the gate. It returns ctx.Err() without running fn
// if ctx ends first.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}
