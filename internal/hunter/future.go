package hunter

import "sync/atomic"

type futureState int32

const (
	futurePending futureState = iota
	futureRunning
	futureDone
	futureCancelled
)

// Future is the execution handle of one scheduled attempt of a hunter. It can
// be cancelled only while the attempt has not started.
type Future struct {
	state atomic.Int32
}

// Cancel prevents a pending attempt from running. It returns false once the
// attempt has started, finished or was already cancelled.
func (f *Future) Cancel() bool {
	return f.state.CompareAndSwap(int32(futurePending), int32(futureCancelled))
}

// IsCancelled reports whether Cancel succeeded.
func (f *Future) IsCancelled() bool {
	return futureState(f.state.Load()) == futureCancelled
}

// IsDone reports whether the attempt ran to completion.
func (f *Future) IsDone() bool {
	return futureState(f.state.Load()) == futureDone
}

func (f *Future) start() bool {
	return f.state.CompareAndSwap(int32(futurePending), int32(futureRunning))
}

func (f *Future) finish() {
	f.state.Store(int32(futureDone))
}
