// Package queue implements the action queue (C4): a single-producer,
// single-consumer discipline where at most one Action is ever "in
// flight" between the coordinator emitting it and the boundary adapter
// reporting its Result.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrFull is returned by Enqueue when an Action is already pending and
// unreported.
var ErrFull = errors.New("action queue: previous action still in flight")

// ErrEmpty is returned by Report when no Action is currently outstanding,
// or the reported result doesn't match the pending one.
var ErrEmpty = errors.New("action queue: no action pending")

// Identifiable is the minimal capability an action type must have for the
// queue to track it: a stable identifier.
type Identifiable interface {
	Ident() string
}

// Reporter is the minimal capability a result type must have: the
// identifier of the action it reports on.
type Reporter interface {
	ActionRef() string
}

// ActionQueue holds at most one in-flight action at a time. Enqueue fails
// fast rather than buffering, since a second action can only ever be
// produced by a coordinator bug: the FSM never emits a new action before
// the previous one's result has been reported. It is generic over the
// concrete action/result types so this package carries no dependency on
// the session package that defines them.
type ActionQueue[A Identifiable, R Reporter] struct {
	mu      sync.Mutex
	pending *A
	resultC chan R
}

// New returns an empty ActionQueue.
func New[A Identifiable, R Reporter]() *ActionQueue[A, R] {
	return &ActionQueue[A, R]{resultC: make(chan R, 1)}
}

// Enqueue records a as the single in-flight action. It fails with ErrFull
// if an action is already pending.
func (q *ActionQueue[A, R]) Enqueue(a A) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending != nil {
		return ErrFull
	}
	cp := a
	q.pending = &cp
	return nil
}

// Pending returns the currently in-flight action, if any.
func (q *ActionQueue[A, R]) Pending() (A, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		var zero A
		return zero, false
	}
	return *q.pending, true
}

// Report records the Result for the in-flight action and clears the
// pending slot, unblocking any Wait call.
func (q *ActionQueue[A, R]) Report(ctx context.Context, r R) error {
	q.mu.Lock()
	if q.pending == nil || (*q.pending).Ident() != r.ActionRef() {
		q.mu.Unlock()
		return ErrEmpty
	}
	q.pending = nil
	q.mu.Unlock()

	select {
	case q.resultC <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until a Result is reported for the in-flight action, or ctx
// is done.
func (q *ActionQueue[A, R]) Wait(ctx context.Context) (R, error) {
	select {
	case r := <-q.resultC:
		return r, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Drain clears any in-flight action without a Result ever arriving for it,
// used on session cancellation (§4.4, §5) so a cancelled session's queue
// doesn't hold a pending action that will never be reported.
func (q *ActionQueue[A, R]) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// IsEmpty reports whether no action is currently in flight.
func (q *ActionQueue[A, R]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending == nil
}
