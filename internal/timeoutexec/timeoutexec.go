// Package timeoutexec implements the gateway's timeout-bound executor:
// one in-flight entry per id, each owning a cancellation token
// (a context.Context) and a deadline alarm. This is plain stdlib
// context/time — no library in the broader ecosystem packages "named
// cancellable work with a deadline alarm and an external Cancel(id)" as a
// reusable unit, and context.Context is already the idiomatic Go answer
// for cancellation, so inventing a parallel cancellation-token type would
// cut against that idiom rather than follow it.
package timeoutexec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nethalo/queryguard/internal/gwerrors"
)

// Work is the unit of cancellable execution. It must observe ctx
// cooperatively; the executor never forcibly interrupts it.
type Work func(ctx context.Context) (any, error)

type entry struct {
	cancel  context.CancelFunc
	timedOut atomic.Bool
}

// Executor tracks in-flight work keyed by id. Safe for concurrent use.
type Executor struct {
	mu       sync.Mutex
	inflight map[string]*entry
}

// New creates an empty Executor.
func New() *Executor {
	return &Executor{inflight: make(map[string]*entry)}
}

// Execute runs work under a deadline of timeoutMs, registering id in the
// in-flight map for the duration. It returns work's result on completion,
// *gwerrors.TimeoutError if the deadline fired first, *gwerrors.CancelledError
// if Cancel(id)/CancelAll() triggered the token, or the work's error wrapped
// in *gwerrors.ExecutionFailedError otherwise.
func (e *Executor) Execute(ctx context.Context, id string, timeoutMs int, work Work) (any, error) {
	childCtx, cancel := context.WithCancel(ctx)
	ent := &entry{cancel: cancel}

	e.mu.Lock()
	e.inflight[id] = ent
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
		cancel()
	}()

	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		ent.timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	result, err := work(childCtx)
	if err == nil {
		return result, nil
	}

	if ent.timedOut.Load() {
		return nil, &gwerrors.TimeoutError{TimeoutMs: timeoutMs}
	}
	if childCtx.Err() == context.Canceled {
		return nil, &gwerrors.CancelledError{QueryID: id}
	}
	return nil, &gwerrors.ExecutionFailedError{Underlying: err}
}

// Cancel triggers the cancellation token for id's in-flight work, if any,
// and reports whether one was found.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	ent, ok := e.inflight[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	ent.cancel()
	return true
}

// CancelAll triggers every in-flight token and returns how many were
// cancelled.
func (e *Executor) CancelAll() int {
	e.mu.Lock()
	entries := make([]*entry, 0, len(e.inflight))
	for _, ent := range e.inflight {
		entries = append(entries, ent)
	}
	e.mu.Unlock()

	for _, ent := range entries {
		ent.cancel()
	}
	return len(entries)
}

// InFlight returns the number of currently registered entries.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}
