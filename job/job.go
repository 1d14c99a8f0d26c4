package job

import (
	"context"

	"github.com/google/uuid"

	"github.com/ygrebnov/corok/cerr"
)

// Job is a node in the structured-concurrency job tree (spec.md §3).
// A Job is active once started and until it is Final (a New job is not
// active); it completes
// only after every child it owns has completed (I2).
type Job interface {
	// ID returns a stable correlation identifier, used by observe.Event.Data
	// and by debugging/log output. Grounded on SPEC_FULL.md §3's wiring of
	// github.com/google/uuid into job correlation.
	ID() uuid.UUID

	// Name returns the job's CoroutineName, or "" if unset.
	Name() string

	// Start transitions New -> Active. Returns true the first time it
	// actually starts the job, false on every subsequent call (idempotent).
	Start() bool

	// Cancel initiates cancellation with the given cause (nil means "no
	// specific cause"; a CancellationError is synthesized). It records
	// intent and returns immediately — it never waits for children.
	// Calling Cancel on an already-cancelling or Final job is a no-op.
	Cancel(cause error)

	// Join blocks until the Job reaches a Final state, or ctx is done
	// first (in which case ctx.Err() is returned). Join never returns an
	// error for a job that completed normally or was cancelled — only a
	// non-cancellation business failure or a context deadline surfaces as
	// an error, matching spec.md §4.2's "join() suspends ... no exception
	// on cancellation".
	Join(ctx context.Context) error

	// IsActive reports whether the job has been started and is not Final;
	// a job still in the New state is not active.
	IsActive() bool

	// IsCompleted reports whether the job has reached a Final state.
	IsCompleted() bool

	// IsCancelled reports whether cancellation has been requested (even if
	// the job has not yet reached Final).
	IsCancelled() bool

	// EnsureActive returns the job's CancellationError if cancellation has
	// been requested, nil otherwise — a cheap mid-body check distinct from
	// a full suspension point (SPEC_FULL.md §4, "ensureActive").
	EnsureActive() error

	// CancellationCause returns the canonical cancellation exception once
	// cancellation has started, caching it across calls (spec.md §4.2
	// getCancellationException).
	CancellationCause() *cerr.CancellationError

	// Children returns a snapshot of the job's current children.
	Children() []Job

	// InvokeOnCompletion registers a completion handler and returns a
	// DisposableHandle that deregisters it. If the job is already past the
	// requested phase, the handler runs synchronously iff invokeImmediately
	// was supplied (spec.md §4.2).
	InvokeOnCompletion(handler func(cause error), opts ...HandlerOption) DisposableHandle

	// AttachChild registers child as a structural child of this job and
	// returns the handle the child should dispose when it detaches
	// (spec.md §4.2, §9 "Cyclic job graph").
	AttachChild(child Job) ChildHandle

	// Complete is invoked by package corok's builders (Launch, Async,
	// WithTimeout and the scope runners) when the coroutine body returns,
	// carrying nil (normal completion) or the body's failure.
	Complete(result error)
}

// DisposableHandle is returned by registration APIs (InvokeOnCompletion,
// AttachChild) and deregisters the registration when disposed.
type DisposableHandle interface {
	Dispose()
}

// ChildHandle is the DisposableHandle a child stores after AttachChild.
// Disposing it detaches the child from the parent's cancellation-
// propagation list; it does not, by itself, mark the child as completed
// (the child must still call Complete).
type ChildHandle interface {
	DisposableHandle
}

type disposableFunc func()

func (f disposableFunc) Dispose() {
	if f != nil {
		f()
	}
}

var noopHandle DisposableHandle = disposableFunc(nil)
