package corok

import (
	"context"

	"github.com/ygrebnov/corok/job"
)

// corok reuses context.Context directly as its coroutine context carrier
// (spec.md §3's "Coroutine Context: an immutable, persistent, key-value
// collection") instead of inventing a parallel generic element map —
// context.Context already satisfies the stated invariants: immutable,
// key-based lookup, and right-hand-side-wins on WithValue chaining. The
// helpers below are the typed accessors spec.md's named elements (Job,
// Dispatcher, CoroutineExceptionHandler, CoroutineName, NonCancellable)
// would otherwise require a bespoke Element/Key type for.

type contextKey int

const (
	jobKey contextKey = iota
	dispatcherKey
	exceptionHandlerKey
	nameKey
)

// WithJob attaches j as the context's current Job.
func WithJob(ctx context.Context, j job.Job) context.Context {
	return context.WithValue(ctx, jobKey, j)
}

// JobFromContext returns the context's current Job, or nil if none is set.
func JobFromContext(ctx context.Context) job.Job {
	j, _ := ctx.Value(jobKey).(job.Job)
	return j
}

// WithDispatcher attaches d as the context's current Dispatcher.
func WithDispatcher(ctx context.Context, d Dispatcher) context.Context {
	return context.WithValue(ctx, dispatcherKey, d)
}

// DispatcherFromContext returns the context's current Dispatcher, or
// ImmediateDispatcher{} if none is set.
func DispatcherFromContext(ctx context.Context) Dispatcher {
	d, ok := ctx.Value(dispatcherKey).(Dispatcher)
	if !ok {
		return ImmediateDispatcher{}
	}
	return d
}

// ExceptionHandler receives business failures that reach the top of a job
// tree with no caller positioned to observe them synchronously (spec.md §7
// "Handler/internal exceptions ... delivered to the context's
// CoroutineExceptionHandler; if absent, to a platform default").
type ExceptionHandler func(ctx context.Context, err error)

// WithExceptionHandler attaches h as the context's exception handler.
func WithExceptionHandler(ctx context.Context, h ExceptionHandler) context.Context {
	return context.WithValue(ctx, exceptionHandlerKey, h)
}

// ExceptionHandlerFromContext returns the context's exception handler, or a
// platform default if none is set. The default discards the error: it emits
// no observe.Event and logs nothing. The returned function is never nil.
func ExceptionHandlerFromContext(ctx context.Context) ExceptionHandler {
	h, ok := ctx.Value(exceptionHandlerKey).(ExceptionHandler)
	if ok && h != nil {
		return h
	}
	return defaultExceptionHandler
}

func defaultExceptionHandler(_ context.Context, _ error) {
	// Platform default: swallow. Callers that care register a handler via
	// WithExceptionHandler; this module never logs on the caller's behalf
	// without an Observer having been explicitly configured (see pool and
	// job.Config.Observer).
}

// WithName attaches a CoroutineName to the context (spec.md §3's "optional
// name/ID"; surfaced in observe.Event.Source).
func WithName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, nameKey, name)
}

// NameFromContext returns the context's CoroutineName, or "" if unset.
func NameFromContext(ctx context.Context) string {
	n, _ := ctx.Value(nameKey).(string)
	return n
}
