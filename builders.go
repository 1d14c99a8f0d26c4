package corok

import (
	"context"
	"fmt"

	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/job"
	"github.com/ygrebnov/corok/metrics"
	"github.com/ygrebnov/corok/observe"
)

// ScopeOption configures CoroutineScope/SupervisorScope/Launch/Async,
// following the teacher's functional-options idiom (options.go).
type ScopeOption func(*scopeOptions)

type scopeOptions struct {
	name       string
	dispatcher Dispatcher
	observer   observe.Observer
	metrics    metrics.Provider
}

// WithScopeName sets the child Job's CoroutineName.
func WithScopeName(name string) ScopeOption {
	return func(o *scopeOptions) { o.name = name }
}

// WithScopeDispatcher overrides the dispatcher the new scope/coroutine runs
// on, instead of inheriting the one already in ctx.
func WithScopeDispatcher(d Dispatcher) ScopeOption {
	return func(o *scopeOptions) { o.dispatcher = d }
}

// WithScopeObserver overrides the observe.Observer the new Job reports to.
func WithScopeObserver(observer observe.Observer) ScopeOption {
	return func(o *scopeOptions) { o.observer = observer }
}

// WithScopeMetrics overrides the metrics.Provider the new Job reports to.
func WithScopeMetrics(provider metrics.Provider) ScopeOption {
	return func(o *scopeOptions) { o.metrics = provider }
}

func resolveScopeOptions(ctx context.Context, opts []ScopeOption) scopeOptions {
	o := scopeOptions{dispatcher: DispatcherFromContext(ctx), name: NameFromContext(ctx)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newChildJob attaches a new job.Support as a child of whatever Job ctx
// carries (if any) and returns it alongside the options-resolved name.
func newChildJob(ctx context.Context, o scopeOptions, supervisor bool) *job.Support {
	parent := JobFromContext(ctx)
	j := job.New(job.Config{
		Name:       o.name,
		Parent:     parent,
		Supervisor: supervisor,
		Active:     true,
		Observer:   o.observer,
		Metrics:    o.metrics,
	})
	if parent != nil {
		parent.AttachChild(j)
	}
	return j
}

// bindJobContext returns a context.Context carrying j as its current Job
// whose Done() channel fires as soon as j starts cancelling. This is what
// lets every ctx.Done()-based suspension point in this module (channel
// Send/Receive, Mutex.Lock, Semaphore.Acquire, CancellableContinuation.Await)
// observe cancellation delivered through the job tree — not only a
// caller-supplied context.Context's own cancellation (spec.md §5
// "cancellation ... delivered at the next suspension point"). The cancel
// func is released on j's first cancelling-or-final transition, whichever
// comes first, so no coroutine leaks a live context.CancelFunc past its own
// lifetime.
func bindJobContext(ctx context.Context, j *job.Support) context.Context {
	cancelCtx, cancel := context.WithCancel(WithJob(ctx, j))
	j.InvokeOnCompletion(func(error) { cancel() }, job.OnCancelling())
	j.InvokeOnCompletion(func(error) { cancel() })
	return cancelCtx
}

// runGuarded invokes fn, converting a panic into the business-failure error
// a Job.Complete expects, instead of letting it cross the dispatcher
// boundary and take down an unrelated goroutine (spec.md §7's "Handler/
// internal exceptions" bucket covers this for completion handlers; builders
// need the same guard around the user's body itself).
func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corok: coroutine body panicked: %v", r)
		}
	}()
	return fn()
}

// Launch starts fn as a child coroutine of ctx's current Job (if any) and
// returns its Job handle immediately without waiting for fn to complete
// (spec.md §4.1 "launch"). fn receives a context carrying the new Job.
func Launch(ctx context.Context, fn func(ctx context.Context) error, opts ...ScopeOption) job.Job {
	o := resolveScopeOptions(ctx, opts)
	j := newChildJob(ctx, o, false)
	childCtx := bindJobContext(ctx, j)

	task := func() {
		err := runGuarded(func() error { return fn(childCtx) })
		if err != nil && !isCancellation(err) {
			ExceptionHandlerFromContext(ctx)(ctx, err)
		}
		j.Complete(err)
	}
	if o.dispatcher.IsDispatchNeeded(ctx) {
		o.dispatcher.Dispatch(ctx, task)
	} else {
		// An inline dispatcher would run fn before Launch returns; give the
		// body its own goroutine instead.
		go task()
	}
	return j
}

// Async starts fn as a child coroutine and returns a Deferred[T] that will
// hold its result once it completes (spec.md §4.1 "async").
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...ScopeOption) *Deferred[T] {
	o := resolveScopeOptions(ctx, opts)
	j := newChildJob(ctx, o, false)
	childCtx := bindJobContext(ctx, j)
	d := newDeferred[T](j)

	o.dispatcher.Dispatch(ctx, func() {
		var result T
		err := runGuarded(func() error {
			var innerErr error
			result, innerErr = fn(childCtx)
			return innerErr
		})
		d.setResult(result)
		if err != nil && !isCancellation(err) {
			ExceptionHandlerFromContext(ctx)(ctx, err)
		}
		j.Complete(err)
	})
	return d
}

// CoroutineScope runs fn synchronously on the calling goroutine with a new
// child Job attached to ctx's current Job, then blocks until every
// coroutine fn launched inside that scope has completed, aggregating any
// business failures (spec.md §4.1 "coroutineScope": the scope never
// completes before all coroutines it launched complete; a child's business
// failure cancels the scope and is rethrown").
func CoroutineScope(ctx context.Context, fn func(ctx context.Context) error, opts ...ScopeOption) error {
	return runScope(ctx, fn, false, opts)
}

// SupervisorScope is CoroutineScope's supervisor variant: a child's business
// failure does not cancel sibling coroutines or propagate out of the scope
// (spec.md §4.1 "supervisorScope").
func SupervisorScope(ctx context.Context, fn func(ctx context.Context) error, opts ...ScopeOption) error {
	return runScope(ctx, fn, true, opts)
}

func runScope(ctx context.Context, fn func(ctx context.Context) error, supervisor bool, opts []ScopeOption) error {
	o := resolveScopeOptions(ctx, opts)
	j := newChildJob(ctx, o, supervisor)
	scopeCtx := bindJobContext(ctx, j)

	bodyErr := runGuarded(func() error { return fn(scopeCtx) })
	j.Complete(bodyErr)

	joinErr := j.Join(ctx)
	if bodyErr != nil && !isCancellation(bodyErr) {
		return bodyErr
	}
	return joinErr
}

// WithContext runs fn with ctx's current Job temporarily placed under a
// different Dispatcher (and, if NonCancellable was requested, under a Job
// immune to cancellation), suspending the caller until fn returns
// (spec.md §4.1 "withContext").
func WithContext[T any](ctx context.Context, dispatcher Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	newCtx := WithDispatcher(ctx, dispatcher)
	resultCh := make(chan continuationResult[T], 1)

	dispatcher.Dispatch(newCtx, func() {
		v, err := fn(newCtx)
		resultCh <- continuationResult[T]{value: v, err: err}
	})

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// NonCancellable returns a Dispatcher-independent child context whose Job
// ignores Cancel calls, for use with WithContext to shield a cleanup block
// from the enclosing scope's cancellation (spec.md §7 "recovered locally
// only by withContext(NonCancellable)"; SPEC_FULL.md §4 supplement).
//
// The returned context also detaches from ctx's own Done()/deadline via
// context.WithoutCancel: otherwise a cleanup block running under an already
// -cancelled enclosing scope would still observe ctx.Done() as closed on
// every suspension point it takes, defeating the shield entirely.
func NonCancellable(ctx context.Context) context.Context {
	parent := JobFromContext(ctx)
	j := job.New(job.Config{Parent: parent, NonCancellable: true, Active: true})
	return WithJob(context.WithoutCancel(ctx), j)
}

func isCancellation(err error) bool {
	return cerr.IsCancellation(err)
}
