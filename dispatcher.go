package corok

import (
	"context"
	"sync"

	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/observe"
	"github.com/ygrebnov/corok/sync2"
)

// Dispatcher schedules the resumption of suspended coroutine bodies
// (spec.md §2 "Dispatcher: decides which thread/queue runs a resumed
// continuation"). IsDispatchNeeded is false for the inline dispatchers
// (ImmediateDispatcher, UnconfinedDispatcher); Launch then skips Dispatch and
// runs the body on a goroutine of its own, so it still returns without
// waiting for the body — the Go analogue of spec.md §2's
// isDispatchNeeded/dispatch pair.
//
// This file's shape is grounded on the teacher's dispatcher.go, which reads
// tasks off a channel and executes them via a worker pool; that
// read-execute loop is adapted (not copied — here it runs arbitrary
// resumption thunks, not Task[R] values) into SingleThreadDispatcher's
// run loop below, and into package pool's NewDefaultDispatcher.
type Dispatcher interface {
	// IsDispatchNeeded reports whether Dispatch must hand task off rather
	// than the caller simply invoking it inline.
	IsDispatchNeeded(ctx context.Context) bool
	// Dispatch schedules task to run, possibly on another goroutine.
	Dispatch(ctx context.Context, task func())
}

// ImmediateDispatcher runs every task synchronously on the calling
// goroutine. This is the default dispatcher a bare context carries.
type ImmediateDispatcher struct{}

func (ImmediateDispatcher) IsDispatchNeeded(context.Context) bool { return false }

func (ImmediateDispatcher) Dispatch(_ context.Context, task func()) { task() }

// UnconfinedDispatcher never confines execution to a particular goroutine:
// like ImmediateDispatcher it runs inline, but it is a distinct type so
// LimitedParallelism can detect it and substitute a real pool-backed
// delegate (spec.md §9 Open Question 3; resolved in DESIGN.md).
type UnconfinedDispatcher struct{}

func (UnconfinedDispatcher) IsDispatchNeeded(context.Context) bool { return false }

func (UnconfinedDispatcher) Dispatch(_ context.Context, task func()) { task() }

// SingleThreadDispatcher runs every dispatched task on one dedicated
// goroutine, serializing them — the Go analogue of a single-threaded
// executor.
type SingleThreadDispatcher struct {
	tasks chan func()
	once  sync.Once
	done  chan struct{}
}

// NewSingleThreadDispatcher starts the worker goroutine and returns the
// dispatcher. Close stops accepting new tasks and lets the worker drain.
func NewSingleThreadDispatcher() *SingleThreadDispatcher {
	d := &SingleThreadDispatcher{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *SingleThreadDispatcher) run() {
	defer close(d.done)
	for task := range d.tasks {
		task()
	}
}

func (SingleThreadDispatcher) IsDispatchNeeded(context.Context) bool { return true }

func (d *SingleThreadDispatcher) Dispatch(_ context.Context, task func()) {
	d.tasks <- task
}

// Close stops the dispatcher; it is idempotent. Already-queued tasks still
// run before the worker goroutine exits.
func (d *SingleThreadDispatcher) Close() {
	d.once.Do(func() { close(d.tasks) })
}

// limitedDispatcher wraps a delegate Dispatcher, bounding the number of
// tasks that may run concurrently through it via a Semaphore (spec.md §4.1
// "limitedParallelism").
type limitedDispatcher struct {
	delegate Dispatcher
	sem      *sync2.Semaphore
}

// LimitedParallelism returns a Dispatcher that runs at most n tasks
// concurrently through delegate. Per the resolution of spec.md §9 Open
// Question 3 (see DESIGN.md), requesting this over UnconfinedDispatcher
// silently substitutes the registered default pool-backed dispatcher (set
// by package pool's init()) as the real delegate, and emits an
// observe.Event at verbose level recording the substitution.
func LimitedParallelism(delegate Dispatcher, n int, observer observe.Observer) Dispatcher {
	if n <= 0 {
		panic(cerr.ErrInvalidParallelism)
	}
	if _, unconfined := delegate.(UnconfinedDispatcher); unconfined && defaultDispatcherFactory != nil {
		if observer == nil {
			observer = observe.NoopObserver{}
		}
		observer.OnEvent(context.Background(), observe.Event{
			Type:  "dispatcher.limited_parallelism_substitution",
			Level: observe.LevelVerbose,
			Data:  map[string]any{"requested": n},
		})
		delegate = defaultDispatcherFactory()
	}
	return &limitedDispatcher{delegate: delegate, sem: sync2.NewSemaphore(n)}
}

func (l *limitedDispatcher) IsDispatchNeeded(ctx context.Context) bool {
	return true
}

func (l *limitedDispatcher) Dispatch(ctx context.Context, task func()) {
	l.delegate.Dispatch(ctx, func() {
		if err := l.sem.Acquire(ctx); err != nil {
			return
		}
		defer l.sem.Release()
		task()
	})
}

// defaultDispatcherFactory is set by package pool's init(), avoiding an
// import cycle between corok (which defines Dispatcher) and pool (which
// implements a worker-pool-backed one): pool imports corok, not the other
// way around, and registers itself here as the fallback LimitedParallelism
// substitutes in for UnconfinedDispatcher.
var defaultDispatcherFactory func() Dispatcher

// SetDefaultDispatcherFactory registers f as the factory LimitedParallelism
// uses when asked to limit an UnconfinedDispatcher. Exported so package pool
// (or an embedder supplying its own pool-backed dispatcher) can register
// itself without corok importing pool.
func SetDefaultDispatcherFactory(f func() Dispatcher) {
	defaultDispatcherFactory = f
}

// Yield re-dispatches the calling goroutine to the back of its dispatcher's
// run queue, suspending briefly to let other dispatched work proceed
// (spec.md §5's suspension-point list; supplemented per SPEC_FULL.md §4 —
// the original assigns this no component name). For ImmediateDispatcher and
// UnconfinedDispatcher, which have no real queue, this degenerates to a
// zero-length dispatch round-trip.
func Yield(ctx context.Context) error {
	d := DispatcherFromContext(ctx)
	done := make(chan struct{})
	d.Dispatch(ctx, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
