// Package pool provides goroutine-slot pools (Fixed, Dynamic) and the
// pool-backed corok.Dispatchers built on top of them.
//
// Pool/Fixed are carried over from the teacher almost unchanged — they are
// domain-agnostic goroutine-slot recycling, not task-pool-specific — and
// NewDefaultDispatcher/NewElasticDispatcher below are the new pieces: they
// adapt the teacher's dispatcher.go/worker.go read-execute-recover loop
// (which read Task[R] values off a channel and executed them via a
// *worker[R] drawn from a Pool) into a corok.Dispatcher that executes
// arbitrary resumption thunks instead of typed tasks, recovering a
// panicking thunk into an observe.Event instead of an errors channel send.
package pool

import (
	"context"
	"sync"

	corok "github.com/ygrebnov/corok"
	"github.com/ygrebnov/corok/observe"
)

type poolDispatcher struct {
	p        Pool
	observer observe.Observer
}

// slot is the reusable per-goroutine unit the pool recycles; it carries no
// state of its own; it exists so Pool's interface{}-typed Get/Put has
// something concrete to hand back and forth without allocating per task.
type slot struct{}

// NewDefaultDispatcher returns a corok.Dispatcher that runs each dispatched
// task on its own goroutine, drawn from a Fixed pool of size capacity
// (spec.md §4.1's "Default" dispatcher: "backed by a shared, elastic thread
// pool" — approximated here as a bounded goroutine pool, Go having no
// analogue of a JVM thread to elastically grow).
func NewDefaultDispatcher(capacity uint, observer observe.Observer) corok.Dispatcher {
	if observer == nil {
		observer = observe.NoopObserver{}
	}
	return &poolDispatcher{
		p:        NewFixed(capacity, func() interface{} { return &slot{} }),
		observer: observer,
	}
}

// newDynamic is the teacher's pool.NewDynamic, folded in here (rather than
// kept as its own file) since it is an eight-line sync.Pool wrapper with no
// vocabulary of its own to adapt beyond what NewElasticDispatcher already
// carries. sync.Pool's Get()/Put(any) signatures already satisfy Pool.
func newDynamic(newFn func() interface{}) Pool {
	return &sync.Pool{New: newFn}
}

// NewElasticDispatcher returns a corok.Dispatcher backed by a pool that
// grows and shrinks with load rather than being capped at a fixed slot
// count (spec.md §4.1's "Default" dispatcher is elastic; NewDefaultDispatcher
// above approximates it with a hard ceiling instead, for callers that want
// a bounded worst case). Idle slots are eligible for garbage collection
// between GC cycles, same as any other sync.Pool-backed value.
func NewElasticDispatcher(observer observe.Observer) corok.Dispatcher {
	if observer == nil {
		observer = observe.NoopObserver{}
	}
	return &poolDispatcher{
		p:        newDynamic(func() interface{} { return &slot{} }),
		observer: observer,
	}
}

func (d *poolDispatcher) IsDispatchNeeded(context.Context) bool { return true }

func (d *poolDispatcher) Dispatch(ctx context.Context, task func()) {
	s := d.p.Get()
	go func() {
		defer d.p.Put(s)
		defer func() {
			if r := recover(); r != nil {
				d.observer.OnEvent(ctx, observe.Event{
					Type:  "dispatcher.task_panic",
					Level: observe.LevelError,
					Data:  map[string]any{"recovered": r},
				})
			}
		}()
		task()
	}()
}

func init() {
	corok.SetDefaultDispatcherFactory(func() corok.Dispatcher {
		return NewDefaultDispatcher(64, observe.NoopObserver{})
	})
}
