package corok

import (
	"context"

	"github.com/ygrebnov/corok/job"
)

// Deferred is the result-bearing coroutine handle Async returns (spec.md
// §4.1 "Deferred<T> extends Job, adds await(): T"). It embeds job.Job so
// callers can Cancel/Join it directly, or call Await to get the typed
// result.
type Deferred[T any] struct {
	job.Job
	result T
}

func newDeferred[T any](j *job.Support) *Deferred[T] {
	return &Deferred[T]{Job: j}
}

func (d *Deferred[T]) setResult(v T) { d.result = v }

// Await blocks until the coroutine completes, then returns its result and
// any business-failure error (spec.md §4.1 "await(): T ... rethrows the
// coroutine's failure, or the cancellation cause if cancelled").
func (d *Deferred[T]) Await(ctx context.Context) (T, error) {
	if err := d.Join(ctx); err != nil {
		var zero T
		return zero, err
	}
	if d.IsCancelled() {
		var zero T
		cause := d.CancellationCause()
		if cause != nil {
			return zero, cause
		}
	}
	return d.result, nil
}
