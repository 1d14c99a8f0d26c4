package corok

import (
	"context"
	"fmt"
	"time"

	"github.com/ygrebnov/corok/cerr"
)

// DelayCapable is the optional "Delay capability" spec.md §6 allows a
// Dispatcher to provide: scheduleResumeAfterDelay. Dispatchers that don't
// implement it (ImmediateDispatcher, UnconfinedDispatcher, the pool-backed
// default) fall back to a real time.Timer in Delay below; corotest.Dispatcher
// implements this to advance a virtual clock instead of sleeping a real OS
// thread.
type DelayCapable interface {
	// ScheduleResumeAfterDelay arranges for resume to be called once d has
	// elapsed (virtual or real time, depending on the implementation).
	ScheduleResumeAfterDelay(d time.Duration, resume func())
}

// Delay suspends the calling coroutine for d, or until ctx is done,
// whichever comes first (spec.md §5's suspension-point list). delay(0)
// still performs a full suspend-and-resume round trip rather than
// returning inline (spec.md §8 boundary behavior), matching the original's
// "always yields control" guarantee.
func Delay(ctx context.Context, d time.Duration) error {
	if d < 0 {
		panic(cerr.ErrInvalidDelay)
	}
	if j := JobFromContext(ctx); j != nil {
		if err := j.EnsureActive(); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	if dc, ok := DispatcherFromContext(ctx).(DelayCapable); ok {
		dc.ScheduleResumeAfterDelay(d, func() { close(done) })
	} else {
		timer := time.NewTimer(d)
		go func() {
			<-timer.C
			close(done)
		}()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithTimeout runs fn in a child scope and cancels it with a
// *cerr.TimeoutCancellationError if it has not completed within d
// (spec.md §5 "Timeouts"). Per the prompt-cancellation guarantee, a result
// fn produced right as the deadline fires is discarded in favor of the
// timeout error rather than being returned to the caller.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error), opts ...ScopeOption) (T, error) {
	if d < 0 {
		panic(cerr.ErrInvalidDelay)
	}

	o := resolveScopeOptions(ctx, opts)
	j := newChildJob(ctx, o, false)
	childCtx := bindJobContext(ctx, j)

	timer := time.AfterFunc(d, func() {
		j.Cancel(cerr.NewTimeoutCancellationError(fmt.Sprintf("withTimeout(%s) expired", d)))
	})
	defer timer.Stop()

	resultCh := make(chan continuationResult[T], 1)
	o.dispatcher.Dispatch(ctx, func() {
		v, err := runGuardedValue(func() (T, error) { return fn(childCtx) })
		resultCh <- continuationResult[T]{value: v, err: err}
		j.Complete(err)
	})

	r := <-resultCh
	if cause := j.CancellationCause(); cause != nil {
		// Prompt cancellation: the timeout fired, so the result (even if
		// fn returned one) is never delivered to the caller.
		var zero T
		return zero, cause
	}
	return r.value, r.err
}

// runGuardedValue is runGuarded's value-returning counterpart, used by
// builders that must hand a result back to the caller (Async, WithTimeout)
// rather than only an error.
func runGuardedValue[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = fmt.Errorf("corok: coroutine body panicked: %v", r)
		}
	}()
	return fn()
}
