// Package flow implements spec.md §4.8's cold Flow: a Flow[T] value is a
// recipe, re-run once per Collect call, that produces a context-preserving
// stream of values to a Collector.
//
// Channel-based operators (Buffer, FlowOn, ChannelFlow) are fused: spec.md
// §8 requires that a chain of adjacent channel-based operators allocate
// exactly one intermediate channel. This package models that as a single
// mutable channelStage carried on the Flow value; Buffer/FlowOn/ChannelFlow
// update the existing stage in place when chained directly onto one
// another, and only materialize a real chans.Channel once, at the point
// Collect (or a non-channel operator like Map/Filter) forces evaluation.
package flow

import (
	"context"
	"fmt"
	"time"

	corok "github.com/ygrebnov/corok"
	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/chans"
)

// Collector receives values emitted by a Flow.
type Collector[T any] func(ctx context.Context, value T) error

// channelStage describes a pending, not-yet-materialized channel boundary:
// the single intermediate channel a fused chain of Buffer/FlowOn/
// ChannelFlow calls will eventually allocate.
type channelStage[T any] struct {
	capacity   chans.Capacity
	policy     chans.OverflowPolicy
	dispatcher corok.Dispatcher // nil: inherit the collecting context's dispatcher
	produce    func(ctx context.Context, ch *chans.Channel[T]) error
}

// Flow is a cold, re-executable stream recipe (spec.md §4.8).
type Flow[T any] struct {
	collect func(ctx context.Context, c Collector[T]) error
	chan_   *channelStage[T]
}

// New wraps a plain collect function as a Flow — the equivalent of Kotlin's
// `flow { ... }` builder.
func New[T any](collect func(ctx context.Context, emit func(v T) error) error) *Flow[T] {
	return &Flow[T]{collect: func(ctx context.Context, c Collector[T]) error {
		return collect(ctx, func(v T) error { return c(ctx, v) })
	}}
}

// Of constructs a Flow that emits a fixed sequence of values.
func Of[T any](values ...T) *Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		for _, v := range values {
			if err := ctx.Err(); err != nil {
				return cerr.NewCancellationError("flow collection cancelled", err)
			}
			if err := emit(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Collect runs f, delivering every emission to collector. It is the
// terminal operation that materializes any pending channelStage (fusing a
// chain of Buffer/FlowOn/ChannelFlow into exactly one chans.Channel).
func Collect[T any](ctx context.Context, f *Flow[T], collector Collector[T]) error {
	if f.chan_ == nil {
		return checkedCollect(ctx, f.collect, collector)
	}
	return collectFused(ctx, f.chan_, collector)
}

// checkedCollect wraps collector with spec.md §4.8's context-preservation
// check: every emission must observe the same dispatcher the collection
// began under.
func checkedCollect[T any](ctx context.Context, collect func(context.Context, Collector[T]) error, collector Collector[T]) error {
	startDispatcher := corok.DispatcherFromContext(ctx)
	return collect(ctx, func(ctx context.Context, v T) error {
		if corok.DispatcherFromContext(ctx) != startDispatcher {
			return fmt.Errorf("corok/flow: emission observed a different dispatcher than collection started with (context-preservation violation)")
		}
		return collector(ctx, v)
	})
}

func collectFused[T any](ctx context.Context, stage *channelStage[T], collector Collector[T]) error {
	ch := chans.New[T](chans.Config[T]{Capacity: stage.capacity, Policy: stage.policy})

	dispatcher := stage.dispatcher
	producerCtx := ctx
	if dispatcher == nil {
		dispatcher = corok.DispatcherFromContext(ctx)
	} else {
		producerCtx = corok.WithDispatcher(ctx, dispatcher)
	}

	errCh := make(chan error, 1)
	dispatcher.Dispatch(producerCtx, func() {
		err := stage.produce(producerCtx, ch)
		ch.Close(err)
		errCh <- err
	})

	for {
		v, err := ch.Receive(ctx)
		if err != nil {
			break
		}
		if cErr := collector(ctx, v); cErr != nil {
			return cErr
		}
	}
	return <-errCh
}

// Map transforms each emitted value. Map always forces evaluation of any
// pending channelStage on f, breaking fusion for any Buffer/FlowOn chained
// afterward — matching spec.md's "adjacent" qualifier on the fusing rule.
func Map[T, R any](f *Flow[T], fn func(T) R) *Flow[R] {
	return New(func(ctx context.Context, emit func(R) error) error {
		return Collect(ctx, f, func(ctx context.Context, v T) error {
			return emit(fn(v))
		})
	})
}

// Filter emits only values for which pred returns true.
func Filter[T any](f *Flow[T], pred func(T) bool) *Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		return Collect(ctx, f, func(ctx context.Context, v T) error {
			if !pred(v) {
				return nil
			}
			return emit(v)
		})
	})
}

// Cancellable inserts a per-emission cancellation check (spec.md §4.8 /
// job.Job.EnsureActive reused as the per-emission primitive).
func Cancellable[T any](f *Flow[T]) *Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		return Collect(ctx, f, func(ctx context.Context, v T) error {
			if err := ctx.Err(); err != nil {
				return cerr.NewCancellationError("flow cancelled", err)
			}
			return emit(v)
		})
	})
}

// Buffer decouples upstream emission from downstream collection rate by
// routing through a chans.Channel of the given capacity/policy. Chained
// directly onto another Buffer/FlowOn/ChannelFlow, it fuses into the same
// channel rather than allocating a second one, following spec.md §4.8's
// composition rules (mergeCapacity, mergePolicy) rather than simply
// discarding the earlier stage's settings.
func Buffer[T any](f *Flow[T], capacity chans.Capacity, policy chans.OverflowPolicy) *Flow[T] {
	if f.chan_ != nil {
		fused := *f.chan_
		fused.capacity = mergeCapacity(f.chan_.capacity, capacity)
		fused.policy = mergePolicy(f.chan_.policy, policy)
		return &Flow[T]{collect: f.collect, chan_: &fused}
	}
	upstream := f.collect
	return &Flow[T]{chan_: &channelStage[T]{
		capacity: capacity,
		policy:   policy,
		produce: func(ctx context.Context, ch *chans.Channel[T]) error {
			return checkedCollect(ctx, upstream, func(ctx context.Context, v T) error {
				return ch.Send(ctx, v)
			})
		},
	}}
}

// mergeCapacity implements spec.md §4.8's "Buffer capacities: explicit
// sizes sum" rule. Rendezvous is numerically 0 so it sums as the identity;
// Unlimited and Conflated are sentinel, non-additive capacities and each
// dominates whatever it is fused with.
func mergeCapacity(old, next chans.Capacity) chans.Capacity {
	if old == chans.Unlimited || next == chans.Unlimited {
		return chans.Unlimited
	}
	if old == chans.Conflated || next == chans.Conflated {
		return chans.Conflated
	}
	return old + next
}

// mergePolicy implements spec.md §4.8's "a non-SUSPEND policy anywhere
// overrides preceding SUSPEND buffers" rule: the first non-Suspend policy
// recorded for the fused stage sticks, regardless of which call — earlier
// or later in the chain — introduced it.
func mergePolicy(old, next chans.OverflowPolicy) chans.OverflowPolicy {
	if old != chans.Suspend {
		return old
	}
	return next
}

// FlowOn re-dispatches upstream collection onto dispatcher while leaving
// the caller's own dispatcher untouched for downstream emissions (spec.md
// §4.8's context-preservation invariant: only upstream's execution context
// changes). Chained directly onto another Buffer/FlowOn/ChannelFlow, it
// fuses into the same channel, composing the dispatchers right-to-left
// (composeDispatchers) instead of discarding the earlier one.
func FlowOn[T any](f *Flow[T], dispatcher corok.Dispatcher) *Flow[T] {
	if f.chan_ != nil {
		fused := *f.chan_
		fused.dispatcher = composeDispatchers(f.chan_.dispatcher, dispatcher)
		return &Flow[T]{collect: f.collect, chan_: &fused}
	}
	upstream := f.collect
	return &Flow[T]{chan_: &channelStage[T]{
		capacity:   chans.Rendezvous,
		dispatcher: dispatcher,
		produce: func(ctx context.Context, ch *chans.Channel[T]) error {
			return checkedCollect(ctx, upstream, func(ctx context.Context, v T) error {
				return ch.Send(ctx, v)
			})
		},
	}}
}

// composeDispatchers implements spec.md §4.8's "flowOn contexts compose
// right-to-left": FlowOn(FlowOn(f, a), b) runs the fused producer through
// b's dispatch first (it is the rightmost, outermost application in the
// call chain), which in turn dispatches through a before the produce
// closure itself runs. A nil left-hand side (no FlowOn applied yet on this
// stage) composes to just the incoming dispatcher.
func composeDispatchers(old, next corok.Dispatcher) corok.Dispatcher {
	if old == nil {
		return next
	}
	return composedDispatcher{outer: next, inner: old}
}

type composedDispatcher struct {
	inner, outer corok.Dispatcher
}

func (d composedDispatcher) IsDispatchNeeded(ctx context.Context) bool {
	return d.outer.IsDispatchNeeded(ctx) || d.inner.IsDispatchNeeded(ctx)
}

func (d composedDispatcher) Dispatch(ctx context.Context, task func()) {
	d.outer.Dispatch(ctx, func() {
		d.inner.Dispatch(ctx, task)
	})
}

// ChannelFlow builds a Flow directly from a producer function that writes
// into a channel itself (spec.md §4.8 "channelFlow { }"), for producers that
// need concurrent emission from multiple goroutines. AwaitClose-equivalent
// cleanup is the caller's responsibility inside block; returning from block
// without having sent a terminal signal is a caller error
// (cerr.ErrCallbackFlowMisuse is reserved for a future callbackFlow
// variant that enforces this, not raised here).
func ChannelFlow[T any](block func(ctx context.Context, ch *chans.Channel[T]) error, capacity chans.Capacity, policy chans.OverflowPolicy) *Flow[T] {
	return &Flow[T]{chan_: &channelStage[T]{capacity: capacity, policy: policy, produce: block}}
}

// Timeout fails the flow if no new value arrives within d of the previous
// one (or of collection starting).
func Timeout[T any](f *Flow[T], d time.Duration) *Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		timeoutCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		timer := time.NewTimer(d)
		defer timer.Stop()

		watchdog := make(chan struct{})
		go func() {
			select {
			case <-timer.C:
				cancel()
			case <-watchdog:
			case <-ctx.Done():
			}
		}()
		defer close(watchdog)

		err := Collect(timeoutCtx, f, func(ctx context.Context, v T) error {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
			return emit(v)
		})
		if err != nil && timeoutCtx.Err() != nil && ctx.Err() == nil {
			return cerr.NewTimeoutCancellationError("flow timed out waiting for next emission")
		}
		return err
	})
}
