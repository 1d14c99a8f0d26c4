// Package shared implements spec.md §4.7's hot multicast flows:
// MutableSharedFlow, a replay-buffered broadcast of values to any number of
// concurrent collectors, and MutableStateFlow, its replay=1 conflated
// specialization.
//
// Unlike package flow's cold Flow[T] (a recipe re-run per collector), a
// SharedFlow is hot: values are emitted once regardless of how many
// collectors are attached, and late subscribers only ever see the last
// `replay` values plus everything emitted after they subscribed. The
// implementation follows the same mutex-guarded-ring-buffer tradeoff as
// chans.Channel (see chans/channel.go's doc comment and DESIGN.md) rather
// than spec.md's literal lock-free ring buffer: one critical section per
// Emit/Next call, a subscriber slot per collector tracking its replay
// index, and a broadcast wakeup channel that is closed and replaced on
// every state change so waiters parked on ctx-cancellable suspension points
// can be woken without a sync.Cond (which has no context support).
package shared

import (
	"context"
	"sync"

	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/chans"
)

// MutableSharedFlow is the hot, multicast, replay-buffered flow described in
// spec.md §4.7.
type MutableSharedFlow[T any] struct {
	mu sync.Mutex

	replay int
	extra  int
	policy chans.OverflowPolicy

	buf  []T
	head int64 // logical index of buf[0]

	// replayFrom is the lowest logical index a brand-new subscriber may
	// replay from; Subscribe starts at max(head, tail-replay, replayFrom).
	// ResetReplayCache pins it forward to the current tail without
	// discarding values in-flight collectors still need (spec.md §4.7
	// "resetReplayCache").
	replayFrom int64

	subs map[*subscriberState]struct{}

	wake   chan struct{} // closed and replaced on every state change
	closed bool
}

type subscriberState struct {
	index int64
}

// New constructs a MutableSharedFlow with the given replay window, extra
// suspend/drop buffer capacity, and overflow policy (spec.md §4.7
// "MutableSharedFlow(replay, extraBufferCapacity, onBufferOverflow)").
func New[T any](replay, extraBufferCapacity int, policy chans.OverflowPolicy) *MutableSharedFlow[T] {
	if replay < 0 || extraBufferCapacity < 0 {
		panic(cerr.ErrInvalidCapacity)
	}
	return &MutableSharedFlow[T]{
		replay: replay,
		extra:  extraBufferCapacity,
		policy: policy,
		subs:   make(map[*subscriberState]struct{}),
		wake:   make(chan struct{}),
	}
}

func (f *MutableSharedFlow[T]) capacity() int { return f.replay + f.extra }

// broadcastLocked wakes every waiter blocked in Emit or Next. Must be
// called holding f.mu.
func (f *MutableSharedFlow[T]) broadcastLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

// tailLocked returns the logical index one past the last emitted value.
// Must be called holding f.mu.
func (f *MutableSharedFlow[T]) tailLocked() int64 { return f.head + int64(len(f.buf)) }

// minCollectorIndexLocked returns the lowest subscriber index, or tail if
// there are no subscribers. Must be called holding f.mu.
func (f *MutableSharedFlow[T]) minCollectorIndexLocked() int64 {
	m := f.tailLocked()
	for s := range f.subs {
		if s.index < m {
			m = s.index
		}
	}
	return m
}

// reclaimLocked drops buffered values no subscriber (existing or future
// replay) still needs. Must be called holding f.mu.
func (f *MutableSharedFlow[T]) reclaimLocked() {
	lowest := f.tailLocked() - int64(f.replay)
	if lowest < f.replayFrom {
		lowest = f.replayFrom
	}
	if m := f.minCollectorIndexLocked(); m < lowest {
		lowest = m
	}
	for f.head < lowest && len(f.buf) > 0 {
		f.buf = f.buf[1:]
		f.head++
	}
}

// appendLocked appends v, applies the overflow policy if the buffer has
// grown past capacity, and returns whether v was accepted. Must be called
// holding f.mu.
func (f *MutableSharedFlow[T]) appendLocked(v T) bool {
	f.buf = append(f.buf, v)
	f.reclaimLocked()

	cap := f.capacity()
	if cap <= 0 || len(f.buf) <= cap {
		return true
	}

	switch f.policy {
	case chans.DropOldest:
		// Forcibly evict the oldest value even though a slow collector may
		// still need it; that collector's index is clamped forward the next
		// time it calls Next (spec.md §4.7 "slow collector ... buffered but
		// not-yet-delivered values are discarded").
		f.buf = f.buf[1:]
		f.head++
		if f.replayFrom < f.head {
			f.replayFrom = f.head
		}
		return true
	case chans.DropLatest:
		f.buf = f.buf[:len(f.buf)-1]
		return false
	default: // Suspend
		f.buf = f.buf[:len(f.buf)-1]
		return false
	}
}

// Emit appends v, suspending (subject to ctx) under the Suspend overflow
// policy until room is available (spec.md §4.7 "emit").
func (f *MutableSharedFlow[T]) Emit(ctx context.Context, v T) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return &cerr.ClosedSendError{}
		}
		if f.appendLocked(v) {
			f.broadcastLocked()
			f.mu.Unlock()
			return nil
		}
		if f.policy != chans.Suspend {
			f.mu.Unlock()
			return nil // DropLatest: silently discarded, not an error.
		}
		wake := f.wake
		f.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryEmit is a non-suspending Emit: it returns false instead of blocking
// when the Suspend policy would otherwise park the caller.
func (f *MutableSharedFlow[T]) TryEmit(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	ok := f.appendLocked(v)
	if ok {
		f.broadcastLocked()
	}
	return ok
}

// ResetReplayCache clears the replay window for future subscribers without
// discarding values in-flight collectors still need (spec.md §4.7).
func (f *MutableSharedFlow[T]) ResetReplayCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayFrom = f.tailLocked()
	f.reclaimLocked()
}

// Close marks the flow as closed: further Emit/TryEmit calls fail, and
// every blocked subscriber's Next call returns once it has drained the
// remaining buffer. Close is idempotent. This is a Go-native addition (the
// original SharedFlow has no close operation) needed because Go collectors
// must have a way to stop ranging without leaking a goroutine.
func (f *MutableSharedFlow[T]) Close() bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.closed = true
	f.broadcastLocked()
	f.mu.Unlock()
	return true
}

// Subscription is a collector's view onto a MutableSharedFlow, tracking its
// own replay index (spec.md §4.7 "Subscriber slot").
type Subscription[T any] struct {
	flow  *MutableSharedFlow[T]
	state *subscriberState
}

// Subscribe attaches a new subscriber, which replays the last `replay`
// values (fewer if fewer have been emitted, or none if ResetReplayCache ran
// since) before observing new emissions.
func (f *MutableSharedFlow[T]) Subscribe() *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := f.tailLocked() - int64(f.replay)
	if start < f.replayFrom {
		start = f.replayFrom
	}
	if start < f.head {
		start = f.head
	}
	s := &subscriberState{index: start}
	f.subs[s] = struct{}{}
	return &Subscription[T]{flow: f, state: s}
}

// Unsubscribe detaches the subscription, allowing its buffered backlog to
// be reclaimed and unblocking any sender waiting on this slot alone.
func (s *Subscription[T]) Unsubscribe() {
	f := s.flow
	f.mu.Lock()
	delete(f.subs, s.state)
	f.reclaimLocked()
	f.broadcastLocked()
	f.mu.Unlock()
}

// Next returns the subscription's next value, suspending (subject to ctx)
// until one is emitted, the flow is closed and drained, or ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	f := s.flow
	for {
		f.mu.Lock()
		if s.state.index < f.head {
			// A DropOldest overflow advanced past this subscriber; it
			// rejoins at the new oldest available value.
			s.state.index = f.head
		}
		if s.state.index < f.tailLocked() {
			v := f.buf[s.state.index-f.head]
			s.state.index++
			f.reclaimLocked()
			f.broadcastLocked()
			f.mu.Unlock()
			return v, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			var zero T
			return zero, &cerr.ClosedReceiveError{}
		}

		f.mu.Lock()
		wake := f.wake
		f.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Collect ranges over every value the subscription observes, following
// package flow's Collector[T] signature, until ctx is done or the flow
// closes.
func (s *Subscription[T]) Collect(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	for {
		v, err := s.Next(ctx)
		if err != nil {
			if _, closed := err.(*cerr.ClosedReceiveError); closed {
				return nil
			}
			return err
		}
		if err := fn(ctx, v); err != nil {
			return err
		}
	}
}
