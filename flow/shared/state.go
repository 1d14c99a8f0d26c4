package shared

import (
	"context"

	"github.com/ygrebnov/corok/chans"
)

// MutableStateFlow is the replay=1, conflated specialization of
// MutableSharedFlow described in spec.md §4.7: "Setting value to a value
// equal (by ==) to the current has no observable effect (no emission)."
// The equality check requires T comparable, matching the spec's literal
// "==" rather than a deep-equality fallback.
type MutableStateFlow[T comparable] struct {
	inner *MutableSharedFlow[T]
}

// NewState constructs a MutableStateFlow seeded with initial, which is
// immediately visible to the first Subscribe call via the replay-1 window.
func NewState[T comparable](initial T) *MutableStateFlow[T] {
	s := &MutableStateFlow[T]{inner: New[T](1, 0, chans.DropOldest)}
	s.inner.TryEmit(initial)
	return s
}

// Value returns the current value without subscribing.
func (s *MutableStateFlow[T]) Value() T {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	if len(s.inner.buf) == 0 {
		var zero T
		return zero
	}
	return s.inner.buf[len(s.inner.buf)-1]
}

// Set updates the value. It is a no-op (no emission to collectors) if v
// equals the current value, per spec.md §4.7's equality-suppression rule.
func (s *MutableStateFlow[T]) Set(v T) {
	s.inner.mu.Lock()
	if len(s.inner.buf) > 0 && s.inner.buf[len(s.inner.buf)-1] == v {
		s.inner.mu.Unlock()
		return
	}
	s.inner.mu.Unlock()
	s.inner.TryEmit(v)
}

// CompareAndSet atomically sets the value to update iff the current value
// equals expect, returning whether it did (spec.md §4.7 "compareAndSet").
func (s *MutableStateFlow[T]) CompareAndSet(expect, update T) bool {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	var current T
	if len(s.inner.buf) > 0 {
		current = s.inner.buf[len(s.inner.buf)-1]
	}
	if current != expect {
		return false
	}
	if current == update {
		return true
	}
	s.inner.appendLocked(update)
	s.inner.broadcastLocked()
	return true
}

// Update atomically replaces the value with fn(current), retrying under
// contention (spec.md §4.7 "update/getAndUpdate/updateAndGet retry on
// contention").
func (s *MutableStateFlow[T]) Update(fn func(current T) T) {
	for {
		current := s.Value()
		if s.CompareAndSet(current, fn(current)) {
			return
		}
	}
}

// GetAndUpdate replaces the value with fn(current) and returns the
// pre-update value.
func (s *MutableStateFlow[T]) GetAndUpdate(fn func(current T) T) T {
	for {
		current := s.Value()
		if s.CompareAndSet(current, fn(current)) {
			return current
		}
	}
}

// UpdateAndGet replaces the value with fn(current) and returns the
// post-update value.
func (s *MutableStateFlow[T]) UpdateAndGet(fn func(current T) T) T {
	for {
		current := s.Value()
		next := fn(current)
		if s.CompareAndSet(current, next) {
			return next
		}
	}
}

// Subscribe attaches a collector that immediately observes the current
// value, then every subsequent conflated update (spec.md §4.7 "collectors
// see the most recent value, not necessarily every intermediate one").
func (s *MutableStateFlow[T]) Subscribe() *Subscription[T] {
	return s.inner.Subscribe()
}

// Collect is a convenience wrapper equivalent to Subscribe().Collect(...).
func (s *MutableStateFlow[T]) Collect(ctx context.Context, fn func(ctx context.Context, v T) error) error {
	sub := s.Subscribe()
	defer sub.Unsubscribe()
	return sub.Collect(ctx, fn)
}
