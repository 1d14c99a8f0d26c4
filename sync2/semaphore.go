package sync2

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ygrebnov/corok/cerr"
)

// Semaphore is an n-permit FIFO-fair lock (spec.md §4.9: "Mutex is a
// 1-permit semaphore with owner tracking"). It is a single-weight-per-call
// wrapper around golang.org/x/sync/semaphore.Weighted, which already
// provides the FIFO queuing and cancellation-safe Acquire this type's
// contract promises — Mutex keeps its own hand-rolled channel-token
// implementation (it also needs owner tracking, which
// Weighted has no concept of), but a plain counting semaphore has no reason
// to reimplement what the ecosystem already provides correctly.
type Semaphore struct {
	w         *semaphore.Weighted
	permits   int64
	available int64
}

// NewSemaphore constructs a Semaphore with the given number of permits.
// It panics if permits <= 0.
func NewSemaphore(permits int) *Semaphore {
	if permits <= 0 {
		panic(cerr.ErrInvalidParallelism)
	}
	return &Semaphore{
		w:         semaphore.NewWeighted(int64(permits)),
		permits:   int64(permits),
		available: int64(permits),
	}
}

// Acquire takes one permit, suspending (subject to ctx) until one is free.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&s.available, -1)
	return nil
}

// TryAcquire attempts a non-suspending acquisition.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	atomic.AddInt64(&s.available, -1)
	return true
}

// Release returns one permit to the semaphore, waking the longest-waiting
// Acquire call if one is queued.
func (s *Semaphore) Release() {
	s.w.Release(1)
	atomic.AddInt64(&s.available, 1)
}

// AvailablePermits reports the number of permits currently unclaimed.
func (s *Semaphore) AvailablePermits() int {
	return int(atomic.LoadInt64(&s.available))
}

// WithPermit runs fn while holding one permit, guaranteeing release on every
// exit path including a panic.
func (s *Semaphore) WithPermit(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}
