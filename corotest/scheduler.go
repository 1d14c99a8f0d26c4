// Package corotest provides a deterministic, virtual-time corok.Dispatcher
// for testing debounce/sample/timeout/delay without real wall-clock waits.
//
// Grounded on kotlinx-coroutines-test's TestCoroutineScheduler/TestScope
// (original_source/src/tests/src/TestCoroutineScheduler.cpp,
// original_source/kotlinx-coroutines-test/common/src/TestScope.cpp,
// transliterated from the original design per SPEC_FULL.md §2.5): a
// min-heap of (virtual time, sequence) events, queried by AdvanceTimeBy /
// AdvanceUntilIdle / RunCurrent instead of ever calling time.Sleep.
package corotest

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type event struct {
	at   time.Duration
	seq  int64
	task func()
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Scheduler owns the virtual clock and the heap of pending events. Several
// Dispatchers may share one Scheduler, the same relationship the original
// gives TestDispatcher/TestCoroutineScheduler.
type Scheduler struct {
	mu     sync.Mutex
	events eventHeap
	now    time.Duration
	seq    int64
}

// NewScheduler constructs a Scheduler whose virtual clock starts at zero.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.events)
	return s
}

// Now returns the current virtual time.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Scheduler) scheduleAfter(d time.Duration, task func()) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.events, &event{at: s.now + d, seq: s.seq, task: task})
	s.mu.Unlock()
}

// RunCurrent runs every event already due at the current virtual time,
// without advancing the clock — matching TestCoroutineScheduler.runCurrent.
func (s *Scheduler) RunCurrent() {
	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.events[0].at > s.now {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.events).(*event)
		s.mu.Unlock()
		e.task()
	}
}

// AdvanceTimeBy moves the virtual clock forward by d, running every event
// scheduled to fire at or before the new time in (time, sequence) order
// (TestCoroutineScheduler.advanceTimeBy).
func (s *Scheduler) AdvanceTimeBy(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.events[0].at > target {
			s.now = target
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.events).(*event)
		s.now = e.at
		s.mu.Unlock()
		e.task()
	}
}

// AdvanceUntilIdle runs every pending event, advancing the virtual clock to
// each one's scheduled time in turn, until none remain
// (TestCoroutineScheduler.advanceUntilIdle) — used to drive a coroutine to
// completion without knowing its total delay budget up front.
func (s *Scheduler) AdvanceUntilIdle() {
	for {
		s.mu.Lock()
		if len(s.events) == 0 {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.events).(*event)
		s.now = e.at
		s.mu.Unlock()
		e.task()
	}
}

// Dispatcher is a corok.Dispatcher backed by a Scheduler's virtual clock:
// Dispatch queues task to run at the current virtual time (delta zero), and
// ScheduleResumeAfterDelay queues it at now+d, satisfying corok.DelayCapable
// so corok.Delay/WithTimeout/flow.Debounce/flow.Sample never block on a real
// timer when driven through this dispatcher.
type Dispatcher struct {
	scheduler *Scheduler
}

// New constructs a Dispatcher sharing scheduler's virtual clock.
func New(scheduler *Scheduler) *Dispatcher {
	return &Dispatcher{scheduler: scheduler}
}

func (d *Dispatcher) IsDispatchNeeded(context.Context) bool { return true }

func (d *Dispatcher) Dispatch(_ context.Context, task func()) {
	d.scheduler.scheduleAfter(0, task)
}

// ScheduleResumeAfterDelay implements corok.DelayCapable.
func (d *Dispatcher) ScheduleResumeAfterDelay(delay time.Duration, resume func()) {
	d.scheduler.scheduleAfter(delay, resume)
}

// Scheduler returns the underlying Scheduler, for tests that need to drive
// AdvanceTimeBy/AdvanceUntilIdle/RunCurrent directly.
func (d *Dispatcher) Scheduler() *Scheduler { return d.scheduler }
