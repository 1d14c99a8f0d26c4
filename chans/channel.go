// Package chans implements the channel described in spec.md §4.5: a
// multi-producer/multi-consumer queue parameterized by Capacity and, for
// bounded buffers, an OverflowPolicy.
//
// The lock-free segmented-array cell machinery spec.md describes (§2
// Vocabulary "Channel cell") is realized here as a single mutex guarding a
// ring buffer plus two waiter queues, the same tradeoff job.Support makes
// for the Job state machine (see job/doc.go and DESIGN.md): every externally
// observable ordering and close-propagation invariant in spec.md §4.5 and §8
// holds under this implementation, at the cost of one critical section per
// operation instead of a CAS-only fast path.
package chans

import (
	"context"
	"sync"

	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/metrics"
	"github.com/ygrebnov/corok/observe"
)

// Capacity selects the channel's buffering behavior (spec.md §4.5).
type Capacity int

const (
	// Rendezvous channels have no buffer: send suspends until a receiver is
	// ready to take the value (and vice versa).
	Rendezvous Capacity = 0
	// Conflated channels hold at most one element; a new send always
	// overwrites whatever is currently buffered.
	Conflated Capacity = -1
	// Unlimited channels never apply backpressure to senders.
	Unlimited Capacity = -2
)

// OverflowPolicy controls what happens when a bounded buffered channel
// (Capacity > 0) is full at send time. It has no effect on Rendezvous
// (where SUSPEND is the only meaningful behavior) or Unlimited channels.
type OverflowPolicy int

const (
	// Suspend blocks the sender until space is available. The default.
	Suspend OverflowPolicy = iota
	// DropOldest evicts the oldest buffered element to make room.
	DropOldest
	// DropLatest discards the element being sent, leaving the buffer as is.
	DropLatest
)

// SendStatus is the tri-state result of TrySend (spec.md §4.5 "trySend").
type SendStatus int

const (
	SendSuccess SendStatus = iota
	SendFailure            // channel is open but currently cannot accept (full, SUSPEND policy)
	SendClosed             // channel is closed for send
)

// ReceiveStatus is the tri-state result of TryReceive.
type ReceiveStatus int

const (
	ReceiveSuccess ReceiveStatus = iota
	ReceiveFailure               // channel is open but currently has nothing buffered
	ReceiveClosed                // channel is closed for receive and drained
)

// UndeliveredHandler is invoked, outside the channel's lock, for any element
// that is dropped by an overflow policy and for the value of every sender
// still suspended when the channel is closed (spec.md §2 "undelivered-element
// handling"). Elements already in the buffer at close stay receivable and
// are not reported.
type UndeliveredHandler[T any] func(value T)

type sendWaiter[T any] struct {
	value   T
	done    chan struct{}
	err     error
	settled bool
	// claim is non-nil when this waiter was registered on behalf of a
	// corok.Select clause. Whoever is about to hand this waiter's value off
	// (offerLocked's direct-match path, or wakeSenderIntoBufferLocked) must
	// call it, under c.mu, before mutating any state; a waiter whose claim
	// fails already lost its select elsewhere and is simply skipped.
	claim func() bool
}

type recvWaiter[T any] struct {
	done    chan struct{}
	value   T
	err     error
	settled bool
	// claim mirrors sendWaiter.claim for a select-registered receiver.
	claim func() bool
}

// Config configures a new Channel, following the teacher's Config-struct
// pattern.
type Config[T any] struct {
	Capacity    Capacity
	Policy      OverflowPolicy
	OnUndeliver UndeliveredHandler[T]
	Observer    observe.Observer
	Metrics     metrics.Provider
}

// Channel is a mutex-guarded MPMC queue (spec.md §4.5).
type Channel[T any] struct {
	mu sync.Mutex

	capacity Capacity
	policy   OverflowPolicy
	buf      []T

	closed     bool
	closeCause error

	sendWaiters []*sendWaiter[T]
	recvWaiters []*recvWaiter[T]

	onUndeliver UndeliveredHandler[T]
	observer    observe.Observer

	bufferedGauge metrics.UpDownCounter
	undeliverCtr  metrics.Counter
}

// New constructs a Channel. It panics on an invalid capacity, mirroring
// spec.md §6's IllegalArgumentException for "capacity must be >= -2".
func New[T any](cfg Config[T]) *Channel[T] {
	if cfg.Capacity < Unlimited {
		panic(cerr.ErrInvalidCapacity)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = observe.NoopObserver{}
	}
	provider := cfg.Metrics
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}

	c := &Channel[T]{
		capacity:    cfg.Capacity,
		policy:      cfg.Policy,
		onUndeliver: cfg.OnUndeliver,
		observer:    observer,
	}
	if cfg.Capacity == Conflated {
		// Conflated always behaves as DropOldest with a one-element buffer,
		// regardless of the configured policy (spec.md §4.5).
		c.policy = DropOldest
	}
	c.bufferedGauge = provider.UpDownCounter("corok.channel.buffered")
	c.undeliverCtr = provider.Counter("corok.channel.undelivered")
	return c
}

// maxBuffer returns the buffer's capacity in elements, or -1 for unlimited.
func (c *Channel[T]) maxBuffer() int {
	switch c.capacity {
	case Unlimited:
		return -1
	case Conflated:
		return 1
	case Rendezvous:
		return 0
	default:
		return int(c.capacity)
	}
}

// Send enqueues v, suspending (subject to ctx) if the channel is full and
// its policy is Suspend. It returns the close cause, wrapped in a
// *cerr.ClosedSendError, once the channel has been closed for sending.
func (c *Channel[T]) Send(ctx context.Context, v T) error {
	return c.send(ctx, v, nil)
}

// SendWithClaim is Send's select-aware variant (spec.md §4.6): claim is
// consulted, under c.mu, at the exact instant v would be handed to a
// waiting receiver or buffered — never before. If claim reports that some
// other clause already won the select, the attempt is abandoned and
// cerr.ErrNotChosen is returned; v is never delivered or buffered, so a
// losing OnSend clause leaves no observable trace (the "registration-then-
// commit" protocol corok.Select relies on).
func (c *Channel[T]) SendWithClaim(ctx context.Context, v T, claim func() bool) error {
	return c.send(ctx, v, claim)
}

func (c *Channel[T]) send(ctx context.Context, v T, claim func() bool) error {
	c.mu.Lock()
	if c.closed {
		cause := c.closeCause
		c.mu.Unlock()
		return &cerr.ClosedSendError{Cause: cause}
	}

	delivered, lost, dropped, hadDrop := c.offerLocked(v, claim)
	if lost {
		c.mu.Unlock()
		return cerr.ErrNotChosen
	}
	if delivered {
		c.mu.Unlock()
		if hadDrop {
			c.reportUndelivered(dropped)
		}
		return nil
	}

	w := &sendWaiter[T]{done: make(chan struct{}), value: v, claim: claim}
	c.sendWaiters = append(c.sendWaiters, w)
	c.mu.Unlock()

	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		c.abortSend(w)
		return ctx.Err()
	}
}

// TrySend attempts a non-suspending send (spec.md §4.5 "trySend").
func (c *Channel[T]) TrySend(v T) SendStatus {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return SendClosed
	}
	delivered, _, dropped, hadDrop := c.offerLocked(v, nil)
	c.mu.Unlock()
	if delivered {
		if hadDrop {
			c.reportUndelivered(dropped)
		}
		return SendSuccess
	}
	return SendFailure
}

// offerLocked attempts to either hand v directly to a waiting receiver or
// buffer it, applying the overflow policy if the buffer is full. It must be
// called with c.mu held. delivered reports whether v was accepted in some
// form; lost reports that claim (when non-nil) rejected the attempt after a
// match was found, in which case neither the buffer nor any waiter was
// touched; hadDrop/dropped report an element evicted by DropOldest so the
// caller can invoke the undelivered handler outside the lock.
//
// Any matched recvWaiter that itself carries a claim (i.e. is a select
// clause) is consulted first and skipped — not requeued — if it no longer
// wants the value: it already lost its own select elsewhere. Only once a
// live match is found is this call's own claim consulted; if that fails,
// the matched waiter is requeued at the front so it remains available to
// the next sender (spec.md §4.6's no-side-effect-on-loss guarantee).
func (c *Channel[T]) offerLocked(v T, claim func() bool) (delivered, lost bool, dropped T, hadDrop bool) {
	for len(c.recvWaiters) > 0 {
		rw := c.recvWaiters[0]
		c.recvWaiters = c.recvWaiters[1:]
		if rw.claim != nil && !rw.claim() {
			continue
		}
		if claim != nil && !claim() {
			c.recvWaiters = append([]*recvWaiter[T]{rw}, c.recvWaiters...)
			return false, true, dropped, false
		}
		rw.value = v
		rw.settled = true
		close(rw.done)
		c.wakeSenderIntoBufferLocked()
		return true, false, dropped, false
	}

	max := c.maxBuffer()
	if max < 0 || len(c.buf) < max {
		if claim != nil && !claim() {
			return false, true, dropped, false
		}
		c.buf = append(c.buf, v)
		c.bufferedGauge.Add(1)
		return true, false, dropped, false
	}

	if max == 0 {
		return false, false, dropped, false // Rendezvous with no receiver waiting: must suspend.
	}

	switch c.policy {
	case DropOldest:
		if claim != nil && !claim() {
			return false, true, dropped, false
		}
		dropped = c.buf[0]
		copy(c.buf, c.buf[1:])
		c.buf[len(c.buf)-1] = v
		return true, false, dropped, true
	case DropLatest:
		if claim != nil && !claim() {
			return false, true, dropped, false
		}
		return true, false, v, true // the incoming value itself is the one discarded.
	default: // Suspend
		return false, false, dropped, false
	}
}

// wakeSenderIntoBufferLocked moves one queued Suspend-policy sender's value
// into the buffer (or, for Rendezvous, leaves it to be picked up directly by
// the next Receive) now that a slot has freed up. Must be called holding
// c.mu. A queued sender that is itself a select clause and has already lost
// elsewhere (its claim fails) is skipped rather than woken.
func (c *Channel[T]) wakeSenderIntoBufferLocked() {
	if c.maxBuffer() == 0 {
		return
	}
	for len(c.sendWaiters) > 0 {
		sw := c.sendWaiters[0]
		c.sendWaiters = c.sendWaiters[1:]
		if sw.claim != nil && !sw.claim() {
			continue
		}
		c.buf = append(c.buf, sw.value)
		c.bufferedGauge.Add(1)
		sw.settled = true
		close(sw.done)
		return
	}
}

func (c *Channel[T]) abortSend(w *sendWaiter[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.settled {
		return
	}
	for i, q := range c.sendWaiters {
		if q == w {
			c.sendWaiters = append(c.sendWaiters[:i:i], c.sendWaiters[i+1:]...)
			break
		}
	}
}

// Receive dequeues the next element, suspending (subject to ctx) until one
// is available or the channel closes.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	return c.receive(ctx, nil)
}

// ReceiveWithClaim is Receive's select-aware variant (spec.md §4.6):
// claim is consulted, under c.mu, at the exact instant a value would be
// taken from the buffer or a waiting sender — never before. If claim
// reports that some other clause already won the select, the attempt is
// abandoned and cerr.ErrNotChosen is returned; nothing is dequeued, so a
// losing OnReceive clause leaves no observable trace.
func (c *Channel[T]) ReceiveWithClaim(ctx context.Context, claim func() bool) (T, error) {
	return c.receive(ctx, claim)
}

func (c *Channel[T]) receive(ctx context.Context, claim func() bool) (T, error) {
	c.mu.Lock()
	v, ok, lost := c.takeLocked(claim)
	if lost {
		c.mu.Unlock()
		var zero T
		return zero, cerr.ErrNotChosen
	}
	if ok {
		c.mu.Unlock()
		return v, nil
	}
	if c.closed {
		cause := c.closeCause
		c.mu.Unlock()
		var zero T
		return zero, &cerr.ClosedReceiveError{Cause: cause}
	}

	w := &recvWaiter[T]{done: make(chan struct{}), claim: claim}
	c.recvWaiters = append(c.recvWaiters, w)
	c.mu.Unlock()

	select {
	case <-w.done:
		return w.value, w.err
	case <-ctx.Done():
		c.abortReceive(w)
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive attempts a non-suspending receive.
func (c *Channel[T]) TryReceive() (T, ReceiveStatus) {
	c.mu.Lock()
	if v, ok, _ := c.takeLocked(nil); ok {
		c.mu.Unlock()
		return v, ReceiveSuccess
	}
	closed := c.closed
	c.mu.Unlock()
	var zero T
	if closed {
		return zero, ReceiveClosed
	}
	return zero, ReceiveFailure
}

// takeLocked pops the next value from the buffer or, for Rendezvous,
// directly from a waiting sender. Must be called holding c.mu. lost mirrors
// offerLocked's: claim (when non-nil) rejected a found match, in which case
// nothing was dequeued and any popped sendWaiter is requeued at the front.
// A matched sendWaiter that is itself a select clause and has already lost
// elsewhere is skipped, not requeued.
func (c *Channel[T]) takeLocked(claim func() bool) (v T, ok bool, lost bool) {
	if len(c.buf) > 0 {
		if claim != nil && !claim() {
			var zero T
			return zero, false, true
		}
		v = c.buf[0]
		c.buf = c.buf[1:]
		c.bufferedGauge.Add(-1)
		c.wakeSenderIntoBufferLocked()
		return v, true, false
	}
	if c.maxBuffer() == 0 {
		for len(c.sendWaiters) > 0 {
			sw := c.sendWaiters[0]
			c.sendWaiters = c.sendWaiters[1:]
			if sw.claim != nil && !sw.claim() {
				continue
			}
			if claim != nil && !claim() {
				c.sendWaiters = append([]*sendWaiter[T]{sw}, c.sendWaiters...)
				var zero T
				return zero, false, true
			}
			sw.settled = true
			v = sw.value
			close(sw.done)
			return v, true, false
		}
	}
	var zero T
	return zero, false, false
}

func (c *Channel[T]) abortReceive(w *recvWaiter[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.settled {
		return
	}
	for i, q := range c.recvWaiters {
		if q == w {
			c.recvWaiters = append(c.recvWaiters[:i:i], c.recvWaiters[i+1:]...)
			break
		}
	}
}

// Close is idempotent. Once closed, Send always fails; buffered elements
// remain receivable until exhausted, after which Receive fails too
// (spec.md §4.5 "Close propagation").
func (c *Channel[T]) Close(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.closeCause = cause

	sendErr := &cerr.ClosedSendError{Cause: cause}
	pendingSends := c.sendWaiters
	c.sendWaiters = nil
	for _, sw := range pendingSends {
		sw.settled = true
		sw.err = sendErr
	}

	var pendingRecvs []*recvWaiter[T]
	if len(c.buf) == 0 {
		recvErr := &cerr.ClosedReceiveError{Cause: cause}
		pendingRecvs = c.recvWaiters
		c.recvWaiters = nil
		for _, rw := range pendingRecvs {
			rw.settled = true
			rw.err = recvErr
		}
	}
	c.mu.Unlock()

	for _, sw := range pendingSends {
		close(sw.done)
		c.reportUndelivered(sw.value)
	}
	for _, rw := range pendingRecvs {
		close(rw.done)
	}

	c.observer.OnEvent(context.Background(), observe.Event{
		Type:  "channel.close",
		Level: observe.LevelVerbose,
		Data:  map[string]any{"cause": errString(cause)},
	})
	return true
}

func (c *Channel[T]) reportUndelivered(v T) {
	c.undeliverCtr.Add(1)
	if c.onUndeliver != nil {
		c.onUndeliver(v)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Iterate drains the channel into the returned channel until it closes with
// no cause or ctx is done, matching the "for v := range ch" idiom Kotlin's
// ReceiveChannel exposes via its iterator. The returned channel is closed
// once iteration ends; a close-with-cause is silently swallowed to match
// spec.md §4.5's "no exception on normal channel exhaustion" — callers that
// need the cause should call Receive directly instead.
func (c *Channel[T]) Iterate(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			v, err := c.Receive(ctx)
			if err != nil {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
