// Package cerr defines the error taxonomy shared by job, chans, sync2, flow
// and the root corok package (spec.md §6-§7): cooperative-cancellation
// errors, channel-closed errors, and a suppressed-exception aggregator that
// plays the role Kotlin's addSuppressed plays in the original design.
//
// It is a leaf package (no imports from this module) so every other package
// can depend on it without creating an import cycle.
package cerr

import "errors"

// Namespace prefixes every sentinel error message, following the teacher's
// errors.go convention of a single Namespace constant.
const Namespace = "corok"

// Contract-violation sentinels (spec.md §6 IllegalStateException / IllegalArgumentException).
var (
	ErrInvalidCapacity    = errors.New(Namespace + ": channel capacity must be >= -2 (RENDEZVOUS=0, CONFLATED=-1, UNLIMITED=-2)")
	ErrInvalidParallelism = errors.New(Namespace + ": limited parallelism must be > 0")
	ErrInvalidDelay       = errors.New(Namespace + ": delay must be >= 0")
	ErrAlreadyStarted     = errors.New(Namespace + ": job already started")
	ErrReentrantLock      = errors.New(Namespace + ": mutex already locked by this owner")
	ErrLockOwnerMismatch  = errors.New(Namespace + ": unlock called with a different owner than the current holder")
	ErrNotLocked          = errors.New(Namespace + ": unlock called on a mutex that is not locked")
	ErrCallbackFlowMisuse = errors.New(Namespace + ": callbackFlow producer returned without calling AwaitClose")
	ErrConflictingOptions = errors.New(Namespace + ": conflicting options supplied to constructor")

	// ErrNotChosen is returned by Channel.SendWithClaim/ReceiveWithClaim when
	// the caller's claim callback reports that some other select clause
	// already won; the attempted send/receive never took effect (spec.md
	// §4.6 "clauses not chosen must leave no observable side effect").
	ErrNotChosen = errors.New(Namespace + ": select clause was not chosen")
)

// CancellationError signals cooperative cancellation (spec.md §7.1). It is
// "normal" from the point of view of the structural-concurrency machinery:
// a Job that completes with only a CancellationError (or one descending
// from it) is Final(cancelled), never treated as a business failure.
type CancellationError struct {
	Message string
	Cause   error
}

func NewCancellationError(message string, cause error) *CancellationError {
	return &CancellationError{Message: message, Cause: cause}
}

func (e *CancellationError) Error() string {
	if e.Message == "" {
		return Namespace + ": job was cancelled"
	}
	return Namespace + ": " + e.Message
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// TimeoutCancellationError is the CancellationError subtype produced by
// WithTimeout when the deadline elapses before the block completes
// (spec.md §5 Timeouts). It embeds CancellationError so errors.As matches
// either type.
type TimeoutCancellationError struct {
	*CancellationError
}

func NewTimeoutCancellationError(message string) *TimeoutCancellationError {
	return &TimeoutCancellationError{CancellationError: NewCancellationError(message, nil)}
}

// Unwrap exposes the embedded CancellationError, which is what lets
// errors.As (and so IsCancellation) match it through a timeout error.
func (e *TimeoutCancellationError) Unwrap() error { return e.CancellationError }

// IsCancellation reports whether err is, or wraps, a CancellationError —
// the Go-native test for "is this cooperative cancellation, or a business
// failure" that spec.md §7 relies on throughout.
func IsCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}

// ClosedSendError is returned by Channel.Send/TrySend once the channel has
// been closed for sending (spec.md §4.5).
type ClosedSendError struct {
	Cause error // the cause passed to Close, if any
}

func (e *ClosedSendError) Error() string {
	if e.Cause != nil {
		return Namespace + ": send on closed channel: " + e.Cause.Error()
	}
	return Namespace + ": send on closed channel"
}

func (e *ClosedSendError) Unwrap() error { return e.Cause }

// ClosedReceiveError is returned by Channel.Receive/TryReceive once the
// channel is closed for receive and its buffer has been exhausted
// (spec.md §4.5).
type ClosedReceiveError struct {
	Cause error
}

func (e *ClosedReceiveError) Error() string {
	if e.Cause != nil {
		return Namespace + ": receive on closed channel: " + e.Cause.Error()
	}
	return Namespace + ": receive on closed channel"
}

func (e *ClosedReceiveError) Unwrap() error { return e.Cause }
