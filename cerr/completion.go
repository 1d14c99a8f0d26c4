package cerr

import (
	"fmt"
	"sync"
)

// CompletionError aggregates a Job's root failure cause together with any
// additional exceptions raised by sibling children while the parent was
// already Finishing (spec.md I5, §7 "business failures aggregate"). It is
// the Go-native replacement for Kotlin's Throwable.addSuppressed: instead of
// a JVM-intrinsic suppressed list, it implements Unwrap() []error so
// errors.Is/errors.As (Go 1.20+) can see the root cause and every suppressed
// cause without a type switch.
//
// Deduplication is by identity (pointer/interface equality), matching
// spec.md's "provided they are not already reachable through suppression
// chains" rule: re-adding the same error value is a no-op.
type CompletionError struct {
	mu         sync.Mutex
	root       error
	suppressed []error
	seen       map[error]struct{}
}

// NewCompletionError creates an aggregator whose root cause is root.
// root may be nil only transiently; AddSuppressed before a root is set
// stores the first added error as root.
func NewCompletionError(root error) *CompletionError {
	c := &CompletionError{root: root, seen: make(map[error]struct{})}
	if root != nil {
		c.seen[root] = struct{}{}
	}
	return c
}

// AddSuppressed records cause as suppressed by the root cause, unless it is
// nil, already the root, or already recorded (deduplication by identity).
func (c *CompletionError) AddSuppressed(cause error) {
	if cause == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.root == nil {
		c.root = cause
		c.seen[cause] = struct{}{}
		return
	}
	if _, ok := c.seen[cause]; ok {
		return
	}
	c.seen[cause] = struct{}{}
	c.suppressed = append(c.suppressed, cause)
}

// AddCause records cause like AddSuppressed, except that a non-cancellation
// cause always ends up as Root, demoting whatever is already there (even an
// existing root) to suppressed if that existing root is a pure cancellation.
// This is the Go-native form of kotlinx's JobSupport.getFinalRootCause: a
// genuine business failure wins as the terminal cause over cancellation
// regardless of which one was recorded first.
func (c *CompletionError) AddCause(cause error) {
	if cause == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[cause]; ok {
		return
	}
	c.seen[cause] = struct{}{}

	if c.root == nil {
		c.root = cause
		return
	}
	if IsCancellation(c.root) && !IsCancellation(cause) {
		c.suppressed = append(c.suppressed, c.root)
		c.root = cause
		return
	}
	c.suppressed = append(c.suppressed, cause)
}

// HasNonCancellationCause reports whether any recorded cause — root or
// suppressed — is a genuine business failure rather than cancellation.
// Join/Await must use this instead of the tree-wide errors.As that
// IsCancellation performs: a *CancellationError sitting anywhere in the
// suppressed list must never mask a real business failure recorded
// alongside it (spec.md I5).
func (c *CompletionError) HasNonCancellationCause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root != nil && !IsCancellation(c.root) {
		return true
	}
	for _, s := range c.suppressed {
		if !IsCancellation(s) {
			return true
		}
	}
	return false
}

// Root returns the first-captured exception (spec.md I5).
func (c *CompletionError) Root() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Suppressed returns a copy of the suppressed exceptions recorded so far,
// in the order they were attached.
func (c *CompletionError) Suppressed() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.suppressed))
	copy(out, c.suppressed)
	return out
}

func (c *CompletionError) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root == nil {
		return Namespace + ": completion failed with no recorded cause"
	}
	if len(c.suppressed) == 0 {
		return c.root.Error()
	}
	return fmt.Sprintf("%s (+%d suppressed)", c.root.Error(), len(c.suppressed))
}

// Unwrap exposes the root cause plus every suppressed cause to errors.Is/As
// via Go's multi-error unwrap convention (Unwrap() []error).
func (c *CompletionError) Unwrap() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.root == nil {
		return c.suppressed
	}
	out := make([]error, 0, len(c.suppressed)+1)
	out = append(out, c.root)
	out = append(out, c.suppressed...)
	return out
}

// Format supports "%+v" to print the root cause and every suppressed cause,
// mirroring the teacher's taskTaggedError.Format for multi-cause errors.
func (c *CompletionError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			c.mu.Lock()
			defer c.mu.Unlock()
			_, _ = fmt.Fprintf(s, "%+v", c.root)
			for _, sup := range c.suppressed {
				_, _ = fmt.Fprintf(s, "\n\tsuppressed: %+v", sup)
			}
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, c.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", c.Error())
	}
}
