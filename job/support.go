package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ygrebnov/corok/cerr"
	"github.com/ygrebnov/corok/metrics"
	"github.com/ygrebnov/corok/observe"
)

// handlerNode is a single registered completion handler.
type handlerNode struct {
	id           uint64
	handler      func(cause error)
	onCancelling bool
}

// Config configures a new Support. Grounded on the teacher's Config-struct
// pattern (config.go): exported fields, a defaultConfig(), consumed by the
// New constructor. See options.go (job package) for handler-level options
// and corok's scope-level functional options, which build a Config and
// delegate to New — the same layering the teacher uses between Config and
// NewOptions.
type Config struct {
	// Name is the job's CoroutineName (spec.md §9 supplement). Optional.
	Name string

	// Parent, if non-nil, is notified when this job reaches Final. New does
	// not call Parent.AttachChild; attaching is a separate step.
	Parent Job

	// Supervisor marks this job as a supervisor: a child's business failure
	// is recorded on the child's own Deferred (if any) but does not cancel
	// siblings and does not propagate upward (glossary: "Supervisor job").
	Supervisor bool

	// NonCancellable marks this job immune to Cancel — used by
	// WithContext(ctx, NonCancellable, block) (SPEC_FULL.md §4).
	NonCancellable bool

	// Active, when true, starts the job already in the Active state
	// (Empty(isActive=true)) instead of New — used by builders whose
	// CoroutineStart is not Lazy.
	Active bool

	Observer observe.Observer
	Metrics  metrics.Provider
}

func defaultConfig() Config {
	return Config{Observer: observe.NoopObserver{}, Metrics: metrics.NewNoopProvider()}
}

// Support is the concrete Job implementation embedded by every coroutine
// kind this module constructs (StandaloneCoroutine-equivalent Launch jobs,
// Deferred jobs, scope jobs). Per spec.md §9 "Polymorphism", the behavioral
// differences between those kinds (supervise? store a result? notify an
// exception handler?) are carried as fields/hooks on this one struct rather
// than as a 5-deep inheritance chain.
type Support struct {
	mu sync.Mutex

	id   uuid.UUID
	name string

	parent Job
	supervisor bool
	nonCancellable bool

	started    bool
	cancelling bool
	completing bool
	final      bool

	rootCause     error
	completionErr *cerr.CompletionError
	cancelCause   *cerr.CancellationError

	children map[Job]struct{}

	cancellingHandlers []*handlerNode
	completionHandlers []*handlerNode
	nextHandlerID       uint64

	doneCh chan struct{}

	// onTerminal is invoked exactly once, with the lock released, right
	// before completion handlers fire. It is the "virtual onCompleted hook"
	// spec.md §9 asks for; it is set only through OnTerminal, which no code
	// in this module calls.
	onTerminal func(finalCause error)

	observer observe.Observer
	metrics  metrics.Provider

	activeGauge  metrics.UpDownCounter
	completedCtr metrics.Counter
}

// New constructs a Support in the New (or Active, if cfg.Active) state. It
// records cfg.Parent but does not attach the job to it; that takes a
// separate Parent.AttachChild call.
func New(cfg Config) *Support {
	base := defaultConfig()
	if cfg.Observer != nil {
		base.Observer = cfg.Observer
	}
	if cfg.Metrics != nil {
		base.Metrics = cfg.Metrics
	}
	cfg.Observer = base.Observer
	cfg.Metrics = base.Metrics

	s := &Support{
		id:             uuid.New(),
		name:           cfg.Name,
		parent:         cfg.Parent,
		supervisor:     cfg.Supervisor,
		nonCancellable: cfg.NonCancellable,
		started:        cfg.Active,
		children:       make(map[Job]struct{}),
		doneCh:         make(chan struct{}),
		observer:       cfg.Observer,
		metrics:        cfg.Metrics,
	}
	s.activeGauge = s.metrics.UpDownCounter("corok.job.active")
	s.completedCtr = s.metrics.Counter("corok.job.completed")

	if cfg.Active {
		s.activeGauge.Add(1)
	}
	return s
}

// OnTerminal registers the single terminal-state hook for embedders. It
// must be called before the job can
// possibly complete (i.e. right after New, before Start/Cancel/Complete).
func (s *Support) OnTerminal(fn func(finalCause error)) {
	s.mu.Lock()
	s.onTerminal = fn
	s.mu.Unlock()
}

func (s *Support) ID() uuid.UUID { return s.id }
func (s *Support) Name() string  { return s.name }

func (s *Support) Start() bool {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return false
	}
	s.started = true
	already := s.final
	s.mu.Unlock()
	if !already {
		s.activeGauge.Add(1)
		s.emit("job.start", observe.LevelVerbose, nil)
	}
	return true
}

func (s *Support) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.final
}

func (s *Support) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

func (s *Support) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelling
}

func (s *Support) EnsureActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelling || s.final {
		return s.cancellationCauseLocked()
	}
	return nil
}

func (s *Support) CancellationCause() *cerr.CancellationError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancellationCauseLocked()
}

// cancellationCauseLocked must be called with s.mu held.
func (s *Support) cancellationCauseLocked() *cerr.CancellationError {
	if s.cancelCause != nil {
		return s.cancelCause
	}
	if !s.cancelling {
		return nil
	}
	var ce *cerr.CancellationError
	switch c := s.rootCause.(type) {
	case *cerr.CancellationError:
		ce = c
	default:
		ce = cerr.NewCancellationError(fmt.Sprintf("Job %s was cancelled", s.id), s.rootCause)
	}
	s.cancelCause = ce
	return ce
}

func (s *Support) Children() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.children))
	for c := range s.children {
		out = append(out, c)
	}
	return out
}

func (s *Support) Join(ctx context.Context) error {
	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	cause := s.terminalCauseLocked()
	s.mu.Unlock()

	if cause == nil {
		return nil
	}
	if ce, ok := cause.(*cerr.CompletionError); ok {
		if ce.HasNonCancellationCause() {
			return cause
		}
		return nil
	}
	if cerr.IsCancellation(cause) {
		return nil
	}
	return cause
}

// terminalCauseLocked returns the job's final business-failure cause, or
// nil for normal/cancelled completion. Must be called with s.mu held.
func (s *Support) terminalCauseLocked() error {
	if s.completionErr != nil {
		return s.completionErr
	}
	return s.rootCause
}

func (s *Support) InvokeOnCompletion(handler func(cause error), opts ...HandlerOption) DisposableHandle {
	cfg := handlerConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	s.mu.Lock()

	if s.final {
		cause := s.terminalCauseLocked()
		s.mu.Unlock()
		if cfg.invokeImmediately {
			handler(cause)
		}
		return noopHandle
	}

	if cfg.onCancelling && s.cancelling {
		cause := s.rootCause
		s.mu.Unlock()
		if cfg.invokeImmediately {
			handler(cause)
		}
		return noopHandle
	}

	node := &handlerNode{id: s.nextHandlerID, handler: handler, onCancelling: cfg.onCancelling}
	s.nextHandlerID++
	if cfg.onCancelling {
		s.cancellingHandlers = append(s.cancellingHandlers, node)
	} else {
		s.completionHandlers = append(s.completionHandlers, node)
	}
	s.mu.Unlock()

	return disposableFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cfg.onCancelling {
			s.cancellingHandlers = removeNode(s.cancellingHandlers, node)
		} else {
			s.completionHandlers = removeNode(s.completionHandlers, node)
		}
	})
}

func removeNode(list []*handlerNode, target *handlerNode) []*handlerNode {
	for i, n := range list {
		if n == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func (s *Support) AttachChild(child Job) ChildHandle {
	s.mu.Lock()
	if s.final {
		cause := s.terminalCauseLocked()
		s.mu.Unlock()
		child.Cancel(cause)
		return noopHandle.(disposableFunc)
	}
	s.children[child] = struct{}{}
	s.mu.Unlock()

	childDisposer := child.InvokeOnCompletion(func(cause error) {
		s.childCompleted(child, cause)
	})
	parentDisposer := s.InvokeOnCompletion(func(cause error) {
		child.Cancel(cause)
	}, OnCancelling())

	return disposableFunc(func() {
		childDisposer.Dispose()
		parentDisposer.Dispose()
	})
}

// childCompleted is invoked once per child, when that child reaches Final.
// It implements the parent side of the structured-concurrency contract
// (spec.md §4.2 "Parent/child protocol", I3, I5).
func (s *Support) childCompleted(child Job, cause error) {
	s.mu.Lock()
	delete(s.children, child)

	var newlyCancelling bool
	if cause != nil && !s.supervisor && !cerr.IsCancellation(cause) {
		if !s.cancelling && !s.final {
			s.cancelling = true
			s.rootCause = cause
			newlyCancelling = true
		} else if s.rootCause != nil {
			s.ensureCompletionErrLocked().AddCause(cause)
		} else {
			s.rootCause = cause
		}
	}
	noChildrenLeft := len(s.children) == 0
	s.mu.Unlock()

	if newlyCancelling {
		s.fireCancellingHandlers(cause)
		s.cancelChildrenExcept(child, cause)
	}
	if noChildrenLeft {
		s.tryFinalize()
	}
}

// ensureCompletionErrLocked must be called with s.mu held.
func (s *Support) ensureCompletionErrLocked() *cerr.CompletionError {
	if s.completionErr == nil {
		s.completionErr = cerr.NewCompletionError(s.rootCause)
	}
	return s.completionErr
}

func (s *Support) Cancel(cause error) {
	s.mu.Lock()
	if s.final || s.cancelling || s.nonCancellable {
		s.mu.Unlock()
		return
	}
	if cause == nil {
		cause = cerr.NewCancellationError(fmt.Sprintf("Job %s was cancelled", s.id), nil)
	}
	s.cancelling = true
	s.rootCause = cause
	s.mu.Unlock()

	s.emit("job.cancel", observe.LevelInfo, cause)
	s.fireCancellingHandlers(cause)
	s.cancelChildrenExcept(nil, cause)
	s.tryFinalize()
}

// Complete is called by the owning builder when the coroutine body returns.
// result is nil for normal completion, or the body's failure otherwise.
func (s *Support) Complete(result error) {
	s.mu.Lock()
	if s.final {
		s.mu.Unlock()
		return
	}

	if s.cancelling {
		if result != nil && !cerr.IsCancellation(result) {
			s.ensureCompletionErrLocked().AddCause(result)
		}
		s.mu.Unlock()
		s.tryFinalize()
		return
	}

	var toCancel error
	if result != nil {
		s.cancelling = true
		s.rootCause = result
		toCancel = result
	} else {
		s.completing = true
	}
	s.mu.Unlock()

	if toCancel != nil {
		s.fireCancellingHandlers(toCancel)
		s.cancelChildrenExcept(nil, toCancel)
	}
	s.tryFinalize()
}

func (s *Support) fireCancellingHandlers(cause error) {
	s.mu.Lock()
	handlers := append([]*handlerNode(nil), s.cancellingHandlers...)
	s.mu.Unlock()

	for _, n := range handlers {
		s.invokeHandlerSafely(n.handler, cause)
	}
}

func (s *Support) cancelChildrenExcept(except Job, cause error) {
	s.mu.Lock()
	children := make([]Job, 0, len(s.children))
	for c := range s.children {
		if c != except {
			children = append(children, c)
		}
	}
	s.mu.Unlock()

	for _, c := range children {
		c.Cancel(cause)
	}
}

// tryFinalize transitions Finishing -> Final once every child is gone and
// either cancelling or completing has been requested (spec.md's
// Finishing.isCompleting vs "all children done" split).
func (s *Support) tryFinalize() {
	s.mu.Lock()
	if s.final {
		s.mu.Unlock()
		return
	}
	if len(s.children) > 0 {
		s.mu.Unlock()
		return
	}
	if !s.cancelling && !s.completing {
		s.mu.Unlock()
		return
	}

	s.final = true
	finalCause := s.terminalCauseLocked()
	handlers := append([]*handlerNode(nil), s.completionHandlers...)
	hook := s.onTerminal
	s.mu.Unlock()

	close(s.doneCh)
	s.activeGauge.Add(-1)
	s.completedCtr.Add(1)
	s.emit("job.complete", observe.LevelVerbose, finalCause)

	if hook != nil {
		hook(finalCause)
	}
	for _, n := range handlers {
		s.invokeHandlerSafely(n.handler, finalCause)
	}

	if s.parent != nil {
		s.parent.(interface{ childCompleted(Job, error) }).childCompleted(s, finalCause)
	}
}

// invokeHandlerSafely recovers a panicking handler and turns it into an
// observe.Event instead of letting it escape — spec.md §4.2 "exceptions
// thrown by a handler are captured ... surfaced via the exception handler
// element of the context", grounded on the teacher's error_forwarder.go
// "cancel never throws, handler exceptions never propagate to the
// canceller" pattern.
func (s *Support) invokeHandlerSafely(handler func(error), cause error) {
	defer func() {
		if r := recover(); r != nil {
			s.emit("job.handler_panic", observe.LevelError, fmt.Errorf("completion handler panicked: %v", r))
		}
	}()
	handler(cause)
}

func (s *Support) emit(eventType observe.EventType, level observe.Level, err error) {
	data := map[string]any{"job_id": s.id.String()}
	if s.name != "" {
		data["job_name"] = s.name
	}
	if err != nil {
		data["cause"] = err.Error()
	}
	s.observer.OnEvent(context.Background(), observe.Event{
		Type:   eventType,
		Level:  level,
		Source: s.name,
		Data:   data,
	})
}
