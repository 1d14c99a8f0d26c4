// Package corok implements a structured-concurrency runtime: lightweight,
// cancellable, composable coroutines organized into a parent/child job
// tree, dispatched onto configurable Dispatchers, and coordinated through
// suspending primitives.
//
// Go already has what the original design needed a CPS transform tool to
// fake: a goroutine is a stackful fiber that can block and resume without
// a compiler rewrite. Every "suspension point" in this port is realized as
// a goroutine blocking on a channel operation; every "continuation" is a
// struct carrying a result channel plus bookkeeping
// (CancellableContinuation). See SPEC_FULL.md §1 for the full mapping.
//
// Subpackages
//   - job: the Job state machine (New/Active/Finishing/Final), parent/child
//     cancellation propagation, completion handlers.
//   - chans: the mutex-guarded MPMC channel (rendezvous/buffered/conflated).
//   - sync2: FIFO-fair Mutex and Semaphore.
//   - flow: cold, re-executable Flow[T] composition with operator fusing.
//   - flow/shared: hot MutableSharedFlow/MutableStateFlow multicast.
//   - pool: goroutine-slot pools and the default pool-backed Dispatcher.
//   - corotest: a virtual-time Dispatcher for deterministic flow/timeout
//     tests.
//   - bridge: a minimal gRPC/Connect server-call Dispatcher adapter.
//   - cerr, observe, metrics: the ambient error, logging and
//     instrumentation stack shared by every package above.
//
// Builders
//   - Launch starts a fire-and-forget child coroutine.
//   - Async starts a child coroutine and returns a Deferred[T] for its
//     result.
//   - CoroutineScope / SupervisorScope run a block to completion, waiting
//     for every coroutine it launched.
//   - WithContext temporarily swaps the current Dispatcher (and, via
//     NonCancellable, cancellation immunity) for a block's duration.
package corok
