// Package job implements the Job state machine: the New -> Active ->
// Completing -> Cancelled/Completed lifecycle described in spec.md §3-§4.2,
// the parent/child job tree, cancellation propagation, and completion
// handler dispatch.
//
// The state machine is expressed as a mutex-guarded struct (Support)
// rather than the CAS-on-a-single-word design spec.md describes. Both
// satisfy the same externally observable invariants (I1-I5 in spec.md §3);
// see DESIGN.md for the tradeoff this module makes and why. The original
// kotlinx.coroutines implementation itself falls back to a Finishing-scoped
// lock for the same bookkeeping (synchronized(this) over the Finishing
// object's handler list and exception set) rather than a fully lock-free
// path, which is the precedent this package follows at the granularity of
// the whole Support struct instead of just the Finishing sub-object.
package job
