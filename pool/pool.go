package pool

// Pool manages a reusable set of dispatch slots so a corok.Dispatcher
// doesn't allocate a new one per Dispatch call. Grounded on the teacher's
// pool.Pool/fixed/dynamic trio (_examples/ygrebnov-workers/pool), generalized
// here from a Task[R]-specific worker interface to the domain-agnostic
// interface{} slot NewDefaultDispatcher/NewElasticDispatcher in dispatcher.go
// hand back and forth.
type Pool interface {
	// Get returns a slot from the pool, creating one if none is free.
	Get() interface{}

	// Put returns a slot to the pool for reuse by a future Get.
	Put(interface{})
}
