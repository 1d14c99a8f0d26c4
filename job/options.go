package job

// HandlerOption configures a call to InvokeOnCompletion, mirroring the
// teacher's functional-options idiom (options.go) at a much smaller scope.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	onCancelling     bool
	invokeImmediately bool
}

// OnCancelling requests that the handler fire on the Active->Finishing edge
// (when cancellation starts) instead of on the final-state transition.
func OnCancelling() HandlerOption {
	return func(c *handlerConfig) { c.onCancelling = true }
}

// InvokeImmediately requests synchronous invocation if the job has already
// passed the requested phase at registration time.
func InvokeImmediately() HandlerOption {
	return func(c *handlerConfig) { c.invokeImmediately = true }
}
