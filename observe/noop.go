package observe

import "context"

// NoopObserver discards all events with zero overhead. It is the default
// observer for every Job, Channel and Dispatcher unless one is configured.
type NoopObserver struct{}

func (NoopObserver) OnEvent(context.Context, Event) {}
