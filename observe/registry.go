package observe

import (
	"fmt"
	"log/slog"
	"sync"
)

var (
	mutex     sync.RWMutex
	observers = map[string]Observer{
		"noop": NoopObserver{},
		"slog": NewSlogObserver(slog.Default()),
	}
)

// Get returns a registered observer by name.
// Pre-registered observers: "noop" (NoopObserver) and "slog" (default logger).
func Get(name string) (Observer, error) {
	mutex.RLock()
	defer mutex.RUnlock()

	obs, ok := observers[name]
	if !ok {
		return nil, fmt.Errorf("observe: unknown observer %q", name)
	}
	return obs, nil
}

// Register adds or replaces a named observer in the global registry.
func Register(name string, observer Observer) {
	mutex.Lock()
	defer mutex.Unlock()

	observers[name] = observer
}
