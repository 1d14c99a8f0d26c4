package flow

import (
	"context"
	"sync"
	"time"
)

// Sample emits the most recently collected upstream value once per interval
// d, dropping every value observed between ticks (spec.md §4.8 "sample").
func Sample[T any](f *Flow[T], d time.Duration) *Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		var (
			mu     sync.Mutex
			latest T
			has    bool
		)
		doneCh := make(chan error, 1)

		go func() {
			err := Collect(ctx, f, func(ctx context.Context, v T) error {
				mu.Lock()
				latest, has = v, true
				mu.Unlock()
				return nil
			})
			doneCh <- err
		}()

		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mu.Lock()
				v, got := latest, has
				has = false
				mu.Unlock()
				if got {
					if err := emit(v); err != nil {
						return err
					}
				}
			case err := <-doneCh:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
