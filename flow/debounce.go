package flow

import (
	"context"
	"time"
)

// Debounce emits a value only after upstream has gone quiet for d; a value
// superseded by a newer one before d elapses is dropped (spec.md §4.8
// "debounce").
func Debounce[T any](f *Flow[T], d time.Duration) *Flow[T] {
	return New(func(ctx context.Context, emit func(T) error) error {
		valueCh := make(chan T)
		doneCh := make(chan error, 1)

		go func() {
			err := Collect(ctx, f, func(ctx context.Context, v T) error {
				select {
				case valueCh <- v:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			doneCh <- err
			close(valueCh)
		}()

		var (
			hasPending bool
			pending    T
			timerC     <-chan time.Time
		)
		timer := time.NewTimer(d)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case v, ok := <-valueCh:
				if !ok {
					valueCh = nil
					continue
				}
				pending = v
				hasPending = true
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d)
				timerC = timer.C

			case <-timerC:
				timerC = nil
				if hasPending {
					hasPending = false
					if err := emit(pending); err != nil {
						return err
					}
				}

			case err := <-doneCh:
				if hasPending {
					if err2 := emit(pending); err2 != nil {
						return err2
					}
				}
				return err

			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
