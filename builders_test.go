package corok

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corok/cerr"
)

func TestLaunch_RunsBodyAndCompletes(t *testing.T) {
	ran := make(chan struct{})
	j := Launch(context.Background(), func(ctx context.Context) error {
		close(ran)
		return nil
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("launched body never ran")
	}
	require.NoError(t, j.Join(context.Background()))
}

func TestLaunch_CancellingJobUnblocksChannelSuspension(t *testing.T) {
	started := make(chan struct{})
	observed := make(chan error, 1)

	j := Launch(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	})

	<-started
	j.Cancel(nil)

	select {
	case err := <-observed:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("job.Cancel never unblocked the coroutine's ctx.Done()")
	}
	require.NoError(t, j.Join(context.Background()))
	require.True(t, j.IsCancelled())
}

func TestAsync_AwaitReturnsResult(t *testing.T) {
	d := Async(context.Background(), func(ctx context.Context) (int, error) {
		return 21 * 2, nil
	})

	v, err := d.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestAsync_AwaitPropagatesBusinessFailure(t *testing.T) {
	boom := errors.New("boom")
	d := Async(context.Background(), func(ctx context.Context) (int, error) {
		return 0, boom
	})

	_, err := d.Await(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

func TestCoroutineScope_WaitsForLaunchedChildren(t *testing.T) {
	var finished int32
	err := CoroutineScope(context.Background(), func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			Launch(ctx, func(ctx context.Context) error {
				atomic.AddInt32(&finished, 1)
				return nil
			})
		}
		return nil
	})

	require.NoError(t, err)
	require.EqualValues(t, 3, finished)
}

func TestCoroutineScope_ChildFailureCancelsSiblingsAndPropagates(t *testing.T) {
	boom := errors.New("boom")
	siblingCancelled := make(chan struct{}, 1)

	err := CoroutineScope(context.Background(), func(ctx context.Context) error {
		siblingStarted := make(chan struct{})
		Launch(ctx, func(ctx context.Context) error {
			close(siblingStarted)
			<-ctx.Done()
			siblingCancelled <- struct{}{}
			return ctx.Err()
		})
		<-siblingStarted
		Launch(ctx, func(ctx context.Context) error {
			return boom
		})
		return nil
	})

	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	select {
	case <-siblingCancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling coroutine was never cancelled by the failing child")
	}
}

func TestSupervisorScope_ChildFailureDoesNotCancelSiblings(t *testing.T) {
	boom := errors.New("boom")
	siblingFinished := make(chan struct{}, 1)

	err := SupervisorScope(context.Background(), func(ctx context.Context) error {
		Launch(ctx, func(ctx context.Context) error {
			return boom
		})
		Launch(ctx, func(ctx context.Context) error {
			siblingFinished <- struct{}{}
			return nil
		})
		return nil
	})

	require.NoError(t, err)
	select {
	case <-siblingFinished:
	case <-time.After(time.Second):
		t.Fatal("sibling coroutine was cancelled despite running under SupervisorScope")
	}
}

func TestWithContext_RunsOnGivenDispatcherAndReturnsResult(t *testing.T) {
	single := NewSingleThreadDispatcher()
	defer single.Close()

	v, err := WithContext(context.Background(), single, func(ctx context.Context) (string, error) {
		require.Same(t, Dispatcher(single), DispatcherFromContext(ctx))
		return "done", nil
	})

	require.NoError(t, err)
	require.Equal(t, "done", v)
}

func TestWithContext_ReturnsContextErrOnCallerCancellation(t *testing.T) {
	blocked := blockingDispatcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithContext(ctx, blocked, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.Error(t, err)
}

func TestNonCancellable_ShieldsFromParentCancellation(t *testing.T) {
	parentCtx, cancel := context.WithCancel(context.Background())
	cancel()

	shielded := NonCancellable(parentCtx)
	select {
	case <-shielded.Done():
		t.Fatal("NonCancellable context observed the already-cancelled parent's Done()")
	default:
	}

	j := JobFromContext(shielded)
	require.NotNil(t, j)
	require.False(t, j.IsCancelled())
}

func TestNonCancellable_JobIgnoresCancel(t *testing.T) {
	ctx := NonCancellable(context.Background())
	j := JobFromContext(ctx)
	j.Cancel(cerr.NewCancellationError("attempted", nil))
	require.False(t, j.IsCancelled())
}
