package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corok/chans"
)

func TestMutableSharedFlow_ReplaysLastNValues(t *testing.T) {
	f := New[int](2, 0, chans.Suspend)
	ctx := context.Background()
	require.NoError(t, f.Emit(ctx, 1))
	require.NoError(t, f.Emit(ctx, 2))
	require.NoError(t, f.Emit(ctx, 3))

	sub := f.Subscribe()
	v1, err := sub.Next(ctx)
	require.NoError(t, err)
	v2, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, []int{v1, v2})
}

func TestMutableSharedFlow_LateSubscriberSeesOnlyNewEmissionsAfterReset(t *testing.T) {
	f := New[int](5, 0, chans.Suspend)
	ctx := context.Background()
	require.NoError(t, f.Emit(ctx, 1))
	f.ResetReplayCache()
	require.NoError(t, f.Emit(ctx, 2))

	sub := f.Subscribe()
	v, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestMutableSharedFlow_MulticastsToAllSubscribers(t *testing.T) {
	f := New[int](0, 4, chans.Suspend)
	ctx := context.Background()

	subA := f.Subscribe()
	subB := f.Subscribe()
	require.NoError(t, f.Emit(ctx, 42))

	vA, err := subA.Next(ctx)
	require.NoError(t, err)
	vB, err := subB.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, vA)
	require.Equal(t, 42, vB)
}

func TestMutableSharedFlow_DropOldestNeverBlocksTheProducer(t *testing.T) {
	f := New[int](0, 1, chans.DropOldest)
	sub := f.Subscribe()
	for i := 0; i < 5; i++ {
		require.True(t, f.TryEmit(i))
	}
	v, err := sub.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, v, "DropOldest must leave only the most recent value for a slow subscriber")
}

func TestMutableSharedFlow_SuspendBlocksUntilSlowSubscriberAdvances(t *testing.T) {
	f := New[int](0, 1, chans.Suspend)
	sub := f.Subscribe()
	ctx := context.Background()
	require.NoError(t, f.Emit(ctx, 1))

	emitDone := make(chan error, 1)
	go func() { emitDone <- f.Emit(ctx, 2) }()

	select {
	case <-emitDone:
		t.Fatal("Emit should suspend: subscriber has not consumed the buffered value yet")
	case <-time.After(50 * time.Millisecond):
	}

	v, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	select {
	case err := <-emitDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Emit should have unblocked once the subscriber advanced")
	}
}

func TestMutableStateFlow_EqualSetIsSuppressed(t *testing.T) {
	f := NewState(0)
	sub := f.Subscribe()
	ctx := context.Background()

	v, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, v)

	f.Set(1)
	f.Set(1) // no-op: equal to current

	var got []int
	v, err = sub.Next(ctx)
	require.NoError(t, err)
	got = append(got, v)

	// Read before the next Set: a state flow conflates, so a subscriber
	// that lags behind two updates sees only the latest one.
	f.Set(2)
	v, err = sub.Next(ctx)
	require.NoError(t, err)
	got = append(got, v)
	require.Equal(t, []int{1, 2}, got, "setting an equal value twice must induce at most one emission")
}

func TestMutableStateFlow_CompareAndSet(t *testing.T) {
	f := NewState(10)
	require.True(t, f.CompareAndSet(10, 20))
	require.Equal(t, 20, f.Value())
	require.False(t, f.CompareAndSet(10, 30), "CompareAndSet must fail once the pre-state no longer matches")
	require.Equal(t, 20, f.Value())
}

func TestMutableStateFlow_UpdateRetriesUnderContention(t *testing.T) {
	f := NewState(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			f.Update(func(v int) int { return v + 1 })
		}
	}()
	for i := 0; i < 100; i++ {
		f.Update(func(v int) int { return v + 1 })
	}
	<-done
	require.Equal(t, 200, f.Value())
}
