package chans

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannel_RendezvousHandoff(t *testing.T) {
	ch := New[int](Config[int]{Capacity: Rendezvous})
	ctx := context.Background()

	var got int
	done := make(chan struct{})
	go func() {
		v, err := ch.Receive(ctx)
		require.NoError(t, err)
		got = v
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let the receiver register before the rendezvous send

	require.NoError(t, ch.Send(ctx, 7))
	<-done
	require.Equal(t, 7, got)
}

func TestChannel_BufferedSendOrderPreserved(t *testing.T) {
	ch := New[int](Config[int]{Capacity: 3})
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	require.NoError(t, ch.Send(ctx, 3))

	v1, _ := ch.Receive(ctx)
	v2, _ := ch.Receive(ctx)
	v3, _ := ch.Receive(ctx)
	require.Equal(t, []int{1, 2, 3}, []int{v1, v2, v3})
}

func TestChannel_SuspendBlocksWhenFull(t *testing.T) {
	ch := New[int](Config[int]{Capacity: 1, Policy: Suspend})
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))

	require.Equal(t, SendFailure, ch.TrySend(2))

	unblocked := make(chan struct{})
	go func() {
		require.NoError(t, ch.Send(ctx, 2))
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatalf("send should still be blocked")
	case <-time.After(20 * time.Millisecond):
	}

	v, _ := ch.Receive(ctx)
	require.Equal(t, 1, v)
	<-unblocked

	v2, _ := ch.Receive(ctx)
	require.Equal(t, 2, v2)
}

func TestChannel_DropOldestEvictsOldest(t *testing.T) {
	undelivered := make([]int, 0)
	var mu sync.Mutex
	ch := New[int](Config[int]{
		Capacity: 2,
		Policy:   DropOldest,
		OnUndeliver: func(v int) {
			mu.Lock()
			undelivered = append(undelivered, v)
			mu.Unlock()
		},
	})
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	require.NoError(t, ch.Send(ctx, 3)) // evicts 1

	v1, _ := ch.Receive(ctx)
	v2, _ := ch.Receive(ctx)
	require.Equal(t, []int{2, 3}, []int{v1, v2})
	require.Equal(t, []int{1}, undelivered)
}

func TestChannel_DropLatestDiscardsIncoming(t *testing.T) {
	ch := New[int](Config[int]{Capacity: 1, Policy: DropLatest})
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2)) // discarded, not an error

	v, _ := ch.Receive(ctx)
	require.Equal(t, 1, v)
	_, status := ch.TryReceive()
	require.Equal(t, ReceiveFailure, status)
}

func TestChannel_ConflatedKeepsOnlyLatest(t *testing.T) {
	ch := New[int](Config[int]{Capacity: Conflated})
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	require.NoError(t, ch.Send(ctx, 3))

	v, _ := ch.Receive(ctx)
	require.Equal(t, 3, v)
	_, status := ch.TryReceive()
	require.Equal(t, ReceiveFailure, status)
}

func TestChannel_CloseFailsSubsequentSend(t *testing.T) {
	ch := New[int](Config[int]{Capacity: 1})
	cause := errors.New("shutdown")
	require.True(t, ch.Close(cause))
	require.False(t, ch.Close(cause)) // idempotent

	err := ch.Send(context.Background(), 1)
	require.Error(t, err)
	require.ErrorIs(t, err, cause)
}

func TestChannel_CloseDrainsBufferedBeforeFailingReceive(t *testing.T) {
	ch := New[int](Config[int]{Capacity: 2})
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	ch.Close(nil)

	v, err := ch.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = ch.Receive(ctx)
	require.Error(t, err)
}

func TestChannel_CloseWakesBlockedReceiver(t *testing.T) {
	ch := New[int](Config[int]{Capacity: Rendezvous})
	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Receive(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return true }, 20*time.Millisecond, time.Millisecond)
	ch.Close(errors.New("done"))

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked receiver was never woken by Close")
	}
}

func TestChannel_SendRespectsContextCancellation(t *testing.T) {
	ch := New[int](Config[int]{Capacity: 1, Policy: Suspend})
	require.NoError(t, ch.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ch.Send(ctx, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannel_Iterate(t *testing.T) {
	ch := New[int](Config[int]{Capacity: Unlimited})
	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	ch.Close(nil)

	var got []int
	for v := range ch.Iterate(ctx) {
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2}, got)
}
