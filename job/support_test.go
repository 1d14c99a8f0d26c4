package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/corok/cerr"
)

func TestSupport_StartIsIdempotent(t *testing.T) {
	s := New(Config{})
	require.True(t, s.Start())
	require.False(t, s.Start())
	require.True(t, s.IsActive())
}

func TestSupport_CancelThenJoinReturnsNilError(t *testing.T) {
	s := New(Config{Active: true})
	s.Cancel(nil)

	err := s.Join(context.Background())
	require.NoError(t, err, "cancellation must not surface as a Join error")
	require.True(t, s.IsCancelled())
	require.True(t, s.IsCompleted())
}

func TestSupport_CancelIsIdempotent(t *testing.T) {
	s := New(Config{Active: true})
	first := cerr.NewCancellationError("first", nil)
	second := cerr.NewCancellationError("second", nil)

	s.Cancel(first)
	s.Cancel(second)

	cause := s.CancellationCause()
	require.NotNil(t, cause)
	require.Contains(t, cause.Error(), "first")
}

func TestSupport_CompleteNormally(t *testing.T) {
	s := New(Config{Active: true})
	s.Complete(nil)

	require.True(t, s.IsCompleted())
	require.False(t, s.IsCancelled())
	require.NoError(t, s.Join(context.Background()))
}

func TestSupport_CompleteWithBusinessFailurePropagatesAsJoinError(t *testing.T) {
	s := New(Config{Active: true})
	boom := errors.New("boom")
	s.Complete(boom)

	err := s.Join(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

func TestSupport_JoinRespectsContextDeadline(t *testing.T) {
	s := New(Config{Active: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Join(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupport_ParentDoesNotCompleteBeforeChildren(t *testing.T) {
	parent := New(Config{Active: true})
	child := New(Config{Active: true, Parent: parent})
	parent.AttachChild(child)

	parent.Complete(nil)

	select {
	case <-parent.doneCh:
		t.Fatalf("parent must not reach Final before its child completes")
	case <-time.After(10 * time.Millisecond):
	}

	child.Complete(nil)
	require.NoError(t, parent.Join(context.Background()))
}

func TestSupport_CancelPropagatesToChildren(t *testing.T) {
	parent := New(Config{Active: true})
	child := New(Config{Active: true, Parent: parent})
	parent.AttachChild(child)

	parent.Cancel(nil)

	require.Eventually(t, child.IsCancelled, time.Second, time.Millisecond)
	child.Complete(nil)
	require.NoError(t, parent.Join(context.Background()))
}

func TestSupport_ChildCancellationDoesNotFailNormallyCompletingParent(t *testing.T) {
	parent := New(Config{Active: true})
	child := New(Config{Active: true, Parent: parent})
	parent.AttachChild(child)

	child.Cancel(nil)
	require.Eventually(t, child.IsCompleted, time.Second, time.Millisecond)

	parent.Complete(nil)
	err := parent.Join(context.Background())
	require.NoError(t, err, "a cancelled child must not promote a normally-completing parent to failed")
}

func TestSupport_ChildBusinessFailurePromotesParentToFailed(t *testing.T) {
	parent := New(Config{Active: true})
	child := New(Config{Active: true, Parent: parent})
	parent.AttachChild(child)

	boom := errors.New("child blew up")
	child.Complete(boom)

	parent.Complete(nil)
	err := parent.Join(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

func TestSupport_SupervisorIsolatesChildFailures(t *testing.T) {
	parent := New(Config{Active: true, Supervisor: true})
	child := New(Config{Active: true, Parent: parent})
	parent.AttachChild(child)

	boom := errors.New("isolated failure")
	child.Complete(boom)

	parent.Complete(nil)
	require.NoError(t, parent.Join(context.Background()), "a supervisor must not fail on a child's business failure")
}

func TestSupport_InvokeOnCompletionFiresOnceAfterFinal(t *testing.T) {
	s := New(Config{Active: true})
	calls := 0
	s.InvokeOnCompletion(func(error) { calls++ })

	s.Complete(nil)
	s.Complete(nil) // second call is a no-op; handler must still fire exactly once

	require.Equal(t, 1, calls)
}

func TestSupport_InvokeOnCompletionImmediateAfterFinal(t *testing.T) {
	s := New(Config{Active: true})
	s.Complete(nil)

	called := false
	s.InvokeOnCompletion(func(error) { called = true }, InvokeImmediately())
	require.True(t, called)
}

func TestSupport_DisposeRemovesHandlerBeforeItFires(t *testing.T) {
	s := New(Config{Active: true})
	calls := 0
	handle := s.InvokeOnCompletion(func(error) { calls++ })
	handle.Dispose()

	s.Complete(nil)
	require.Equal(t, 0, calls)
}

func TestSupport_NonCancellableIgnoresCancel(t *testing.T) {
	s := New(Config{Active: true, NonCancellable: true})
	s.Cancel(nil)
	require.False(t, s.IsCancelled())

	s.Complete(nil)
	require.NoError(t, s.Join(context.Background()))
}

func TestSupport_EnsureActiveReturnsCancellationCauseOnceCancelling(t *testing.T) {
	s := New(Config{Active: true})
	require.NoError(t, s.EnsureActive())

	s.Cancel(nil)
	require.Error(t, s.EnsureActive())
}

func TestSupport_OnceCompletedChildrenIsEmpty(t *testing.T) {
	parent := New(Config{Active: true})
	child := New(Config{Active: true, Parent: parent})
	parent.AttachChild(child)

	child.Complete(nil)
	parent.Complete(nil)
	require.NoError(t, parent.Join(context.Background()))
	require.Empty(t, parent.Children())
}
