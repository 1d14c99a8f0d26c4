package corotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	corok "github.com/ygrebnov/corok"
)

func TestScheduler_AdvanceTimeByRunsDueEvents(t *testing.T) {
	sched := NewScheduler()
	disp := New(sched)

	var ran []string
	disp.ScheduleResumeAfterDelay(100*time.Millisecond, func() { ran = append(ran, "a") })
	disp.ScheduleResumeAfterDelay(50*time.Millisecond, func() { ran = append(ran, "b") })

	sched.AdvanceTimeBy(60 * time.Millisecond)
	require.Equal(t, []string{"b"}, ran)

	sched.AdvanceTimeBy(50 * time.Millisecond)
	require.Equal(t, []string{"b", "a"}, ran)
}

func TestScheduler_AdvanceUntilIdleDrainsEverything(t *testing.T) {
	sched := NewScheduler()
	disp := New(sched)

	count := 0
	var chain func()
	chain = func() {
		count++
		if count < 5 {
			disp.ScheduleResumeAfterDelay(10*time.Millisecond, chain)
		}
	}
	disp.ScheduleResumeAfterDelay(10*time.Millisecond, chain)

	sched.AdvanceUntilIdle()
	require.Equal(t, 5, count)
}

func TestDelay_UsesVirtualClockWithoutRealSleep(t *testing.T) {
	sched := NewScheduler()
	disp := New(sched)
	ctx := corok.WithDispatcher(context.Background(), disp)

	done := make(chan error, 1)
	go func() { done <- corok.Delay(ctx, time.Hour) }()

	// the real clock never advances; only the virtual one does.
	sched.AdvanceTimeBy(time.Hour)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Delay did not resume once the virtual clock advanced past its deadline")
	}
}
