package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicProvider_InstrumentsAreCreatedOnce(t *testing.T) {
	p := NewBasicProvider()

	c1 := p.Counter("jobs.completed")
	c2 := p.Counter("jobs.completed")
	require.Same(t, c1, c2, "expected the same counter instance for the same name")

	u1 := p.UpDownCounter("jobs.active")
	u2 := p.UpDownCounter("jobs.active")
	require.Same(t, u1, u2)

	h1 := p.Histogram("channel.rendezvous_seconds")
	h2 := p.Histogram("channel.rendezvous_seconds")
	require.Same(t, h1, h2)
}

func TestBasicCounter_Add(t *testing.T) {
	c := &BasicCounter{}
	c.Add(3)
	c.Add(4)
	require.Equal(t, int64(7), c.Snapshot())
}

func TestBasicUpDownCounter_Add(t *testing.T) {
	u := &BasicUpDownCounter{}
	u.Add(5)
	u.Add(-2)
	require.Equal(t, int64(3), u.Snapshot())
}

func TestBasicHistogram_Snapshot(t *testing.T) {
	h := &BasicHistogram{}
	h.Record(1)
	h.Record(3)
	h.Record(2)

	snap := h.Snapshot()
	require.Equal(t, int64(3), snap.Count)
	require.Equal(t, 6.0, snap.Sum)
	require.Equal(t, 1.0, snap.Min)
	require.Equal(t, 3.0, snap.Max)
	require.InDelta(t, 2.0, snap.Mean, 1e-9)
}

func TestBasicProvider_ConcurrentAccess(t *testing.T) {
	p := NewBasicProvider()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Counter("concurrent").Add(1)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(50), p.Counter("concurrent").(*BasicCounter).Snapshot())
}

func TestNoopProvider_DiscardsEverything(t *testing.T) {
	p := NewNoopProvider()
	p.Counter("x").Add(1)
	p.UpDownCounter("y").Add(-1)
	p.Histogram("z").Record(1.23)
	// nothing to assert: the point is that this never panics or blocks.
}
