package fiberloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestMetrics_ZeroByDefault: ticks and poll-event counters stay at zero
// unless WithMetrics is enabled, even though fibers still run and timers
// still expire.
func TestMetrics_ZeroByDefault(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 0.001) })
	runLoopWithTimeout(t, l, time.Second)

	m := l.Metrics()
	require.Zero(t, m.Ticks)
	require.Zero(t, m.PollEvents)
	require.Equal(t, uint64(1), m.TimersExpired)
	require.Equal(t, uint64(1), m.FibersResumed)
}

func TestMetrics_TicksCountWhenEnabled(t *testing.T) {
	l, err := New(WithMetrics(true))
	require.NoError(t, err)
	defer l.Close()

	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 0.001) })
	runLoopWithTimeout(t, l, time.Second)

	m := l.Metrics()
	require.GreaterOrEqual(t, m.Ticks, uint64(1))
	require.Equal(t, uint64(1), m.TimersExpired)
	require.Equal(t, uint64(1), m.FibersResumed)
}

func TestMetrics_ActiveListenersReflectsCurrentCount(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	p, cleanup := newTestPollable(t, l)
	defer cleanup()

	f := l.newFiber(func(*Fiber, any) {})
	lst, err := l.Listen(p, f, &recordingMachine{}, EventRead)
	require.NoError(t, err)
	require.EqualValues(t, 1, l.Metrics().ActiveListeners)

	l.Unlisten(lst)
	require.Zero(t, l.Metrics().ActiveListeners)
}

// sanity check that the context-aware Run surface reports no error when
// the loop drains naturally well before the deadline.
func TestMetrics_RunDrainsBeforeDeadline(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	l.Call(func(*Fiber, any) {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx))
}
