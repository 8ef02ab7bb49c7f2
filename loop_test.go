package fiberloop

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runLoopWithTimeout(t *testing.T, l *Loop, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := l.Run(ctx)
	require.NoError(t, err, "loop should drain before the test timeout")
}

// S1 — sleep ordering: fibers sleeping 0.03s, 0.01s, 0.02s append their name
// to a shared list; expected order ["B","C","A"].
func TestLoop_S1_SleepOrdering(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 0.03); record("A") })
	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 0.01); record("B") })
	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 0.02); record("C") })

	runLoopWithTimeout(t, l, 2*time.Second)
	require.Equal(t, []string{"B", "C", "A"}, order)
}

// S2 — channel rendezvous: a writer gives 42 on a rendezvous channel, a
// reader takes it; both complete and the reader observes 42.
func TestLoop_S2_ChannelRendezvous(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	ch := l.NewChannel(0)
	var got any
	var writerDone, readerDone bool

	l.Call(func(f *Fiber, _ any) {
		require.NoError(t, l.Give(ch, f, 42))
		writerDone = true
	})
	l.Call(func(f *Fiber, _ any) {
		got = l.Take(ch, f)
		readerDone = true
	})

	runLoopWithTimeout(t, l, time.Second)
	require.True(t, writerDone)
	require.True(t, readerDone)
	require.Equal(t, 42, got)
}

// S3 — bounded backpressure: limit=2, producer gives 1,2,3,4 in sequence
// (parking once it has more than limit items queued), consumer takes 4
// values; final received list is [1,2,3,4] regardless of the parking
// pattern the scheduler produces along the way.
func TestLoop_S3_BoundedBackpressure(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	ch := l.NewChannel(2)
	var received []int

	l.Call(func(f *Fiber, _ any) {
		for _, v := range []int{1, 2, 3, 4} {
			require.NoError(t, l.Give(ch, f, v))
		}
	})
	l.Call(func(f *Fiber, _ any) {
		for i := 0; i < 4; i++ {
			received = append(received, l.Take(ch, f).(int))
		}
	})

	runLoopWithTimeout(t, l, time.Second)
	require.Equal(t, []int{1, 2, 3, 4}, received)
}

// S4 — cancel drops timer: a fiber sleeps 10s, is cancelled before it
// fires, and the loop drains within one tick instead of waiting 10s.
func TestLoop_S4_CancelDropsTimer(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var x *Fiber
	x = l.Call(func(f *Fiber, _ any) { l.Sleep(f, 10) })

	l.Call(func(f *Fiber, _ any) {
		// give the sleeping fiber a chance to park before cancelling it.
		l.Sleep(f, 0.001)
		l.Cancel(x)
	})

	start := time.Now()
	runLoopWithTimeout(t, l, time.Second)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, -1, x.timeoutIndex)
}

// S5 — duplicate listen rejected: a second Read listener on the same
// pollable fails with ErrDuplicateInterest and leaves the first intact.
func TestLoop_S5_DuplicateListenRejected(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p, err := l.NewPollable(int(r.Fd()))
	require.NoError(t, err)
	defer p.Deinit(l)

	f1 := l.newFiber(func(*Fiber, any) {})
	f2 := l.newFiber(func(*Fiber, any) {})

	lst1, err := l.Listen(p, f1, noopMachine{}, EventRead)
	require.NoError(t, err)

	_, err = l.Listen(p, f2, noopMachine{}, EventRead)
	require.ErrorIs(t, err, ErrDuplicateInterest)

	require.Equal(t, p.head, lst1)
	require.Equal(t, EventRead, p.mask&EventRead)
}

type noopMachine struct{}

func (noopMachine) Handle(*Listener, MachineEvent, any) MachineResult { return NotDone }

func TestLoop_MetricsTracksTicks(t *testing.T) {
	l, err := New(WithMetrics(true))
	require.NoError(t, err)
	defer l.Close()

	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 0.001) })
	runLoopWithTimeout(t, l, time.Second)

	m := l.Metrics()
	require.GreaterOrEqual(t, m.Ticks, uint64(1))
	require.GreaterOrEqual(t, m.TimersExpired, uint64(1))
	require.GreaterOrEqual(t, m.FibersResumed, uint64(1))
}

func TestLoop_RunTwiceReturnsAlreadyRunning(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	// keep the loop parked on a pending timer so it doesn't drain on its
	// own before the second Run call races in.
	l.Call(func(f *Fiber, _ any) { l.Sleep(f, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// give the goroutine a chance to flip the state before trying again.
	time.Sleep(20 * time.Millisecond)
	require.ErrorIs(t, l.Run(context.Background()), ErrLoopAlreadyRunning)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
