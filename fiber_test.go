package fiberloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFiber_ResumeRendezvous(t *testing.T) {
	var observed []any
	f := &Fiber{
		timeoutIndex: -1,
		resumeCh:     make(chan any),
		yieldCh:      make(chan fiberResult),
	}
	f.fn = func(fb *Fiber, arg any) {
		observed = append(observed, arg)
		v := fb.yield()
		observed = append(observed, v)
	}

	res := f.resume("first")
	require.Equal(t, signalEvent, res.kind)
	require.Equal(t, []any{"first"}, observed)

	res = f.resume("second")
	require.Equal(t, signalDone, res.kind)
	require.Equal(t, []any{"first", "second"}, observed)
}

func TestFiber_PanicBecomesSignalError(t *testing.T) {
	f := &Fiber{
		timeoutIndex: -1,
		resumeCh:     make(chan any),
		yieldCh:      make(chan fiberResult),
	}
	f.fn = func(fb *Fiber, arg any) {
		panic("boom")
	}

	res := f.resume(nil)
	require.Equal(t, signalError, res.kind)
	require.ErrorContains(t, res.err, "boom")
}
