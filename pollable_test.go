package fiberloop

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingMachine struct {
	events []MachineEvent
}

func (m *recordingMachine) Handle(_ *Listener, ev MachineEvent, _ any) MachineResult {
	m.events = append(m.events, ev)
	return NotDone
}

func newTestPollable(t *testing.T, l *Loop) (*Pollable, func()) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	p, err := l.NewPollable(int(r.Fd()))
	require.NoError(t, err)
	return p, func() {
		p.Deinit(l)
		_ = r.Close()
		_ = w.Close()
	}
}

func TestPollable_ListenInitAndUnlisten(t *testing.T) {
	l := newTestLoop(t)
	p, cleanup := newTestPollable(t, l)
	defer cleanup()

	m := &recordingMachine{}
	f := l.newFiber(func(*Fiber, any) {})

	lst, err := l.Listen(p, f, m, EventRead)
	require.NoError(t, err)
	require.Equal(t, []MachineEvent{MachineInit}, m.events)
	require.Same(t, lst, f.waiting)
	require.Equal(t, EventRead, p.mask&EventRead)

	l.Unlisten(lst)
	require.Equal(t, []MachineEvent{MachineInit, MachineDeinit}, m.events)
	require.Nil(t, f.waiting)
	require.Zero(t, p.mask&EventRead)
}

// TestPollable_DuplicateInterestLeavesFirstListenerIntact is S5: a second
// Read listener on the same pollable is rejected and the original stays
// the head of the chain.
func TestPollable_DuplicateInterestLeavesFirstListenerIntact(t *testing.T) {
	l := newTestLoop(t)
	p, cleanup := newTestPollable(t, l)
	defer cleanup()

	f1 := l.newFiber(func(*Fiber, any) {})
	f2 := l.newFiber(func(*Fiber, any) {})

	lst1, err := l.Listen(p, f1, &recordingMachine{}, EventRead)
	require.NoError(t, err)

	_, err = l.Listen(p, f2, &recordingMachine{}, EventRead)
	var dupErr *DuplicateInterestError
	require.ErrorAs(t, err, &dupErr)
	require.ErrorIs(t, err, ErrDuplicateInterest)

	require.Same(t, lst1, p.head)
	require.Nil(t, lst1.next)
	require.Nil(t, f2.waiting)
}

// TestPollable_FiberAlreadyWaitingRejected: a fiber cannot hold two
// outstanding listeners at once.
func TestPollable_FiberAlreadyWaitingRejected(t *testing.T) {
	l := newTestLoop(t)
	p1, cleanup1 := newTestPollable(t, l)
	defer cleanup1()
	p2, cleanup2 := newTestPollable(t, l)
	defer cleanup2()

	f := l.newFiber(func(*Fiber, any) {})

	_, err := l.Listen(p1, f, &recordingMachine{}, EventRead)
	require.NoError(t, err)

	_, err = l.Listen(p2, f, &recordingMachine{}, EventRead)
	var waitErr *FiberAlreadyWaitingError
	require.ErrorAs(t, err, &waitErr)
	require.ErrorIs(t, err, ErrFiberAlreadyWaiting)
}

// TestPollable_ListenSpawnerDoesNotAnchorFiber verifies a spawner listener
// never touches a fiber's waiting slot and can coexist with itself being
// unlistened without a fiber reference.
func TestPollable_ListenSpawnerDoesNotAnchorFiber(t *testing.T) {
	l := newTestLoop(t)
	p, cleanup := newTestPollable(t, l)
	defer cleanup()

	m := &recordingMachine{}
	lst, err := l.ListenSpawner(p, m, EventRead)
	require.NoError(t, err)
	require.Nil(t, lst.fiber)

	l.Unlisten(lst)
	require.Equal(t, []MachineEvent{MachineInit, MachineDeinit}, m.events)
}

// TestPollable_DeinitClosesAllListeners delivers MachineClose to every
// listener on a pollable and unregisters the descriptor.
func TestPollable_DeinitClosesAllListeners(t *testing.T) {
	l := newTestLoop(t)
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p, err := l.NewPollable(int(r.Fd()))
	require.NoError(t, err)

	m1 := &recordingMachine{}
	_, err = l.Listen(p, l.newFiber(func(*Fiber, any) {}), m1, EventRead)
	require.NoError(t, err)

	p.Deinit(l)
	require.True(t, p.Closed())
	require.Contains(t, m1.events, MachineClose)
	require.Contains(t, m1.events, MachineDeinit)
	require.Nil(t, p.head)
}

// TestPollable_Mark visits each listener's owning fiber and forwards
// MachineMark to the machine itself.
func TestPollable_Mark(t *testing.T) {
	l := newTestLoop(t)
	p, cleanup := newTestPollable(t, l)
	defer cleanup()

	m := &recordingMachine{}
	f := l.newFiber(func(*Fiber, any) {})
	_, err := l.Listen(p, f, m, EventRead)
	require.NoError(t, err)

	var visited []any
	p.Mark(func(v any) { visited = append(visited, v) })
	require.Contains(t, visited, f)
	require.Contains(t, m.events, MachineMark)
}
