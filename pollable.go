package fiberloop

// maskSpawner marks a listener as not anchored to a specific fiber: the
// persistent, accept-style half of a server socket. Recorded into every
// listener's own mask unconditionally, distinguishing the base read/write
// interest bits from the spawner marker bit itself, while only gating
// whether the listener consumes a fiber's waiting slot.
const maskSpawner EventMask = 1 << 30

// MachineEvent is one of the state-machine events a Listener's Machine is
// driven with.
type MachineEvent int

const (
	MachineInit MachineEvent = iota
	MachineDeinit
	MachineClose
	MachineMark
	MachineRead
	MachineWrite
)

// MachineResult is returned by Machine.Handle for Read/Write dispatch;
// Done means the loop unlistens the listener once the dispatch completes.
type MachineResult int

const (
	NotDone MachineResult = iota
	Done
)

// Machine is a listener's step function plus its opaque per-operation
// state. arg carries event-specific context: nil for Init/Deinit/Close, a
// visit callback for Mark, and is unused for Read/Write (state machines
// read/write the underlying fd themselves via their own captured state).
type Machine interface {
	Handle(l *Listener, ev MachineEvent, arg any) MachineResult
}

// Pollable owns one OS descriptor handle, the head of its listener chain,
// and the union mask of all active listeners' interest bits.
type Pollable struct {
	fd     int
	closed bool
	head   *Listener
	mask   EventMask
	loop   *Loop
}

// Listener is one outstanding registration on a Pollable.
type Listener struct {
	pollable *Pollable
	mask     EventMask
	machine  Machine
	fiber    *Fiber
	next     *Listener
}

// FD returns the pollable's underlying descriptor.
func (p *Pollable) FD() int { return p.fd }

// Closed reports whether Deinit has run.
func (p *Pollable) Closed() bool { return p.closed }

// NewPollable wraps fd, registering it with the loop's readiness back-end.
// The descriptor's lifetime is owned by the caller; the core never closes
// it.
func (l *Loop) NewPollable(fd int) (*Pollable, error) {
	p := &Pollable{fd: fd, loop: l}
	if err := l.poller.RegisterFD(fd, 0, func(ev EventMask) {
		l.dispatchPollable(p, ev)
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// Listen registers machine on pollable for mask:
//   - rejects with [ErrDuplicateInterest] if pollable already has a
//     listener for one of the requested base bits;
//   - rejects with [ErrFiberAlreadyWaiting] if curFiber already has an
//     outstanding waiting listener (unless mask carries the spawner bit,
//     which never anchors to a fiber's waiting slot);
//   - prepends to the pollable's chain, unions the base bits into the
//     pollable's mask, and delivers MachineInit.
func (l *Loop) Listen(p *Pollable, curFiber *Fiber, machine Machine, mask EventMask) (*Listener, error) {
	base := mask &^ maskSpawner
	if p.mask&base != 0 {
		return nil, &DuplicateInterestError{FD: p.fd, Mask: base}
	}

	lst := &Listener{pollable: p, machine: machine, mask: base | maskSpawner}

	if mask&maskSpawner == 0 {
		if curFiber.waiting != nil {
			return nil, &FiberAlreadyWaitingError{FiberID: curFiber.id}
		}
		lst.fiber = curFiber
		curFiber.waiting = lst
	}

	lst.next = p.head
	p.head = lst
	p.mask |= base
	l.activeListeners++

	if err := p.updateInterest(); err != nil {
		// roll back
		p.head = lst.next
		p.mask &^= base
		l.activeListeners--
		if lst.fiber != nil {
			lst.fiber.waiting = nil
		}
		return nil, err
	}

	machine.Handle(lst, MachineInit, nil)
	return lst, nil
}

// ListenSpawner is Listen with the spawner bit set: a persistent,
// non-suspending listener such as the accept half of a server socket.
func (l *Loop) ListenSpawner(p *Pollable, machine Machine, mask EventMask) (*Listener, error) {
	return l.Listen(p, nil, machine, mask|maskSpawner)
}

// Unlisten delivers MachineDeinit, unlinks the listener from its
// pollable's chain, decrements the active count, clears its bits from the
// pollable's mask, clears the owning fiber's waiting field if it still
// points here, and frees the listener.
func (l *Loop) Unlisten(lst *Listener) {
	lst.machine.Handle(lst, MachineDeinit, nil)

	p := lst.pollable
	var prev *Listener
	for cur := p.head; cur != nil; cur = cur.next {
		if cur == lst {
			if prev == nil {
				p.head = cur.next
			} else {
				prev.next = cur.next
			}
			break
		}
		prev = cur
	}

	l.activeListeners--
	p.mask &^= lst.mask &^ maskSpawner
	_ = p.updateInterest()

	if lst.fiber != nil && lst.fiber.waiting == lst {
		lst.fiber.waiting = nil
	}
}

// Deinit sets the closed flag, delivers MachineClose to every listener,
// unlistens each, then unregisters the descriptor from the readiness
// back-end. The descriptor itself is closed by the caller, not the core.
func (p *Pollable) Deinit(l *Loop) {
	p.closed = true
	for cur := p.head; cur != nil; {
		next := cur.next
		cur.machine.Handle(cur, MachineClose, nil)
		l.Unlisten(cur)
		cur = next
	}
	_ = l.poller.UnregisterFD(p.fd)
}

// Mark is the GC hook: for each listener, marks its owning fiber (if
// any) then delivers MachineMark so the machine can mark its own private
// references via visit.
func (p *Pollable) Mark(visit func(any)) {
	for cur := p.head; cur != nil; cur = cur.next {
		if cur.fiber != nil {
			visit(cur.fiber)
		}
		cur.machine.Handle(cur, MachineMark, visit)
	}
}

func (p *Pollable) updateInterest() error {
	return p.loop.poller.ModifyFD(p.fd, p.mask)
}

// dispatchPollable is the IOCallback registered for every Pollable's fd: it
// walks the listener chain, dispatching write handlers before read
// handlers on the same tick.
func (l *Loop) dispatchPollable(p *Pollable, ev EventMask) {
	if ev&EventWrite != 0 {
		l.deliverListeners(p, MachineWrite, EventWrite)
	}
	if ev&EventRead != 0 {
		l.deliverListeners(p, MachineRead, EventRead)
	}
}

func (l *Loop) deliverListeners(p *Pollable, which MachineEvent, wantBit EventMask) {
	for cur := p.head; cur != nil; {
		next := cur.next
		if cur.mask&wantBit != 0 {
			if cur.machine.Handle(cur, which, nil) == Done {
				l.Unlisten(cur)
			}
		}
		cur = next
	}
}
