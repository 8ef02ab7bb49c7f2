package fiberloop

// Fiber is the unit of suspended computation. Go has no stackful
// coroutines, so each Fiber is backed by its own goroutine paired with the
// loop through a resume/yield rendezvous: the loop resumes a fiber by
// sending it a value on resumeCh and blocks reading yieldCh until that
// fiber either parks itself again or finishes, preserving single-threaded
// cooperative semantics despite the goroutine backing.
type Fiber struct {
	id uint64

	// scheduled is set while the fiber is present in the ready-queue,
	// preventing double insertion.
	scheduled bool

	// waiting is the listener this fiber is currently blocked on, or nil.
	waiting *Listener

	// timeoutIndex is this fiber's position in the timeout heap, or -1.
	timeoutIndex int

	loop *Loop
	fn   func(f *Fiber, arg any)

	resumeCh chan any
	yieldCh  chan fiberResult

	started bool
	done    bool
}

// ID returns the fiber's loop-unique identifier.
func (f *Fiber) ID() uint64 { return f.id }

type fiberSignalKind int

const (
	signalEvent fiberSignalKind = iota
	signalDone
	signalError
)

type fiberResult struct {
	kind fiberSignalKind
	err  error
}

// yield signals the host interpreter with the designated event signal and
// parks until the loop resumes this fiber with a value. Every suspending
// primitive (Sleep, Take, Give on a full channel, a listening I/O op)
// funnels through this.
func (f *Fiber) yield() any {
	f.yieldCh <- fiberResult{kind: signalEvent}
	return <-f.resumeCh
}

// await is the bare signal-event-with-nil primitive, kept distinct from
// yield's return value for callers that park without expecting a
// meaningful resume value.
func (f *Fiber) await() {
	_ = f.yield()
}

// start spawns the fiber's backing goroutine and runs fn with the initial
// resume value, recovering a panic into a signalError result exactly once
// so the loop can hand it to the host's stack-trace printer rather than
// crash the process.
func (f *Fiber) start(initial any) {
	f.started = true
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.done = true
				f.yieldCh <- fiberResult{kind: signalError, err: asError(r)}
				return
			}
			f.done = true
			f.yieldCh <- fiberResult{kind: signalDone}
		}()
		f.fn(f, initial)
	}()
}

// resume delivers value to a parked fiber and blocks until it yields or
// finishes again.
func (f *Fiber) resume(value any) fiberResult {
	if !f.started {
		f.start(value)
	} else {
		f.resumeCh <- value
	}
	return <-f.yieldCh
}
