package fiberloop

import (
	"context"
	"sync/atomic"
)

var loopIDCounter atomic.Uint64

// readyTask is a (fiber, resume-value) pair stored in the ready-queue.
type readyTask struct {
	fiber *Fiber
	value any
}

// Loop is the process-wide scheduler state: the ready-queue, the timeout
// heap, the active-listener count, and the readiness back-end handle.
// Exactly one instance exists per host thread; a parallel threaded
// program runs one independent Loop per thread.
type Loop struct {
	id uint64

	state   *FastState
	clock   Clock
	logger  loggerHandle
	onFatal func(error)

	callStackSize int

	ready  *Ring[readyTask]
	timers timeoutHeap

	activeListeners int

	poller FastPoller
	wakeFD int

	stopRequested atomic.Bool
	runDone       chan struct{}

	metrics        *loopMetrics
	metricsEnabled bool

	nextFiberID atomic.Uint64
}

// loggerHandle is the concrete logger type Loop holds; aliased so loop.go
// doesn't need to re-spell the generic instantiation everywhere.
type loggerHandle = interface {
	logInfo(msg string, fields ...any)
	logErr(err error, msg string, fields ...any)
}

// New creates a Loop: it initializes the readiness back-end and registers
// a wake descriptor so Shutdown can interrupt a blocked poll from another
// goroutine. The loop's own state is thread-local, but Run/Shutdown
// themselves may be called from different goroutines.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		id:             loopIDCounter.Add(1),
		state:          NewFastState(),
		clock:          cfg.clock,
		onFatal:        cfg.onFatal,
		callStackSize:  cfg.callStackSize,
		ready:          NewRing[readyTask](16),
		metrics:        &loopMetrics{},
		metricsEnabled: cfg.metricsEnabled,
		runDone:        make(chan struct{}),
	}
	l.timers = make(timeoutHeap, 0, 16)

	if l.clock == nil {
		l.clock = newSystemClock()
	}
	if l.onFatal == nil {
		l.onFatal = func(err error) { panic(err) }
	}

	rawLogger := cfg.logger
	if rawLogger == nil {
		rawLogger = newDefaultLogger()
	}
	l.logger = &logifaceHandle{logger: rawLogger}

	if err := l.poller.Init(); err != nil {
		return nil, err
	}

	wakeFD, err := createWakeFd()
	if err != nil {
		_ = l.poller.Close()
		return nil, err
	}
	l.wakeFD = wakeFD
	if wakeFD >= 0 {
		if err := l.poller.RegisterFD(wakeFD, EventRead, func(EventMask) {
			drainWakeFd(wakeFD)
		}); err != nil {
			_ = closeWakeFd(wakeFD)
			_ = l.poller.Close()
			return nil, err
		}
	}

	return l, nil
}

// Close releases the loop's OS resources. Call after Run returns.
func (l *Loop) Close() error {
	var firstErr error
	if err := closeWakeFd(l.wakeFD); err != nil {
		firstErr = err
	}
	if err := l.poller.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Run drives the loop until no listeners, no ready tasks, and no timers
// remain, or until ctx is cancelled. Safe to call from any one goroutine;
// a second concurrent call returns [ErrLoopAlreadyRunning], and a call
// after the loop has terminated returns [ErrLoopTerminated].
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		if l.state.IsTerminal() {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	l.logger.logInfo("loop starting", "loop_id", l.id)

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.requestStop()
		case <-stopWatch:
		}
	}()

	l.runLoop()
	close(stopWatch)

	l.state.Store(StateTerminated)
	close(l.runDone)
	l.logger.logInfo("loop shut down", "loop_id", l.id)
	return ctx.Err()
}

// Shutdown requests the loop stop and waits for Run to return, or for ctx
// to be cancelled first. The loop stops at its next stop check; ready
// fibers, timers and listeners still pending then are not run. Idempotent
// and safe to call concurrently with Run.
func (l *Loop) Shutdown(ctx context.Context) error {
	if l.state.Load() == StateTerminated {
		return nil
	}
	l.state.TransitionAny([]LoopState{StateAwake, StateRunning, StateSleeping}, StateTerminating)
	l.requestStop()

	select {
	case <-l.runDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) requestStop() {
	l.stopRequested.Store(true)
	if l.wakeFD >= 0 {
		_ = signalWakeFd(l.wakeFD)
	}
}

// runLoop is the outer tick, repeated until termination:
//  1. expire due timers, scheduling their fibers with nil;
//  2. drain the ready-queue in FIFO order, resuming each fiber;
//  3. if there is outstanding work, block in the back-end until the next
//     event or deadline.
func (l *Loop) runLoop() {
	for {
		if l.stopRequested.Load() {
			return
		}

		l.expireTimers()

		for {
			task, ok := l.ready.Pop()
			if !ok {
				break
			}
			task.fiber.scheduled = false
			l.metrics.fibersResumed.Add(1)
			l.runFiber(task.fiber, task.value)
			if l.stopRequested.Load() {
				return
			}
		}

		if l.activeListeners == 0 && l.timers.Len() == 0 {
			return
		}

		timeoutMs := -1
		if top, ok := l.timers.peekTimeout(); ok {
			now := l.clock.NowMillis()
			if top.when <= now {
				timeoutMs = 0
			} else {
				timeoutMs = int(top.when - now)
			}
			_ = l.poller.ArmTimer(top.when)
		} else {
			_ = l.poller.ArmTimer(0)
		}

		n, _, err := l.poller.PollIO(timeoutMs)
		if err != nil {
			l.logger.logErr(err, "readiness backend wait failed")
			l.onFatal(err)
			return
		}
		if l.metricsEnabled {
			l.metrics.pollEvents.Add(uint64(n))
			l.metrics.ticks.Add(1)
		}
	}
}

// expireTimers pops every timeout entry whose deadline has passed and
// schedules its fiber with nil.
func (l *Loop) expireTimers() {
	now := l.clock.NowMillis()
	for {
		top, ok := l.timers.peekTimeout()
		if !ok || top.when > now {
			return
		}
		e := l.timers.popTimeout()
		l.metrics.timersExpired.Add(1)
		l.scheduleFiber(e.fiber, nil)
	}
}

// runFiber resumes fiber with value and handles the three possible
// outcomes: event (parked, nothing further to do), done (normal
// completion), or error (hand the panic value to the structured logger
// and continue — an unhandled fiber panic never takes down the loop).
func (l *Loop) runFiber(f *Fiber, value any) {
	res := f.resume(value)
	switch res.kind {
	case signalEvent:
		return
	case signalDone:
		l.onFiberDone(f, nil)
	case signalError:
		l.logger.logErr(res.err, "fiber terminated abnormally", "fiber_id", f.id)
		l.onFiberDone(f, res.err)
	}
}

// onFiberDone clears any residual listener/timeout a finished fiber might
// still hold: a fiber must hold no references from any queue, heap, or
// waiter list once it can no longer run.
func (l *Loop) onFiberDone(f *Fiber, _ error) {
	if f.waiting != nil {
		l.Unlisten(f.waiting)
	}
	l.timers.removeTimeout(f)
}

// scheduleFiber is a no-op if the fiber is already scheduled
// (deduplicating wakeups), otherwise it sets the scheduled flag and
// enqueues the task.
func (l *Loop) scheduleFiber(f *Fiber, value any) {
	if f.scheduled {
		return
	}
	f.scheduled = true
	_ = l.ready.Push(readyTask{fiber: f, value: value})
}

// Schedule is the public form of scheduleFiber, used by Channel and by
// user code resuming a fiber directly.
func (l *Loop) Schedule(f *Fiber, value any) {
	l.scheduleFiber(f, value)
}

// Go enqueues an already-constructed fiber with an optional resume value
// and returns it.
func (l *Loop) Go(f *Fiber, value any) *Fiber {
	l.scheduleFiber(f, value)
	return f
}

// Call wraps fn in a new fiber, enqueues it, and returns it. The new
// fiber's first argument is nil; subsequent resumes deliver whatever value
// Schedule/Give/Take pass it.
func (l *Loop) Call(fn func(f *Fiber, arg any)) *Fiber {
	f := l.newFiber(fn)
	l.scheduleFiber(f, nil)
	return f
}

func (l *Loop) newFiber(fn func(f *Fiber, arg any)) *Fiber {
	return &Fiber{
		id:           l.nextFiberID.Add(1),
		loop:         l,
		fn:           fn,
		timeoutIndex: -1,
		resumeCh:     make(chan any),
		yieldCh:      make(chan fiberResult),
	}
}

// AddTimeout computes now + round(seconds*1000) and installs it as f's
// live timeout, without yielding. Sleep combines this with a yield.
func (l *Loop) AddTimeout(f *Fiber, seconds float64) {
	when := l.clock.NowMillis() + uint64(seconds*1000+0.5)
	l.timers.addTimeout(f, when)
}

// Sleep parks the calling fiber until now + seconds.
func (l *Loop) Sleep(f *Fiber, seconds float64) {
	l.AddTimeout(f, seconds)
	f.await()
}

// Cancel unlistens f's outstanding listener (if any) and drops its live
// timeout (if any). Idempotent, safe to call on a fiber in any state.
func (l *Loop) Cancel(f *Fiber) {
	if f.waiting != nil {
		l.Unlisten(f.waiting)
	}
	l.timers.removeTimeout(f)
}

// Metrics returns a snapshot of the loop's runtime counters. Ticks and
// PollEvents stay zero unless [WithMetrics] was enabled.
func (l *Loop) Metrics() Metrics {
	m := l.metrics.snapshot()
	m.ActiveListeners = uint64(l.activeListeners)
	return m
}

// Mark is the loop's own GC hook: it marks every fiber and resume-value
// currently in the ready-queue, and every fiber with a live timeout.
// Pollables and channels are owned externally and must be marked
// separately via their own Mark methods.
func (l *Loop) Mark(visit func(any)) {
	l.ready.Each(func(t readyTask) {
		visit(t.fiber)
		if t.value != nil {
			visit(t.value)
		}
	})
	for _, e := range l.timers {
		visit(e.fiber)
	}
}
