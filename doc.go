// Package fiberloop provides a cooperative, single-threaded fiber scheduler:
// an event loop that multiplexes user-level coroutines ("fibers") over one
// OS thread using epoll readiness notification, a timeout min-heap, a
// ready-queue, and bounded rendezvous channels for inter-fiber communication.
//
// # Architecture
//
// The scheduler is built around a [Loop] core that owns the ready-queue, the
// timeout heap, and the registry of [Pollable] file descriptors, each
// holding a chain of [Listener] state machines. A [Fiber] is a goroutine
// paired with the loop through a resume/yield rendezvous: the loop resumes
// a fiber by sending it a value and blocks until that fiber either yields
// (parks itself on a channel, a timer, or a pollable) or finishes.
//
// # Platform Support
//
// Readiness notification uses platform-native mechanisms:
//   - Linux: epoll + timerfd (the concrete back-end this package targets)
//   - other platforms: a minimal correctness-only fallback backend
//
// A conforming back-end need only preserve the same readiness-set
// contract [FastPoller] does on Linux; a kqueue/IOCP-backed
// implementation following the same shape is a valid substitute.
//
// # Thread Safety
//
// The loop itself is single-threaded by design: the ready-queue, the
// timeout heap, the active-listener count, and all [Channel] and [Pollable]
// state are mutated only from the loop's own goroutine. [Loop.Run] and
// [Loop.Shutdown] are safe to call from other goroutines — shutdown is
// requested by context cancellation or [Loop.Shutdown], which set a stop
// flag and signal the loop's wake descriptor, never by reaching into
// loop-owned state directly.
//
// # Execution Model
//
// One outer tick:
//  1. expire timers whose deadline has passed, scheduling their fibers;
//  2. drain the ready-queue in FIFO order, resuming each fiber in turn;
//  3. if there is outstanding work (listeners or timers), block in the
//     readiness back-end until the next event or the next deadline.
//
// The loop terminates when no listeners, no ready tasks, and no timers
// remain.
//
// # Usage
//
//	loop, err := fiberloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	loop.Call(func(f *fiberloop.Fiber, _ any) {
//	    fmt.Println("hello from a fiber")
//	})
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
// The package distinguishes the error kinds named in the core's contract:
//   - [ErrDuplicateInterest]: a pollable already has a listener for a bit
//   - [ErrFiberAlreadyWaiting]: a fiber already has an outstanding listener
//   - [ErrChannelOverflow]: a channel's ring exceeded its hard capacity cap
//   - [BackendError]: a non-EINTR failure from the readiness back-end
//
// All error types implement the standard [error] interface and
// [errors.Unwrap] for use with [errors.Is] and [errors.As].
package fiberloop
