package fiberloop

import "sync/atomic"

// Metrics holds lightweight, always-cheap-to-read counters describing the
// loop's activity, read via [Loop.Metrics]. Ticks and PollEvents are
// counted only when [WithMetrics] is enabled; the other counters are always
// maintained.
type Metrics struct {
	// Ticks is the number of outer loop iterations completed.
	Ticks uint64
	// FibersResumed is the number of times a fiber was popped from the
	// ready-queue and resumed.
	FibersResumed uint64
	// TimersExpired is the number of timeout entries popped and scheduled.
	TimersExpired uint64
	// PollEvents is the number of readiness events dispatched by the
	// back-end (excluding the timerfd's own wakeup).
	PollEvents uint64
	// ActiveListeners mirrors the loop's current active-listener count.
	ActiveListeners uint64
}

// loopMetrics is the mutable, atomic-counter-backed form Metrics snapshots
// from.
type loopMetrics struct {
	ticks           atomic.Uint64
	fibersResumed   atomic.Uint64
	timersExpired   atomic.Uint64
	pollEvents      atomic.Uint64
	activeListeners atomic.Uint64
}

func (m *loopMetrics) snapshot() Metrics {
	return Metrics{
		Ticks:           m.ticks.Load(),
		FibersResumed:   m.fibersResumed.Load(),
		TimersExpired:   m.timersExpired.Load(),
		PollEvents:      m.pollEvents.Load(),
		ActiveListeners: m.activeListeners.Load(),
	}
}
