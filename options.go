// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import "github.com/joeycumines/logiface"

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger         *logiface.Logger[*logEvent]
	clock          Clock
	metricsEnabled bool
	onFatal        func(error)
	callStackSize  int
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger overrides the loop's structured logger. The default is built
// from [github.com/joeycumines/stumpy] writing to os.Stderr.
func WithLogger(logger *logiface.Logger[*logEvent]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock overrides the loop's monotonic millisecond clock. Intended for
// deterministic tests; production callers should leave this unset.
func WithClock(clock Clock) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.clock = clock
		return nil
	}}
}

// WithMetrics enables the tick and poll-event counters on the Loop; the
// fibers-resumed, timers-expired and active-listener counters are
// maintained either way. Accessible via [Loop.Metrics].
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithOnFatal overrides the hook invoked when the readiness back-end's wait
// fails with a non-EINTR error. No code path in this package detects
// allocation failure, so the hook is not called for out-of-memory
// conditions. The default hook panics.
func WithOnFatal(fn func(error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.onFatal = fn
		return nil
	}}
}

// WithCallStackSize sets the initial stack size (in fiber-local value slots)
// recorded on the Loop. Default 64. Fibers are goroutine-backed and
// [Loop.Call] does not use this value when creating them.
func WithCallStackSize(size int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.callStackSize = size
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		callStackSize: 64,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
