package fiberloop

import (
	"errors"
	"fmt"
)

// Domain error sentinels. Wrap with [DuplicateInterestError] /
// [FiberAlreadyWaitingError] / [ChannelOverflowError] where per-value context
// is useful; match with [errors.Is] against these otherwise.
var (
	// ErrDuplicateInterest is returned by Listen when a pollable already has
	// a listener registered for one of the requested event bits.
	ErrDuplicateInterest = errors.New("fiberloop: cannot listen for duplicate event on pollable")

	// ErrFiberAlreadyWaiting is returned by Listen when the current fiber
	// already has an outstanding suspending listener.
	ErrFiberAlreadyWaiting = errors.New("fiberloop: current fiber is already waiting for event")

	// ErrChannelOverflow is returned when a channel's ring would exceed its
	// hard capacity cap (2^31 - 1 items).
	ErrChannelOverflow = errors.New("fiberloop: channel ring capacity exceeded")

	// ErrLoopTerminated is returned by operations submitted after the loop
	// has finished running.
	ErrLoopTerminated = errors.New("fiberloop: loop terminated")

	// ErrLoopAlreadyRunning is returned by Run when called while the loop is
	// already running.
	ErrLoopAlreadyRunning = errors.New("fiberloop: loop already running")

	// ErrPollerClosed mirrors the back-end's own closed state.
	ErrPollerClosed = errors.New("fiberloop: poller closed")
)

// DuplicateInterestError carries the pollable's file descriptor alongside
// [ErrDuplicateInterest] for diagnostics.
type DuplicateInterestError struct {
	FD   int
	Mask EventMask
}

func (e *DuplicateInterestError) Error() string {
	return fmt.Sprintf("fiberloop: fd %d: cannot listen for duplicate event (mask %v)", e.FD, e.Mask)
}

func (e *DuplicateInterestError) Unwrap() error { return ErrDuplicateInterest }

// FiberAlreadyWaitingError carries the fiber's id alongside
// [ErrFiberAlreadyWaiting] for diagnostics.
type FiberAlreadyWaitingError struct {
	FiberID uint64
}

func (e *FiberAlreadyWaitingError) Error() string {
	return fmt.Sprintf("fiberloop: fiber %d is already waiting for event", e.FiberID)
}

func (e *FiberAlreadyWaitingError) Unwrap() error { return ErrFiberAlreadyWaiting }

// ChannelOverflowError carries the ring's hard capacity cap alongside
// [ErrChannelOverflow] for diagnostics.
type ChannelOverflowError struct {
	Limit int
}

func (e *ChannelOverflowError) Error() string {
	return fmt.Sprintf("fiberloop: channel (limit %d) ring capacity exceeded", e.Limit)
}

func (e *ChannelOverflowError) Unwrap() error { return ErrChannelOverflow }

// BackendError wraps an unexpected non-EINTR failure from the readiness
// back-end's registration or wait path.
type BackendError struct {
	Op    string
	Cause error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("fiberloop: backend %s: %v", e.Op, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// WrapError wraps an error with a message, preserving the cause chain for
// [errors.Is] / [errors.As].
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
