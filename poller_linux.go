//go:build linux

package fiberloop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Maximum file descriptor we support with direct indexing.
const maxFDs = 65536

// EventMask represents the type of I/O events a listener is interested in.
type EventMask uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead EventMask = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// IOCallback is the callback type for I/O events, invoked from PollIO.
type IOCallback func(EventMask)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   EventMask
	active   bool
}

// FastPoller manages I/O event registration using epoll, plus a permanently
// registered timerfd armed with an absolute deadline matching the top of
// the loop's timeout heap, so a single epoll_wait call can service both
// I/O readiness and timer expiry.
type FastPoller struct { // betteralign:ignore
	_        [64]byte             // cache line padding
	epfd     int32                // epoll file descriptor
	timerFD  int32                // timerfd, armed with TFD_TIMER_ABSTIME
	_        [56]byte             // pad to cache line
	version  atomic.Uint64        // version counter for consistency
	_        [56]byte             // pad to cache line
	eventBuf [256]unix.EpollEvent // preallocated event buffer
	fds      [maxFDs]fdInfo       // direct indexing, no map
	fdMu     sync.RWMutex         // protects fds array access
	closed   atomic.Bool          // closed flag
}

// Init initializes the epoll instance and the permanent timerfd.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return &BackendError{Op: "epoll_create1", Cause: err}
	}
	p.epfd = int32(epfd)

	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return &BackendError{Op: "timerfd_create", Cause: err}
	}
	p.timerFD = int32(tfd)

	ev := &unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(tfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, tfd, ev); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(tfd)
		return &BackendError{Op: "epoll_ctl(timerfd)", Cause: err}
	}

	return nil
}

// Close closes the epoll instance and the timerfd.
func (p *FastPoller) Close() error {
	p.closed.Store(true)
	var firstErr error
	if p.timerFD > 0 {
		if err := closeFD(int(p.timerFD)); err != nil {
			firstErr = err
		}
	}
	if p.epfd > 0 {
		if err := closeFD(int(p.epfd)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ArmTimer re-arms the timerfd with an absolute monotonic millisecond
// deadline, or disarms it when deadline is 0. Matches ev.c's
// update_epoch_timeout, which re-arms the single timerfd to the current
// heap minimum whenever it changes.
func (p *FastPoller) ArmTimer(deadlineMillis uint64) error {
	var spec unix.ItimerSpec
	if deadlineMillis > 0 {
		spec.Value.Sec = int64(deadlineMillis / 1000)
		spec.Value.Nsec = int64(deadlineMillis%1000) * 1_000_000
	}
	return unix.TimerfdSettime(int(p.timerFD), unix.TFD_TIMER_ABSTIME, &spec, nil)
}

// DrainTimer reads and discards the timerfd's expiration counter, as
// required for edge-triggered redelivery.
func (p *FastPoller) DrainTimer() {
	var buf [8]byte
	for {
		_, err := readFD(int(p.timerFD), buf[:])
		if err != nil {
			return
		}
	}
}

// RegisterFD registers a file descriptor for I/O event monitoring.
func (p *FastPoller) RegisterFD(fd int, events EventMask, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDs {
		return &BackendError{Op: "register", Cause: unix.EBADF}
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return &DuplicateInterestError{FD: fd, Mask: events}
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{}
		p.fdMu.Unlock()
		return &BackendError{Op: "epoll_ctl(add)", Cause: err}
	}
	return nil
}

// UnregisterFD removes a file descriptor from monitoring.
func (p *FastPoller) UnregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return &BackendError{Op: "unregister", Cause: unix.EBADF}
	}

	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return nil
	}
	p.fds[fd] = fdInfo{}
	p.version.Add(1)
	p.fdMu.Unlock()

	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return &BackendError{Op: "epoll_ctl(del)", Cause: err}
	}
	return nil
}

// ModifyFD updates the events being monitored for a file descriptor.
func (p *FastPoller) ModifyFD(fd int, events EventMask) error {
	if fd < 0 || fd >= maxFDs {
		return &BackendError{Op: "modify", Cause: unix.EBADF}
	}

	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return nil
	}
	p.fds[fd].events = events
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return &BackendError{Op: "epoll_ctl(mod)", Cause: err}
	}
	return nil
}

// PollIO blocks for up to timeoutMs (-1 for indefinite) and dispatches
// ready callbacks inline. EINTR is retried indefinitely, matching ev.c's
// janet_loop1_impl. Returns the number of events processed and whether the
// timerfd itself fired.
func (p *FastPoller) PollIO(timeoutMs int) (n int, timerFired bool, err error) {
	if p.closed.Load() {
		return 0, false, ErrPollerClosed
	}

	v := p.version.Load()

	var waitN int
	for {
		waitN, err = unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, false, &BackendError{Op: "epoll_wait", Cause: err}
		}
		break
	}

	if p.version.Load() != v {
		// Poller was modified concurrently; results may be stale, discard.
		return 0, false, nil
	}

	n, timerFired = p.dispatchEvents(waitN)
	return n, timerFired, nil
}

// dispatchEvents executes callbacks inline and reports whether the timerfd
// fired, draining it if so.
func (p *FastPoller) dispatchEvents(n int) (dispatched int, timerFired bool) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == int(p.timerFD) {
			timerFired = true
			p.DrainTimer()
			continue
		}
		if fd < 0 || fd >= maxFDs {
			continue
		}
		p.fdMu.RLock()
		info := p.fds[fd]
		p.fdMu.RUnlock()

		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
			dispatched++
		}
	}
	return dispatched, timerFired
}

func eventsToEpoll(events EventMask) uint32 {
	epollEvents := uint32(unix.EPOLLET)
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

func epollToEvents(epollEvents uint32) EventMask {
	var events EventMask
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
