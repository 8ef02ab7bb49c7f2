//go:build linux

package fiberloop

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates an eventfd used to wake the loop goroutine out of a
// blocking PollIO call from another goroutine (e.g. Shutdown).
func createWakeFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// closeWakeFd closes the wake eventfd.
func closeWakeFd(fd int) error {
	if fd >= 0 {
		return closeFD(fd)
	}
	return nil
}

// signalWakeFd writes to the eventfd, causing a concurrent epoll_wait on it
// to return immediately.
func signalWakeFd(fd int) error {
	var buf [8]byte
	buf[0] = 1
	_, err := writeFD(fd, buf[:])
	return err
}

// drainWakeFd drains the wake eventfd's counter.
func drainWakeFd(fd int) {
	var buf [8]byte
	for {
		_, err := readFD(fd, buf[:])
		if err != nil {
			return
		}
	}
}
