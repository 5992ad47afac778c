//go:build windows

package asyncrt

import (
	"errors"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

var (
	ErrFDOutOfRange        = errors.New("asyncrt: fd out of range")
	ErrFDAlreadyRegistered = errors.New("asyncrt: fd already registered")
	ErrFDNotRegistered     = errors.New("asyncrt: fd not registered")
	ErrPollerClosed        = errors.New("asyncrt: poller closed")
)

// readyEvent names one fd that fired during a Wait call, with the
// platform event bits already folded into IOEvents.
type readyEvent struct {
	fd     int
	events IOEvents
}

// osMultiplexer wraps IOCP. Unlike epoll/kqueue this is completion- not
// readiness-based: a handle is associated once with a completion key (the
// fd itself, so Wait can recover it from GetQueuedCompletionStatus without
// a side table), and the driver treats the arrival of any completion for
// that key as "read and write both worth re-checking" — the readiness
// model the rest of this package assumes throughout. As on the Unix
// multiplexers, osMultiplexer carries no fd registry of its own; IoDriver
// owns the fd→IoEntry mapping.
type osMultiplexer struct {
	iocp   windows.Handle
	closed atomic.Bool
}

// Init creates the I/O completion port.
func (p *osMultiplexer) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return err
	}
	p.iocp = iocp
	return nil
}

// Close closes the completion port.
func (p *osMultiplexer) Close() error {
	p.closed.Store(true)
	if p.iocp != 0 {
		return windows.CloseHandle(p.iocp)
	}
	return nil
}

// Add associates fd with the completion port, using fd itself as the
// completion key.
func (p *osMultiplexer) Add(fd int, _ IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), p.iocp, uintptr(fd), 0)
	return err
}

// Remove is a no-op: closing the underlying handle removes its IOCP
// association, and IOCP has no separate disassociate call.
func (p *osMultiplexer) Remove(fd int) error {
	return nil
}

// Wait blocks for up to timeoutMs (negative means forever) for the next
// completion and, if it names a registered fd, fills out with it.
func (p *osMultiplexer) Wait(timeoutMs int, out []readyEvent) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var timeout *uint32
	if timeoutMs >= 0 {
		t := uint32(timeoutMs)
		timeout = &t
	}

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			if errno == windows.WAIT_TIMEOUT {
				return 0, nil
			}
			if errno == windows.ERROR_ABANDONED_WAIT_0 || errno == windows.ERROR_INVALID_HANDLE {
				return 0, ErrPollerClosed
			}
		}
		return 0, err
	}

	if overlapped == nil || len(out) == 0 {
		// A wake-up notification (PostQueuedCompletionStatus with a nil
		// overlapped) or no room to report it; nothing to dispatch.
		return 0, nil
	}

	out[0] = readyEvent{fd: int(key), events: EventRead | EventWrite}
	return 1, nil
}
