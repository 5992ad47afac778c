//go:build linux

package asyncrt

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
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

// osMultiplexer wraps epoll. It carries no fd registry of its own: the
// fd→IoEntry mapping lives in IoDriver, and per-waiter interest filtering
// lives in IoEntry, so Add/Remove/Wait only ever touch the kernel object
// and the preallocated event buffer — IoDriver.DoWork does the dispatch.
type osMultiplexer struct {
	epfd     int32
	eventBuf [256]unix.EpollEvent
	closed   atomic.Bool
}

// Init opens the epoll instance.
func (p *osMultiplexer) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)
	return nil
}

// Close closes the epoll instance.
func (p *osMultiplexer) Close() error {
	p.closed.Store(true)
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

// Add registers fd with epoll for the given interest set.
func (p *osMultiplexer) Add(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev)
}

// Remove drops fd from epoll's interest set.
func (p *osMultiplexer) Remove(fd int) error {
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to timeoutMs (negative means forever) and fills out
// with every fd that became ready, returning the count written.
func (p *osMultiplexer) Wait(timeoutMs int, out []readyEvent) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n && count < len(out); i++ {
		out[count] = readyEvent{
			fd:     int(p.eventBuf[i].Fd),
			events: epollToEvents(p.eventBuf[i].Events),
		}
		count++
	}
	return count, nil
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
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
