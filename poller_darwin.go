//go:build darwin

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

// osMultiplexer wraps kqueue. As on Linux, it carries no fd registry of
// its own — IoDriver owns the fd→IoEntry mapping and IoEntry owns
// per-waiter interest, so Add/Remove/Wait only ever touch the kernel
// object and the preallocated event buffer.
type osMultiplexer struct {
	kq       int32
	eventBuf [256]unix.Kevent_t
	closed   atomic.Bool
}

// Init opens the kqueue instance.
func (p *osMultiplexer) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	return nil
}

// Close closes the kqueue instance.
func (p *osMultiplexer) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

// Add registers fd with kqueue for the given interest set.
func (p *osMultiplexer) Add(fd int, events IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(int(p.kq), kevents, nil, nil)
	return err
}

// Remove drops fd's read and write filters from kqueue.
func (p *osMultiplexer) Remove(fd int) error {
	kevents := eventsToKevents(fd, EventRead|EventWrite, unix.EV_DELETE)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(int(p.kq), kevents, nil, nil)
	return err
}

// Wait blocks for up to timeoutMs (negative means forever) and fills out
// with every fd that became ready, returning the count written.
func (p *osMultiplexer) Wait(timeoutMs int, out []readyEvent) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n && count < len(out); i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		out[count] = readyEvent{fd: fd, events: keventToEvents(&p.eventBuf[i])}
		count++
	}
	return count, nil
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t

	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}

	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}

	return kevents
}

// keventToEvents converts a kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
