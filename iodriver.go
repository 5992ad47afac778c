package asyncrt

import (
	"sync"
	"sync/atomic"
)

// ioEventsAtomic is a small atomic wrapper typed over IOEvents, so IoEntry
// can do lock-free readiness reads/updates on the fast path.
type ioEventsAtomic struct {
	v atomic.Uint32
}

func (a *ioEventsAtomic) Load() IOEvents    { return IOEvents(a.v.Load()) }
func (a *ioEventsAtomic) Or(bits IOEvents)  { a.v.Or(uint32(bits)) }
func (a *ioEventsAtomic) And(mask IOEvents) { a.v.And(uint32(mask)) }

// ioWaiter is {waker, unique id, interest-bitset}, satisfied-by a
// readiness set iff their bitwise-AND is non-zero.
type ioWaiter struct {
	id       uint64
	interest IOEvents
	waker    Waker
}

// IoEntry is shared by every Registration for the same fd: one readiness
// bitset, one waiter list. Dropping the last Registration removes it from
// the owning IoDriver.
//
// mu guards the combined {readiness, waiters} critical section used by the
// slow path of PollReady and by the event-dispatch callback, so a
// concurrent registration can never observe stale readiness and also miss
// the wake that would have told it otherwise (the lost-wakeup guard spec
// §4.6 step 3 calls for). The fast path (an already-satisfied poll) reads
// readiness without the lock.
type IoEntry struct {
	fd int

	readiness ioEventsAtomic

	mu      sync.Mutex
	waiters waitList[*ioWaiter]
	nextID  uint64

	anyRead  bool
	anyWrite bool

	refcount int64
}

// Registration is a refcounted handle onto one IoEntry, returned by
// IoDriver.RegisterIO. Multiple registrations for the same fd (e.g. one
// for read interest, one for write interest, made by independent
// pollables) share the one IoEntry.
type Registration struct {
	driver *IoDriver
	entry  *IoEntry
}

// PollReady implements spec §4.6's poll_ready: Error is always implicitly
// OR'd into interest; an already-satisfied readiness is returned
// immediately without registering; otherwise the calling Context's waker
// is registered (or, if id already names a waiter, refreshed) and 0 is
// returned to mean Pending.
func (r Registration) PollReady(interest IOEvents, cx *Context, id *uint64) IOEvents {
	interest |= EventError
	e := r.entry

	if ready := e.readiness.Load() & interest; ready != 0 {
		return ready
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ready := e.readiness.Load() & interest; ready != 0 {
		return ready
	}

	if *id != 0 {
		found := false
		e.waiters.ForAll(func(w *ioWaiter) {
			if w.id == *id {
				w.waker.Drop()
				w.waker = cx.CloneWaker()
				w.interest = interest
				found = true
			}
		})
		if found {
			return 0
		}
	}

	e.nextID++
	newID := e.nextID
	*id = newID
	e.waiters.Add(&ioWaiter{id: newID, interest: interest, waker: cx.CloneWaker()})
	e.updateHintsLocked()

	return 0
}

// ClearReadiness atomically clears the given bits, used when a caller
// observed EWOULDBLOCK despite the readiness bit being set.
func (r Registration) ClearReadiness(interest IOEvents) {
	r.entry.readiness.And(^interest)
}

// UnregisterWaiter removes the waiter named by id, if present, and
// recomputes the anyRead/anyWrite hints.
func (r Registration) UnregisterWaiter(id uint64) {
	if id == 0 {
		return
	}
	e := r.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waiters.Remove(func(w *ioWaiter) bool {
		if w.id == id {
			w.waker.Drop()
			return true
		}
		return false
	})
	e.updateHintsLocked()
}

// Drop releases this Registration's share of the underlying IoEntry,
// removing it from the driver once the last Registration is dropped.
func (r Registration) Drop() {
	r.driver.releaseEntry(r.entry)
}

// FD returns the registered file descriptor.
func (r Registration) FD() int { return r.entry.fd }

func (e *IoEntry) updateHintsLocked() {
	e.anyRead = false
	e.anyWrite = false
	e.waiters.ForAll(func(w *ioWaiter) {
		if w.interest&EventRead != 0 {
			e.anyRead = true
		}
		if w.interest&(EventWrite) != 0 {
			e.anyWrite = true
		}
	})
}

// onEvents is called by IoDriver.DoWork with the readiness bits reported
// for this entry's fd. POLLHUP collapses into the Error bit per spec §4.6
// ("POLLERR|POLLHUP|POLLNVAL all collapse to the Error bit") — the
// platform multiplexers already fold POLLNVAL-equivalent conditions into
// EventError, so only Hangup needs folding here.
func (e *IoEntry) onEvents(ev IOEvents) {
	if ev&EventHangup != 0 {
		ev |= EventError
	}

	e.mu.Lock()
	e.readiness.Or(ev)
	snapshot := ev
	e.waiters.ForAll(func(w *ioWaiter) {
		if w.interest&snapshot != 0 {
			w.waker.WakeByRef()
		}
	})
	e.mu.Unlock()
}

// IoDriver maintains the fd → IoEntry registry and drives the platform
// osMultiplexer. Construct via NewIoDriver; call DoWork periodically from
// a Runtime worker (spec §4.6's do_work). Unlike the multiplexer (which
// knows nothing beyond raw fds and event bits), IoDriver owns the only
// fd→registration mapping in the stack and is the one place that
// translates a Wait result into IoEntry.onEvents calls.
type IoDriver struct {
	poller *osMultiplexer

	pollMu   sync.Mutex
	readyBuf []readyEvent

	mu      sync.Mutex
	entries map[int]*IoEntry
}

// NewIoDriver initializes the platform multiplexer (epoll/kqueue/IOCP,
// selected at compile time by the poller_*.go build tags) and an empty fd
// registry.
func NewIoDriver() (*IoDriver, error) {
	p := &osMultiplexer{}
	if err := p.Init(); err != nil {
		return nil, err
	}
	return &IoDriver{poller: p, entries: make(map[int]*IoEntry), readyBuf: make([]readyEvent, 256)}, nil
}

// RegisterIO returns a Registration for fd, creating its IoEntry (and
// registering fd with the platform multiplexer for the full Read|Write|
// Error interest set, since interest filtering happens per-waiter, not
// per-fd) on first use.
func (d *IoDriver) RegisterIO(fd int) (Registration, error) {
	d.mu.Lock()
	entry, ok := d.entries[fd]
	if !ok {
		entry = &IoEntry{fd: fd}
		d.entries[fd] = entry
	}
	entry.refcount++
	d.mu.Unlock()

	if !ok {
		if err := d.poller.Add(fd, EventRead|EventWrite|EventError); err != nil {
			d.mu.Lock()
			delete(d.entries, fd)
			d.mu.Unlock()
			return Registration{}, err
		}
	}

	return Registration{driver: d, entry: entry}, nil
}

func (d *IoDriver) releaseEntry(entry *IoEntry) {
	d.mu.Lock()
	entry.refcount--
	remaining := entry.refcount
	if remaining <= 0 {
		delete(d.entries, entry.fd)
	}
	d.mu.Unlock()

	if remaining <= 0 {
		_ = d.poller.Remove(entry.fd)
	}
}

// DoWork polls the platform multiplexer with a zero timeout and dispatches
// any ready events inline via each matching IoEntry's onEvents. Meant to
// be called on a regular tick from the Runtime worker loop, not blocked
// on. Multiple workers tick their own IoDriver on independent, merely
// staggered schedules (see runtime.go's workerLoop), so DoWork can run
// concurrently from more than one goroutine; pollMu serializes the actual
// Wait call and keeps readyBuf single-owner for the duration of one poll.
func (d *IoDriver) DoWork() {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	n, _ := d.poller.Wait(0, d.readyBuf)
	for i := 0; i < n; i++ {
		r := d.readyBuf[i]
		d.mu.Lock()
		entry := d.entries[r.fd]
		d.mu.Unlock()
		if entry != nil {
			entry.onEvents(r.events)
		}
	}
}

// Close releases the platform multiplexer. Outstanding Registrations
// become inert (PollReady will simply never observe new readiness).
func (d *IoDriver) Close() error {
	return d.poller.Close()
}
