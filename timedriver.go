package asyncrt

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// timerEntry is {expiry, waker, unique id}, totally ordered by
// (expiry asc, id asc) as required by spec §3 and exercised by scenario S8.
type timerEntry struct {
	expiry time.Time
	id     uint64
	waker  Waker
	index  int // heap index, maintained by timerHeap.Swap
}

// timerHeap is a container/heap.Interface min-heap ordered by
// (expiry, id), with an index kept on each entry. RemoveEntry finds the
// exact (expiry, id) pair by a linear scan of the heap and then removes it
// with heap.Remove, so a removal costs O(n), not O(log n).
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiry.Equal(h[j].expiry) {
		return h[i].id < h[j].id
	}
	return h[i].expiry.Before(h[j].expiry)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimeDriver is a sorted queue of (expiry, waker, id) entries. AddEntry
// inserts with a unique, process-wide-monotonic id and returns it;
// RemoveEntry removes the exact (expiry, id) pair if present. The driver
// never dereferences a Pollable — it only wakes; DoWork drains every entry
// whose expiry has passed and calls Wake on each.
//
// The queue is protected by a plain mutex rather than a spin-lock (the
// reference design's choice): contention here is bounded by the worker
// count, and a blocking mutex avoids burning CPU under the rare case of a
// slow waker implementation running inside the critical section.
type TimeDriver struct {
	mu sync.Mutex
	h  timerHeap
}

// timerIDs is the process-wide counter that AddEntry draws ids from,
// shared by every TimeDriver.
var timerIDs atomic.Uint64

// NewTimeDriver constructs an empty TimeDriver.
func NewTimeDriver() *TimeDriver {
	return &TimeDriver{}
}

// AddEntry inserts a new timer and returns its unique id. IDs are
// allocated from a process-wide monotonic counter and are never reused
// within a run, so (expiry, id) ordering is stable even when two timers
// share an expiry.
func (d *TimeDriver) AddEntry(expiry time.Time, waker Waker) uint64 {
	id := timerIDs.Add(1)
	e := &timerEntry{expiry: expiry, id: id, waker: waker}
	d.mu.Lock()
	heap.Push(&d.h, e)
	d.mu.Unlock()
	return id
}

// RemoveEntry removes the exact (expiry, id) entry if still present,
// reporting whether it found one. Timeout calls this once it resolves, so
// its entry neither wakes spuriously nor holds the waker; the entries of
// SleepUntil/SleepFor and Interval are never removed and stay queued until
// they fire.
func (d *TimeDriver) RemoveEntry(expiry time.Time, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.h {
		if e.id == id && e.expiry.Equal(expiry) {
			heap.Remove(&d.h, i)
			return true
		}
	}
	return false
}

// NextExpiry returns the earliest pending expiry and true, or the zero
// time and false if the queue is empty. The Runtime worker loop does not
// call it.
func (d *TimeDriver) NextExpiry() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.h) == 0 {
		return time.Time{}, false
	}
	return d.h[0].expiry, true
}

// DoWork drains every entry whose expiry has passed (expiry <= now) and
// calls Wake on each extracted waker, in (expiry, id) order. Spurious
// wakes are tolerated by design: a woken waker refers back to a task that
// will re-poll its sleep/interval/timeout pollable, which re-checks
// now >= expiry itself.
func (d *TimeDriver) DoWork(now time.Time) (fired int) {
	var due []*timerEntry
	d.mu.Lock()
	for len(d.h) > 0 && !d.h[0].expiry.After(now) {
		e := heap.Pop(&d.h).(*timerEntry)
		due = append(due, e)
	}
	d.mu.Unlock()
	for _, e := range due {
		e.waker.Wake()
	}
	return len(due)
}

// Len returns the number of pending timers, for diagnostics/tests.
func (d *TimeDriver) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.h)
}
