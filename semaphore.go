package asyncrt

import (
	"fmt"
	"sync"
)

// Semaphore is a counting semaphore: Release adds permits, Acquire
// consumes n, suspending while fewer than n are available. Grounded on
// original_source's arc::Semaphore, whose internal waiter queue
// (WaitList<AcquireAwaiter>) becomes this package's shared [waitList]
// specialization, generalized here to carry the requested permit count per
// waiter so multi-permit acquires (spec's acquire(n)) queue fairly instead
// of being woken one permit at a time.
type Semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	permits int64
	waiters waitList[*semWaiter]
}

// semWaiter is one queued Acquire(n): n is the permit count it's waiting
// for, woken is set once Release has reserved n permits on its behalf so a
// re-poll can skip straight to success.
type semWaiter struct {
	n     int64
	woken bool
	waker Waker
}

// NewSemaphore returns a Semaphore initialized with the given permit count.
func NewSemaphore(permits int64) *Semaphore {
	s := &Semaphore{permits: permits}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// TryAcquire consumes n permits without blocking, reporting success. n must
// be positive.
func (s *Semaphore) TryAcquire(n int64) bool {
	if n <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permits >= n {
		s.permits -= n
		return true
	}
	return false
}

// Release returns n permits to the semaphore, waking every queued waiter
// whose request the released permits (plus whatever was already available)
// can now satisfy, in FIFO order — a waiter at the front requesting more
// permits than are currently available blocks the waiters behind it from
// being woken out of turn.
func (s *Semaphore) Release(n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.permits += n

	var wakers []Waker
	for {
		front, ok := s.waiters.TakeFirstIf(func(w *semWaiter) bool { return s.permits >= w.n })
		if !ok {
			break
		}
		s.permits -= front.n
		front.woken = true
		wakers = append(wakers, front.waker)
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, w := range wakers {
		w.Wake()
	}
}

// ReleaseOne returns a single permit.
func (s *Semaphore) ReleaseOne() { s.Release(1) }

// Acquire returns a Pollable that resolves once n permits have been
// consumed on the caller's behalf. n must be positive.
func (s *Semaphore) Acquire(n int64) Pollable[struct{}] {
	return &acquirePollable{sem: s, n: n}
}

type acquirePollable struct {
	sem        *Semaphore
	n          int64
	registered bool
	waiter     *semWaiter
}

func (p *acquirePollable) Poll(cx *Context) (struct{}, bool, error) {
	s := p.sem

	s.mu.Lock()
	if !p.registered {
		if s.permits >= p.n {
			s.permits -= p.n
			s.mu.Unlock()
			return struct{}{}, true, nil
		}
		p.registered = true
		p.waiter = &semWaiter{n: p.n, waker: cx.CloneWaker()}
		s.waiters.Add(p.waiter)
		s.mu.Unlock()
		return struct{}{}, false, nil
	}

	woken := p.waiter.woken
	s.mu.Unlock()
	if !woken {
		return struct{}{}, false, nil
	}
	return struct{}{}, true, nil
}

// AcquireBlocking performs a real, OS-thread-blocking acquire of n permits:
// unlike Acquire, it does not return a Pollable and must not be called on a
// scheduler worker goroutine (it would stall that worker's whole run
// queue). It is meant for callers already off the cooperative scheduler —
// typically a job submitted via SpawnBlocking — mirroring spec's
// acquire_blocking(n), which exists precisely for blocking-pool-style
// contexts where suspending through Pollable isn't an option. Returns an
// error only if n is not positive.
func (s *Semaphore) AcquireBlocking(n int64) error {
	if n <= 0 {
		return fmt.Errorf("asyncrt: semaphore acquire count must be positive, got %d", n)
	}
	s.mu.Lock()
	for s.permits < n {
		s.cond.Wait()
	}
	s.permits -= n
	s.mu.Unlock()
	return nil
}
