package asyncrt

import "sync"

// waitList is a generic mutex-protected collection of waiters, grounded on
// original_source's WaitList<T>: the one shared implementation that
// Notify, CancellationToken, and IoDriver's per-fd waiter list each
// specialize with their own waiter payload, instead of three independent
// ad-hoc lists.
type waitList[T any] struct {
	mu      sync.Mutex
	waiters []T
}

// Add appends a waiter. It returns no handle; a waiter is removed later
// through Remove's predicate.
func (w *waitList[T]) Add(waiter T) {
	w.mu.Lock()
	w.waiters = append(w.waiters, waiter)
	w.mu.Unlock()
}

// Remove deletes the first waiter for which match returns true, returning
// whether one was found.
func (w *waitList[T]) Remove(match func(T) bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, waiter := range w.waiters {
		if match(waiter) {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// TakeFirst removes and returns the first waiter, if any.
func (w *waitList[T]) TakeFirst() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.waiters) == 0 {
		var zero T
		return zero, false
	}
	first := w.waiters[0]
	w.waiters = append(w.waiters[:0], w.waiters[1:]...)
	return first, true
}

// TakeFirstIf removes and returns the first waiter only if pred reports
// true for it, leaving the list untouched otherwise. Used where a failed
// match must not reorder the queue (e.g. Semaphore.Release stopping at the
// first waiter it can't yet satisfy).
func (w *waitList[T]) TakeFirstIf(pred func(T) bool) (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.waiters) == 0 || !pred(w.waiters[0]) {
		var zero T
		return zero, false
	}
	first := w.waiters[0]
	w.waiters = append(w.waiters[:0], w.waiters[1:]...)
	return first, true
}

// TakeAll removes and returns every waiter currently in the list.
func (w *waitList[T]) TakeAll() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.waiters) == 0 {
		return nil
	}
	out := w.waiters
	w.waiters = nil
	return out
}

// ForAll calls fn for each waiter currently in the list (snapshot copy, so
// fn may safely re-enter Add/Remove on the same list).
func (w *waitList[T]) ForAll(fn func(T)) {
	w.mu.Lock()
	snapshot := append([]T(nil), w.waiters...)
	w.mu.Unlock()
	for _, waiter := range snapshot {
		fn(waiter)
	}
}

// Len returns the current waiter count.
func (w *waitList[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}
