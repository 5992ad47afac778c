// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package asyncrt

import (
	"sync"
	"time"
)

// CancellationToken is a one-shot, idempotent cancellation signal shared
// between a canceller and any number of waiters. It is the cooperative-
// cancellation sync primitive from the public API, built directly on
// [waitList] the same way [Notify] is: Cancel flips a guarded bool and
// drains the waiter list; WaitCancelled returns a Pollable that registers
// itself once and re-checks on every subsequent poll.
//
// This type replaces the teacher's DOM AbortController/AbortSignal pair:
// the cancel/is-cancelled/wait-cancelled shape is the same idea (a shared
// token that one side trips and any number of sides observe), generalized
// from an immediate-callback event model to the poll-based one this
// runtime uses everywhere else.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	reason    any
	waiters   waitList[Waker]
}

// NewCancellationToken returns an uncancelled token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel trips the token with the given reason (nil is fine) and wakes
// every pending waiter. A second and later call is a no-op: the first
// reason sticks.
func (t *CancellationToken) Cancel(reason any) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.reason = reason
	t.mu.Unlock()

	for _, w := range t.waiters.TakeAll() {
		w.Wake()
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Reason returns the reason passed to Cancel, or nil if not yet cancelled
// or no reason was given.
func (t *CancellationToken) Reason() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// WaitCancelled returns a Pollable that resolves once the token is
// cancelled. Polling an already-cancelled token resolves immediately
// without registering a waiter.
func (t *CancellationToken) WaitCancelled() Pollable[struct{}] {
	return &cancelWaitPollable{token: t}
}

type cancelWaitPollable struct {
	token      *CancellationToken
	registered bool
}

func (p *cancelWaitPollable) Poll(cx *Context) (struct{}, bool, error) {
	if p.token.IsCancelled() {
		return struct{}{}, true, nil
	}
	if !p.registered {
		p.registered = true
		w := cx.CloneWaker()
		p.token.mu.Lock()
		if p.token.cancelled {
			p.token.mu.Unlock()
			w.Wake()
			return struct{}{}, true, nil
		}
		p.token.mu.Unlock()
		p.token.waiters.Add(w)
	}
	return struct{}{}, false, nil
}

// funcWakerVtable adapts a plain func() into the Waker vtable shape, used
// internally by CancelAfter to drive a token off a TimeDriver entry
// without needing a full task/poll round-trip.
var funcWakerVtable = &WakerVtable{
	Wake:      func(d any) { d.(func())() },
	WakeByRef: func(d any) { d.(func())() },
	Clone:     func(d any) Waker { return Waker{Data: d, Vtable: funcWakerVtable} },
	Drop:      func(any) {},
}

func funcWaker(fn func()) Waker {
	return Waker{Data: fn, Vtable: funcWakerVtable}
}

// CancelAfter schedules token to be cancelled with a TimeoutError-flavored
// reason after delay elapses, using td directly (no task, no runtime
// needed) — the CancellationToken equivalent of the teacher's
// AbortTimeout(loop, delayMs), generalized from a single-threaded JS loop's
// own timer wheel to the shared [TimeDriver].
func CancelAfter(token *CancellationToken, td *TimeDriver, delay time.Duration) {
	td.AddEntry(time.Now().Add(delay), funcWaker(func() {
		token.Cancel("CancellationToken: timed out")
	}))
}

// AnyCancelled returns a token that cancels as soon as any of tokens does,
// carrying forward that token's reason. An empty or all-nil input yields a
// token that never cancels on its own (the caller may still cancel it
// directly).
func AnyCancelled(tokens []*CancellationToken) *CancellationToken {
	composite := NewCancellationToken()

	for _, tok := range tokens {
		if tok == nil {
			continue
		}
		if tok.IsCancelled() {
			composite.Cancel(tok.Reason())
			return composite
		}
	}

	for _, tok := range tokens {
		if tok == nil {
			continue
		}
		t := tok
		w := funcWaker(func() {
			composite.Cancel(t.Reason())
		})
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			composite.Cancel(t.Reason())
			continue
		}
		t.waiters.Add(w)
		t.mu.Unlock()
	}

	return composite
}
