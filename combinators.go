package asyncrt

import "time"

// JoinAll polls every not-yet-completed child on each call until all are
// Ready, then reports a slice of their outputs in input order. A child
// whose poll yields an error propagates that error as soon as it is
// observed during output extraction (spec §4.2): all already-completed
// children's outputs are still collected into the result first, so a
// caller that inspects the partial results alongside the error (e.g. in a
// custom combinator) sees every child that did finish.
func JoinAll[T any](children ...Pollable[T]) Pollable[[]T] {
	return &joinAllPollable[T]{
		children: children,
		done:     make([]bool, len(children)),
		outputs:  make([]T, len(children)),
	}
}

type joinAllPollable[T any] struct {
	children []Pollable[T]
	done     []bool
	outputs  []T
	errs     []error
}

func (j *joinAllPollable[T]) Poll(cx *Context) ([]T, bool, error) {
	remaining := 0
	for i, child := range j.children {
		if j.done[i] {
			continue
		}
		cx.PushFrame("join_all")
		v, ready, err := child.Poll(cx)
		cx.PopFrame()
		if ready {
			j.done[i] = true
			j.outputs[i] = v
			if err != nil {
				if j.errs == nil {
					j.errs = make([]error, len(j.children))
				}
				j.errs[i] = err
			}
			continue
		}
		remaining++
	}

	if remaining > 0 {
		return nil, false, nil
	}

	for _, err := range j.errs {
		if err != nil {
			return j.outputs, true, err
		}
	}
	return j.outputs, true, nil
}

// SelectBranch is one arm of a Select: Future is polled while Enabled is
// true (evaluated once, at the time Select is constructed); Callback
// receives the branch's output when it wins.
type SelectBranch[T, R any] struct {
	Future   Pollable[T]
	Callback func(T, error) Pollable[R]
	Enabled  bool
}

// Select polls each enabled branch in declaration order until one is
// Ready (the winner), invokes its callback, and drives the callback's
// returned pollable to completion. Ties among branches that become Ready
// on the same poll are broken by declaration order. Losing branches are
// simply dropped (never polled again) once a winner is chosen.
func Select[T, R any](branches ...SelectBranch[T, R]) Pollable[R] {
	return &selectPollable[T, R]{branches: branches}
}

type selectPollable[T, R any] struct {
	branches []SelectBranch[T, R]
	winner   Pollable[R]
}

func (s *selectPollable[T, R]) Poll(cx *Context) (R, bool, error) {
	var zero R

	if s.winner != nil {
		return s.winner.Poll(cx)
	}

	for i := range s.branches {
		b := &s.branches[i]
		if !b.Enabled || b.Future == nil {
			continue
		}
		cx.PushFrame("select")
		v, ready, err := b.Future.Poll(cx)
		cx.PopFrame()
		if !ready {
			continue
		}
		s.winner = b.Callback(v, err)
		s.branches = nil
		return s.winner.Poll(cx)
	}

	return zero, false, nil
}

// Timeout races fut against a timer of dur. Ready(v, nil) if fut
// completes first; Ready(zero, ErrTimedOut) if the timer fires first. A
// zero or negative duration errors immediately without polling fut. The
// timer registration is dropped (TimeDriver.RemoveEntry) as soon as
// either side resolves, so a won race never leaves a dangling timer.
func Timeout[T any](rt *Runtime, dur time.Duration, fut Pollable[T]) Pollable[T] {
	return &timeoutPollable[T]{rt: rt, dur: dur, fut: fut}
}

type timeoutPollable[T any] struct {
	rt  *Runtime
	dur time.Duration
	fut Pollable[T]

	started bool
	expiry  time.Time
	timerID uint64
}

func (t *timeoutPollable[T]) Poll(cx *Context) (T, bool, error) {
	var zero T

	if t.dur <= 0 {
		return zero, true, ErrTimedOut
	}

	td := t.rt.TimeDriver()

	if !t.started {
		t.started = true
		t.expiry = time.Now().Add(t.dur)
		t.timerID = td.AddEntry(t.expiry, cx.CloneWaker())
	}

	cx.PushFrame("timeout")
	v, ready, err := t.fut.Poll(cx)
	cx.PopFrame()
	if ready {
		td.RemoveEntry(t.expiry, t.timerID)
		return v, true, err
	}

	if !time.Now().Before(t.expiry) {
		td.RemoveEntry(t.expiry, t.timerID)
		return zero, true, ErrTimedOut
	}

	return zero, false, nil
}

// SleepFor returns a pollable Ready after dur has elapsed.
func SleepFor(rt *Runtime, dur time.Duration) Pollable[struct{}] {
	return SleepUntil(rt, time.Now().Add(dur))
}

// SleepUntil returns a pollable Ready once time.Now() has reached deadline.
func SleepUntil(rt *Runtime, deadline time.Time) Pollable[struct{}] {
	return &sleepPollable{rt: rt, deadline: deadline}
}

type sleepPollable struct {
	rt       *Runtime
	deadline time.Time
	started  bool
	timerID  uint64
}

func (s *sleepPollable) Poll(cx *Context) (struct{}, bool, error) {
	if !time.Now().Before(s.deadline) {
		return struct{}{}, true, nil
	}
	if !s.started {
		s.started = true
		s.timerID = s.rt.TimeDriver().AddEntry(s.deadline, cx.CloneWaker())
	}
	return struct{}{}, false, nil
}

// MissedTickPolicy governs Interval's behavior when one or more ticks
// elapse before the pollable is polled again.
type MissedTickPolicy int

const (
	// Burst delivers one tick per call immediately for every missed
	// interval, catching the schedule back up to real time over several
	// polls.
	Burst MissedTickPolicy = iota
	// Skip realigns the next tick to the next period boundary strictly
	// after now, discarding any ticks that were missed.
	Skip
)

// Interval is a restartable pollable producing a Ready(struct{}) at each
// successive tick boundary; unlike every other combinator in this file it
// may be polled again after returning Ready (the one documented exception
// to the core's non-restartable-pollable convention).
func Interval(rt *Runtime, period time.Duration, policy MissedTickPolicy) Pollable[struct{}] {
	return &intervalPollable{rt: rt, period: period, policy: policy, next: time.Now().Add(period)}
}

type intervalPollable struct {
	rt      *Runtime
	period  time.Duration
	policy  MissedTickPolicy
	next    time.Time
	started bool
	timerID uint64
}

func (iv *intervalPollable) Poll(cx *Context) (struct{}, bool, error) {
	now := time.Now()
	if !now.Before(iv.next) {
		switch iv.policy {
		case Skip:
			for !now.Before(iv.next) {
				iv.next = iv.next.Add(iv.period)
			}
		default: // Burst
			iv.next = iv.next.Add(iv.period)
		}
		iv.started = false
		return struct{}{}, true, nil
	}
	if !iv.started {
		iv.started = true
		iv.timerID = iv.rt.TimeDriver().AddEntry(iv.next, cx.CloneWaker())
	}
	return struct{}{}, false, nil
}
