package asyncrt

import (
	"fmt"
	"time"
)

// Context is per-poll scratch passed explicitly to every Pollable.Poll call.
//
// The reference design threads this through a thread-local; idiomatic Go
// instead threads it as an explicit parameter (the same shape as
// context.Context), which is both simpler to reason about and safe to use
// from combinators that poll multiple children without any goroutine
// affinity requirement. The observable contract — current waker, current
// runtime, cooperative-yield deadline, diagnostic future-stack — is
// unchanged from the reference.
type Context struct {
	waker   Waker
	runtime *Runtime

	taskDeadline time.Time
	hasDeadline  bool
	pollCount    uint64

	stack         []frame
	captured      []string
	currentPanic  *PanicError
}

type frame struct {
	name string
}

// NewContext builds a Context bound to the given waker and runtime. Used by
// Runtime workers before driving a task's root pollable, and by BlockOn,
// and by tests driving pollables standalone (pass a nil runtime).
func NewContext(waker Waker, rt *Runtime) *Context {
	return &Context{waker: waker, runtime: rt}
}

// Waker returns the currently installed waker.
func (c *Context) Waker() Waker { return c.waker }

// CloneWaker returns an independent clone of the currently installed waker.
func (c *Context) CloneWaker() Waker { return c.waker.Clone() }

// Wake signals the current waker by reference (does not consume it),
// useful for self-waking combinators like Yield.
func (c *Context) Wake() { c.waker.WakeByRef() }

// Runtime returns the runtime this poll is executing under, or nil if none
// is installed (e.g. a Pollable driven standalone in a test).
func (c *Context) Runtime() *Runtime { return c.runtime }

// SetTaskDeadline installs the cooperative-yield deadline for the task
// currently being polled. Called once by the Runtime worker before driving
// a task's root pollable; combinators should not call this themselves.
func (c *Context) SetTaskDeadline(deadline time.Time) {
	c.taskDeadline = deadline
	c.hasDeadline = true
}

// ShouldCoopYield returns true once the current task has exceeded its
// per-scheduling-slice deadline. Sampling the clock on every call would
// dominate a tight poll loop, so — matching the reference design — only
// every 64th call actually reads the clock; the other calls return false
// without checking the deadline. Pollables that loop internally must call
// this and honor it, or cooperative scheduling has no enforcement
// mechanism at all.
func (c *Context) ShouldCoopYield() bool {
	if !c.hasDeadline {
		return false
	}
	c.pollCount++
	if c.pollCount%64 != 1 {
		return false
	}
	return !time.Now().Before(c.taskDeadline)
}

// PushFrame records a named stack frame for the duration of polling a
// nested Pollable, for diagnostic future-stack traces on unhandled panics.
// Combinators that poll children should wrap each child poll with
// PushFrame/PopFrame.
func (c *Context) PushFrame(name string) {
	c.stack = append(c.stack, frame{name: name})
}

// PopFrame removes the most recently pushed frame.
func (c *Context) PopFrame() {
	if n := len(c.stack); n > 0 {
		c.stack = c.stack[:n-1]
	}
}

// FutureStack returns a snapshot of the current frame names, outermost
// first, for diagnostic printing.
func (c *Context) FutureStack() []string {
	out := make([]string, len(c.stack))
	for i, f := range c.stack {
		out[i] = f.name
	}
	return out
}

// CapturePanic records a panic recovered from a Pollable's Poll, snapshotting
// the current future-stack for diagnostics. taskCore.runPollableGuarded
// calls this from its recover() handler; the task then completes in that
// same run, and its awaiter sees the resulting PanicError as the error.
func (c *Context) CapturePanic(recovered any) *PanicError {
	stack := c.FutureStack()
	pe := &PanicError{Value: recovered, FutureStack: stack}
	c.currentPanic = pe
	return pe
}

// String implements fmt.Stringer for debug logging.
func (c *Context) String() string {
	return fmt.Sprintf("Context{stack=%v, deadline=%v}", c.FutureStack(), c.taskDeadline)
}
