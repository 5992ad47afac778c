package asyncrt

import (
	"time"
)

// TaskHandle is an owning handle to a spawned Task, exposing completion
// awaiting, cancellation, detachment, and introspection. A TaskHandle[T]
// is itself a Pollable[T]: polling it registers cx.Waker() as the task's
// awaiter and inspects the Completed/Closed flags — it never drives the
// wrapped pollable itself (that's the Runtime worker's job via
// taskCore.run).
type TaskHandle[T any] struct {
	core   *taskCore
	output *T
	err    *error
}

// spawnTask builds a taskCore wrapping p, registers it with rt, and
// enqueues it for its first run. name may be empty.
func spawnTask[T any](rt *Runtime, p Pollable[T], name string) *TaskHandle[T] {
	tc := newTaskCore(rt)
	tc.name = name

	var output T
	var outErr error
	live := p

	tc.driveOnce = func(cx *Context) bool {
		if live == nil {
			return true
		}
		v, ready, err := live.Poll(cx)
		if ready {
			output, outErr = v, err
			live = nil
		}
		return ready
	}
	tc.dropPollable = func() { live = nil }
	tc.onPanic = func(pe *PanicError) { outErr = pe }

	h := &TaskHandle[T]{core: tc, output: &output, err: &outErr}
	rt.registerTask(tc)
	rt.enqueue(tc)
	return h
}

// Poll implements Pollable[T]. It registers cx.Waker() as the task's
// awaiter and reports the task's current state; it never drives the
// underlying pollable.
func (h *TaskHandle[T]) Poll(cx *Context) (T, bool, error) {
	s := h.core.state.Load()
	if s&(taskCompleted|taskClosed) != 0 {
		if s&taskCompleted == 0 {
			var zero T
			return zero, true, ErrTaskClosed
		}
		return *h.output, true, *h.err
	}
	h.core.registerAwaiter(cx.CloneWaker())
	// re-check: the task may have completed between the flag read above and
	// registerAwaiter returning (registerAwaiter itself handles the
	// Notifying race, but a plain Completed observed here after
	// registration still means we should report it now instead of waiting
	// for a wake that has already fired).
	s = h.core.state.Load()
	if s&(taskCompleted|taskClosed) != 0 {
		if s&taskCompleted == 0 {
			var zero T
			return zero, true, ErrTaskClosed
		}
		return *h.output, true, *h.err
	}
	var zero T
	return zero, false, nil
}

// Abort marks the underlying task Closed. If it is idle it is rescheduled
// so a worker drops the pollable on its next run; any awaiter (including
// this handle, if it is itself being awaited) is woken with TaskClosed.
func (h *TaskHandle[T]) Abort() { h.core.abort() }

// Detach relinquishes this handle's ownership without waiting for
// completion: if the task has already completed, its output is discarded;
// otherwise it is closed and is not polled again once any poll already in
// progress returns.
func (h *TaskHandle[T]) Detach() { h.core.detach() }

// SetName assigns a debug name used in TaskDebugData and diagnostic logs.
func (h *TaskHandle[T]) SetName(name string) { h.core.name = name }

// IsValid reports whether the task has not yet been Closed without
// completing (i.e. polling it would not immediately yield TaskClosed).
func (h *TaskHandle[T]) IsValid() bool {
	s := h.core.state.Load()
	return s&taskClosed == 0 || s&taskCompleted != 0
}

// TaskDebugData is a snapshot of a task's diagnostic state, the Go
// equivalent of the reference design's name/source-location/timestamp
// bookkeeping recovered from original_source's Task.hpp.
type TaskDebugData struct {
	Name        string
	Scheduled   bool
	Running     bool
	Completed   bool
	Closed      bool
	HasAwaiter  bool
	HasHandle   bool
	RefCount    uint64
	PollCount   uint64
	SpawnedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// GetDebugData returns a snapshot of the task's current state.
func (h *TaskHandle[T]) GetDebugData() TaskDebugData {
	s := h.core.state.Load()
	return TaskDebugData{
		Name:        h.core.name,
		Scheduled:   s&taskScheduled != 0,
		Running:     s&taskRunning != 0,
		Completed:   s&taskCompleted != 0,
		Closed:      s&taskClosed != 0,
		HasAwaiter:  s&taskHasAwaiter != 0,
		HasHandle:   s&taskHasHandle != 0,
		RefCount:    s >> taskFlagBits,
		PollCount:   h.core.pollCount.Load(),
		SpawnedAt:   h.core.spawnedAt,
		StartedAt:   h.core.startedAt,
		CompletedAt: h.core.completedAt,
	}
}

// BlockOn synchronously waits for the task to complete, using the owning
// Runtime's block_on condvar loop. It must not be called from within a
// worker goroutine belonging to the same runtime (that would deadlock the
// pool) — it is for external callers only.
func (h *TaskHandle[T]) BlockOn() (T, error) {
	return blockOnHandle[T](h.core.rt, h)
}
