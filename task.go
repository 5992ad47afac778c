package asyncrt

import (
	"sync/atomic"
	"time"
)

// Task state word layout: the low taskFlagBits bits are a bitfield of
// flags; the remaining high bits are a reference count. Both live in one
// 64-bit atomic so that state CAS transitions and incref/decref share a
// single consistent observation point — this is the one invariant the
// reference design calls out as mandatory for any target without a native
// atomic<u64> split.
const (
	taskScheduled   uint64 = 1 << 0
	taskRunning     uint64 = 1 << 1
	taskCompleted   uint64 = 1 << 2
	taskClosed      uint64 = 1 << 3
	taskHasAwaiter  uint64 = 1 << 4
	taskNotifying   uint64 = 1 << 5
	taskRegistering uint64 = 1 << 6
	taskHasHandle   uint64 = 1 << 7

	taskFlagBits = 8
	taskFlagMask = uint64(1)<<taskFlagBits - 1
	taskRefOne   = uint64(1) << taskFlagBits
)

// taskCore is the type-erased scheduling half of a Task: the atomic state
// word, the awaiter slot (guarded by the Notifying/Registering flag
// interlock), and a closure bridging back to the typed Pollable. spawnTask
// installs closures over a typed output slot that TaskHandle[T] reads, so
// that the Runtime's run queue can hold heterogeneous tasks behind one
// concrete (non-generic) type while callers still get a typed
// TaskHandle[T].
type taskCore struct {
	state atomic.Uint64

	rt *Runtime // weak: the Task never keeps the Runtime alive

	// driveOnce runs one poll of the underlying Pollable. It returns true
	// once the pollable has produced Ready (value or error); the output
	// itself is stashed by the closure into the typed slot that
	// spawnTask's driveOnce closes over.
	driveOnce func(cx *Context) (done bool)
	// dropPollable releases the Pollable without polling it again, used on
	// the Closed path (cancellation / detach-without-completion).
	dropPollable func()

	awaiter Waker // guarded by taskNotifying/taskRegistering

	name        string
	spawnedAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	pollCount   atomic.Uint64

	// onPanic, when set by spawnTask, stashes a captured panic into the
	// typed output/err slot before Completed is observed by any awaiter.
	onPanic func(*PanicError)
}

func newTaskCore(rt *Runtime) *taskCore {
	tc := &taskCore{rt: rt, spawnedAt: time.Now()}
	tc.state.Store(taskRefOne | taskScheduled | taskHasHandle)
	return tc
}

func (tc *taskCore) incref() {
	tc.state.Add(taskRefOne)
}

// decref releases one reference; if it drops the count to zero and
// HasHandle is already clear, the task is eligible for destruction. Go's
// GC makes explicit destruction unnecessary, so decref here only exists to
// preserve the observable refcount semantics that TaskDebugData exposes;
// dropping the last
// reference additionally releases the pollable if that has not already
// happened.
func (tc *taskCore) decref() {
	s := tc.state.Add(^(taskRefOne - 1)) // two's-complement -taskRefOne
	if s>>taskFlagBits == 0 && s&taskHasHandle == 0 {
		if tc.dropPollable != nil {
			tc.dropPollable()
		}
	}
}

// sharedTaskWakerVtable is the Waker vtable used when a task's own pointer
// is the Data payload: calling Wake/WakeByRef reschedules the task (per the
// reference design's wake-for-task vtable), Clone increments the refcount
// and returns an independent waker, Drop decrements it.
var sharedTaskWakerVtable = &WakerVtable{
	Wake:      func(d any) { d.(*taskCore).wake(true) },
	WakeByRef: func(d any) { d.(*taskCore).wake(false) },
	Clone: func(d any) Waker { return d.(*taskCore).cloneWaker() },
	Drop:  func(d any) { d.(*taskCore).decref() },
}

// cloneWaker increments the refcount and returns an owned Waker: the
// result must eventually be balanced by exactly one Wake (consuming) or
// Drop call by whoever stores it.
func (tc *taskCore) cloneWaker() Waker {
	tc.incref()
	return Waker{Data: tc, Vtable: sharedTaskWakerVtable}
}

// borrowWaker returns a non-owning view of the task's waker, valid only
// for the duration of the current poll (the caller's scheduling reference
// keeps tc alive). It is installed as the Context's waker; a pollable that
// needs to retain a waker beyond the current poll must call
// cx.CloneWaker(), not store this value directly.
func (tc *taskCore) borrowWaker() Waker {
	return Waker{Data: tc, Vtable: sharedTaskWakerVtable}
}

// wake implements the task-waker vtable's Wake/WakeByRef behavior: if the
// task is already Completed or Closed the call is a no-op (dropping the
// reference a consuming Wake held); if already Scheduled there is nothing
// to do beyond balancing the reference; otherwise it ORs in Scheduled and,
// unless the task is Running, enqueues it (a Running task is re-enqueued by
// run itself once its poll returns Pending). A consuming Wake that finds the task not already
// Running transfers its own strong reference into the fresh scheduling
// reference (no incref/decref round trip); every other case (wake_by_ref,
// or Wake while Running) must incref for the new scheduling reference,
// since the original reference is independently owned/balanced elsewhere.
func (tc *taskCore) wake(consume bool) {
	for {
		s := tc.state.Load()

		if s&(taskCompleted|taskClosed) != 0 {
			if consume {
				tc.decref()
			}
			return
		}

		if s&taskScheduled != 0 {
			if consume {
				tc.decref()
			}
			return
		}

		running := s&taskRunning != 0
		transferOwnRef := consume && !running

		ns := s | taskScheduled
		if !transferOwnRef {
			ns += taskRefOne
		}

		if !tc.state.CompareAndSwap(s, ns) {
			continue
		}
		if consume && !transferOwnRef {
			tc.decref()
		}
		if !running {
			tc.rt.enqueue(tc)
		}
		return
	}
}

// registerAwaiter implements the reference design's register_awaiter
// algorithm verbatim: the Notifying/Registering flags form a two-state
// lock around the awaiter slot that guarantees no wake is lost and no
// awaiter is woken twice for the same completion.
func (tc *taskCore) registerAwaiter(w Waker) {
	for {
		s := tc.state.Load()
		if s&taskNotifying != 0 {
			w.WakeByRef()
			return
		}
		if tc.state.CompareAndSwap(s, s|taskRegistering) {
			break
		}
	}
	tc.awaiter = w.Clone()
	for {
		s := tc.state.Load()
		var consumed Waker
		haveConsumed := false
		if s&taskNotifying != 0 {
			consumed = tc.awaiter
			haveConsumed = true
			tc.awaiter = Waker{}
		}
		ns := s &^ (taskNotifying | taskRegistering)
		if haveConsumed {
			ns &^= taskHasAwaiter
		} else {
			ns |= taskHasAwaiter
		}
		if tc.state.CompareAndSwap(s, ns) {
			if haveConsumed {
				consumed.Wake()
			}
			return
		}
	}
}

// notifyAwaiter implements the reference design's notify_awaiter
// algorithm: it is called when the task transitions to Completed or
// Closed, and both abort and run's Closed path may call it for the same
// task; the Notifying flag and the cleared awaiter slot keep the awaiter
// from being woken twice. current is the waker that triggered this run (if
// any), used to avoid a spurious self-wake when the notifier and the
// stored awaiter happen to be the same waker.
func (tc *taskCore) notifyAwaiter(current Waker) {
	s := tc.state.Or(taskNotifying)
	if s&(taskRegistering|taskNotifying) != 0 {
		return
	}
	w := tc.awaiter
	tc.awaiter = Waker{}
	tc.state.And(^(taskNotifying | taskHasAwaiter))
	if !w.IsZero() && !w.Equal(current) {
		w.Wake()
	}
}

// schedule enqueues the task onto its owning runtime; a no-op if the
// runtime is shutting down or the task is already scheduled/done.
func (tc *taskCore) schedule() {
	tc.rt.queueMu.Lock()
	stopped := tc.rt.stopped
	tc.rt.queueMu.Unlock()
	if stopped {
		return
	}
	tc.wake(false)
}

// abort marks the task Closed, rescheduling it if it was idle so a worker
// drops the pollable on its next run (a Running task is re-enqueued by run
// itself once its current poll returns), then wakes any awaiter with the
// closed signal. This is the only cancellation mechanism: cooperative,
// never a forced unwind of running code.
func (tc *taskCore) abort() {
	for {
		s := tc.state.Load()
		if s&(taskCompleted|taskClosed) != 0 {
			return
		}
		ns := s | taskClosed
		if s&taskScheduled == 0 {
			ns |= taskScheduled | taskRefOne
		}
		if tc.state.CompareAndSwap(s, ns) {
			if s&(taskScheduled|taskRunning) == 0 {
				tc.rt.enqueue(tc)
			}
			if s&taskRunning == 0 {
				tc.notifyAwaiter(Waker{})
			}
			return
		}
	}
}

// detach clears HasHandle: if the task is not yet Completed this also
// forces a Closed+Scheduled reclaim (matching abort's shape); if it is
// already Completed, the output is simply abandoned and the handle's
// reference is dropped.
func (tc *taskCore) detach() {
	for {
		s := tc.state.Load()
		if s&taskHasHandle == 0 {
			return
		}
		ns := s &^ taskHasHandle
		if s&(taskCompleted|taskClosed) == 0 {
			if s&taskScheduled == 0 {
				ns |= taskScheduled | taskClosed | taskRefOne
			} else {
				ns |= taskClosed
			}
		}
		if tc.state.CompareAndSwap(s, ns) {
			if s&(taskCompleted|taskClosed) == 0 && s&(taskScheduled|taskRunning) == 0 {
				tc.rt.enqueue(tc)
			}
			tc.decref()
			return
		}
	}
}

// run executes one scheduling-slot's worth of work for the task: clears
// Scheduled and sets Running, installs a task-waker in the Context, drives
// the root pollable once to a suspension point, and applies the resulting
// state transition. Called only by a Runtime worker that dequeued tc.
func (tc *taskCore) run(rt *Runtime) {
	for {
		s := tc.state.Load()
		if s&taskClosed != 0 && s&taskCompleted == 0 {
			// Closed before ever completing: drop the pollable and wake
			// the awaiter, which observes TaskClosed. Completed stays
			// clear; Closed alone keeps wake from rescheduling the task,
			// so it is never polled again.
			if tc.dropPollable != nil {
				tc.dropPollable()
			}
			ns := s &^ (taskScheduled | taskRunning)
			if tc.state.CompareAndSwap(s, ns) {
				rt.unregisterTask(tc)
				tc.notifyAwaiter(Waker{})
				tc.decref()
				return
			}
			continue
		}
		if s&taskCompleted != 0 {
			tc.decref()
			return
		}
		ns := (s &^ taskScheduled) | taskRunning
		if tc.state.CompareAndSwap(s, ns) {
			break
		}
	}

	if tc.startedAt.IsZero() {
		tc.startedAt = time.Now()
	}
	tc.pollCount.Add(1)

	w := tc.borrowWaker()
	cx := NewContext(w, rt)
	slice := rt.taskSlice()
	cx.SetTaskDeadline(time.Now().Add(slice))

	done := tc.runPollableGuarded(cx)

	if done {
		tc.completedAt = time.Now()
		var rearmed bool
		for {
			s := tc.state.Load()
			ns := (s &^ (taskRunning | taskScheduled)) | taskCompleted
			if s&taskHasHandle == 0 {
				ns |= taskClosed
			}
			if tc.state.CompareAndSwap(s, ns) {
				rearmed = s&taskScheduled != 0
				break
			}
		}
		rt.unregisterTask(tc)
		tc.notifyAwaiter(w)
		if rearmed {
			// release the reference a wake added while the task was Running
			tc.decref()
		}
		tc.decref()
		return
	}

	for {
		s := tc.state.Load()
		ns := s &^ taskRunning
		if s&taskScheduled != 0 {
			// re-armed while running: keep the scheduling reference, just
			// clear Running, and re-enqueue.
			if tc.state.CompareAndSwap(s, ns) {
				// A concurrent wake() added a fresh reference for the
				// re-Scheduled state while we were Running; release our
				// own (now-spent) scheduling reference and re-enqueue using
				// that fresh one.
				tc.decref()
				rt.enqueue(tc)
				return
			}
			continue
		}
		if tc.state.CompareAndSwap(s, ns) {
			tc.decref()
			return
		}
	}
}

// runPollableGuarded drives tc.driveOnce and recovers a panic into a
// PanicError captured on the Context, surfaced to the task's awaiter as if
// the pollable had returned Ready with that error. This is the Task
// layer's one exception capture slot per task (the first one wins).
func (tc *taskCore) runPollableGuarded(cx *Context) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			pe := cx.CapturePanic(r)
			tc.setPanicOutput(pe)
			done = true
		}
	}()
	return tc.driveOnce(cx)
}

// setPanicOutput stashes pe into the typed output slot via the onPanic hook
// installed by spawnTask; taskCore itself has no typed slot to write to.
func (tc *taskCore) setPanicOutput(pe *PanicError) {
	if tc.onPanic != nil {
		tc.onPanic(pe)
	}
}
