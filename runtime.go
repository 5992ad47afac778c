package asyncrt

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
)

// globalRuntime backs Current: the process-wide ambient Runtime pointer
// spec's Runtime::current() falls back to when called from outside any
// worker goroutine. Go has no portable per-goroutine thread-local storage,
// so unlike the reference design's true thread-local-with-fallback, every
// worker goroutine across every live Runtime shares this one slot — the
// last worker to start wins, and when a worker of the Runtime stored here
// exits the slot is cleared, not handed to another Runtime whose workers
// are still running. Code running inside a Pollable.Poll should prefer
// Context.Runtime, which is exact; Current exists for helpers that run
// off a worker goroutine (e.g. a blocking-pool job) with no Context at
// hand.
var globalRuntime atomic.Pointer[Runtime]

// Current returns the ambient Runtime most recently installed by a worker
// goroutine's entry into its loop, or ErrNoRuntime if no worker has
// started yet or a worker of that Runtime has since exited (the slot is
// then empty even if another Runtime's workers are still running).
func Current() (*Runtime, error) {
	rt := globalRuntime.Load()
	if rt == nil {
		return nil, ErrNoRuntime
	}
	return rt, nil
}

// terminateLogRates bounds the worker-panic diagnostic line to at most 5
// per 10 seconds (and 20 per minute): a worker that panics in a tight
// respawn-free loop must not be allowed to flood the configured Logger.
var terminateLogRates = catrate.NewLimiter(map[time.Duration]int{
	10 * time.Second: 5,
	time.Minute:      20,
})

// Runtime owns a fixed pool of worker goroutines sharing one run queue, an
// optional TimeDriver and IoDriver, and an optional BlockingPool. It is the
// Go counterpart of the reference design's Runtime: create/init/shutdown
// collapse into New and SafeShutdown, and the vtable-dispatched
// enqueue/insert/remove operations collapse into plain methods since Go has
// no need for the reference's shared_from_this indirection.
type Runtime struct {
	workers int

	queueMu sync.Mutex
	queueCv *sync.Cond
	queue   *taskQueue
	stopped bool

	state *FastState

	tasksMu sync.Mutex
	tasks   map[*taskCore]struct{}

	timeDriver *TimeDriver
	ioDriver   *IoDriver
	blocking   *BlockingPool

	taskDeadline time.Duration

	logger  Logger
	metrics *Metrics

	terminateMu sync.Mutex
	terminate   func(error)

	wg sync.WaitGroup
}

// New constructs a Runtime per opts and starts its worker pool. Workers
// are spawned as goroutines (not OS threads) per Go's concurrency model;
// the reference design's std::thread-per-worker becomes a plain
// goroutine-per-worker, with scheduling fairness delegated to the Go
// runtime rather than managed explicitly.
func New(opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		workers:   cfg.workers,
		queue:     newTaskQueue(),
		tasks:     make(map[*taskCore]struct{}),
		logger:    cfg.logger,
		terminate: cfg.terminateHandler,
		state:     NewFastState(),
	}
	rt.queueCv = sync.NewCond(&rt.queueMu)

	if rt.logger == nil {
		rt.logger = NewNoOpLogger()
	}
	if cfg.metricsEnabled {
		rt.metrics = &Metrics{}
	}

	// taskDeadline = 5ms * workers^0.9, per the reference design's
	// cooperative-yield slice scaling.
	mult := math.Pow(float64(rt.workers), 0.9)
	rt.taskDeadline = time.Duration(5 * mult * float64(time.Millisecond))

	if cfg.timeDriver {
		rt.timeDriver = NewTimeDriver()
	}
	if cfg.ioDriver {
		iod, err := NewIoDriver()
		if err != nil {
			return nil, fmt.Errorf("asyncrt: starting io driver: %w", err)
		}
		rt.ioDriver = iod
	}
	rt.blocking = NewBlockingPool(cfg.blockingMin, cfg.blockingMax)

	for i := 0; i < rt.workers; i++ {
		rt.wg.Add(1)
		go rt.workerLoopWrapper(i)
	}
	rt.state.TryTransition(StateAwake, StateRunning)

	return rt, nil
}

// State reports the Runtime's lifecycle stage. Intended for diagnostics and
// tests; scheduling decisions never branch on it, since the queueMu-guarded
// stopped flag is the source of truth the worker loops actually wait on.
func (rt *Runtime) State() RuntimeState {
	return rt.state.Load()
}

// SetTerminateHandler installs fn to be called, instead of re-panicking
// the worker goroutine, whenever a task's Poll escapes with a value that
// is not recovered by the Task layer's own guard (this should not happen
// in practice since taskCore.runPollableGuarded recovers every panic, but
// the handler remains as a last-resort safety net matching the reference
// design's uncaught-exception path).
func (rt *Runtime) SetTerminateHandler(fn func(error)) {
	rt.terminateMu.Lock()
	rt.terminate = fn
	rt.terminateMu.Unlock()
}

func (rt *Runtime) invokeTerminateHandler(err error) {
	rt.terminateMu.Lock()
	fn := rt.terminate
	rt.terminateMu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	// No handler installed: this is the fatal path (spec §7, "in its
	// absence, they are re-thrown from the worker thread"). Rate-limit the
	// diagnostic so a crash-looping worker can't flood the sink before the
	// process goes down.
	if _, ok := terminateLogRates.Allow("worker-terminate"); ok {
		rt.logger.Log(LogEntry{Level: LevelError, Category: "worker", Message: "fatal: no terminate handler installed", Err: err})
	}
	panic(err)
}

// enqueue pushes tc onto the shared run queue and wakes one waiting
// worker. Called by taskCore.wake/abort/detach/run while holding a
// scheduling reference on tc.
func (rt *Runtime) enqueue(tc *taskCore) {
	rt.queueMu.Lock()
	rt.queue.push(tc)
	depth := rt.queue.len()
	rt.queueMu.Unlock()
	rt.queueCv.Signal()

	if rt.metrics != nil {
		rt.metrics.Queue.UpdateRunQueue(depth)
	}
}

// registerTask adds tc to the live-task set, consulted by GetTaskStats and
// drained by SafeShutdown.
func (rt *Runtime) registerTask(tc *taskCore) {
	rt.tasksMu.Lock()
	rt.tasks[tc] = struct{}{}
	rt.tasksMu.Unlock()
}

func (rt *Runtime) unregisterTask(tc *taskCore) {
	rt.tasksMu.Lock()
	delete(rt.tasks, tc)
	rt.tasksMu.Unlock()
}

// taskSlice returns the cooperative-yield deadline duration for a single
// scheduling slot.
func (rt *Runtime) taskSlice() time.Duration { return rt.taskDeadline }

// TimeDriver returns the Runtime's TimeDriver, or nil if disabled.
func (rt *Runtime) TimeDriver() *TimeDriver { return rt.timeDriver }

// IoDriver returns the Runtime's IoDriver, or nil if disabled.
func (rt *Runtime) IoDriver() *IoDriver { return rt.ioDriver }

// BlockingPool returns the Runtime's blocking-task worker pool.
func (rt *Runtime) BlockingPool() *BlockingPool { return rt.blocking }

// Logger returns the Runtime's configured diagnostic logger.
func (rt *Runtime) Logger() Logger { return rt.logger }

// Metrics returns the Runtime's metrics collector, or nil if disabled.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// Spawn wraps p as a Task and enqueues it for its first run, returning an
// owning TaskHandle.
func Spawn[T any](rt *Runtime, p Pollable[T]) *TaskHandle[T] {
	return spawnTask(rt, p, "")
}

// SpawnNamed is Spawn with a debug name attached up front.
func SpawnNamed[T any](rt *Runtime, p Pollable[T], name string) *TaskHandle[T] {
	return spawnTask(rt, p, name)
}

// GetTaskStats returns a snapshot of every live task's debug data.
func (rt *Runtime) GetTaskStats() []TaskDebugData {
	rt.tasksMu.Lock()
	out := make([]TaskDebugData, 0, len(rt.tasks))
	cores := make([]*taskCore, 0, len(rt.tasks))
	for tc := range rt.tasks {
		cores = append(cores, tc)
	}
	rt.tasksMu.Unlock()

	for _, tc := range cores {
		s := tc.state.Load()
		out = append(out, TaskDebugData{
			Name:        tc.name,
			Scheduled:   s&taskScheduled != 0,
			Running:     s&taskRunning != 0,
			Completed:   s&taskCompleted != 0,
			Closed:      s&taskClosed != 0,
			HasAwaiter:  s&taskHasAwaiter != 0,
			HasHandle:   s&taskHasHandle != 0,
			RefCount:    s >> taskFlagBits,
			PollCount:   tc.pollCount.Load(),
			SpawnedAt:   tc.spawnedAt,
			StartedAt:   tc.startedAt,
			CompletedAt: tc.completedAt,
		})
	}
	return out
}

func (rt *Runtime) workerLoopWrapper(id int) {
	defer rt.wg.Done()
	globalRuntime.Store(rt)
	defer globalRuntime.CompareAndSwap(rt, nil)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("asyncrt: worker %d terminating on uncaught panic: %v", id, r)
			rt.logger.Log(LogEntry{Level: LevelError, Category: "worker", Message: err.Error(), WorkerID: int64(id)})
			rt.invokeTerminateHandler(err)
		}
	}()
	rt.workerLoop(id)
}

// workerLoop is the Go transliteration of the reference design's
// workerLoop: staggered driver ticks (so N workers don't all hammer the
// same driver on the same tick), a condvar wait bounded by the nearer of
// the next timer/io tick, and one task dequeue+run per wake.
func (rt *Runtime) workerLoop(id int) {
	mult := math.Pow(float64(rt.workers), 0.9)
	timerIncrement := time.Duration(500 * mult * float64(time.Microsecond))
	ioIncrement := time.Duration(800 * mult * float64(time.Microsecond))

	timerOffset := time.Duration(int64(timerIncrement) * int64(id) / int64(rt.workers))
	ioOffset := time.Duration(int64(ioIncrement) * int64(id) / int64(rt.workers))

	start := time.Now()
	nextTimerTask := start.Add(timerOffset)
	nextIoTask := start.Add(ioOffset)
	var timerTick, ioTick int64

	for {
		rt.queueMu.Lock()
		if rt.stopped {
			rt.queueMu.Unlock()
			return
		}
		rt.queueMu.Unlock()

		now := time.Now()
		deadline := now.Add(time.Hour)

		if rt.timeDriver != nil && !now.Before(nextTimerTask) {
			rt.timeDriver.DoWork(now)
			for {
				timerTick++
				nextTimerTask = start.Add(timerOffset).Add(time.Duration(timerTick) * timerIncrement)
				if now.Before(nextTimerTask) {
					break
				}
			}
		}
		if rt.timeDriver != nil && nextTimerTask.Before(deadline) {
			deadline = nextTimerTask
		}

		if rt.ioDriver != nil && !now.Before(nextIoTask) {
			rt.ioDriver.DoWork()
			for {
				ioTick++
				nextIoTask = start.Add(ioOffset).Add(time.Duration(ioTick) * ioIncrement)
				if now.Before(nextIoTask) {
					break
				}
			}
		}
		if rt.ioDriver != nil && nextIoTask.Before(deadline) {
			deadline = nextIoTask
		}

		tc := rt.waitForTask(deadline)
		if tc == nil {
			continue
		}
		if tc == stopSentinel {
			return
		}

		tc.run(rt)
	}
}

// stopSentinel is a marker value returned by waitForTask to signal
// shutdown without a second stop-flag check racing the queue lock.
var stopSentinel = &taskCore{}

// waitForTask blocks on the run-queue condvar until either a task is
// available, the deadline passes (returns nil, to let the worker loop
// re-evaluate its driver ticks), or the Runtime is stopped (returns
// stopSentinel).
func (rt *Runtime) waitForTask(deadline time.Time) *taskCore {
	rt.queueMu.Lock()
	defer rt.queueMu.Unlock()

	wait := time.Until(deadline)
	if wait <= 0 {
		if rt.stopped {
			return stopSentinel
		}
		if tc, ok := rt.queue.pop(); ok {
			return tc
		}
		return nil
	}

	timer := time.AfterFunc(wait, func() { rt.queueCv.Broadcast() })
	defer timer.Stop()

	for !rt.stopped && rt.queue.len() == 0 && time.Now().Before(deadline) {
		rt.queueCv.Wait()
	}

	if rt.stopped {
		return stopSentinel
	}
	if tc, ok := rt.queue.pop(); ok {
		return tc
	}
	return nil
}

// SafeShutdown stops accepting new scheduling, wakes and joins every
// worker, releases the drivers and blocking pool, then aborts and runs
// down every still-live task (so any pending awaiter observes TaskClosed
// rather than hanging forever). It is idempotent.
func (rt *Runtime) SafeShutdown() {
	rt.queueMu.Lock()
	if rt.stopped {
		rt.queueMu.Unlock()
		return
	}
	rt.stopped = true
	rt.queueMu.Unlock()
	rt.state.TryTransition(StateRunning, StateTerminating)
	rt.queueCv.Broadcast()

	rt.wg.Wait()

	if rt.blocking != nil {
		rt.blocking.Close()
	}
	if rt.ioDriver != nil {
		rt.ioDriver.Close()
	}

	rt.tasksMu.Lock()
	cores := make([]*taskCore, 0, len(rt.tasks))
	for tc := range rt.tasks {
		cores = append(cores, tc)
	}
	rt.tasksMu.Unlock()

	for _, tc := range cores {
		tc.abort()
		tc.run(rt)
	}
	rt.state.Store(StateTerminated)
}

// blockOnHandle implements TaskHandle.BlockOn and the package-level BlockOn
// helper: it polls h directly on the calling goroutine using a
// condvarWaker (the Go analogue of the reference design's CondvarWaker),
// blocking until the wrapped task reports Ready.
func blockOnHandle[T any](rt *Runtime, h *TaskHandle[T]) (T, error) {
	cw := newCondvarWaker()
	w := cw.waker()
	cx := NewContext(w, rt)

	for {
		v, ready, err := h.Poll(cx)
		if ready {
			return v, err
		}
		cw.wait()
	}
}

// BlockOn drives p to completion on the calling goroutine without
// spawning a Task, using the same condvarWaker loop as
// TaskHandle.BlockOn. Prefer this over Spawn+BlockOn when the caller
// doesn't need a detachable handle.
func BlockOn[T any](rt *Runtime, p Pollable[T]) (T, error) {
	cw := newCondvarWaker()
	w := cw.waker()
	cx := NewContext(w, rt)

	for {
		v, ready, err := p.Poll(cx)
		if ready {
			return v, err
		}
		cw.wait()
	}
}

// condvarWaker is the Go counterpart of the reference design's
// CondvarWaker: a Waker target backed by a mutex+condvar, used to block a
// plain (non-worker) goroutine until something wakes it.
type condvarWaker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	notified bool
}

func newCondvarWaker() *condvarWaker {
	cw := &condvarWaker{}
	cw.cond = sync.NewCond(&cw.mu)
	return cw
}

var condvarWakerVtable = &WakerVtable{
	Wake:      func(d any) { d.(*condvarWaker).notify() },
	WakeByRef: func(d any) { d.(*condvarWaker).notify() },
	Clone:     func(d any) Waker { return Waker{Data: d, Vtable: condvarWakerVtable} },
	Drop:      func(any) {},
}

func (cw *condvarWaker) waker() Waker {
	return Waker{Data: cw, Vtable: condvarWakerVtable}
}

func (cw *condvarWaker) notify() {
	cw.mu.Lock()
	cw.notified = true
	cw.mu.Unlock()
	cw.cond.Signal()
}

func (cw *condvarWaker) wait() {
	cw.mu.Lock()
	for !cw.notified {
		cw.cond.Wait()
	}
	cw.notified = false
	cw.mu.Unlock()
}
