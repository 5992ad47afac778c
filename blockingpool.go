package asyncrt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-microbatch"
)

// blockingIdleTimeout is how long an above-minimum blocking worker waits for
// a job before self-terminating, per original_source's Runtime.cpp
// blockingWorkerLoop.
const blockingIdleTimeout = 30 * time.Second

// blockingJob is the Go counterpart of original_source's BlockingTask<T>:
// execute runs the caller's closure exactly once and stashes its (typed,
// type-erased here) result via whatever the caller closed over; poll
// installs/replaces the pending awaiter under a spinlock-equivalent mutex
// (the original uses asp::SpinLock, a busy-wait lock; an uncontended
// sync.Mutex is the idiomatic Go substitute since this critical section is
// a handful of instructions).
type blockingJob struct {
	execute func()

	mu        sync.Mutex
	completed bool
	awaiter   Waker
}

func (j *blockingJob) run() {
	defer func() {
		j.mu.Lock()
		j.completed = true
		w := j.awaiter
		j.awaiter = Waker{}
		j.mu.Unlock()
		if !w.IsZero() {
			w.Wake()
		}
	}()
	j.execute()
}

// poll installs cx's waker as the job's awaiter if not yet completed, and
// reports whether the job has finished.
func (j *blockingJob) poll(cx *Context) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.completed {
		return true
	}
	if !j.awaiter.IsZero() {
		j.awaiter.Drop()
	}
	j.awaiter = cx.CloneWaker()
	return false
}

// BlockingPool is a dynamically sized worker pool for offloading
// synchronous work that would otherwise block a scheduler worker (file
// I/O, DNS lookups, CPU-bound computation). Grounded on
// original_source's Runtime::blockingWorkerLoop/ensureBlockingWorker/
// spawnBlockingWorker: alive count grows up to max as queue backlog
// demands, and workers above min self-terminate after 30s of inactivity.
//
// Submission is funneled through a microbatch.Batcher so that a burst of
// SpawnBlocking calls coalesces into fewer run-queue lock acquisitions
// and fewer condvar signals than one-at-a-time submission would need.
type BlockingPool struct {
	min, max int64

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*blockingJob
	closed bool

	alive atomic.Int64
	busy  atomic.Int64
	next  atomic.Int64

	wg sync.WaitGroup

	batcher *microbatch.Batcher[*blockingJob]
}

// NewBlockingPool constructs a BlockingPool bounded to [min, max] live
// workers, starting with min already running.
func NewBlockingPool(min, max int) *BlockingPool {
	bp := &BlockingPool{min: int64(min), max: int64(max)}
	bp.cond = sync.NewCond(&bp.mu)

	bp.batcher = microbatch.NewBatcher[*blockingJob](&microbatch.BatcherConfig{
		MaxSize:        32,
		FlushInterval:  time.Millisecond,
		MaxConcurrency: 4,
	}, bp.submitBatch)

	for i := int64(0); i < bp.min; i++ {
		bp.spawnWorker()
	}

	return bp
}

// submitBatch is the microbatch.BatchProcessor that drains a coalesced
// batch of jobs into the shared queue in one critical section, then
// ensures enough workers are alive and wakes them.
func (bp *BlockingPool) submitBatch(_ context.Context, jobs []*blockingJob) error {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		for _, j := range jobs {
			j.run()
		}
		return nil
	}
	bp.queue = append(bp.queue, jobs...)
	bp.mu.Unlock()

	bp.ensureWorkers(int64(len(jobs)))
	for range jobs {
		bp.cond.Signal()
	}
	return nil
}

// Submit enqueues job for execution by a blocking worker.
func (bp *BlockingPool) Submit(job *blockingJob) {
	_, _ = bp.batcher.Submit(context.Background(), job)
}

// ensureWorkers spawns workers while the busy workers plus the newly
// queued jobs outnumber the alive workers, up to max.
func (bp *BlockingPool) ensureWorkers(queued int64) {
	for {
		alive := bp.alive.Load()
		if alive >= bp.max || bp.busy.Load()+queued <= alive {
			return
		}
		bp.spawnWorker()
	}
}

func (bp *BlockingPool) spawnWorker() {
	n := bp.alive.Add(1)
	if n > bp.max {
		bp.alive.Add(-1)
		return
	}
	id := bp.next.Add(1)
	bp.wg.Add(1)
	go bp.workerLoop(id)
}

func (bp *BlockingPool) workerLoop(id int64) {
	defer bp.wg.Done()

	terminateAt := time.Now().Add(blockingIdleTimeout)
	for {
		now := time.Now()
		if !now.Before(terminateAt) {
			alive := bp.alive.Load()
			stopped := false
			for alive > bp.min {
				if bp.alive.CompareAndSwap(alive, alive-1) {
					stopped = true
					break
				}
				alive = bp.alive.Load()
			}
			if stopped {
				return
			}
		}

		job := bp.waitForJob(terminateAt)
		if job == stopBlockingSentinel {
			bp.alive.Add(-1)
			return
		}
		if job == nil {
			terminateAt = time.Now().Add(blockingIdleTimeout)
			continue
		}

		bp.busy.Add(1)
		job.run()
		bp.busy.Add(-1)

		terminateAt = time.Now().Add(blockingIdleTimeout)
	}
}

var stopBlockingSentinel = &blockingJob{}

func (bp *BlockingPool) waitForJob(deadline time.Time) *blockingJob {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	wait := time.Until(deadline)
	if wait <= 0 {
		return bp.popLocked()
	}

	timer := time.AfterFunc(wait, func() { bp.cond.Broadcast() })
	defer timer.Stop()

	for !bp.closed && len(bp.queue) == 0 && time.Now().Before(deadline) {
		bp.cond.Wait()
	}

	return bp.popLocked()
}

// popLocked must be called with bp.mu held.
func (bp *BlockingPool) popLocked() *blockingJob {
	if bp.closed && len(bp.queue) == 0 {
		return stopBlockingSentinel
	}
	if len(bp.queue) == 0 {
		return nil
	}
	j := bp.queue[0]
	bp.queue = bp.queue[1:]
	return j
}

// Close stops accepting new work, wakes every worker so they observe the
// closed flag, and waits for them to exit. Already-queued jobs still run
// to completion first.
func (bp *BlockingPool) Close() {
	_ = bp.batcher.Close()

	bp.mu.Lock()
	bp.closed = true
	bp.mu.Unlock()
	bp.cond.Broadcast()

	bp.wg.Wait()
}

// AliveWorkers returns the current live worker count, for diagnostics.
func (bp *BlockingPool) AliveWorkers() int { return int(bp.alive.Load()) }

// SpawnBlocking offloads fn to the Runtime's BlockingPool, returning a
// Pollable that completes once fn returns (or panics, captured as a
// PanicError per the task panic-capture convention).
func SpawnBlocking[T any](rt *Runtime, fn func() (T, error)) *TaskHandle[T] {
	var out T
	var outErr error

	j := &blockingJob{}
	j.execute = func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				out = zero
				outErr = &PanicError{Value: r}
			}
		}()
		out, outErr = fn()
	}

	rt.blocking.Submit(j)

	p := PollFunc[T](func(cx *Context) (T, bool, error) {
		if j.poll(cx) {
			return out, true, outErr
		}
		var zero T
		return zero, false, nil
	})

	return Spawn[T](rt, p)
}
