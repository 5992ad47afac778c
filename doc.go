// Package asyncrt provides a poll-based asynchronous task runtime: a small
// cooperative scheduler built around a future abstraction ([Pollable]), a
// waker/context protocol, a lock-free task state machine, a
// multi-worker [Runtime] with a shared run queue, time and I/O reactors
// ([TimeDriver], [IoDriver]), a [BlockingPool] for offloading synchronous
// work, and a set of synchronization primitives built atop the core
// (MPSC/oneshot channels, [Semaphore], [Mutex], [Notify],
// [CancellationToken]).
//
// # Architecture
//
// A [Runtime] owns a fixed pool of worker goroutines sharing one run queue.
// [Spawn] wraps a [Pollable] as a task and enqueues it; a worker
// dequeues the task, installs a [Waker] bound to it in a [Context], and
// drives [Pollable.Poll] to a suspension point. On suspension some
// subsystem (the time driver, the I/O driver, a channel, another task)
// retains a clone of the waker; when that subsystem's event fires it calls
// the waker, re-enqueueing the task. On completion the task records its
// output and wakes its awaiter.
//
// # Platform support
//
// [IoDriver] registration is backed by platform-native readiness
// multiplexers:
//   - Linux: epoll
//   - Darwin/BSD: kqueue
//   - Windows: IOCP (completion-based; the driver treats it uniformly
//     through the same Registration protocol as the readiness-based
//     drivers)
//
// # Thread safety
//
// [Spawn], [SpawnBlocking], and calls into any sync
// primitive are safe from any goroutine. A task's state word is a single
// atomic; a task is owned by exactly one worker at a time (the one that
// holds its Running flag). The run queue is a single mutex+condvar FIFO;
// there is no work stealing.
//
// Inside a [Pollable.Poll], [Context.Runtime] names the exact Runtime a
// task is running under. Code with no Context at hand (a blocking-pool job,
// say) can instead call [Current], an ambient pointer any worker installs
// on entering its loop; it returns [ErrNoRuntime] if no worker has started
// yet, or once a worker of the Runtime it last recorded has exited.
//
// # Usage
//
//	rt, err := asyncrt.New(asyncrt.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.SafeShutdown()
//
//	out, err := asyncrt.BlockOn(rt, asyncrt.PollFunc[int](func(cx *asyncrt.Context) (int, bool, error) {
//	    return 42, true, nil
//	}))
//
// # Error types
//
// The package provides the taxonomy described by the runtime's error
// design: [PanicError] (captured panics from a pollable's Poll),
// [ErrTaskClosed], [ErrTimedOut], [ErrChannelClosed], [ErrChannelFull],
// [ErrChannelEmpty], [IoError], and [ErrNoRuntime]. All satisfy the
// standard [error] interface and participate in [errors.Is]/[errors.As].
package asyncrt
