// Package asyncrt provides the runtime's error taxonomy: PollablePanic,
// TaskClosed, TimedOut, the channel outcomes, IoError, and NoRuntime.
package asyncrt

import (
	"errors"
	"fmt"
)

// PanicError wraps a panic value recovered from inside a Pollable's Poll
// method (the PollablePanic taxonomy entry). It carries a snapshot of the
// future-stack captured by the Context at the moment of the panic, for
// diagnostics.
type PanicError struct {
	Value       any
	FutureStack []string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("asyncrt: panic in pollable: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is itself an
// error, enabling [errors.Is]/[errors.As] to see through to it.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Sentinel errors for the taxonomy members that are values rather than
// structured types. Use [errors.Is] to test for them; a concrete IoError
// additionally carries the failing fd/op/syscall error.
var (
	// ErrTaskClosed is observed when polling a TaskHandle against a task
	// that was aborted, or detached and then completed with its output
	// discarded.
	ErrTaskClosed = errors.New("asyncrt: task closed")

	// ErrTimedOut is produced only by Timeout; it is a value, not a panic.
	ErrTimedOut = errors.New("asyncrt: timed out")

	// ErrChannelClosed is returned by channel operations performed against
	// a channel whose sender has closed (for MPSC, Close on any one sender
	// closes the channel for all of them), or whose receiver has dropped.
	ErrChannelClosed = errors.New("asyncrt: channel closed")

	// ErrChannelFull is returned by TrySend against a bounded channel at
	// capacity.
	ErrChannelFull = errors.New("asyncrt: channel full")

	// ErrChannelEmpty is returned by TryRecv against a channel with no
	// buffered value and no pending sender.
	ErrChannelEmpty = errors.New("asyncrt: channel empty")

	// ErrNoRuntime is returned by Current when no worker has started yet,
	// or when a worker of the Runtime it last recorded has exited.
	ErrNoRuntime = errors.New("asyncrt: no runtime installed")
)

// IoError is the OS-level readiness/completion error surfaced to I/O
// callers. The core itself never retries except for the documented
// EWOULDBLOCK → clear-readiness → re-poll loop; persistent errors are
// returned to the caller as an IoError.
type IoError struct {
	Op  string
	FD  int
	Err error
}

// Error implements the error interface.
func (e *IoError) Error() string {
	return fmt.Sprintf("asyncrt: io %s fd=%d: %v", e.Op, e.FD, e.Err)
}

// Unwrap exposes the underlying syscall error.
func (e *IoError) Unwrap() error { return e.Err }

// WrapError wraps an error with a message and cause chain, satisfying
// errors.Is(result, cause).
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
