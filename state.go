package asyncrt

import (
	"sync/atomic"
)

// RuntimeState represents the lifecycle state of a Runtime.
//
// State Machine:
//
//	StateAwake (0) → StateRunning (3)       [New starts the worker pool]
//	StateRunning (3) → StateTerminating (4) [SafeShutdown()]
//	StateTerminating (4) → StateTerminated (1) [all workers joined]
//	StateTerminated (1) → (terminal)
//
// NOTE: numeric values are kept stable since some diagnostics switch on the
// raw value rather than the symbolic constant.
type RuntimeState uint64

const (
	// StateAwake indicates the runtime has been created but New has not started workers yet.
	StateAwake RuntimeState = 0
	// StateTerminated indicates all workers have exited and drivers are released.
	StateTerminated RuntimeState = 1
	// StateSleeping is unused by Runtime itself and by the metrics; the
	// value is kept so the numbering of the other states stays stable.
	StateSleeping RuntimeState = 2
	// StateRunning indicates the worker pool is active.
	StateRunning RuntimeState = 3
	// StateTerminating indicates SafeShutdown has been called but workers have
	// not finished joining.
	StateTerminating RuntimeState = 4
)

// String returns a human-readable representation of the state.
func (s RuntimeState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine with cache-line padding, used for
// the Runtime's lifecycle word. Pure atomic CAS, no mutex; padding prevents
// false sharing against adjacent hot fields (the run-queue mutex, the
// worker wake condvar).
type FastState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte
	v atomic.Uint64
	_ [sizeOfCacheLine - sizeOfAtomicUint64]byte
}

// NewFastState creates a new state machine in the Awake state.
func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

// Load returns the current state atomically.
func (s *FastState) Load() RuntimeState {
	return RuntimeState(s.v.Load())
}

// Store atomically stores a new state, bypassing transition validation.
// Only used for the one-way Terminated transition.
func (s *FastState) Store(state RuntimeState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *FastState) TryTransition(from, to RuntimeState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsTerminal returns true if the current state is Terminated.
func (s *FastState) IsTerminal() bool {
	return s.Load() == StateTerminated
}
