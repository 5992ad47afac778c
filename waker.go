package asyncrt

// WakerVtable is the set of operations a Waker implementation must supply.
// It mirrors a classic vtable dispatch (data pointer + function table)
// rather than relying on a Go interface, matching the explicit-vtable shape
// of the pollable/task/driver object model this runtime is built from: a
// Waker is morally a cheap, thread-safe, reference-counted pointer-plus-
// vtable, and an explicit struct of function pointers keeps clone/drop
// bookkeeping in the caller's hands rather than behind an interface's
// hidden allocation.
type WakerVtable struct {
	// Wake consumes the waker, signaling exactly once, then releases any
	// reference the waker held.
	Wake func(data any)
	// WakeByRef signals without consuming; the caller retains ownership and
	// may call it again.
	WakeByRef func(data any)
	// Clone increments any backing refcount and returns an independent
	// waker referencing the same target.
	Clone func(data any) Waker
	// Drop decrements any backing refcount without signaling.
	Drop func(data any)
}

// Waker is an opaque, cheaply clonable handle that, when signaled, causes
// the owning task to be re-enqueued on its runtime. Two wakers are equal
// iff both their Data and Vtable fields match (by identity for Vtable,
// since a single package-level vtable value is shared by every waker of a
// given kind).
type Waker struct {
	Data   any
	Vtable *WakerVtable
}

// Equal reports whether two wakers refer to the same underlying target.
// Comparison is bit-for-bit on the two fields: the same vtable pointer and
// a Data value that compares == (valid because Data is always either a
// pointer or a small comparable struct of pointers in this codebase).
func (w Waker) Equal(other Waker) bool {
	return w.Vtable == other.Vtable && w.Data == other.Data
}

// IsZero reports whether w is the zero Waker (no vtable installed).
func (w Waker) IsZero() bool {
	return w.Vtable == nil
}

// Wake consumes w, signaling its target exactly once.
func (w Waker) Wake() {
	if w.Vtable == nil {
		return
	}
	w.Vtable.Wake(w.Data)
}

// WakeByRef signals w's target without consuming w.
func (w Waker) WakeByRef() {
	if w.Vtable == nil {
		return
	}
	w.Vtable.WakeByRef(w.Data)
}

// Clone returns an independent Waker referring to the same target.
func (w Waker) Clone() Waker {
	if w.Vtable == nil {
		return Waker{}
	}
	return w.Vtable.Clone(w.Data)
}

// Drop releases w without signaling. Callers that registered a clone with
// some resource and later decide not to wait must call Drop to balance the
// Clone that produced it, per the clone/drop balance invariant.
func (w Waker) Drop() {
	if w.Vtable == nil {
		return
	}
	w.Vtable.Drop(w.Data)
}

var noopVtable = &WakerVtable{
	Wake:      func(any) {},
	WakeByRef: func(any) {},
	Clone:     func(any) Waker { return NoopWaker() },
	Drop:      func(any) {},
}

// NoopWaker returns a Waker whose operations are all no-ops. It is cheap to
// construct and safe to hold onto indefinitely; useful as a placeholder
// Context when driving a Pollable outside of a Runtime (e.g. in tests).
func NoopWaker() Waker {
	return Waker{Vtable: noopVtable}
}
