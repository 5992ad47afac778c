package asyncrt

import "sync"

// oneshotShared is the state shared by a OneshotSender/OneshotReceiver
// pair, grounded directly on original_source's oneshot::Shared<T>: a
// single optional value slot plus an optional registered receiver waker,
// guarded by a plain mutex (the original uses a spinlock; the critical
// section here is equally small so the substitution follows the same
// reasoning as blockingJob's).
type oneshotShared[T any] struct {
	mu       sync.Mutex
	value    *T
	err      error
	has      bool
	closed   bool
	receiver Waker
}

// OneshotSender is the send half of a single-value, single-use channel.
// Send must be called at most once.
type OneshotSender[T any] struct {
	data *oneshotShared[T]
}

// OneshotReceiver is the receive half of a single-value, single-use
// channel.
type OneshotReceiver[T any] struct {
	data *oneshotShared[T]
}

// Oneshot creates a new one-value channel, returning its sender and
// receiver halves. Does not require a Runtime.
func Oneshot[T any]() (OneshotSender[T], OneshotReceiver[T]) {
	d := &oneshotShared[T]{}
	return OneshotSender[T]{data: d}, OneshotReceiver[T]{data: d}
}

// Send delivers value to the receiver, waking it if it is already
// waiting. Calling Send more than once, or after Close, reports
// ErrChannelClosed.
func (s OneshotSender[T]) Send(value T) error {
	d := s.data
	d.mu.Lock()
	if d.closed || d.has {
		d.mu.Unlock()
		return ErrChannelClosed
	}
	d.value = &value
	d.has = true
	d.closed = true
	w := d.receiver
	d.receiver = Waker{}
	d.mu.Unlock()
	if !w.IsZero() {
		w.Wake()
	}
	return nil
}

// Recv returns a Pollable that resolves to the sent value, or to
// ErrChannelClosed if the sender is dropped (garbage collected) without
// ever sending — detected only by the caller explicitly calling Close on
// the sender side, since Go has no destructor to observe implicitly.
func (r OneshotReceiver[T]) Recv() Pollable[T] {
	return &oneshotRecvPollable[T]{data: r.data}
}

type oneshotRecvPollable[T any] struct {
	data       *oneshotShared[T]
	registered bool
}

func (p *oneshotRecvPollable[T]) Poll(cx *Context) (T, bool, error) {
	d := p.data
	d.mu.Lock()
	if d.has {
		v := *d.value
		d.has = false
		d.value = nil
		d.mu.Unlock()
		return v, true, nil
	}
	if d.closed {
		d.mu.Unlock()
		var zero T
		return zero, true, ErrChannelClosed
	}
	if !p.registered {
		p.registered = true
		d.receiver = cx.CloneWaker()
	}
	d.mu.Unlock()
	var zero T
	return zero, false, nil
}

// TryRecv returns the sent value if available without suspending.
func (r OneshotReceiver[T]) TryRecv() (T, error) {
	d := r.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.has {
		v := *d.value
		d.has = false
		d.value = nil
		return v, nil
	}
	if d.closed {
		var zero T
		return zero, ErrChannelClosed
	}
	var zero T
	return zero, ErrChannelEmpty
}

// Close marks the channel closed from the sender side, waking a pending
// receiver with ErrChannelClosed. Callers that construct a sender and
// decide never to send should call this explicitly, since Go has no
// destructor to do it for them.
func (s OneshotSender[T]) Close() {
	d := s.data
	d.mu.Lock()
	if d.closed || d.has {
		d.mu.Unlock()
		return
	}
	d.closed = true
	w := d.receiver
	d.receiver = Waker{}
	d.mu.Unlock()
	if !w.IsZero() {
		w.Wake()
	}
}
