package asyncrt

import "sync"

// mpscShared is grounded on original_source's chan::MpscStorage<T>: a
// deque of buffered values, a FIFO of send-side waiters parked on a full
// bounded channel, and at most one registered receive-side waker (only
// one receiver may exist per channel, matching the Multi-Producer
// Single-Consumer name).
type mpscShared[T any] struct {
	mu       sync.Mutex
	queue    []T
	capacity int // 0 means rendezvous, <0 means unbounded
	closed   bool

	sendWaiters []Waker
	recvWaiter  Waker
}

func (s *mpscShared[T]) hasCapacityLocked() bool {
	if !s.recvWaiter.IsZero() {
		return true
	}
	if s.capacity < 0 {
		return true
	}
	return len(s.queue) < s.capacity
}

// MpscSender is one producer handle onto an MPSC channel. Any number of
// senders (via Clone) may share one channel.
type MpscSender[T any] struct {
	data *mpscShared[T]
}

// MpscReceiver is the single consumer handle onto an MPSC channel.
type MpscReceiver[T any] struct {
	data *mpscShared[T]
}

// NewMpsc constructs an MPSC channel. capacity < 0 means unbounded;
// capacity == 0 means rendezvous (a send only succeeds once a receiver is
// actively waiting); capacity > 0 bounds the buffered backlog to that
// many values.
func NewMpsc[T any](capacity int) (MpscSender[T], MpscReceiver[T]) {
	d := &mpscShared[T]{capacity: capacity}
	return MpscSender[T]{data: d}, MpscReceiver[T]{data: d}
}

// Clone returns an additional sender sharing the same channel.
func (s MpscSender[T]) Clone() MpscSender[T] { return s }

// TrySend attempts to enqueue value without suspending. Returns
// ErrChannelClosed if the receiver has been dropped, ErrChannelFull if the
// channel is at capacity (or is a rendezvous channel with no waiting
// receiver) and cannot accept more.
func (s MpscSender[T]) TrySend(value T) error {
	d := s.data
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrChannelClosed
	}
	if !d.recvWaiter.IsZero() {
		w := d.recvWaiter
		d.recvWaiter = Waker{}
		d.queue = append(d.queue, value)
		d.mu.Unlock()
		w.Wake()
		return nil
	}
	if d.capacity >= 0 && len(d.queue) >= d.capacity {
		d.mu.Unlock()
		return ErrChannelFull
	}
	d.queue = append(d.queue, value)
	d.mu.Unlock()
	return nil
}

// Send returns a Pollable that resolves once value has been accepted into
// the channel (buffered, or delivered directly to a waiting receiver), or
// fails with ErrChannelClosed if the receiver is gone.
func (s MpscSender[T]) Send(value T) Pollable[struct{}] {
	return &mpscSendPollable[T]{data: s.data, value: value}
}

type mpscSendPollable[T any] struct {
	data       *mpscShared[T]
	value      T
	registered bool
}

func (p *mpscSendPollable[T]) Poll(cx *Context) (struct{}, bool, error) {
	d := p.data
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return struct{}{}, true, ErrChannelClosed
	}
	if d.hasCapacityLocked() {
		if !d.recvWaiter.IsZero() {
			w := d.recvWaiter
			d.recvWaiter = Waker{}
			d.queue = append(d.queue, p.value)
			d.mu.Unlock()
			w.Wake()
			return struct{}{}, true, nil
		}
		d.queue = append(d.queue, p.value)
		d.mu.Unlock()
		return struct{}{}, true, nil
	}
	if !p.registered {
		p.registered = true
		d.sendWaiters = append(d.sendWaiters, cx.CloneWaker())
	}
	d.mu.Unlock()
	return struct{}{}, false, nil
}

// Close marks the channel closed from the sender side; closing any one
// sender closes the channel for every sender. Any pending receiver is
// woken to observe ErrChannelClosed once the buffered backlog has drained.
func (s MpscSender[T]) Close() {
	d := s.data
	d.mu.Lock()
	d.closed = true
	w := d.recvWaiter
	d.recvWaiter = Waker{}
	d.mu.Unlock()
	if !w.IsZero() {
		w.Wake()
	}
}

// TryRecv dequeues a buffered value without suspending. Returns
// ErrChannelEmpty if nothing is buffered and the channel is still open,
// or ErrChannelClosed once the backlog has fully drained after Close.
func (r MpscReceiver[T]) TryRecv() (T, error) {
	d := r.data
	d.mu.Lock()
	defer d.mu.Unlock()
	return mpscPopLocked(d)
}

func mpscPopLocked[T any](d *mpscShared[T]) (T, error) {
	if len(d.queue) > 0 {
		v := d.queue[0]
		d.queue = d.queue[1:]
		if len(d.sendWaiters) > 0 && d.hasCapacityLocked() {
			w := d.sendWaiters[0]
			d.sendWaiters = d.sendWaiters[1:]
			w.WakeByRef()
			w.Drop()
		}
		return v, nil
	}
	var zero T
	if d.closed {
		return zero, ErrChannelClosed
	}
	return zero, ErrChannelEmpty
}

// Recv returns a Pollable that resolves to the next value in FIFO order,
// or to ErrChannelClosed once the channel is closed and fully drained
// (spec requires drain-before-close-observed ordering).
func (r MpscReceiver[T]) Recv() Pollable[T] {
	return &mpscRecvPollable[T]{data: r.data}
}

type mpscRecvPollable[T any] struct {
	data       *mpscShared[T]
	registered bool
}

func (p *mpscRecvPollable[T]) Poll(cx *Context) (T, bool, error) {
	d := p.data
	d.mu.Lock()
	v, err := mpscPopLocked(d)
	if err == nil {
		d.mu.Unlock()
		return v, true, nil
	}
	if err == ErrChannelClosed {
		d.mu.Unlock()
		return v, true, err
	}
	if !p.registered {
		p.registered = true
		d.recvWaiter = cx.CloneWaker()
	}
	d.mu.Unlock()
	return v, false, nil
}

// Drain returns every currently buffered value without suspending, in
// FIFO order, waking any send waiters that capacity now admits.
func (r MpscReceiver[T]) Drain() []T {
	d := r.data
	d.mu.Lock()
	out := d.queue
	d.queue = nil
	var towake []Waker
	if d.hasCapacityLocked() {
		towake = d.sendWaiters
		d.sendWaiters = nil
	}
	d.mu.Unlock()
	for _, w := range towake {
		w.WakeByRef()
		w.Drop()
	}
	return out
}

// Close marks the channel closed from the receiver side. Outstanding
// senders observe ErrChannelClosed on their next Send/TrySend.
func (r MpscReceiver[T]) Close() {
	d := r.data
	d.mu.Lock()
	d.closed = true
	waiters := d.sendWaiters
	d.sendWaiters = nil
	d.mu.Unlock()
	for _, w := range waiters {
		w.WakeByRef()
		w.Drop()
	}
}
