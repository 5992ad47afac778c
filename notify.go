package asyncrt

// Notify is a multi-waiter wakeup signal with no stored permit: NotifyOne
// wakes at most one currently-registered waiter, NotifyAll wakes every
// currently-registered waiter, and a notification sent before anyone is
// waiting is simply lost (unlike Semaphore, which accumulates permits).
// Grounded on original_source's arc::Notify/Notified pair, built the same
// way CancellationToken is here: directly on the shared [waitList].
type Notify struct {
	waiters waitList[Waker]
}

// NewNotify returns an empty Notify.
func NewNotify() *Notify {
	return &Notify{}
}

// NotifyOne wakes the single longest-waiting registered waiter, if any.
func (n *Notify) NotifyOne() {
	if w, ok := n.waiters.TakeFirst(); ok {
		w.Wake()
	}
}

// NotifyAll wakes every currently registered waiter.
func (n *Notify) NotifyAll() {
	for _, w := range n.waiters.TakeAll() {
		w.Wake()
	}
}

// Notified returns a fresh, single-use Pollable that suspends until the
// next NotifyOne/NotifyAll call made after it registers. Each call to
// Notified produces an independent waiter; a reused Notify is meant to be
// polled via a new Notified() per waiter, not by recycling one Pollable.
func (n *Notify) Notified() Pollable[struct{}] {
	return &notifiedPollable{notify: n}
}

type notifiedPollable struct {
	notify     *Notify
	registered bool
}

func (p *notifiedPollable) Poll(cx *Context) (struct{}, bool, error) {
	if !p.registered {
		p.registered = true
		p.notify.waiters.Add(cx.CloneWaker())
		return struct{}{}, false, nil
	}
	return struct{}{}, true, nil
}
