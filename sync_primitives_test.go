package asyncrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotify_OneWakesSingleWaiter(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	n := NewNotify()
	h1 := Spawn[struct{}](rt, n.Notified())
	h2 := Spawn[struct{}](rt, n.Notified())

	require.Eventually(t, func() bool { return n.waiters.Len() == 2 }, time.Second, time.Millisecond)

	n.NotifyOne()
	_, err = h1.BlockOn()
	require.NoError(t, err)

	h2.Abort()
	_, err = h2.BlockOn()
	require.ErrorIs(t, err, ErrTaskClosed)
}

func TestNotify_AllWakesEveryWaiter(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	n := NewNotify()
	h1 := Spawn[struct{}](rt, n.Notified())
	h2 := Spawn[struct{}](rt, n.Notified())

	require.Eventually(t, func() bool { return n.waiters.Len() == 2 }, time.Second, time.Millisecond)

	n.NotifyAll()
	_, err = h1.BlockOn()
	require.NoError(t, err)
	_, err = h2.BlockOn()
	require.NoError(t, err)
}

func TestSemaphore_TryAcquireRespectsPermits(t *testing.T) {
	s := NewSemaphore(1)
	require.True(t, s.TryAcquire(1))
	require.False(t, s.TryAcquire(1))
	s.ReleaseOne()
	require.True(t, s.TryAcquire(1))
}

func TestSemaphore_TryAcquireMultiPermit(t *testing.T) {
	s := NewSemaphore(3)
	require.False(t, s.TryAcquire(4))
	require.True(t, s.TryAcquire(3))
	require.False(t, s.TryAcquire(1))
	s.Release(2)
	require.True(t, s.TryAcquire(2))
}

func TestSemaphore_AcquireSuspendsUntilRelease(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	s := NewSemaphore(0)
	h := Spawn[struct{}](rt, s.Acquire(1))

	time.Sleep(10 * time.Millisecond)
	s.ReleaseOne()

	_, err = h.BlockOn()
	require.NoError(t, err)
}

func TestSemaphore_AcquireMultiPermitWaitsForEnough(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	s := NewSemaphore(1)
	h := Spawn[struct{}](rt, s.Acquire(3))

	time.Sleep(10 * time.Millisecond)
	s.Release(1)
	time.Sleep(10 * time.Millisecond)
	require.False(t, h.GetDebugData().Completed)

	s.Release(1)
	_, err = h.BlockOn()
	require.NoError(t, err)
}

func TestSemaphore_AcquireBlockingWaitsForPermits(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	s := NewSemaphore(0)
	done := make(chan error, 1)
	h := SpawnBlocking[struct{}](rt, func() (struct{}, error) {
		return struct{}{}, s.AcquireBlocking(2)
	})
	go func() { _, err := h.BlockOn(); done <- err }()

	time.Sleep(10 * time.Millisecond)
	s.Release(1)
	time.Sleep(10 * time.Millisecond)
	s.Release(1)

	require.NoError(t, <-done)
}

func TestSemaphore_AcquireBlockingRejectsNonPositive(t *testing.T) {
	s := NewSemaphore(1)
	require.Error(t, s.AcquireBlocking(0))
	require.Error(t, s.AcquireBlocking(-1))
}

func TestMutex_LockUnlockRoundTrip(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	m := NewMutex(0)

	g1, err := BlockOn[Guard[int]](rt, m.Lock())
	require.NoError(t, err)
	*g1.Value() = 1
	g1.Unlock()

	g2, err := BlockOn[Guard[int]](rt, m.Lock())
	require.NoError(t, err)
	require.Equal(t, 1, *g2.Value())
	g2.Unlock()
}

func TestMutex_TryLockFailsWhileHeld(t *testing.T) {
	m := NewMutex(struct{}{})
	g, ok := m.TryLock()
	require.True(t, ok)
	_, ok = m.TryLock()
	require.False(t, ok)
	g.Unlock()
	_, ok = m.TryLock()
	require.True(t, ok)
}

func TestMutex_BlockingLockWaitsForRelease(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	m := NewMutex(0)
	g0, err := BlockOn[Guard[int]](rt, m.Lock())
	require.NoError(t, err)
	*g0.Value() = 7

	done := make(chan error, 1)
	h := SpawnBlocking[int](rt, func() (int, error) {
		g, err := m.BlockingLock()
		if err != nil {
			return 0, err
		}
		defer g.Unlock()
		return *g.Value(), nil
	})
	go func() { _, err := h.BlockOn(); done <- err }()

	time.Sleep(10 * time.Millisecond)
	g0.Unlock()

	require.NoError(t, <-done)
}

func TestOneshot_SendThenRecv(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tx, rx := Oneshot[int]()
	require.NoError(t, tx.Send(5))

	v, err := BlockOn[int](rt, rx.Recv())
	require.NoError(t, err)
	require.Equal(t, 5, v)
}

func TestOneshot_RecvBeforeSend(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tx, rx := Oneshot[string]()
	h := Spawn[string](rt, rx.Recv())

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tx.Send("hello"))

	v, err := h.BlockOn()
	require.NoError(t, err)
	require.Equal(t, "hello", v)
}

func TestOneshot_DoubleSendFails(t *testing.T) {
	tx, _ := Oneshot[int]()
	require.NoError(t, tx.Send(1))
	require.ErrorIs(t, tx.Send(2), ErrChannelClosed)
}

func TestOneshot_CloseWakesReceiver(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tx, rx := Oneshot[int]()
	h := Spawn[int](rt, rx.Recv())

	time.Sleep(10 * time.Millisecond)
	tx.Close()

	_, err = h.BlockOn()
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestMpsc_BoundedTrySend(t *testing.T) {
	tx, rx := NewMpsc[int](3)

	require.NoError(t, tx.TrySend(1))
	require.NoError(t, tx.TrySend(2))
	require.NoError(t, tx.TrySend(3))
	require.ErrorIs(t, tx.TrySend(4), ErrChannelFull)

	v, err := rx.TryRecv()
	require.NoError(t, err)
	require.Equal(t, 1, v)

	require.NoError(t, tx.TrySend(4))
}

func TestMpsc_ReceiverDropClosesSenders(t *testing.T) {
	tx, rx := NewMpsc[int](1)
	rx.Close()
	require.ErrorIs(t, tx.TrySend(1), ErrChannelClosed)
}

func TestMpsc_RecvFIFOOrder(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tx, rx := NewMpsc[int](-1)
	require.NoError(t, tx.TrySend(1))
	require.NoError(t, tx.TrySend(2))

	v1, err := BlockOn[int](rt, rx.Recv())
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	v2, err := BlockOn[int](rt, rx.Recv())
	require.NoError(t, err)
	require.Equal(t, 2, v2)
}

func TestMpsc_RendezvousRequiresWaitingReceiver(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tx, rx := NewMpsc[int](0)
	require.ErrorIs(t, tx.TrySend(1), ErrChannelFull)

	recvDone := make(chan struct{})
	go func() {
		v, err := BlockOn[int](rt, rx.Recv())
		require.NoError(t, err)
		require.Equal(t, 9, v)
		close(recvDone)
	}()

	require.Eventually(t, func() bool { return tx.TrySend(9) == nil }, time.Second, time.Millisecond)
	<-recvDone
}

func TestMpsc_DrainReturnsBufferedValues(t *testing.T) {
	tx, rx := NewMpsc[int](-1)
	require.NoError(t, tx.TrySend(1))
	require.NoError(t, tx.TrySend(2))
	require.Equal(t, []int{1, 2}, rx.Drain())
	require.Equal(t, []int{}, rx.Drain()[:0])
}
