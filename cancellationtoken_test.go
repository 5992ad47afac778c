package asyncrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCancellationToken_CancelWakesWaiter(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tok := NewCancellationToken()
	h := Spawn[struct{}](rt, tok.WaitCancelled())

	time.Sleep(10 * time.Millisecond)
	tok.Cancel("shutdown")

	_, err = h.BlockOn()
	require.NoError(t, err)
	require.True(t, tok.IsCancelled())
	require.Equal(t, "shutdown", tok.Reason())
}

func TestCancellationToken_AlreadyCancelledResolvesImmediately(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	tok := NewCancellationToken()
	tok.Cancel("early")

	_, err = BlockOn[struct{}](rt, tok.WaitCancelled())
	require.NoError(t, err)
}

func TestCancellationToken_SecondCancelKeepsFirstReason(t *testing.T) {
	tok := NewCancellationToken()
	tok.Cancel("first")
	tok.Cancel("second")
	require.Equal(t, "first", tok.Reason())
}

func TestCancelAfter_FiresOnTimer(t *testing.T) {
	td := NewTimeDriver()
	tok := NewCancellationToken()
	CancelAfter(tok, td, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		td.DoWork(time.Now())
		return tok.IsCancelled()
	}, time.Second, time.Millisecond)
}

func TestAnyCancelled_FirstTokenWins(t *testing.T) {
	a := NewCancellationToken()
	b := NewCancellationToken()
	composite := AnyCancelled([]*CancellationToken{a, b})

	require.False(t, composite.IsCancelled())
	b.Cancel("b-reason")
	require.True(t, composite.IsCancelled())
	require.Equal(t, "b-reason", composite.Reason())
}

func TestAnyCancelled_AlreadyCancelledInputShortCircuits(t *testing.T) {
	a := NewCancellationToken()
	a.Cancel("pre-cancelled")
	composite := AnyCancelled([]*CancellationToken{a})
	require.True(t, composite.IsCancelled())
	require.Equal(t, "pre-cancelled", composite.Reason())
}
