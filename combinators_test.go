package asyncrt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJoinAll_AllReady(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	j := JoinAll[int](Ready(1), Ready(2), Ready(3))
	out, err := BlockOn[[]int](rt, j)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, out)
}

func TestJoinAll_PropagatesFirstError(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	wantErr := errors.New("boom")
	j := JoinAll[int](Ready(1), ReadyErr[int](wantErr), Ready(3))
	out, err := BlockOn[[]int](rt, j)
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, []int{1, 0, 3}, out)
}

func TestSelect_FirstReadyWins(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	sel := Select[int, string](
		SelectBranch[int, string]{Future: Never[int](), Enabled: true, Callback: func(int, error) Pollable[string] {
			return Ready("never-branch")
		}},
		SelectBranch[int, string]{Future: Ready(5), Enabled: true, Callback: func(v int, err error) Pollable[string] {
			return Ready("ready-branch")
		}},
	)
	out, err := BlockOn[string](rt, sel)
	require.NoError(t, err)
	require.Equal(t, "ready-branch", out)
}

func TestSelect_TiesBrokenByDeclarationOrder(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	sel := Select[int, int](
		SelectBranch[int, int]{Future: Ready(1), Enabled: true, Callback: func(v int, _ error) Pollable[int] { return Ready(v) }},
		SelectBranch[int, int]{Future: Ready(2), Enabled: true, Callback: func(v int, _ error) Pollable[int] { return Ready(v) }},
	)
	out, err := BlockOn[int](rt, sel)
	require.NoError(t, err)
	require.Equal(t, 1, out)
}

func TestTimeout_FutureWinsRace(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	out, err := BlockOn[int](rt, Timeout[int](rt, time.Second, Ready(9)))
	require.NoError(t, err)
	require.Equal(t, 9, out)
}

func TestTimeout_TimerWinsRace(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	_, err = BlockOn[int](rt, Timeout[int](rt, time.Millisecond, Never[int]()))
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestTimeout_ZeroDurationErrorsImmediately(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	_, err = BlockOn[int](rt, Timeout[int](rt, 0, Ready(1)))
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestInterval_BurstCatchesUp(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	iv := Interval(rt, 10*time.Millisecond, Burst)
	time.Sleep(35 * time.Millisecond)

	for i := 0; i < 3; i++ {
		_, err := BlockOn[struct{}](rt, iv)
		require.NoError(t, err)
	}
}

func TestInterval_SkipRealigns(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	iv := Interval(rt, 10*time.Millisecond, Skip)
	time.Sleep(35 * time.Millisecond)

	_, err = BlockOn[struct{}](rt, iv)
	require.NoError(t, err)

	iv2 := iv.(*intervalPollable)
	require.True(t, iv2.next.After(time.Now().Add(-time.Millisecond)))
}
