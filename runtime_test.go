package asyncrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRuntime_BasicSpawn(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	h := Spawn[int](rt, Ready(42))
	v, err := h.BlockOn()
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestRuntime_BlockOnDirect(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	v, err := BlockOn[int](rt, Ready(7))
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestRuntime_SleepCompletes(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	start := time.Now()
	h := Spawn[struct{}](rt, SleepFor(rt, 20*time.Millisecond))
	_, err = h.BlockOn()
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRuntime_AbortPropagatesTaskClosed(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	h := Spawn[struct{}](rt, Never[struct{}]())
	h.Abort()
	_, err = h.BlockOn()
	require.ErrorIs(t, err, ErrTaskClosed)
}

func TestRuntime_SafeShutdownIsIdempotent(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	rt.SafeShutdown()
	rt.SafeShutdown()
}

func TestRuntime_SafeShutdownClosesPendingTasks(t *testing.T) {
	rt, err := New(WithWorkers(2))
	require.NoError(t, err)

	h := Spawn[struct{}](rt, Never[struct{}]())
	rt.SafeShutdown()

	_, err = h.BlockOn()
	require.ErrorIs(t, err, ErrTaskClosed)
}

func TestRuntime_StateTracksLifecycle(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	require.Equal(t, StateRunning, rt.State())

	rt.SafeShutdown()
	require.Equal(t, StateTerminated, rt.State())
}

func TestRuntime_CurrentReflectsRunningWorkers(t *testing.T) {
	_, err := Current()
	require.ErrorIs(t, err, ErrNoRuntime)

	rt, err := New(WithWorkers(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := Current()
		return err == nil && got == rt
	}, time.Second, time.Millisecond)

	rt.SafeShutdown()

	require.Eventually(t, func() bool {
		_, err := Current()
		return err != nil
	}, time.Second, time.Millisecond)
}

func TestRuntime_GetTaskStats(t *testing.T) {
	rt, err := New(WithWorkers(1))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	h := SpawnNamed[struct{}](rt, Never[struct{}](), "stats-probe")
	defer h.Abort()

	require.Eventually(t, func() bool {
		for _, s := range rt.GetTaskStats() {
			if s.Name == "stats-probe" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}
