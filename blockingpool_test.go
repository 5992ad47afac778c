package asyncrt

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnBlocking_ReturnsValue(t *testing.T) {
	rt, err := New(WithWorkers(1), WithBlockingPool(1, 4))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	h := SpawnBlocking[int](rt, func() (int, error) { return 99, nil })
	v, err := h.BlockOn()
	require.NoError(t, err)
	require.Equal(t, 99, v)
}

func TestSpawnBlocking_PropagatesError(t *testing.T) {
	rt, err := New(WithWorkers(1), WithBlockingPool(1, 4))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	wantErr := errors.New("blocking failure")
	h := SpawnBlocking[int](rt, func() (int, error) { return 0, wantErr })
	_, err = h.BlockOn()
	require.ErrorIs(t, err, wantErr)
}

func TestSpawnBlocking_CapturesPanic(t *testing.T) {
	rt, err := New(WithWorkers(1), WithBlockingPool(1, 4))
	require.NoError(t, err)
	defer rt.SafeShutdown()

	h := SpawnBlocking[int](rt, func() (int, error) { panic("blown up") })
	_, err = h.BlockOn()
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
}

func TestBlockingPool_GrowsUnderBacklog(t *testing.T) {
	bp := NewBlockingPool(1, 4)
	defer bp.Close()

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		j := &blockingJob{}
		j.execute = func() { <-release }
		bp.Submit(j)
	}

	require.Eventually(t, func() bool { return bp.AliveWorkers() > 1 }, time.Second, time.Millisecond)
	close(release)
}

func TestBlockingPool_CloseRunsQueuedJobs(t *testing.T) {
	bp := NewBlockingPool(1, 2)

	done := make(chan struct{})
	j := &blockingJob{}
	j.execute = func() { close(done) }
	bp.Submit(j)
	bp.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued job never ran before Close returned")
	}
}
