package asyncrt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFOOrder(t *testing.T) {
	q := newTaskQueue()
	a, b, c := &taskCore{}, &taskCore{}, &taskCore{}

	q.push(a)
	q.push(b)
	q.push(c)
	require.Equal(t, 3, q.len())

	v, ok := q.pop()
	require.True(t, ok)
	require.Same(t, a, v)

	v, ok = q.pop()
	require.True(t, ok)
	require.Same(t, b, v)

	v, ok = q.pop()
	require.True(t, ok)
	require.Same(t, c, v)

	_, ok = q.pop()
	require.False(t, ok)
}

func TestTaskQueue_SpansMultipleChunks(t *testing.T) {
	q := newTaskQueue()
	cores := make([]*taskCore, chunkSize*2+5)
	for i := range cores {
		cores[i] = &taskCore{}
		q.push(cores[i])
	}
	require.Equal(t, len(cores), q.len())

	for i := range cores {
		v, ok := q.pop()
		require.True(t, ok)
		require.Same(t, cores[i], v)
	}
	_, ok := q.pop()
	require.False(t, ok)
}

func TestTaskQueue_InterleavedPushPop(t *testing.T) {
	q := newTaskQueue()
	a, b := &taskCore{}, &taskCore{}

	q.push(a)
	v, ok := q.pop()
	require.True(t, ok)
	require.Same(t, a, v)

	q.push(b)
	require.Equal(t, 1, q.len())
	v, ok = q.pop()
	require.True(t, ok)
	require.Same(t, b, v)
}
