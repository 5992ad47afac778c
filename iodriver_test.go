package asyncrt

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIoDriver_WakesOnReadReady(t *testing.T) {
	d, err := NewIoDriver()
	require.NoError(t, err)
	defer d.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	reg, err := d.RegisterIO(int(r.Fd()))
	require.NoError(t, err)
	defer reg.Drop()

	cx := NewContext(NoopWaker(), nil)
	var id uint64
	require.Equal(t, IOEvents(0), reg.PollReady(EventRead, cx, &id))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		d.DoWork()
		return reg.PollReady(EventRead, cx, &id)&EventRead != 0
	}, time.Second, time.Millisecond)
}

func TestIoDriver_SharedEntryAcrossRegistrations(t *testing.T) {
	d, err := NewIoDriver()
	require.NoError(t, err)
	defer d.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())
	reg1, err := d.RegisterIO(fd)
	require.NoError(t, err)
	reg2, err := d.RegisterIO(fd)
	require.NoError(t, err)

	require.Same(t, reg1.entry, reg2.entry)

	reg1.Drop()
	reg2.Drop()
}

func TestIoDriver_UnregisterWaiterRemovesHint(t *testing.T) {
	d, err := NewIoDriver()
	require.NoError(t, err)
	defer d.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	reg, err := d.RegisterIO(int(r.Fd()))
	require.NoError(t, err)
	defer reg.Drop()

	cx := NewContext(NoopWaker(), nil)
	var id uint64
	reg.PollReady(EventRead, cx, &id)
	require.Equal(t, 1, reg.entry.waiters.Len())
	require.True(t, reg.entry.anyRead)

	reg.UnregisterWaiter(id)
	require.Equal(t, 0, reg.entry.waiters.Len())
	require.False(t, reg.entry.anyRead)
}
