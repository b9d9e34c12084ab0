package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b *Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	a, err = FromFD(fds[0], DefaultCapacity, nil)
	require.NoError(t, err)
	b, err = FromFD(fds[1], DefaultCapacity, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestSendDrainRoundtrip(t *testing.T) {
	a, b := socketpair(t)

	require.NoError(t, a.Send([]byte("ping!!!!"), nil))
	_, err := a.Drain(false, true)
	require.NoError(t, err)

	n, err := b.Drain(true, false)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 8)
	require.NoError(t, b.Inbound().Copy(buf, 8))
	assert.Equal(t, "ping!!!!", string(buf))
}

func TestSendWithFDPassing(t *testing.T) {
	a, b := socketpair(t)

	r, w, err := unixPipe()
	require.NoError(t, err)
	defer unix.Close(w)

	require.NoError(t, a.Send([]byte("msg!____"), []int{r}))
	unix.Close(r) // a's copy of the read end; the dup travels over the socket
	_, err = a.Drain(false, true)
	require.NoError(t, err)

	_, err = b.Drain(true, false)
	require.NoError(t, err)

	fd, ok := b.PopInboundFD()
	require.True(t, ok)
	assert.Greater(t, fd, 0)
	_ = unix.Close(fd)
}

func unixPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func TestBackpressureSignalsWouldBlock(t *testing.T) {
	a, _ := socketpair(t)
	big := make([]byte, DefaultCapacity+1)
	err := a.Send(big, nil)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestClosePeerSeenAsDead(t *testing.T) {
	a, b := socketpair(t)
	require.NoError(t, b.Close())

	require.NoError(t, a.Send([]byte("bye!____"), nil))
	_, err := a.Drain(false, true)
	assert.Error(t, err)

	_, err = a.Drain(true, false)
	assert.Error(t, err)
	assert.Equal(t, StateDead, a.State())
}
