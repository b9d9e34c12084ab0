package server

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
	"github.com/wirerealm/wlcore/wire"
)

func TestResolveSocketPathJoinsRuntimeDir(t *testing.T) {
	s := New(wire.DefaultCapacity, nil)
	t.Setenv("XDG_RUNTIME_DIR", "/tmp/run")
	path, err := s.resolveSocketPath("wayland-9")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/run/wayland-9", path)
}

func TestResolveSocketPathTooLong(t *testing.T) {
	s := New(wire.DefaultCapacity, nil)
	t.Setenv("XDG_RUNTIME_DIR", "/tmp/run")
	long := make([]byte, maxSocketPathLen)
	for i := range long {
		long[i] = 'a'
	}
	_, err := s.resolveSocketPath(string(long))
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestAddSocketAcceptRoundtrip(t *testing.T) {
	s := New(wire.DefaultCapacity, nil)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	require.NoError(t, s.AddSocket("wlcore-test"))
	t.Cleanup(func() { _ = s.CloseListener() })

	path, err := s.resolveSocketPath("wlcore-test")
	require.NoError(t, err)

	dialer, err := wire.Dial(path, wire.DefaultCapacity, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dialer.Close() })

	// A unix-domain stream connect completes once the kernel queues it in
	// the listen backlog, so by the time Dial returns, Accept needs no
	// polling wait.
	c, err := s.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	state, record := c.table.Lookup(1)
	assert.Equal(t, objects.Live, state)
	assert.NotNil(t, record)
}

func TestAcceptReturnsWouldBlockWithNoPendingConnection(t *testing.T) {
	s := New(wire.DefaultCapacity, nil)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	require.NoError(t, s.AddSocket("wlcore-test-empty"))
	t.Cleanup(func() { _ = s.CloseListener() })

	fds := []unix.PollFd{{Fd: int32(s.ListenerFD()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 50)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = s.Accept()
	assert.ErrorIs(t, err, wire.ErrWouldBlock)
}

func TestSetRangeGrantAffectsGrantedBlock(t *testing.T) {
	s := New(wire.DefaultCapacity, nil)
	s.SetRangeGrant(16, 4)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	require.NoError(t, s.AddSocket("wlcore-test-range"))
	t.Cleanup(func() { _ = s.CloseListener() })

	path, err := s.resolveSocketPath("wlcore-test-range")
	require.NoError(t, err)
	dialer, err := wire.Dial(path, wire.DefaultCapacity, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dialer.Close() })

	c, err := s.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Flush())

	buf := drainAll(t, dialer)
	_, opcode, size, err := proto.ParseHeader(buf[:proto.HeaderSize])
	require.NoError(t, err)
	require.Equal(t, proto.DisplayRange, opcode)
	count := binary.NativeEndian.Uint32(buf[proto.HeaderSize+4 : proto.HeaderSize+8])
	assert.Equal(t, uint32(16), count)
	_ = size
}

func TestRemoveGlobalBroadcasts(t *testing.T) {
	s, c, peer := pairedClient(t)
	g := s.AddGlobal(proto.CallbackInterface, 1, nil)
	require.NoError(t, c.Flush())
	drainAll(t, peer)

	s.RemoveGlobal(g.Name)
	require.NoError(t, c.Flush())
	buf := drainAll(t, peer)
	_, opcode, _, err := proto.ParseHeader(buf[:proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.DisplayGlobalRemove, opcode)

	_, ok := s.findGlobal(g.Name)
	assert.False(t, ok)
}
