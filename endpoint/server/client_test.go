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

func pairedClient(t *testing.T) (*Display, *Client, *wire.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, err := wire.FromFD(fds[0], wire.DefaultCapacity, nil)
	require.NoError(t, err)
	b, err := wire.FromFD(fds[1], wire.DefaultCapacity, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	s := New(wire.DefaultCapacity, nil)
	c := s.clientCreate(a)
	s.clients = append(s.clients, c)
	return s, c, b
}

func drainAll(t *testing.T, peer *wire.Conn) []byte {
	t.Helper()
	_, err := peer.Drain(true, false)
	require.NoError(t, err)
	n := peer.Inbound().Occupied()
	buf := make([]byte, n)
	require.NoError(t, peer.Inbound().Copy(buf, n))
	peer.Inbound().Consume(n)
	return buf
}

func TestClientCreateReservesIDOneAndGrantsRange(t *testing.T) {
	_, c, peer := pairedClient(t)
	state, record := c.table.Lookup(1)
	assert.Equal(t, objects.Live, state)
	assert.Same(t, c.selfResource, record)
	require.NoError(t, c.Flush())

	buf := drainAll(t, peer)
	header := make([]byte, proto.HeaderSize)
	copy(header, buf)
	receiver, opcode, _, err := proto.ParseHeader(header)
	require.NoError(t, err)
	assert.Equal(t, objects.ID(1), receiver)
	assert.Equal(t, proto.DisplayRange, opcode)

	base := binary.NativeEndian.Uint32(buf[proto.HeaderSize:])
	count := binary.NativeEndian.Uint32(buf[proto.HeaderSize+4:])
	assert.Equal(t, uint32(objects.ServerIDStart), base)
	assert.Equal(t, uint32(defaultRangeSize), count)
}

func TestAddGlobalReplayedToNewClientAndBroadcastToExisting(t *testing.T) {
	s, c1, peer1 := pairedClient(t)
	_, err := peer1.Drain(true, false) // discard the initial range grant
	require.NoError(t, err)
	peer1.Inbound().Consume(peer1.Inbound().Occupied())

	s.AddGlobal(proto.CallbackInterface, 1, nil)
	require.NoError(t, c1.Flush())
	buf := drainAll(t, peer1)
	_, opcode, _, err := proto.ParseHeader(buf[:proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.DisplayGlobal, opcode)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a2, err := wire.FromFD(fds[0], wire.DefaultCapacity, nil)
	require.NoError(t, err)
	peer2, err := wire.FromFD(fds[1], wire.DefaultCapacity, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a2.Close()
		_ = peer2.Close()
	})
	c2 := s.clientCreate(a2)
	s.clients = append(s.clients, c2)
	require.NoError(t, c2.Flush())
	buf2 := drainAll(t, peer2)
	// range grant then the replayed global: parse both headers in sequence.
	_, op1, sz1, err := proto.ParseHeader(buf2[:proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.DisplayRange, op1)
	_, op2, _, err := proto.ParseHeader(buf2[sz1 : sz1+proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.DisplayGlobal, op2)
}

func TestBindUnknownGlobalFailsDecode(t *testing.T) {
	_, c, peer := pairedClient(t)
	require.NoError(t, c.Flush())
	drainAll(t, peer)

	args := []proto.Arg{
		proto.UintArg(99),
		proto.StringArg("nonexistent"),
		proto.UintArg(1),
		proto.NewIDArg(objects.ServerIDStart),
	}
	msg, _, err := proto.Encode(1, proto.DisplayBind, "usun", args)
	require.NoError(t, err)
	require.NoError(t, peer.Send(msg, nil))
	_, err = peer.Drain(false, true)
	require.NoError(t, err)

	n, err := c.Iterate(true, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n) // decode failed before any handler ran

	require.NoError(t, c.Flush())
	buf := drainAll(t, peer)
	_, opcode, _, err := proto.ParseHeader(buf[:proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.DisplayNoMemory, opcode) // bind failure is wrapped as ErrNoMemory by the codec

	// The new-id was rolled back: the slot is free again.
	state, _ := c.table.Lookup(objects.ServerIDStart)
	assert.Equal(t, objects.Free, state)
}

func TestBindKnownGlobalRegistersResource(t *testing.T) {
	s, c, peer := pairedClient(t)
	var boundID objects.ID
	s.AddGlobal(proto.CallbackInterface, 1, func(client *Client, newID objects.ID) error {
		boundID = newID
		res, ok := client.Resource(newID)
		require.True(t, ok)
		assert.Equal(t, proto.CallbackInterface, res.Interface())
		return nil
	})
	require.NoError(t, c.Flush())
	peer.Inbound().Consume(peer.Inbound().Occupied())

	g, ok := s.findGlobal(0)
	require.True(t, ok)

	args := []proto.Arg{
		proto.UintArg(g.Name),
		proto.StringArg(g.Interface),
		proto.UintArg(g.Version),
		proto.NewIDArg(objects.ServerIDStart),
	}
	msg, _, err := proto.Encode(1, proto.DisplayBind, "usun", args)
	require.NoError(t, err)
	require.NoError(t, peer.Send(msg, nil))
	_, err = peer.Drain(false, true)
	require.NoError(t, err)

	n, err := c.Iterate(true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, objects.ServerIDStart, boundID)

	state, record := c.table.Lookup(objects.ServerIDStart)
	assert.Equal(t, objects.Live, state)
	assert.Equal(t, objects.ServerIDStart, record.ObjectID())
	assert.Contains(t, c.resourceOrder, objects.ServerIDStart)
}

func TestSyncFiresCallbackAndFreesSlot(t *testing.T) {
	_, c, peer := pairedClient(t)
	require.NoError(t, c.Flush())
	drainAll(t, peer)

	msg, _, err := proto.Encode(1, proto.DisplaySync, "n", []proto.Arg{proto.NewIDArg(objects.ServerIDStart)})
	require.NoError(t, err)
	require.NoError(t, peer.Send(msg, nil))
	_, err = peer.Drain(false, true)
	require.NoError(t, err)

	n, err := c.Iterate(true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state, _ := c.table.Lookup(objects.ServerIDStart)
	assert.Equal(t, objects.Free, state)

	require.NoError(t, c.Flush())
	buf := drainAll(t, peer)
	_, op1, sz1, err := proto.ParseHeader(buf[:proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.CallbackDone, op1)
	_, op2, _, err := proto.ParseHeader(buf[sz1 : sz1+proto.HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, proto.DisplayDeleteID, op2)
}

func TestFrameQueuesUntilPublish(t *testing.T) {
	s, c, peer := pairedClient(t)
	require.NoError(t, c.Flush())
	peer.Inbound().Consume(peer.Inbound().Occupied())

	msg, _, err := proto.Encode(1, proto.DisplayFrame, "n", []proto.Arg{proto.NewIDArg(objects.ServerIDStart)})
	require.NoError(t, err)
	require.NoError(t, peer.Send(msg, nil))
	_, err = peer.Drain(false, true)
	require.NoError(t, err)

	n, err := c.Iterate(true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, c.frameListeners, 1)

	state, _ := c.table.Lookup(objects.ServerIDStart)
	assert.Equal(t, objects.Live, state) // not yet destroyed

	s.PublishFrame(42)
	assert.Empty(t, c.frameListeners)
	state, _ = c.table.Lookup(objects.ServerIDStart)
	assert.Equal(t, objects.Free, state)
}

func TestCloseTearsDownResourcesInReverseOrder(t *testing.T) {
	_, c, _ := pairedClient(t)
	var order []objects.ID
	for i := objects.ID(0); i < 3; i++ {
		id := objects.ServerIDStart + i
		r := newResource(id, proto.CallbackInterface, c)
		r.SetDestroyHook(func(id objects.ID) func() {
			return func() { order = append(order, id) }
		}(id))
		require.NoError(t, c.table.InsertAt(id, r))
		c.trackResource(id)
	}

	require.NoError(t, c.Close())
	assert.Equal(t, []objects.ID{objects.ServerIDStart + 2, objects.ServerIDStart + 1, objects.ServerIDStart}, order)
}
