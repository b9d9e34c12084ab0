package client

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

func pairedDisplay(t *testing.T) (*Display, *wire.Conn) {
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
	return newDisplay(a, nil, nil), b
}

func grantRange(d *Display, base objects.ID, count uint32) {
	d.onRange([]proto.Arg{proto.UintArg(uint32(base)), proto.UintArg(count)})
}

func TestDisplayReservesIDOneForSelf(t *testing.T) {
	d, _ := pairedDisplay(t)
	state, record := d.table.Lookup(1)
	assert.Equal(t, objects.Live, state)
	assert.Same(t, d.self, record)
}

func TestCreateProxyAllocatesClientRange(t *testing.T) {
	d, _ := pairedDisplay(t)
	p := d.CreateProxy(proto.CallbackInterface)
	assert.False(t, p.id.IsServerSide())
	assert.NotEqual(t, objects.ID(1), p.id)
}

func TestGrantedRangeDrawAndExhaustion(t *testing.T) {
	d, _ := pairedDisplay(t)
	grantRange(d, objects.ServerIDStart, 2)

	id1, err := d.drawGrantedID()
	require.NoError(t, err)
	assert.Equal(t, objects.ServerIDStart, id1)

	id2, err := d.drawGrantedID()
	require.NoError(t, err)
	assert.Equal(t, objects.ServerIDStart+1, id2)

	_, err = d.drawGrantedID()
	assert.Error(t, err)
}

func TestContiguousRangeExtendsInsteadOfResetting(t *testing.T) {
	d, _ := pairedDisplay(t)
	grantRange(d, objects.ServerIDStart, 2)
	_, _ = d.drawGrantedID()
	_, _ = d.drawGrantedID()
	grantRange(d, objects.ServerIDStart+2, 2) // contiguous extension

	id, err := d.drawGrantedID()
	require.NoError(t, err)
	assert.Equal(t, objects.ServerIDStart+2, id)
}

func TestOnDeleteIDFreesZombieNotLive(t *testing.T) {
	d, _ := pairedDisplay(t)
	p := d.CreateProxy(proto.CallbackInterface)
	require.NoError(t, p.Destroy()) // zombifies, client-range id

	d.onDeleteID([]proto.Arg{proto.UintArg(uint32(p.id))})
	state, _ := d.table.Lookup(p.id)
	assert.Equal(t, objects.Free, state)
}

func TestOnDeleteIDForLiveClientRangeObjectJustLogs(t *testing.T) {
	d, _ := pairedDisplay(t)
	p := d.CreateProxy(proto.CallbackInterface)

	d.onDeleteID([]proto.Arg{proto.UintArg(uint32(p.id))})
	state, _ := d.table.Lookup(p.id)
	assert.Equal(t, objects.Live, state) // untouched: the entry wasn't a zombie
}

func TestOnDeleteIDFreesLiveServerRangeObject(t *testing.T) {
	d, _ := pairedDisplay(t)
	grantRange(d, objects.ServerIDStart, 4)
	p, err := d.newCallbackProxy() // drawn from the granted range, like sync/frame
	require.NoError(t, err)

	d.onDeleteID([]proto.Arg{proto.UintArg(uint32(p.id))})
	state, _ := d.table.Lookup(p.id)
	assert.Equal(t, objects.Free, state) // the server is the sole owner of this lifecycle
}

func TestGlobalListenerReplaysThenNotifies(t *testing.T) {
	d, _ := pairedDisplay(t)
	var seen []Global
	d.onGlobal([]proto.Arg{proto.UintArg(7), proto.StringArg("foo"), proto.UintArg(1)})

	_, err := d.ListenGlobals(func(g Global, removed bool) {
		if !removed {
			seen = append(seen, g)
		}
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, uint32(7), seen[0].Name)
	assert.Equal(t, "foo", seen[0].Interface)

	d.onGlobal([]proto.Arg{proto.UintArg(8), proto.StringArg("bar"), proto.UintArg(2)})
	require.Len(t, seen, 2)
	assert.Equal(t, uint32(8), seen[1].Name)
}

func TestOnErrorLatchesFatalFlag(t *testing.T) {
	d, _ := pairedDisplay(t)
	d.onError([]proto.Arg{proto.ObjectArg(1), proto.UintArg(uint32(proto.CodeImplementation)), proto.StringArg("boom")})
	assert.True(t, d.policy.Fatal())
}

func TestBindSendsRequestOnGrantedID(t *testing.T) {
	d, peer := pairedDisplay(t)
	grantRange(d, objects.ServerIDStart, 4)

	p, err := d.Bind(Global{Name: 7, Interface: "foo", Version: 1}, proto.CallbackInterface)
	require.NoError(t, err)
	assert.Equal(t, objects.ServerIDStart, p.id)
	require.NoError(t, d.Flush())

	_, err = peer.Drain(true, false)
	require.NoError(t, err)
	header := make([]byte, proto.HeaderSize)
	require.NoError(t, peer.Inbound().Copy(header, proto.HeaderSize))
	receiver, opcode, size, err := proto.ParseHeader(header)
	require.NoError(t, err)
	assert.Equal(t, objects.ID(1), receiver)
	assert.Equal(t, proto.DisplayBind, opcode)

	full := make([]byte, size)
	require.NoError(t, peer.Inbound().Copy(full, int(size)))
	table := objects.NewTable()
	stubNewObject := func(id objects.ID, iface *proto.Interface, argsSoFar []proto.Arg) (objects.Record, error) {
		return &Proxy{id: id, iface: proto.CallbackInterface}, nil
	}
	args, err := proto.Decode("usun", full[proto.HeaderSize:], table, func() (int, bool) { return 0, false }, stubNewObject, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), args[0].Uint)
	require.NotNil(t, args[1].Str)
	assert.Equal(t, "foo", *args[1].Str)
	assert.Equal(t, objects.ServerIDStart, args[3].NewID)
}

func TestRoundtripCompletesWhenCallbackFires(t *testing.T) {
	d, peer := pairedDisplay(t)
	grantRange(d, objects.ServerIDStart, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var occupied int
		var err error
		for occupied < proto.HeaderSize {
			occupied, err = peer.Drain(true, false)
			if err != nil {
				return
			}
		}
		header := make([]byte, proto.HeaderSize)
		if err := peer.Inbound().Copy(header, proto.HeaderSize); err != nil {
			return
		}
		_, _, size, err := proto.ParseHeader(header)
		if err != nil {
			return
		}
		for peer.Inbound().Occupied() < int(size) {
			if _, err = peer.Drain(true, false); err != nil {
				return
			}
		}
		full := make([]byte, size)
		_ = peer.Inbound().Copy(full, int(size))
		peer.Inbound().Consume(int(size))
		cbID := objects.ID(binary.NativeEndian.Uint32(full[proto.HeaderSize:]))

		msg, _, _ := proto.Encode(cbID, proto.CallbackDone, "u", []proto.Arg{proto.UintArg(42)})
		_ = peer.Send(msg, nil)
		_, _ = peer.Drain(false, true)
	}()

	n, err := d.Roundtrip()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	<-done
}
