package maintain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirerealm/wlcore/endpoint/server"
	"github.com/wirerealm/wlcore/wire"
)

func TestStartStopWiresCronWithoutWaitingOnATick(t *testing.T) {
	s := server.New(wire.DefaultCapacity, nil)
	sched := New(s, nil)
	require.NotNil(t, sched.Tasks())

	require.NoError(t, sched.Start("@every 1h"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(ctx))
}

func TestEnqueueSweepDropsWhenChannelFull(t *testing.T) {
	s := server.New(wire.DefaultCapacity, nil)
	sched := New(s, nil)
	sched.tasks <- func() {} // fill the buffered channel of size 1
	sched.enqueueSweep()     // must not block
	assert.Len(t, sched.tasks, 1)
}

func TestSweepClosesDeadClient(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	s := server.New(wire.DefaultCapacity, nil)
	require.NoError(t, s.AddSocket("wlcore-maintain-sweep"))
	t.Cleanup(func() { _ = s.CloseListener() })

	dialer, err := wire.Dial(filepath.Join(runtimeDir, "wlcore-maintain-sweep"), wire.DefaultCapacity, nil)
	require.NoError(t, err)

	accepted, err := s.Accept()
	require.NoError(t, err)
	require.Len(t, s.Clients(), 1)

	// Close the peer side so the next drain on the server's end observes
	// EOF and the client marks itself dead.
	require.NoError(t, dialer.Close())
	_, _ = accepted.Iterate(true, false)
	assert.True(t, accepted.Dead())

	sched := New(s, nil)
	sched.sweep()
	assert.Empty(t, s.Clients())
}
