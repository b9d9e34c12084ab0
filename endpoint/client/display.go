package client

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/debug"
	"github.com/wirerealm/wlcore/dispatch"
	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
	"github.com/wirerealm/wlcore/wire"
)

// ErrFatal is returned once the client's fatal-error flag has latched
// (spec §7): every subsequent operation fails until the Display is
// discarded and reconnected.
var ErrFatal = errors.New("client: connection is in a fatal protocol-error state")

// Display is the client endpoint: the connection, the id table, the
// dispatcher, and the display singleton's built-in state (spec §4.6).
type Display struct {
	conn       *wire.Conn
	table      *objects.Table
	dispatcher *dispatch.Dispatcher
	policy     *clientPolicy
	self       *Proxy
	tracer     debug.Tracer
	logger     *slog.Logger
	registry   *registry

	grantBase objects.ID
	grantNext objects.ID
	grantEnd  objects.ID
}

// Connect dials the local Wayland-style socket per spec §4.6/§6:
// WAYLAND_SOCKET if set, otherwise $XDG_RUNTIME_DIR/$WAYLAND_DISPLAY
// (defaulting to "wayland-0").
func Connect(capacity int, logger *slog.Logger) (*Display, error) {
	conn, err := dialTransport(capacity, nil)
	if err != nil {
		return nil, err
	}
	return newDisplay(conn, debug.FromEnv(), logger), nil
}

func newDisplay(conn *wire.Conn, tracer debug.Tracer, logger *slog.Logger) *Display {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetLogger(logger)
	if tracer != nil {
		conn.Debug = true
	}

	d := &Display{
		conn:     conn,
		table:    objects.NewTable(),
		tracer:   tracer,
		logger:   logger,
		registry: newRegistry(),
	}
	d.policy = &clientPolicy{logger: logger}

	d.self = newProxy(1, proto.DisplayInterface, d)
	handlers := make([]EventHandler, len(proto.DisplayInterface.Events))
	handlers[proto.DisplayError] = d.onError
	handlers[proto.DisplayGlobal] = d.onGlobal
	handlers[proto.DisplayGlobalRemove] = d.onGlobalRemove
	handlers[proto.DisplayDeleteID] = d.onDeleteID
	handlers[proto.DisplayInvalidObject] = d.onProtocolError("invalid_object")
	handlers[proto.DisplayInvalidMethod] = d.onProtocolError("invalid_method")
	handlers[proto.DisplayNoMemory] = d.onProtocolError("no_memory")
	handlers[proto.DisplayRange] = d.onRange
	d.self.handlers = handlers
	d.self.attached = true
	// id 1 on a freshly built table is always free; this cannot fail.
	_ = d.table.InsertAt(1, d.self)

	d.dispatcher = dispatch.New(conn, d.table, dispatch.ClientRole, d.policy, d.newObjectFactory)
	if tracer != nil {
		d.dispatcher.SetTracer(tracer)
	}
	return d
}

// FD exposes the connection's descriptor for an external readiness
// source to poll (spec §1 Out of Scope: the event-loop primitive itself).
func (d *Display) FD() int { return d.conn.FD() }

// Iterate drains any ready I/O and dispatches every complete inbound
// message currently buffered, returning the number of handlers invoked.
func (d *Display) Iterate(readableReady, writableReady bool) (int, error) {
	if d.policy.Fatal() {
		return 0, ErrFatal
	}
	if _, err := d.conn.Drain(readableReady, writableReady); err != nil {
		return 0, err
	}
	return d.dispatcher.DispatchAll()
}

// Flush attempts to write any buffered-but-unsent outbound bytes to the
// socket without blocking. Request() only buffers (spec §4.2); an
// application driving its own event loop flushes once the fd reports
// writable, while Roundtrip flushes itself since it does not wait for an
// external loop.
func (d *Display) Flush() error {
	_, err := d.conn.Drain(false, true)
	return err
}

// Close releases the connection. Outstanding proxies are not individually
// notified; per spec §5 parent teardown (here, the whole endpoint) frees
// its children without needing each one destroyed in turn.
func (d *Display) Close() error { return d.conn.Close() }

// CreateProxy allocates a client-range id for a locally-initiated proxy
// not tied to a specific new-id-bearing request (spec §4.6: "create(interface)
// allocates a new client-side id").
func (d *Display) CreateProxy(iface *proto.Interface) *Proxy {
	p := newProxy(0, iface, d)
	id := d.table.InsertNew(false, p)
	p.id = id
	return p
}

// CreateProxyAt registers a proxy at a peer-nominated id (spec §4.6:
// "create_at(id, interface) places a proxy at a peer-nominated id").
func (d *Display) CreateProxyAt(id objects.ID, iface *proto.Interface) (*Proxy, error) {
	p := newProxy(id, iface, d)
	if err := d.table.InsertAt(id, p); err != nil {
		return nil, fmt.Errorf("client: create_at: %w", err)
	}
	return p, nil
}

// ListenGlobals registers fn for every currently-known global (replayed
// immediately) and every future global/global_remove event, returning an
// opaque key for UnlistenGlobals.
func (d *Display) ListenGlobals(fn GlobalListener) (string, error) {
	return d.registry.listen(fn)
}

// UnlistenGlobals removes a listener registered via ListenGlobals.
func (d *Display) UnlistenGlobals(key string) { d.registry.unlisten(key) }

// Bind requests a resource for global g, backed by the given interface
// descriptor, drawing its new-id from the server-granted range (spec
// §4.3/§4.7).
func (d *Display) Bind(g Global, iface *proto.Interface) (*Proxy, error) {
	id, err := d.drawGrantedID()
	if err != nil {
		return nil, err
	}
	p, err := d.CreateProxyAt(id, iface)
	if err != nil {
		return nil, err
	}
	args := []proto.Arg{
		proto.UintArg(g.Name),
		proto.StringArg(g.Interface),
		proto.UintArg(g.Version),
		proto.NewIDArg(id),
	}
	if err := d.self.Request(proto.DisplayBind, "usun", args); err != nil {
		d.table.Remove(id)
		return nil, err
	}
	return p, nil
}

// Frame requests a one-shot callback, drawing its new-id from the
// server-granted range like Bind (spec §6's frame(new_id) request).
func (d *Display) Frame() (*Proxy, error) {
	cb, err := d.newCallbackProxy()
	if err != nil {
		return nil, err
	}
	if err := d.self.Request(proto.DisplayFrame, "n", []proto.Arg{proto.NewIDArg(cb.id)}); err != nil {
		d.table.Remove(cb.id)
		return nil, err
	}
	return cb, nil
}

// Roundtrip sends a sync request on a fresh callback proxy, flushes, and
// blocks (via the transport's own readiness wait, not an external event
// loop) until the callback fires, returning the cumulative number of
// handlers dispatched while waiting. If the server's initial id range has
// not been received yet, it first waits for that range grant, since the
// callback's id is drawn from it.
func (d *Display) Roundtrip() (int, error) {
	var ret int // explicitly zero-initialized before the loop, not left to chance
	for d.grantEnd == 0 {
		if d.policy.Fatal() {
			return ret, ErrFatal
		}
		if err := d.waitReadable(); err != nil {
			return ret, err
		}
		n, err := d.Iterate(true, false)
		ret += n
		if err != nil {
			return ret, err
		}
	}
	cb, err := d.newCallbackProxy()
	if err != nil {
		return ret, err
	}
	done := false
	if err := cb.AddListener([]EventHandler{func(args []proto.Arg) { done = true }}); err != nil {
		return ret, err
	}
	if err := d.self.Request(proto.DisplaySync, "n", []proto.Arg{proto.NewIDArg(cb.id)}); err != nil {
		return ret, err
	}
	if err := d.Flush(); err != nil {
		return ret, err
	}

	for !done {
		if d.policy.Fatal() {
			return ret, ErrFatal
		}
		if err := d.waitReadable(); err != nil {
			return ret, err
		}
		n, err := d.Iterate(true, false)
		ret += n
		if err != nil {
			return ret, err
		}
	}
	return ret, nil
}

func (d *Display) waitReadable() error {
	fds := []unix.PollFd{{Fd: int32(d.conn.FD()), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func (d *Display) newCallbackProxy() (*Proxy, error) {
	id, err := d.drawGrantedID()
	if err != nil {
		return nil, err
	}
	return d.CreateProxyAt(id, proto.CallbackInterface)
}

// drawGrantedID draws the next id from the server-allocated range the
// server has granted this client (spec §4.3's range-grant machinery,
// which backs every built-in request carrying a new-id: bind, sync,
// frame — see DESIGN.md for why these draw from the high range rather
// than CreateProxy's client-range allocation).
func (d *Display) drawGrantedID() (objects.ID, error) {
	if d.grantNext >= d.grantEnd {
		return 0, fmt.Errorf("client: server-granted id range exhausted (next grant not yet received)")
	}
	id := d.grantNext
	d.grantNext++
	return id, nil
}

func (d *Display) newObjectFactory(id objects.ID, iface *proto.Interface, argsSoFar []proto.Arg) (objects.Record, error) {
	if iface == nil {
		return nil, fmt.Errorf("client: no static interface known for new id %s", id)
	}
	return newProxy(id, iface, d), nil
}

func (d *Display) onError(args []proto.Arg) {
	d.policy.fatal = true
	msg := ""
	if args[2].Str != nil {
		msg = *args[2].Str
	}
	d.logger.Error("client: display error event", "object", args[0].Object, "code", proto.Code(args[1].Uint), "message", msg)
}

func (d *Display) onGlobal(args []proto.Arg) {
	iface := ""
	if args[1].Str != nil {
		iface = *args[1].Str
	}
	d.registry.add(Global{Name: args[0].Uint, Interface: iface, Version: args[2].Uint})
}

func (d *Display) onGlobalRemove(args []proto.Arg) {
	d.registry.remove(args[0].Uint)
}

// onDeleteID frees the slot it names. A client-range id only ever reaches
// here as an acknowledgement of a local Destroy (hence Zombie); a
// server-range id (drawn from the granted range for bind/sync/frame) has
// no local destroy step at all — the server is the sole owner of its
// lifecycle, so the first and only time the client hears about it being
// freed is this event, arriving while the slot is still Live.
func (d *Display) onDeleteID(args []proto.Arg) {
	id := objects.ID(args[0].Uint)
	state, _ := d.table.Lookup(id)
	switch {
	case state == objects.Zombie:
		d.table.Remove(id)
	case state == objects.Live && id.IsServerSide():
		d.table.Remove(id)
	default:
		d.logger.Warn("client: delete_id for live client-owned object", "id", id)
	}
}

func (d *Display) onProtocolError(kind string) EventHandler {
	return func(args []proto.Arg) {
		d.logger.Warn("client: received protocol-error notification", "kind", kind, "args", args)
	}
}

func (d *Display) onRange(args []proto.Arg) {
	base := objects.ID(args[0].Uint)
	count := objects.ID(args[1].Uint)
	if d.grantEnd != 0 && base == d.grantEnd {
		d.grantEnd += count
		return
	}
	d.grantBase, d.grantNext, d.grantEnd = base, base, base+count
}
