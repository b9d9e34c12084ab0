package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-uuid"

	"github.com/wirerealm/wlcore/debug"
	"github.com/wirerealm/wlcore/dispatch"
	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
	"github.com/wirerealm/wlcore/wire"
)

// frameListener is a one-shot record binding a pending frame callback's
// wire id to an opaque key, so an application can cancel it before
// publication (spec §3's "frame listener").
type frameListener struct {
	key string
	id  objects.ID
}

// Client is one accepted connection: its own id table (both the built-in
// wl_display resource at id 1 and every resource the application or a
// global's bind hook has registered for it), its server-granted id range,
// and its pending frame callbacks (spec §4.7).
type Client struct {
	server     *Display
	conn       *wire.Conn
	table      *objects.Table
	dispatcher *dispatch.Dispatcher
	policy     *serverPolicy
	tracer     debug.Tracer
	logger     *slog.Logger

	selfResource *Resource

	resourceOrder  []objects.ID
	frameListeners []frameListener

	grantEnd objects.ID

	dead bool
}

func (s *Display) clientCreate(conn *wire.Conn) *Client {
	if s.logger != nil {
		conn.SetLogger(s.logger)
	}
	if s.tracer != nil {
		conn.Debug = true
	}

	c := &Client{
		server: s,
		conn:   conn,
		table:  objects.NewTable(),
		tracer: s.tracer,
		logger: s.logger,
	}
	c.policy = &serverPolicy{client: c, logger: s.logger}

	c.selfResource = newResource(1, proto.DisplayInterface, c)
	handlers := make([]RequestHandler, len(proto.DisplayInterface.Requests))
	handlers[proto.DisplayBind] = c.onBind
	handlers[proto.DisplaySync] = c.onSync
	handlers[proto.DisplayFrame] = c.onFrame
	c.selfResource.handlers = handlers
	c.selfResource.attached = true
	_ = c.table.InsertAt(1, c.selfResource) // id 1 on a fresh table is always free

	c.dispatcher = dispatch.New(conn, c.table, dispatch.ServerRole, c.policy, c.newObjectFactory)
	if s.tracer != nil {
		c.dispatcher.SetTracer(s.tracer)
	}

	base := objects.ServerIDStart
	c.grantEnd = base + objects.ID(s.rangeSize)
	_ = c.selfResource.SendEvent(proto.DisplayRange, "uu", []proto.Arg{proto.UintArg(uint32(base)), proto.UintArg(s.rangeSize)})

	for _, g := range s.globals {
		_ = c.selfResource.SendEvent(proto.DisplayGlobal, "usu", []proto.Arg{
			proto.UintArg(g.Name), proto.StringArg(g.Interface), proto.UintArg(g.Version),
		})
	}

	return c
}

// FD exposes the connection's descriptor for an external readiness source
// to poll (spec §1 Out of Scope).
func (c *Client) FD() int { return c.conn.FD() }

// Iterate drains any ready I/O and dispatches every complete inbound
// message currently buffered, returning the number of handlers invoked.
func (c *Client) Iterate(readableReady, writableReady bool) (int, error) {
	if _, err := c.conn.Drain(readableReady, writableReady); err != nil {
		if !errors.Is(err, wire.ErrWouldBlock) {
			c.dead = true
		}
		return 0, err
	}
	return c.dispatcher.DispatchAll()
}

// Flush attempts to write any buffered-but-unsent outbound bytes without
// blocking (the server-side counterpart of client.Display.Flush).
func (c *Client) Flush() error {
	_, err := c.conn.Drain(false, true)
	if err != nil && !errors.Is(err, wire.ErrWouldBlock) {
		c.dead = true
	}
	return err
}

// Dead reports whether the connection has failed (reset, EOF, or any I/O
// error other than would-block) in any Iterate or Flush call so far; once
// set it stays set. A
// maintenance sweep (maintain.Scheduler) uses this to decide which clients
// to tear down.
func (c *Client) Dead() bool { return c.dead }

// ResourceCount returns the number of resources currently registered for
// this client, for introspection.
func (c *Client) ResourceCount() int { return len(c.resourceOrder) }

// Close tears down every resource the application registered for this
// client, in reverse registration order, then closes the connection (spec
// §4.7/§5's parent-releases-children-in-reverse-order rule).
func (c *Client) Close() error {
	for i := len(c.resourceOrder) - 1; i >= 0; i-- {
		id := c.resourceOrder[i]
		_, record := c.table.Lookup(id)
		if res, ok := record.(*Resource); ok && res.destroyHook != nil {
			res.destroyHook()
		}
		c.table.Remove(id)
	}
	c.resourceOrder = nil
	c.server.removeClient(c)
	return c.conn.Close()
}

func (c *Client) trackResource(id objects.ID) {
	c.resourceOrder = append(c.resourceOrder, id)
}

func (c *Client) untrackResource(id objects.ID) {
	for i, existing := range c.resourceOrder {
		if existing == id {
			c.resourceOrder = append(c.resourceOrder[:i], c.resourceOrder[i+1:]...)
			return
		}
	}
}

func (c *Client) postDeleteID(id objects.ID) error {
	return c.selfResource.SendEvent(proto.DisplayDeleteID, "u", []proto.Arg{proto.UintArg(uint32(id))})
}

// maybeRefillRange issues another grant once the client's remaining range
// drops below the server's low watermark (spec §4.7's refill rule). The
// server has no way to observe the client's undrawn quota directly; it
// infers remaining headroom from the highest new-id it has just seen used.
func (c *Client) maybeRefillRange(id objects.ID) {
	remaining := c.grantEnd - id - 1
	if remaining >= objects.ID(c.server.lowWatermark) {
		return
	}
	base := c.grantEnd
	c.grantEnd += objects.ID(c.server.rangeSize)
	_ = c.selfResource.SendEvent(proto.DisplayRange, "uu", []proto.Arg{proto.UintArg(uint32(base)), proto.UintArg(c.server.rangeSize)})
}

// newObjectFactory builds the Resource for an inbound request's 'n'
// argument. iface is nil only for bind, whose interface is named
// dynamically by the two preceding arguments.
func (c *Client) newObjectFactory(id objects.ID, iface *proto.Interface, argsSoFar []proto.Arg) (objects.Record, error) {
	var record *Resource
	if iface == nil {
		res, err := c.bindResource(id, argsSoFar)
		if err != nil {
			return nil, err
		}
		record = res
	} else {
		record = newResource(id, iface, c)
	}
	c.trackResource(id)
	c.maybeRefillRange(id)
	return record, nil
}

// bindResource resolves the global named by argsSoFar (name, interface,
// version — bind's signature up to its new_id) and builds a generic
// resource at its declared interface. The global's optional BindFunc runs
// later, once the resource is actually registered (onBind), not here.
func (c *Client) bindResource(id objects.ID, argsSoFar []proto.Arg) (*Resource, error) {
	if len(argsSoFar) < 3 {
		return nil, fmt.Errorf("server: bind: expected name, interface, version before new_id")
	}
	name := argsSoFar[0].Uint
	var ifaceName string
	if argsSoFar[1].Str != nil {
		ifaceName = *argsSoFar[1].Str
	}

	g, ok := c.server.findGlobal(name)
	if !ok || g.Interface != ifaceName {
		return nil, fmt.Errorf("server: bind: no such global %d (%s)", name, ifaceName)
	}
	return newResource(id, g.iface, c), nil
}

// Resource looks up a resource previously registered for this client, for
// a bind hook that needs to attach request handlers to the object bind
// just created.
func (c *Client) Resource(id objects.ID) (*Resource, bool) {
	_, record := c.table.Lookup(id)
	res, ok := record.(*Resource)
	return res, ok
}

func (c *Client) onBind(args []proto.Arg) {
	name := args[0].Uint
	id := args[3].NewID
	g, ok := c.server.findGlobal(name)
	if !ok || g.bind == nil {
		return
	}
	if err := g.bind(c, id); err != nil {
		c.logger.Error("server: bind hook failed", "global", name, "id", id, "err", err)
	}
}

func (c *Client) onSync(args []proto.Arg) {
	id := args[0].NewID
	_, record := c.table.Lookup(id)
	res, ok := record.(*Resource)
	if !ok {
		return
	}
	serial := c.server.nextSerial()
	_ = res.SendEvent(proto.CallbackDone, "u", []proto.Arg{proto.UintArg(serial)})
	_ = res.Destroy()
}

func (c *Client) onFrame(args []proto.Arg) {
	id := args[0].NewID
	key, err := uuid.GenerateUUID()
	if err != nil {
		c.logger.Error("server: generate frame listener key", "err", err)
		return
	}
	c.frameListeners = append(c.frameListeners, frameListener{key: key, id: id})
}

// CancelFrame drops a pending frame listener registered under key before
// publication, if it is still pending. It does not destroy the resource;
// the caller remains responsible for it.
func (c *Client) CancelFrame(key string) {
	for i, fl := range c.frameListeners {
		if fl.key == key {
			c.frameListeners = append(c.frameListeners[:i], c.frameListeners[i+1:]...)
			return
		}
	}
}

// publishFrame drains this client's pending frame listeners in
// registration order, firing each callback's done event with serial and
// then destroying it (spec §3: "collected into an ordered list and
// drained on frame publication").
func (c *Client) publishFrame(serial uint32) {
	pending := c.frameListeners
	c.frameListeners = nil
	for _, fl := range pending {
		_, record := c.table.Lookup(fl.id)
		res, ok := record.(*Resource)
		if !ok {
			continue
		}
		_ = res.SendEvent(proto.CallbackDone, "u", []proto.Arg{proto.UintArg(serial)})
		_ = res.Destroy()
	}
}
