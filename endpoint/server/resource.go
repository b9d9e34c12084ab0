package server

import (
	"fmt"

	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
)

// RequestHandler receives one decoded request's argument vector.
type RequestHandler func(args []proto.Arg)

// Resource is the server-side object record: a client's view of one of its
// ids, paired with the interface it implements and the handler vector the
// application attaches via Implement (spec §3's "resource").
type Resource struct {
	id          objects.ID
	iface       *proto.Interface
	handlers    []RequestHandler // indexed by request opcode; nil entries are unattached
	attached    bool
	client      *Client
	destroyHook func()
}

func newResource(id objects.ID, iface *proto.Interface, client *Client) *Resource {
	return &Resource{
		id:       id,
		iface:    iface,
		handlers: make([]RequestHandler, len(iface.Requests)),
		client:   client,
	}
}

// ObjectID implements objects.Record.
func (r *Resource) ObjectID() objects.ID { return r.id }

// Interface implements dispatch.Receiver.
func (r *Resource) Interface() *proto.Interface { return r.iface }

// Client returns the resource's owning client.
func (r *Resource) Client() *Client { return r.client }

// Invoke implements dispatch.Receiver: it runs the handler attached for
// opcode, if any. A request arriving before Implement is silently dropped,
// mirroring the client proxy's same tolerance.
func (r *Resource) Invoke(opcode proto.Opcode, args []proto.Arg) {
	if int(opcode) >= len(r.handlers) {
		return
	}
	if h := r.handlers[opcode]; h != nil {
		h(args)
	}
}

// Implement attaches vtable, a handler per request opcode (nil entries
// leave that request unhandled). Attaching twice is an error (spec §3).
func (r *Resource) Implement(vtable []RequestHandler) error {
	if r.attached {
		return fmt.Errorf("server: handlers already attached to resource %s", r.id)
	}
	if len(vtable) != len(r.iface.Requests) {
		return fmt.Errorf("server: resource %q needs %d handlers, got %d", r.iface.Name, len(r.iface.Requests), len(vtable))
	}
	copy(r.handlers, vtable)
	r.attached = true
	return nil
}

// SetDestroyHook installs fn to run immediately before the resource's slot
// is freed, whether by explicit Destroy or by client teardown walking the
// resource list in reverse registration order (spec §4.7/§5).
func (r *Resource) SetDestroyHook(fn func()) { r.destroyHook = fn }

// SendEvent encodes and sends an event addressed by this resource's id.
func (r *Resource) SendEvent(opcode proto.Opcode, sig string, args []proto.Arg) error {
	msg, fds, err := proto.Encode(r.id, opcode, sig, args)
	if err != nil {
		return fmt.Errorf("server: encode %s opcode %d: %w", r.iface.Name, opcode, err)
	}
	if err := r.client.conn.Send(msg, fds); err != nil {
		return fmt.Errorf("server: send %s opcode %d: %w", r.iface.Name, opcode, err)
	}
	if r.client.tracer != nil {
		r.client.tracer.Sent(r.id, r.iface, opcode, args, false)
	}
	return nil
}

// Destroy frees a server-allocated resource immediately and notifies the
// peer with delete_id (spec §4.8: "free (on local destroy, emitting
// delete_id to peer)").
func (r *Resource) Destroy() error {
	if r.destroyHook != nil {
		r.destroyHook()
	}
	r.client.untrackResource(r.id)
	r.client.table.Remove(r.id)
	return r.client.postDeleteID(r.id)
}
