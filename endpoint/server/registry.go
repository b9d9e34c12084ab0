package server

import (
	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
)

// Global is one advertised (name, interface, version) triple (spec §3).
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// BindFunc is an optional side-effecting hook run once a client's bind
// request for this global has already produced its resource (generically,
// at the global's declared interface). newID names the resource; the hook
// retrieves it via Client.Resource if it needs to attach request handlers.
// A nil BindFunc is valid and is simply skipped (spec §9's flagged source
// inconsistency: the resource is still created and bound either way, the
// hook is the optional part).
type BindFunc func(client *Client, newID objects.ID) error

// global is the server's internal bookkeeping entry: the public Global
// plus the interface descriptor and bind hook only the registrant knows.
type global struct {
	Global
	iface *proto.Interface
	bind  BindFunc
}
