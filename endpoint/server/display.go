// Package server implements the server-side endpoint: the listening
// socket, per-client connection and resource-list bookkeeping, the
// id-range grant protocol, and global advertisement (spec §4.7).
//
// Grounded on the teacher's pkg/network network.go (owns the transport,
// accepts/creates per-node state, and routes inbound frames to registered
// callbacks) and pkg/node/local.go's object-dictionary-backed node,
// generalized from a fixed CANopen node set to an open-ended, dynamically
// bound client/resource population.
package server

import (
	"log/slog"

	"github.com/wirerealm/wlcore/debug"
	"github.com/wirerealm/wlcore/proto"
)

// defaultRangeSize and defaultLowWatermark are the grant-block size and
// refill threshold spec §4.7 gives as examples ("e.g., 256 ids" / "drops
// below 64").
const (
	defaultRangeSize    = 256
	defaultLowWatermark = 64
)

// Display is the server endpoint: the listening socket, the advertised
// global set, and the accepted clients (spec §4.7: "builds a display
// object, an embedded event loop handle, and an empty client/global
// list").
type Display struct {
	logger *slog.Logger
	tracer debug.Tracer

	listenerFD   int
	socketPath   string
	ringCapacity int

	globals  []global
	nextName uint32

	clients []*Client

	rangeSize    uint32
	lowWatermark uint32
	serial       uint32
}

// New returns a server endpoint with no socket and no globals yet.
func New(ringCapacity int, logger *slog.Logger) *Display {
	if logger == nil {
		logger = slog.Default()
	}
	return &Display{
		logger:       logger,
		tracer:       debug.FromEnv(),
		ringCapacity: ringCapacity,
		rangeSize:    defaultRangeSize,
		lowWatermark: defaultLowWatermark,
	}
}

// SetRangeGrant overrides the id-range grant block size and low-watermark
// refill threshold (spec §4.7), normally config.Config's RangeSize/
// LowWatermark. Takes effect for every client accepted afterward; it does
// not retroactively resize a range already granted to a connected client.
func (s *Display) SetRangeGrant(rangeSize, lowWatermark uint32) {
	s.rangeSize = rangeSize
	s.lowWatermark = lowWatermark
}

// Clients returns the currently connected clients.
func (s *Display) Clients() []*Client { return append([]*Client(nil), s.clients...) }

func (s *Display) removeClient(c *Client) {
	for i, existing := range s.clients {
		if existing == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			return
		}
	}
}

// AddGlobal advertises iface/version under a freshly assigned name,
// notifying every already-connected client with a global event, and
// returns the public Global record (spec §3/§5's ordering guarantee: a
// global advertised before a client connects is in that client's initial
// replay, and one advertised after is pushed as a global event — AddGlobal
// covers the latter by constuction since clientCreate replays s.globals
// for the former).
func (s *Display) AddGlobal(iface *proto.Interface, version uint32, bind BindFunc) Global {
	name := s.nextName
	s.nextName++
	g := global{
		Global: Global{Name: name, Interface: iface.Name, Version: version},
		iface:  iface,
		bind:   bind,
	}
	s.globals = append(s.globals, g)
	for _, c := range s.clients {
		_ = c.selfResource.SendEvent(proto.DisplayGlobal, "usu", []proto.Arg{
			proto.UintArg(g.Name), proto.StringArg(g.Interface), proto.UintArg(g.Version),
		})
	}
	return g.Global
}

// RemoveGlobal withdraws a previously advertised global, notifying every
// connected client with a global_remove event.
func (s *Display) RemoveGlobal(name uint32) {
	for i, g := range s.globals {
		if g.Name == name {
			s.globals = append(s.globals[:i], s.globals[i+1:]...)
			break
		}
	}
	for _, c := range s.clients {
		_ = c.selfResource.SendEvent(proto.DisplayGlobalRemove, "u", []proto.Arg{proto.UintArg(name)})
	}
}

// Globals returns the currently advertised globals, for introspection.
func (s *Display) Globals() []Global {
	out := make([]Global, len(s.globals))
	for i, g := range s.globals {
		out[i] = g.Global
	}
	return out
}

func (s *Display) findGlobal(name uint32) (global, bool) {
	for _, g := range s.globals {
		if g.Name == name {
			return g, true
		}
	}
	return global{}, false
}

func (s *Display) nextSerial() uint32 {
	s.serial++
	return s.serial
}

// PublishFrame fires every client's pending frame callbacks with serial,
// destroying each in turn (spec §3: "drained on frame publication"). The
// event-loop primitive that decides when to call this — typically once
// per output refresh — is out of scope (spec §1).
func (s *Display) PublishFrame(serial uint32) {
	for _, c := range s.clients {
		c.publishFrame(serial)
	}
}

// NextSerial exposes the server's monotonic serial counter so an
// application can stamp its own events consistently with PublishFrame.
func (s *Display) NextSerial() uint32 { return s.nextSerial() }
