// Package dispatch implements the per-message dispatch loop shared by the
// client and server endpoints: peek a header, resolve the receiver, decode
// its arguments, and invoke the matching handler — strictly in arrival
// order, one message at a time (spec §4.5).
//
// Grounded on the teacher's pkg/network network.go frame-routing loop
// (peek a CAN frame, resolve its registered callback by cob-id, invoke
// synchronously), generalized from a flat callback table to the two-sided
// id-map lookup and signature-driven decode this protocol needs.
package dispatch

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
	"github.com/wirerealm/wlcore/wire"
)

// Role selects which half of a Receiver's interface governs inbound
// messages: a server dispatcher decodes requests, a client dispatcher
// decodes events.
type Role int

const (
	ClientRole Role = iota
	ServerRole
)

// Receiver is what a dispatchable id-map entry must provide: its static
// interface descriptor, and a way to run the handler attached for a given
// opcode. Invoke must not block; per spec §5 the core is single-threaded
// cooperative and handlers run to completion synchronously. A Receiver
// with no handler attached for opcode is expected to treat Invoke as a
// silent no-op rather than erroring.
type Receiver interface {
	objects.Record
	Interface() *proto.Interface
	Invoke(opcode proto.Opcode, args []proto.Arg)
}

// Policy supplies the role-specific reactions spec §4.5 step 2-3
// describes in prose: a server posts protocol-error events back to the
// client; a client logs and, on a decode failure, latches a fatal flag
// that the dispatcher checks before processing the next message.
type Policy interface {
	// AbsentReceiver fires when the header's receiver id names no live
	// record (Free state, or a record that isn't a Receiver).
	AbsentReceiver(receiver objects.ID, opcode proto.Opcode)

	// InvalidOpcode fires when opcode is out of range for the receiver's
	// interface.
	InvalidOpcode(receiver objects.ID, opcode proto.Opcode, err error)

	// DecodeFailed fires when argument decoding fails after the opcode
	// resolved to a valid message signature.
	DecodeFailed(receiver objects.ID, opcode proto.Opcode, err error)

	// Fatal reports whether a fatal-error condition has been latched that
	// halts further dispatch. Server policies always return false; client
	// policies return true once an InvalidOpcode or DecodeFailed call has
	// been made or an error event has been observed.
	Fatal() bool
}

// Tracer receives one notification per successfully decoded inbound
// message, for the WAYLAND_DEBUG trace line (spec §6/§8 scenario 6).
// debug.ColorTracer satisfies this structurally.
type Tracer interface {
	Received(receiver objects.ID, iface *proto.Interface, opcode proto.Opcode, args []proto.Arg, isRequest bool)
}

// Dispatcher drives one connection's inbound ring against one id table.
type Dispatcher struct {
	conn      *wire.Conn
	table     *objects.Table
	role      Role
	policy    Policy
	newObject proto.NewObjectFunc
	tracer    Tracer
}

// New returns a dispatcher for conn/table under role, using policy for
// the error reactions and newObject to construct records for inbound 'n'
// arguments.
func New(conn *wire.Conn, table *objects.Table, role Role, policy Policy, newObject proto.NewObjectFunc) *Dispatcher {
	return &Dispatcher{conn: conn, table: table, role: role, policy: policy, newObject: newObject}
}

// SetTracer installs a trace sink for decoded inbound messages. Passing
// nil disables tracing.
func (d *Dispatcher) SetTracer(t Tracer) { d.tracer = t }

// DispatchAll processes every complete message currently buffered in the
// connection's inbound ring, stopping at the first partial message (or at
// a latched fatal condition) and leaving it for the next read. It returns
// the number of handlers actually invoked — zombie-absorbed and
// policy-handled messages are consumed but not counted (spec's
// "iterate dispatches exactly N handlers" property).
func (d *Dispatcher) DispatchAll() (int, error) {
	dispatched := 0
	for {
		if d.policy.Fatal() {
			return dispatched, nil
		}

		header := make([]byte, proto.HeaderSize)
		if err := d.conn.Inbound().Copy(header, proto.HeaderSize); err != nil {
			return dispatched, nil
		}
		receiver, opcode, size, err := proto.ParseHeader(header)
		if err != nil {
			return dispatched, fmt.Errorf("dispatch: %w", err)
		}
		if d.conn.Inbound().Occupied() < int(size) {
			return dispatched, nil
		}

		full := make([]byte, size)
		_ = d.conn.Inbound().Copy(full, int(size))
		payload := full[proto.HeaderSize:]

		state, record := d.table.Lookup(receiver)
		if state == objects.Zombie {
			d.conn.Inbound().Consume(int(size))
			continue
		}
		if state != objects.Live || record == nil {
			d.conn.Inbound().Consume(int(size))
			d.policy.AbsentReceiver(receiver, opcode)
			continue
		}
		recv, ok := record.(Receiver)
		if !ok {
			d.conn.Inbound().Consume(int(size))
			d.policy.AbsentReceiver(receiver, opcode)
			continue
		}

		var msgSig proto.MessageSignature
		if d.role == ServerRole {
			msgSig, err = recv.Interface().Request(opcode)
		} else {
			msgSig, err = recv.Interface().Event(opcode)
		}
		if err != nil {
			d.conn.Inbound().Consume(int(size))
			d.policy.InvalidOpcode(receiver, opcode, err)
			continue
		}

		args, err := proto.Decode(msgSig.Signature, payload, d.table, d.conn.PopInboundFD, d.newObject, msgSig.NewInterface)
		d.conn.Inbound().Consume(int(size))
		if err != nil {
			releaseFailedNewIDs(msgSig.Signature, args, d.table)
			closeDecodedFDs(msgSig.Signature, args)
			d.policy.DecodeFailed(receiver, opcode, err)
			continue
		}

		if d.tracer != nil {
			d.tracer.Received(receiver, recv.Interface(), opcode, args, d.role == ServerRole)
		}
		recv.Invoke(opcode, args)
		dispatched++
	}
}

// releaseFailedNewIDs undoes any 'n' registration that Decode completed
// before failing on a later argument — step 5 of spec §4.5.
func releaseFailedNewIDs(sig string, args []proto.Arg, table *objects.Table) {
	for i, code := range sig {
		if i >= len(args) {
			return
		}
		if code == 'n' && args[i].NewID != 0 {
			table.Remove(args[i].NewID)
		}
	}
}

// closeDecodedFDs closes any 'h' file descriptor Decode already popped off
// the inbound fd ring before failing on a later argument. Once popped, a
// descriptor belongs to the receiving side (spec §5); on a failed decode
// there is no argument vector to hand it to, so the dispatcher must close
// it itself rather than leak it.
func closeDecodedFDs(sig string, args []proto.Arg) {
	for i, code := range sig {
		if i >= len(args) {
			return
		}
		if code == 'h' {
			_ = unix.Close(args[i].FD)
		}
	}
}
