// Package debug implements the WAYLAND_DEBUG trace printer (spec §6): one
// coloured line per sent or received message, with its decoded argument
// tuple.
//
// Grounded on the teacher's pkg/sdo habit of logging every transfer, with
// the colouring done by fatih/color, adapted from a fixed abort-code
// vocabulary to the generic signature-driven argument vector this protocol
// uses.
package debug

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/wirerealm/wlcore/objects"
	"github.com/wirerealm/wlcore/proto"
)

// Tracer receives one notification per message crossing the wire in
// either direction. isRequest tells the formatter which of iface's two
// message vectors (Requests or Events) opcode indexes into — the
// direction arrow alone doesn't determine this, since a server's Sent
// call is an event and a server's Received call is a request, the
// reverse of a client's. Implementations must not block or retain args
// beyond the call.
type Tracer interface {
	Sent(receiver objects.ID, iface *proto.Interface, opcode proto.Opcode, args []proto.Arg, isRequest bool)
	Received(receiver objects.ID, iface *proto.Interface, opcode proto.Opcode, args []proto.Arg, isRequest bool)
}

// ColorTracer prints one line per message: "-> " for sent, "<- " for
// received, coloured to stand out against terminal logging (spec §8
// scenario 6: "every sent and received message produces exactly one
// trace line with the decoded argument tuple").
type ColorTracer struct {
	out     io.Writer
	sent    *color.Color
	received *color.Color
}

// NewColorTracer builds a tracer writing to w. Pass os.Stderr to match
// the usual WAYLAND_DEBUG convention.
func NewColorTracer(w io.Writer) *ColorTracer {
	return &ColorTracer{
		out:      w,
		sent:     color.New(color.FgCyan),
		received: color.New(color.FgYellow),
	}
}

// FromEnv returns a tracer writing to stderr if WAYLAND_DEBUG is set in
// the environment, and nil otherwise. It returns the Tracer interface
// rather than *ColorTracer so that a nil result is a true nil interface
// at the call site, not an interface wrapping a nil pointer.
func FromEnv() Tracer {
	if os.Getenv("WAYLAND_DEBUG") == "" {
		return nil
	}
	return NewColorTracer(os.Stderr)
}

func (t *ColorTracer) Sent(receiver objects.ID, iface *proto.Interface, opcode proto.Opcode, args []proto.Arg, isRequest bool) {
	t.line(t.sent, "->", receiver, iface, opcode, args, isRequest)
}

func (t *ColorTracer) Received(receiver objects.ID, iface *proto.Interface, opcode proto.Opcode, args []proto.Arg, isRequest bool) {
	t.line(t.received, "<-", receiver, iface, opcode, args, isRequest)
}

func (t *ColorTracer) line(c *color.Color, arrow string, receiver objects.ID, iface *proto.Interface, opcode proto.Opcode, args []proto.Arg, isRequest bool) {
	name := fmt.Sprintf("opcode %d", opcode)
	var sig string
	if isRequest && int(opcode) < len(iface.Requests) {
		name = iface.Requests[opcode].Name
		sig = iface.Requests[opcode].Signature
	} else if !isRequest && int(opcode) < len(iface.Events) {
		name = iface.Events[opcode].Name
		sig = iface.Events[opcode].Signature
	}
	_, _ = c.Fprintf(t.out, "%s %s@%d.%s(%s)\n", arrow, iface.Name, uint32(receiver), name, formatArgs(sig, args))
}

func formatArgs(sig string, args []proto.Arg) string {
	parts := make([]string, 0, len(args))
	for i, a := range args {
		var code byte
		if i < len(sig) {
			code = sig[i]
		}
		switch code {
		case 'i':
			parts = append(parts, fmt.Sprintf("%d", a.Int))
		case 'u':
			parts = append(parts, fmt.Sprintf("%d", a.Uint))
		case 'f':
			parts = append(parts, fmt.Sprintf("%g", a.Fixed.Float()))
		case 's':
			if a.Str == nil {
				parts = append(parts, "nil")
			} else {
				parts = append(parts, fmt.Sprintf("%q", *a.Str))
			}
		case 'o':
			parts = append(parts, a.Object.String())
		case 'n':
			parts = append(parts, "new_id "+a.NewID.String())
		case 'a':
			parts = append(parts, fmt.Sprintf("array[%d]", len(a.Array)))
		case 'h':
			parts = append(parts, fmt.Sprintf("fd %d", a.FD))
		default:
			parts = append(parts, "?")
		}
	}
	return strings.Join(parts, ", ")
}
