// Package proto implements the signature-driven wire codec: message
// headers, typed argument marshalling/demarshalling, and the static
// interface descriptors the codec validates messages against.
//
// Grounded on the teacher's pkg/sdo (common.go's state/abort-code tables,
// io.go's cursor-based reader) and pkg/od/encoding.go's per-datatype
// encode/decode switch, generalized from CANopen's fixed object-dictionary
// datatypes to the wire protocol's `i u f s o n a h` signature alphabet.
package proto

import "fmt"

// Opcode is a request or event opcode: the low 16 bits of a message's
// second header word.
type Opcode uint16

// Fixed is a 24.8 fixed-point value, the wire representation of the `f`
// signature code.
type Fixed int32

// FixedFromFloat converts a float64 to its nearest 24.8 fixed-point
// representation.
func FixedFromFloat(v float64) Fixed {
	return Fixed(int32(v * 256))
}

// Float returns the floating-point value of a Fixed.
func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// MessageSignature describes one request or event: its name, its wire
// argument signature, and, if the signature contains exactly one `n` code,
// the interface of the object it introduces. NewInterface is left nil for a
// handful of signatures (the display's bind request) whose new object's
// interface is named dynamically by a preceding string argument rather
// than fixed at compile time; NewObjectFunc receives the decoded prefix in
// that case and resolves it itself.
type MessageSignature struct {
	Name         string
	Signature    string
	NewInterface *Interface
}

// Interface is a static, compile-time-known interface descriptor: name,
// version, and the ordered request/event tables the codec and dispatcher
// validate opcodes against.
type Interface struct {
	Name     string
	Version  uint32
	Requests []MessageSignature
	Events   []MessageSignature
}

// Request looks up a request by opcode, failing if out of range.
func (i *Interface) Request(op Opcode) (MessageSignature, error) {
	if int(op) >= len(i.Requests) {
		return MessageSignature{}, fmt.Errorf("%w: interface %q has no request opcode %d", ErrInvalidMethod, i.Name, op)
	}
	return i.Requests[op], nil
}

// Event looks up an event by opcode, failing if out of range.
func (i *Interface) Event(op Opcode) (MessageSignature, error) {
	if int(op) >= len(i.Events) {
		return MessageSignature{}, fmt.Errorf("%w: interface %q has no event opcode %d", ErrInvalidMethod, i.Name, op)
	}
	return i.Events[op], nil
}
