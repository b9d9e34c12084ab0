package proto

import "errors"

// Error kinds from spec §7. Each is a distinct sentinel so callers can
// errors.Is against the kind regardless of the wrapped detail.
var (
	// ErrInvalidObject: message addressed to an unknown or zombie id.
	ErrInvalidObject = errors.New("proto: invalid object")
	// ErrInvalidMethod: opcode out of range, or a signature violation
	// while decoding (short message, bad string/array length, ...).
	ErrInvalidMethod = errors.New("proto: invalid method")
	// ErrNoMemory: allocation failure while handling a message.
	ErrNoMemory = errors.New("proto: no memory")
	// ErrFraming: truncated header or a size field that isn't a
	// multiple of 4.
	ErrFraming = errors.New("proto: malformed message framing")
)

// Code is the wire protocol-error code carried by wl_display.error (spec
// §6). The invalid_object, invalid_method and no_memory events carry no
// code: they carry the offending id, the offending opcode, or nothing.
type Code uint32

const (
	CodeInvalidObject  Code = 0
	CodeInvalidMethod  Code = 1
	CodeNoMemory       Code = 2
	CodeImplementation Code = 3
)

var codeDescription = map[Code]string{
	CodeInvalidObject:  "server couldn't find object",
	CodeInvalidMethod:  "method doesn't exist on the specified interface",
	CodeNoMemory:       "server is out of memory",
	CodeImplementation: "implementation error in compositor",
}

func (c Code) String() string {
	if s, ok := codeDescription[c]; ok {
		return s
	}
	return "unknown protocol error"
}
