package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/wirerealm/wlcore/objects"
)

// HeaderSize is the fixed 8-byte message header: receiver id, then
// (size<<16)|opcode (spec §6).
const HeaderSize = 8

// wireOrder is the protocol's byte order: native, since the protocol is
// explicitly single-host (spec §6 — "native byte order on little-endian
// hosts"). Using the platform's native order keeps intra-host framing
// free of byte-swaps.
var wireOrder = binary.NativeEndian

// PutHeader writes the 8-byte header for a message of the given total size
// (header + payload, already validated as a multiple of 4).
func PutHeader(buf []byte, receiver objects.ID, opcode Opcode, size uint32) {
	wireOrder.PutUint32(buf[0:4], uint32(receiver))
	wireOrder.PutUint32(buf[4:8], (size<<16)|uint32(opcode))
}

// ParseHeader reads the 8-byte header at the start of buf.
func ParseHeader(buf []byte) (receiver objects.ID, opcode Opcode, size uint32, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFraming, HeaderSize, len(buf))
	}
	receiver = objects.ID(wireOrder.Uint32(buf[0:4]))
	second := wireOrder.Uint32(buf[4:8])
	opcode = Opcode(second & 0xFFFF)
	size = second >> 16
	if size%4 != 0 {
		return 0, 0, 0, fmt.Errorf("%w: size %d is not a multiple of 4", ErrFraming, size)
	}
	if size < HeaderSize {
		return 0, 0, 0, fmt.Errorf("%w: size %d smaller than header", ErrFraming, size)
	}
	return receiver, opcode, size, nil
}
