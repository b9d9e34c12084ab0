package proto

import "github.com/wirerealm/wlcore/objects"

// Arg is one decoded or to-be-encoded argument. Which field is meaningful
// is determined by the corresponding signature character at the same
// position — the struct itself carries no type tag.
type Arg struct {
	Int    int32      // 'i'
	Uint   uint32     // 'u'
	Fixed  Fixed      // 'f'
	Str    *string    // 's' — nil encodes/decodes as the null string (length 0, no bytes)
	Object objects.ID // 'o' — 0 is null
	NewID  objects.ID // 'n' — encode: caller-supplied, already-registered id; decode: nominated id extracted from the wire
	Array  []byte     // 'a'
	FD     int        // 'h'
}

// IntArg, UintArg, ... are small constructors for building an argument
// vector without field-name noise at call sites.
func IntArg(v int32) Arg          { return Arg{Int: v} }
func UintArg(v uint32) Arg        { return Arg{Uint: v} }
func FixedArg(v Fixed) Arg        { return Arg{Fixed: v} }
func StringArg(v string) Arg      { return Arg{Str: &v} }
func NullStringArg() Arg          { return Arg{Str: nil} }
func ObjectArg(id objects.ID) Arg { return Arg{Object: id} }
func NewIDArg(id objects.ID) Arg  { return Arg{NewID: id} }
func ArrayArg(v []byte) Arg       { return Arg{Array: v} }
func FDArg(fd int) Arg            { return Arg{FD: fd} }
