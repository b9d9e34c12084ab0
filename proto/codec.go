package proto

import (
	"fmt"

	"github.com/wirerealm/wlcore/objects"
)

// NewObjectFunc builds the record for an object a peer just introduced via
// an 'n' argument. iface is the new object's interface descriptor (taken
// from the MessageSignature; nil when the message's signature leaves the
// interface dynamic, e.g. the display's bind request, which names it via a
// preceding string argument instead). id is the nominated wire id.
// argsSoFar holds every argument already decoded earlier in this same
// message — enough for a caller like bind to read back the interface name
// and version it just decoded before the 'n' was reached. Returning an
// error aborts the decode with ErrNoMemory semantics.
type NewObjectFunc func(id objects.ID, iface *Interface, argsSoFar []Arg) (objects.Record, error)

// PopFDFunc pops the next in-flight file descriptor from the connection's
// inbound fd ring. ok is false if none are queued.
type PopFDFunc func() (fd int, ok bool)

// padded4 rounds n up to the next multiple of 4.
func padded4(n int) int {
	return (n + 3) &^ 3
}

// Encode marshals receiver/opcode/args under sig into a complete wire
// message: header followed by payload. 'n' arguments write Arg.NewID as
// given — by the time Encode is called the caller (the proxy/resource
// factory) has already allocated and registered that id, satisfying
// spec §4.4's "registered before the message is buffered".
//
// Returns the encoded bytes and the file descriptors ('h' arguments) that
// must be sent as ancillary data alongside them.
func Encode(receiver objects.ID, opcode Opcode, sig string, args []Arg) (msg []byte, fds []int, err error) {
	if len(args) != len(sig) {
		return nil, nil, fmt.Errorf("%w: signature %q wants %d args, got %d", ErrInvalidMethod, sig, len(sig), len(args))
	}

	payload := make([]byte, 0, 32)
	for i, code := range sig {
		a := args[i]
		switch code {
		case 'i':
			payload = appendUint32(payload, uint32(a.Int))
		case 'u':
			payload = appendUint32(payload, a.Uint)
		case 'f':
			payload = appendUint32(payload, uint32(a.Fixed))
		case 'o':
			payload = appendUint32(payload, uint32(a.Object))
		case 'n':
			payload = appendUint32(payload, uint32(a.NewID))
		case 's':
			payload = appendBytesWithLength(payload, stringBytes(a.Str))
		case 'a':
			payload = appendBytesWithLength(payload, a.Array)
		case 'h':
			fds = append(fds, a.FD)
		default:
			return nil, nil, fmt.Errorf("%w: unknown signature code %q", ErrInvalidMethod, code)
		}
	}

	size := HeaderSize + len(payload)
	msg = make([]byte, size)
	PutHeader(msg, receiver, opcode, uint32(size))
	copy(msg[HeaderSize:], payload)
	return msg, fds, nil
}

// stringBytes returns the wire bytes for an 's' argument: nil yields the
// null string (zero bytes, length field 0); a non-nil string is written
// with its trailing NUL included in the length.
func stringBytes(s *string) []byte {
	if s == nil {
		return nil
	}
	b := make([]byte, len(*s)+1)
	copy(b, *s)
	return b
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	wireOrder.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBytesWithLength(dst []byte, b []byte) []byte {
	dst = appendUint32(dst, uint32(len(b)))
	dst = append(dst, b...)
	pad := padded4(len(b)) - len(b)
	for i := 0; i < pad; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// Decode demarshals payload (the message bytes after the 8-byte header,
// i.e. exactly size-HeaderSize bytes) according to sig.
//
// table resolves 'o' references and registers 'n' objects via newObject.
// popFD supplies descriptors for 'h' arguments from the connection's
// inbound fd ring. Any violation — truncated payload, an out-of-range
// string/array length, an empty fd ring, a dangling object id — is a
// typed error (ErrInvalidMethod or ErrInvalidObject), never a guess.
//
// newIface is the interface of the object a 'n' argument introduces (nil
// if sig contains no 'n'); the dispatcher already knows it from the
// resolved MessageSignature and passes it through unchanged.
//
// On error, Decode still returns the args successfully decoded before the
// failure point, truncated to exactly that many entries (rather than the
// full, zero-padded slice) so a caller can tell "decoded" apart from
// "never reached" without guessing from a zero value — load-bearing for
// 'h' arguments, where a zero Arg.FD is indistinguishable from an unset
// one. If sig contains an 'n' earlier than where decoding stopped, that
// slot's NewID is already registered in table, and the dispatcher (step 5
// of its loop) must table.Remove it; if it contains an 'h' earlier, that
// descriptor is already popped from the inbound fd ring and the dispatcher
// must close it — objects.Table and the fd ring have no transaction
// support, by design, so the caller owns both rollbacks.
func Decode(sig string, payload []byte, table *objects.Table, popFD PopFDFunc, newObject NewObjectFunc, newIface *Interface) ([]Arg, error) {
	args := make([]Arg, len(sig))
	off := 0

	need := func(n int) error {
		if off+n > len(payload) {
			return fmt.Errorf("%w: need %d more bytes at offset %d, have %d", ErrInvalidMethod, n, off, len(payload))
		}
		return nil
	}

	for i, code := range sig {
		switch code {
		case 'i':
			if err := need(4); err != nil {
				return args[:i], err
			}
			args[i].Int = int32(wireOrder.Uint32(payload[off:]))
			off += 4
		case 'u':
			if err := need(4); err != nil {
				return args[:i], err
			}
			args[i].Uint = wireOrder.Uint32(payload[off:])
			off += 4
		case 'f':
			if err := need(4); err != nil {
				return args[:i], err
			}
			args[i].Fixed = Fixed(wireOrder.Uint32(payload[off:]))
			off += 4
		case 'o':
			if err := need(4); err != nil {
				return args[:i], err
			}
			id := objects.ID(wireOrder.Uint32(payload[off:]))
			off += 4
			if id != 0 {
				state, _ := table.Lookup(id)
				if state != objects.Live {
					return args[:i], fmt.Errorf("%w: object %s is not live", ErrInvalidObject, id)
				}
			}
			args[i].Object = id
		case 'n':
			if err := need(4); err != nil {
				return args[:i], err
			}
			id := objects.ID(wireOrder.Uint32(payload[off:]))
			off += 4
			record, err := newObject(id, newIface, args[:i])
			if err != nil {
				return args[:i], fmt.Errorf("%w: %v", ErrNoMemory, err)
			}
			if err := table.InsertAt(id, record); err != nil {
				return args[:i], fmt.Errorf("%w: %v", ErrNoMemory, err)
			}
			args[i].NewID = id
		case 's':
			n, err := readLength(payload, &off)
			if err != nil {
				return args[:i], err
			}
			if n == 0 {
				args[i].Str = nil
				continue
			}
			if err := need(padded4(n)); err != nil {
				return args[:i], err
			}
			s := string(payload[off : off+n-1]) // drop trailing NUL
			args[i].Str = &s
			off += padded4(n)
		case 'a':
			n, err := readLength(payload, &off)
			if err != nil {
				return args[:i], err
			}
			if err := need(padded4(n)); err != nil {
				return args[:i], err
			}
			b := make([]byte, n)
			copy(b, payload[off:off+n])
			args[i].Array = b
			off += padded4(n)
		case 'h':
			fd, ok := popFD()
			if !ok {
				return args[:i], fmt.Errorf("%w: no file descriptor available for 'h' argument", ErrInvalidMethod)
			}
			args[i].FD = fd
		default:
			return args[:i], fmt.Errorf("%w: unknown signature code %q", ErrInvalidMethod, code)
		}
	}
	return args, nil
}

func readLength(payload []byte, off *int) (int, error) {
	if *off+4 > len(payload) {
		return 0, fmt.Errorf("%w: truncated length field at offset %d", ErrInvalidMethod, *off)
	}
	n := int(wireOrder.Uint32(payload[*off:]))
	*off += 4
	return n, nil
}
