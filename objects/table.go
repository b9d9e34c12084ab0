// Package objects implements the sparse id -> record registry shared by the
// client and server endpoints: a dense vector for the client-allocated
// range and one for the server-allocated range, with zombie bookkeeping
// for client-side destroy/delete_id handshakes.
//
// Grounded on the teacher's pkg/od object-dictionary index, generalized
// from a fixed compile-time index space to the two open-ended id ranges
// the wire protocol defines.
package objects

import "fmt"

// ID is a 32-bit wire object identifier. Zero is the nil sentinel.
type ID uint32

// ServerIDStart is the first id in the server-allocated range (spec §3).
const ServerIDStart ID = 0xFF000000

// IsServerSide reports whether id falls in the server-allocated range.
func (id ID) IsServerSide() bool { return id >= ServerIDStart }

func (id ID) String() string { return fmt.Sprintf("#%d", uint32(id)) }

// State is the lifecycle state of an id-map slot.
type State uint8

const (
	// Free means the id is unused and available for allocation.
	Free State = iota
	// Live means the id names a registered record.
	Live
	// Zombie means a client-allocated id was locally destroyed and is
	// waiting for the peer's delete_id acknowledgement; it still
	// absorbs inbound messages silently. Never valid on the server side.
	Zombie
)

// Record is anything the id map can hold: a client proxy or a server
// resource. The map itself is agnostic to what Record actually is; callers
// type-assert it back to their concrete proxy/resource type.
type Record interface {
	// ObjectID returns the id this record is registered under.
	ObjectID() ID
}

type slot struct {
	state  State
	record Record
}

// Table is the id -> record registry for one endpoint (client or server).
// Not safe for concurrent use: the core is single-threaded (spec §5), the
// endpoint is the sole owner.
type Table struct {
	low  []slot // client range, index = id-1
	high []slot // server range, index = id-ServerIDStart
}

// NewTable returns an empty id table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) vector(side bool) *[]slot {
	if side {
		return &t.high
	}
	return &t.low
}

func toIndex(id ID, side bool) int {
	if side {
		return int(id - ServerIDStart)
	}
	return int(id - 1)
}

func fromIndex(idx int, side bool) ID {
	if side {
		return ServerIDStart + ID(idx)
	}
	return ID(idx + 1)
}

// InsertNew allocates the lowest free id on the given side (serverSide
// selects the high range) and stores record there.
func (t *Table) InsertNew(serverSide bool, record Record) ID {
	vec := t.vector(serverSide)
	for i := range *vec {
		if (*vec)[i].state == Free {
			(*vec)[i] = slot{state: Live, record: record}
			return fromIndex(i, serverSide)
		}
	}
	*vec = append(*vec, slot{state: Live, record: record})
	return fromIndex(len(*vec)-1, serverSide)
}

// InsertAt stores record at a specific, peer-nominated id. It fails if the
// slot is not Free (live or zombie).
func (t *Table) InsertAt(id ID, record Record) error {
	if id == 0 {
		return fmt.Errorf("objects: id 0 is the nil sentinel")
	}
	side := id.IsServerSide()
	vec := t.vector(side)
	idx := toIndex(id, side)
	for len(*vec) <= idx {
		*vec = append(*vec, slot{})
	}
	if (*vec)[idx].state != Free {
		return fmt.Errorf("objects: id %s is not free (state=%d)", id, (*vec)[idx].state)
	}
	(*vec)[idx] = slot{state: Live, record: record}
	return nil
}

// Lookup returns the current state and, if live, the record at id.
func (t *Table) Lookup(id ID) (State, Record) {
	if id == 0 {
		return Free, nil
	}
	side := id.IsServerSide()
	vec := t.vector(side)
	idx := toIndex(id, side)
	if idx < 0 || idx >= len(*vec) {
		return Free, nil
	}
	s := (*vec)[idx]
	return s.state, s.record
}

// Zombify transitions a live, client-side id to Zombie. It is an error to
// zombify a server-side id (those free immediately, spec §4.8) or an id
// that is not currently live.
func (t *Table) Zombify(id ID) error {
	if id.IsServerSide() {
		return fmt.Errorf("objects: server-allocated id %s cannot become a zombie", id)
	}
	idx := toIndex(id, false)
	if idx < 0 || idx >= len(t.low) || t.low[idx].state != Live {
		return fmt.Errorf("objects: id %s is not live", id)
	}
	t.low[idx] = slot{state: Zombie}
	return nil
}

// Remove frees a slot outright: used on delete_id acknowledgement for
// client zombies, and on direct destroy for server-allocated resources.
func (t *Table) Remove(id ID) {
	side := id.IsServerSide()
	vec := t.vector(side)
	idx := toIndex(id, side)
	if idx < 0 || idx >= len(*vec) {
		return
	}
	(*vec)[idx] = slot{}
}

// Range calls fn for every live record on the given side, in ascending id
// order.
func (t *Table) Range(serverSide bool, fn func(ID, Record)) {
	vec := t.vector(serverSide)
	for i, s := range *vec {
		if s.state == Live {
			fn(fromIndex(i, serverSide), s.record)
		}
	}
}
