package client

import "github.com/hashicorp/go-uuid"

// Global mirrors one advertised (name, interface, version) triple from
// the server's registry (spec §3).
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// GlobalListener is notified once per global currently known (on
// registration, as a replay) and once per subsequent global/global_remove
// event. removed distinguishes an addition from a removal.
type GlobalListener func(g Global, removed bool)

// registry is the client's mirror of the server's global set plus its
// registered listeners (spec §3's "late listener is replayed the entire
// current set").
type registry struct {
	globals   map[uint32]Global
	listeners map[string]GlobalListener
}

func newRegistry() *registry {
	return &registry{
		globals:   make(map[uint32]Global),
		listeners: make(map[string]GlobalListener),
	}
}

func (r *registry) add(g Global) {
	r.globals[g.Name] = g
	for _, fn := range r.listeners {
		fn(g, false)
	}
}

func (r *registry) remove(name uint32) {
	g, ok := r.globals[name]
	if !ok {
		return
	}
	delete(r.globals, name)
	for _, fn := range r.listeners {
		fn(g, true)
	}
}

// listen registers fn, replaying every currently-known global before
// returning its opaque key. The returned key is used with unlisten. Keys
// are opaque UUIDs (github.com/hashicorp/go-uuid, sourced from
// nabbar-golib's go.mod in the example pack) rather than sequential
// integers, so a caller can never guess another's key.
func (r *registry) listen(fn GlobalListener) (string, error) {
	key, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	for _, g := range r.globals {
		fn(g, false)
	}
	r.listeners[key] = fn
	return key, nil
}

func (r *registry) unlisten(key string) {
	delete(r.listeners, key)
}
