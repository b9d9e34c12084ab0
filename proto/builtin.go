package proto

// The display singleton (wire id 1 on every connection) and the callback
// object sync/frame introduce are the only interfaces the core itself
// knows about; every other interface is an external collaborator the
// application supplies its own *Interface value for (spec §1 Out of
// Scope). Opcode order below is wire-significant: it is the index each
// Interface.Request/Event lookup uses.
var (
	// CallbackInterface: sync/frame() hand back an id of this type; its
	// one event fires once and the object is then destroyed by the side
	// that sent the event, which announces it with delete_id.
	CallbackInterface = &Interface{
		Name:    "wl_callback",
		Version: 1,
		Events: []MessageSignature{
			{Name: "done", Signature: "u"}, // data: an opaque serial (e.g. frame time)
		},
	}

	// DisplayInterface is the built-in singleton every connection
	// bootstraps against at id 1.
	DisplayInterface = &Interface{
		Name:    "wl_display",
		Version: 1,
		Requests: []MessageSignature{
			{Name: "bind", Signature: "usun"}, // name, interface, version, new_id — NewInterface left nil: see MessageSignature doc
			{Name: "sync", Signature: "n", NewInterface: CallbackInterface},
			{Name: "frame", Signature: "n", NewInterface: CallbackInterface},
		},
		Events: []MessageSignature{
			{Name: "error", Signature: "ous"},          // object, code, message
			{Name: "global", Signature: "usu"},         // name, interface, version
			{Name: "global_remove", Signature: "u"},    // name
			{Name: "delete_id", Signature: "u"},        // id
			{Name: "invalid_object", Signature: "u"},   // id
			{Name: "invalid_method", Signature: "uu"},  // id, opcode
			{Name: "no_memory", Signature: ""},
			{Name: "range", Signature: "uu"}, // base, count
		},
	}
)

// Display request opcodes (index into DisplayInterface.Requests).
const (
	DisplayBind Opcode = iota
	DisplaySync
	DisplayFrame
)

// Display event opcodes (index into DisplayInterface.Events).
const (
	DisplayError Opcode = iota
	DisplayGlobal
	DisplayGlobalRemove
	DisplayDeleteID
	DisplayInvalidObject
	DisplayInvalidMethod
	DisplayNoMemory
	DisplayRange
)

// CallbackDone is the callback interface's only event opcode.
const CallbackDone Opcode = 0
