// Package host declares the contract between the aggregation core and the
// embedding measurement framework. Everything in this package is an
// interface or a plain data type; the core never constructs a concrete Host,
// it only consumes one supplied by the embedder.
package host

import "context"

// ThreadID identifies the logical thread an event fired on. The embedding
// framework is responsible for assigning stable ids to its own OS threads
// (or goroutines) so the core can route each snapshot to the right
// per-thread database; the core never inspects Go's own scheduler.
type ThreadID uint64

// Kind identifies the value type carried by an Attribute.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindAddress
	KindInt
	KindUint
	KindBool
	KindDouble
	KindNode // a type-tag for a framework "node" value
)

// AttributeID is a stable numeric identifier for an Attribute, assigned by
// the host.
type AttributeID uint64

// NodeID is a stable numeric identifier for a context-tree Node, assigned by
// the host. The zero value is never a valid node id issued by a real host;
// callers use it as an internal "absent" sentinel.
type NodeID uint64

// Attribute is an opaque handle for a measurement dimension.
type Attribute struct {
	ID   AttributeID
	Name string
	Kind Kind
}

// AttributeFlags configures attribute creation. The core only ever creates
// aggregate/statistics attributes, so the flag set is intentionally small.
type AttributeFlags struct {
	SkipEvents bool // do not fire process-attribute events for values of this attribute
}

// Node is an immutable, host-owned entry in the context tree.
type Node struct {
	ID        NodeID
	Attribute AttributeID
	Value     Value
	Parent    NodeID
	HasParent bool
}

// Value is a typed value as carried by a Node or an immediate Entry.
type Value struct {
	Kind Kind

	Str    string
	Bytes  []byte // KindAddress
	Int    int64
	Uint   uint64
	Bool   bool
	Double float64
	Node   NodeID // KindNode
}

// AsUint64 reinterprets the value's payload as an unsigned 64-bit integer,
// per the key encoding rules of §3/§4E. Int, Uint, Bool, Double and Node
// payloads are packed bitwise-identically to their native representation;
// String, Address and other kinds have no 64-bit form and yield the Uint
// field (0 unless set), so distinct strings pack to the same value.
func (v Value) AsUint64() uint64 {
	switch v.Kind {
	case KindInt:
		return uint64(v.Int)
	case KindUint:
		return v.Uint
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindDouble:
		return doubleBits(v.Double)
	case KindNode:
		return uint64(v.Node)
	default:
		return v.Uint
	}
}

// ValueFromUint64 reconstructs a Value of the given Kind from its packed
// 64-bit representation, inverting AsUint64.
func ValueFromUint64(kind Kind, bits uint64) Value {
	switch kind {
	case KindInt:
		return Value{Kind: kind, Int: int64(bits)}
	case KindUint:
		return Value{Kind: kind, Uint: bits}
	case KindBool:
		return Value{Kind: kind, Bool: bits != 0}
	case KindDouble:
		return Value{Kind: kind, Double: doubleFromBits(bits)}
	case KindNode:
		return Value{Kind: kind, Node: NodeID(bits)}
	default:
		return Value{Kind: kind, Uint: bits}
	}
}

// Entry is one immediate (attribute, value) pair carried directly in a
// Snapshot, as opposed to being reachable through a context-tree Node.
type Entry struct {
	Attribute AttributeID
	Value     Value
}

// Snapshot is one measurement event delivered to the core.
type Snapshot struct {
	Nodes   []NodeID
	Entries []Entry
}

// Host is everything the core needs from the embedding measurement
// framework. Implementations must be safe for concurrent use by multiple
// logical threads, except where individually noted.
type Host interface {
	// GetAttribute resolves an attribute by name, if it has been created.
	GetAttribute(name string) (Attribute, bool)

	// CreateAttribute registers a new attribute with the host.
	CreateAttribute(name string, kind Kind, flags AttributeFlags) (Attribute, error)

	// MakeTreeEntry asks the host to synthesize a node representing the
	// given parent-to-child chain rooted at root. Returns ok=false if the
	// host declines (ErrHostRejection at the call site).
	MakeTreeEntry(chain []NodeID, root NodeID) (NodeID, bool)

	// Node resolves a node by id.
	Node(id NodeID) (Node, bool)

	// IsSignalContext reports whether the calling goroutine may currently be
	// executing on behalf of an asynchronous signal handler. When true, the
	// core must not allocate.
	IsSignalContext() bool

	// EmitReducedSnapshot delivers one synthetic, reduced snapshot produced
	// during a flush.
	EmitReducedSnapshot(Snapshot)

	// OnAttributeCreated subscribes fn to fire whenever any attribute (not
	// just ones this core created) is registered with the host.
	OnAttributeCreated(fn func(Attribute))

	// OnPostInit subscribes fn to fire once, after the host has finished its
	// own initialization.
	OnPostInit(fn func())

	// OnProcessSnapshot subscribes fn to fire for every ingest event, tagged
	// with the logical thread it occurred on.
	OnProcessSnapshot(fn func(ThreadID, Snapshot))

	// OnFlush subscribes fn to fire when the host requests a flush.
	OnFlush(fn func(context.Context))

	// OnFinish subscribes fn to fire once, when the host is shutting down.
	OnFinish(fn func())
}
