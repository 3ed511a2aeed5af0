package storage

import (
	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
)

// Node is the closed read interface an entity exposes to the datastore.
// The graph layer implements it; no reflection is involved anywhere.
type Node interface {
	UUID() uuid.UUID
	TypeTag() string
	PropertyKeys() []string
	Property(key string) (value.Value, bool)
	ItemKeys() []string
	Item(key string) Node
	RelationshipKeys() []string
	Relationship(key string) []Node
	DataKeys() []string
	Data(key string) []byte
}

// NodeSnapshot is a point-in-time copy of a Node's persistent state, taken
// on the calling goroutine before a write is deferred to the worker. The
// worker only ever touches snapshots, never live entities.
type NodeSnapshot struct {
	UUID          uuid.UUID
	Type          string
	Properties    map[string]value.Value
	Items         map[string]*NodeSnapshot
	Relationships map[string][]*NodeSnapshot
	Data          map[string][]byte
}

// Snapshot deep-copies a node and its owned subtree.
func Snapshot(n Node) *NodeSnapshot {
	s := &NodeSnapshot{
		UUID: n.UUID(),
		Type: n.TypeTag(),
	}
	if keys := n.PropertyKeys(); len(keys) > 0 {
		s.Properties = make(map[string]value.Value, len(keys))
		for _, k := range keys {
			if v, ok := n.Property(k); ok {
				s.Properties[k] = v
			}
		}
	}
	if keys := n.ItemKeys(); len(keys) > 0 {
		s.Items = make(map[string]*NodeSnapshot, len(keys))
		for _, k := range keys {
			if child := n.Item(k); child != nil {
				s.Items[k] = Snapshot(child)
			}
		}
	}
	if keys := n.RelationshipKeys(); len(keys) > 0 {
		s.Relationships = make(map[string][]*NodeSnapshot, len(keys))
		for _, k := range keys {
			members := n.Relationship(k)
			snaps := make([]*NodeSnapshot, len(members))
			for i, child := range members {
				snaps[i] = Snapshot(child)
			}
			s.Relationships[k] = snaps
		}
	}
	if keys := n.DataKeys(); len(keys) > 0 {
		s.Data = make(map[string][]byte, len(keys))
		for _, k := range keys {
			if d := n.Data(k); d != nil {
				s.Data[k] = append([]byte(nil), d...)
			}
		}
	}
	return s
}

// Backend is the mutating half of the datastore contract at snapshot level.
// Memory and SQLite implement it with identical semantics; only the SQLite
// backend survives process restart.
type Backend interface {
	// SetRoot writes the node subtree if absent and registers it as the
	// refcount-exempt graph anchor.
	SetRoot(n *NodeSnapshot) error

	// WriteNode writes the node subtree if absent without linking it to a
	// parent. The node's own refcount is untouched; linking is the caller's
	// next step.
	WriteNode(n *NodeSnapshot) error

	// SetType persists the polymorphic type tag.
	SetType(uid uuid.UUID, tag string) error

	// SetProperty upserts one scalar property.
	SetProperty(uid uuid.UUID, key string, v value.Value) error

	// SetItem persists a single optional child slot: creates the child's
	// node if absent (cascading a full subtree write), links it, and
	// increments its store refcount.
	SetItem(parent uuid.UUID, key string, child *NodeSnapshot) error

	// ClearItem unlinks the slot and decrements the child's refcount,
	// cascading deletion at zero. Idempotent: clearing an empty slot is a
	// no-op.
	ClearItem(parent uuid.UUID, key string) error

	// InsertItem inserts a relationship member before index, renumbering
	// trailing rows via the two-phase negative-range shift.
	InsertItem(parent uuid.UUID, key string, child *NodeSnapshot, index int) error

	// RemoveItem removes the relationship member at index, shifting
	// trailing rows down and decrementing the child's refcount.
	RemoveItem(parent uuid.UUID, key string, index int) error

	// SetData upserts one bulk-data slot.
	SetData(uid uuid.UUID, key string, data []byte) error

	// ClearData removes one bulk-data slot. Idempotent.
	ClearData(uid uuid.UUID, key string) error

	// Disconnect turns every subsequent mutating call into a no-op. Used
	// during shutdown to avoid racing a closing connection.
	Disconnect()

	Close() error
}

// Reader is the read half of the datastore contract, used by the factory
// to reconstruct the graph and by export/verify tooling.
type Reader interface {
	// Root returns the anchor UUID, or ok=false when the store is empty.
	Root() (uid uuid.UUID, ok bool, err error)

	// UUIDs lists every node in the store.
	UUIDs() ([]uuid.UUID, error)

	// TypeTag returns the node's type tag, "" when the node is type-less.
	TypeTag(uid uuid.UUID) (string, error)

	// RefCount returns the node's store-level refcount.
	RefCount(uid uuid.UUID) (int, error)

	Properties(uid uuid.UUID) (map[string]value.Value, error)
	Items(uid uuid.UUID) (map[string]uuid.UUID, error)
	RelationshipKeys(uid uuid.UUID) ([]string, error)

	// Relationship returns the member UUIDs in stored index order.
	Relationship(uid uuid.UUID, key string) ([]uuid.UUID, error)

	DataKeys(uid uuid.UUID) ([]string, error)
	Data(uid uuid.UUID, key string) ([]byte, error)
}

// Store combines both halves; each backend satisfies it.
type Store interface {
	Backend
	Reader
}

// Writer is the fire-and-forget contract the graph layer mutates through.
// It accepts live Nodes and snapshots them before anything leaves the
// calling goroutine.
type Writer interface {
	SetRoot(n Node) error
	WriteNode(n Node) error
	SetType(n Node, tag string) error
	SetProperty(n Node, key string, v value.Value) error
	SetItem(parent Node, key string, child Node) error
	ClearItem(parent Node, key string) error
	InsertItem(parent Node, key string, child Node, index int) error
	RemoveItem(parent Node, key string, index int) error
	SetData(n Node, key string, data []byte) error
	ClearData(n Node, key string) error
	Disconnect()
	Close() error
}
