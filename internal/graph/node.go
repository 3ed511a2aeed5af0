package graph

import (
	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// entityNode adapts *Entity to storage.Node. The storage layer snapshots
// through this interface on the model goroutine, so it reads structural
// state without locking.
type entityNode struct {
	e *Entity
}

var _ storage.Node = entityNode{}

func (n entityNode) UUID() uuid.UUID { return n.e.uid }

func (n entityNode) TypeTag() string { return n.e.typeTag }

func (n entityNode) PropertyKeys() []string { return sortedKeys(n.e.properties) }

func (n entityNode) Property(key string) (value.Value, bool) {
	v, ok := n.e.properties[key]
	return v, ok
}

func (n entityNode) ItemKeys() []string { return sortedKeys(n.e.items) }

func (n entityNode) Item(key string) storage.Node {
	child, ok := n.e.items[key]
	if !ok {
		return nil
	}
	return entityNode{child}
}

func (n entityNode) RelationshipKeys() []string { return sortedKeys(n.e.relationships) }

func (n entityNode) Relationship(key string) []storage.Node {
	rel, ok := n.e.relationships[key]
	if !ok {
		return nil
	}
	out := make([]storage.Node, len(rel.members))
	for i, child := range rel.members {
		out[i] = entityNode{child}
	}
	return out
}

func (n entityNode) DataKeys() []string { return sortedKeys(n.e.data) }

func (n entityNode) Data(key string) []byte { return n.e.data[key] }
