package graph

import (
	"github.com/cairnstore/cairn/internal/value"
)

// ChangeKind identifies which aspect of an entity mutated.
type ChangeKind int

const (
	PropertyChanged ChangeKind = iota
	ItemSet
	ItemCleared
	MemberInserted
	MemberRemoved
	DataChanged
	DataCleared
)

func (k ChangeKind) String() string {
	switch k {
	case PropertyChanged:
		return "property-changed"
	case ItemSet:
		return "item-set"
	case ItemCleared:
		return "item-cleared"
	case MemberInserted:
		return "member-inserted"
	case MemberRemoved:
		return "member-removed"
	case DataChanged:
		return "data-changed"
	case DataCleared:
		return "data-cleared"
	default:
		return "unknown"
	}
}

// Change describes one mutation on an entity, fanned out to its observers
// after the durable write has been enqueued.
type Change struct {
	Entity *Entity
	Kind   ChangeKind
	Key    string

	// Index is set for MemberInserted and MemberRemoved.
	Index int

	// Child is set for item and relationship changes.
	Child *Entity

	// Value is set for PropertyChanged.
	Value value.Value
}

// Observer receives mutation events from entities it is registered on.
// Observers run synchronously on the mutating goroutine.
type Observer interface {
	EntityChanged(Change)
}
