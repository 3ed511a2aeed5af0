package graph

import "fmt"

// relation is the in-process ordered member list of one named relationship.
// Member order is the persisted order; indices are implicit in the slice.
type relation struct {
	members []*Entity
}

// insert places child before index. A duplicate member or an out-of-range
// index is a fatal programmer error, not corruption to tolerate.
func (r *relation) insert(index int, child *Entity) {
	if index < 0 || index > len(r.members) {
		panic(fmt.Sprintf("graph: insert index %d out of range [0,%d]", index, len(r.members)))
	}
	for _, m := range r.members {
		if m == child {
			panic(fmt.Sprintf("graph: duplicate relationship member %s", child.uid))
		}
	}
	r.members = append(r.members, nil)
	copy(r.members[index+1:], r.members[index:])
	r.members[index] = child
}

// remove deletes and returns the member at index.
func (r *relation) remove(index int) *Entity {
	if index < 0 || index >= len(r.members) {
		panic(fmt.Sprintf("graph: remove index %d out of range [0,%d)", index, len(r.members)))
	}
	child := r.members[index]
	copy(r.members[index:], r.members[index+1:])
	r.members[len(r.members)-1] = nil
	r.members = r.members[:len(r.members)-1]
	return child
}

// list returns a copy of the member slice.
func (r *relation) list() []*Entity {
	return append([]*Entity(nil), r.members...)
}
