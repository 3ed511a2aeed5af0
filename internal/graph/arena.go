package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Arena resolves UUIDs to live entities. Parent back-references are stored
// as UUID sets and resolved through the arena on demand, so no entity ever
// holds a strong pointer to a parent.
//
// Entities register at creation and unregister at finalization.
type Arena struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*Entity
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{entities: make(map[uuid.UUID]*Entity)}
}

// Lookup resolves a UUID to its live entity.
func (a *Arena) Lookup(uid uuid.UUID) (*Entity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entities[uid]
	return e, ok
}

// Len reports the number of live entities.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entities)
}

func (a *Arena) register(e *Entity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entities[e.uid]; ok {
		panic(fmt.Sprintf("graph: duplicate entity registration %s", e.uid))
	}
	a.entities[e.uid] = e
}

func (a *Arena) unregister(uid uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entities, uid)
}
