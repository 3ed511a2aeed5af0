package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor finishes a freshly loaded entity of its tag: validate
// required fields, derive in-memory state. Returning an error fails the
// build; the loader logs it and discards the entity instead of inserting
// it into the live graph.
type Constructor func(e *Entity) error

// Registry maps type tags to constructors. The accepted tag set is owned
// by the application layer; the registry is constructed once at process
// start and passed by reference to every component needing lookup.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register binds a tag to a constructor. Rebinding an existing tag is an
// error.
func (r *Registry) Register(tag string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ctors[tag]; ok {
		return fmt.Errorf("registry: tag %q already registered", tag)
	}
	r.ctors[tag] = ctor
	return nil
}

// Lookup resolves a tag to its constructor.
func (r *Registry) Lookup(tag string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[tag]
	return ctor, ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
