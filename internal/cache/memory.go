package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
)

type entry struct {
	v     value.Value
	dirty bool
}

// Memory is the volatile map backend.
type Memory struct {
	mu      sync.Mutex
	entries map[uuid.UUID]map[string]entry
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty volatile cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID]map[string]entry)}
}

// Set implements Cache.
func (m *Memory) Set(uid uuid.UUID, key string, v value.Value, dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.entries[uid]
	if !ok {
		byKey = make(map[string]entry)
		m.entries[uid] = byKey
	}
	byKey[key] = entry{v: v, dirty: dirty}
}

// Get implements Cache.
func (m *Memory) Get(uid uuid.UUID, key string, def value.Value) value.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[uid][key]; ok {
		return e.v
	}
	return def
}

// Remove implements Cache.
func (m *Memory) Remove(uid uuid.UUID, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.entries[uid]
	if !ok {
		return
	}
	delete(byKey, key)
	if len(byKey) == 0 {
		delete(m.entries, uid)
	}
}

// IsDirty implements Cache.
func (m *Memory) IsDirty(uid uuid.UUID, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[uid][key]; ok {
		return e.dirty
	}
	return true // Absent is conservatively dirty
}

// SetDirty implements Cache.
func (m *Memory) SetDirty(uid uuid.UUID, key string, dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[uid][key]; ok {
		e.dirty = dirty
		m.entries[uid][key] = e
	}
}

// Close implements Cache.
func (m *Memory) Close() error {
	return nil
}
