package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
)

type cacheKey struct {
	uid uuid.UUID
	key string
}

type pending struct {
	removed bool
	v       value.Value
	dirty   bool
}

// Suspendable buffers writes while suspended and merges them into the
// underlying cache on resume. Last write wins per (uuid, key): a set
// followed by a remove entirely within one suspension has zero net effect
// on the underlying cache, while a write that survives to resume is
// flushed exactly once.
//
// Reads consult the buffer first, so a suspended caller still observes its
// own writes.
type Suspendable struct {
	underlying Cache

	mu        sync.Mutex
	suspended bool
	buffer    map[cacheKey]pending
}

var _ Cache = (*Suspendable)(nil)

// NewSuspendable wraps an underlying cache, initially not suspended.
func NewSuspendable(underlying Cache) *Suspendable {
	return &Suspendable{
		underlying: underlying,
		buffer:     make(map[cacheKey]pending),
	}
}

// Suspend starts buffering writes.
func (s *Suspendable) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

// Resume flushes surviving buffered writes to the underlying cache and
// stops buffering.
func (s *Suspendable) Resume() {
	s.mu.Lock()
	buffered := s.buffer
	s.buffer = make(map[cacheKey]pending)
	s.suspended = false
	s.mu.Unlock()

	for k, p := range buffered {
		if p.removed {
			s.underlying.Remove(k.uid, k.key)
		} else {
			s.underlying.Set(k.uid, k.key, p.v, p.dirty)
		}
	}
}

// Set implements Cache.
func (s *Suspendable) Set(uid uuid.UUID, key string, v value.Value, dirty bool) {
	s.mu.Lock()
	if s.suspended {
		s.buffer[cacheKey{uid, key}] = pending{v: v, dirty: dirty}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.underlying.Set(uid, key, v, dirty)
}

// Get implements Cache.
func (s *Suspendable) Get(uid uuid.UUID, key string, def value.Value) value.Value {
	s.mu.Lock()
	if p, ok := s.buffer[cacheKey{uid, key}]; ok {
		s.mu.Unlock()
		if p.removed {
			return def
		}
		return p.v
	}
	s.mu.Unlock()
	return s.underlying.Get(uid, key, def)
}

// Remove implements Cache.
func (s *Suspendable) Remove(uid uuid.UUID, key string) {
	s.mu.Lock()
	if s.suspended {
		// A remove cancels any buffered set: net-zero within the window.
		s.buffer[cacheKey{uid, key}] = pending{removed: true}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.underlying.Remove(uid, key)
}

// IsDirty implements Cache.
func (s *Suspendable) IsDirty(uid uuid.UUID, key string) bool {
	s.mu.Lock()
	if p, ok := s.buffer[cacheKey{uid, key}]; ok {
		s.mu.Unlock()
		if p.removed {
			return true
		}
		return p.dirty
	}
	s.mu.Unlock()
	return s.underlying.IsDirty(uid, key)
}

// SetDirty implements Cache.
func (s *Suspendable) SetDirty(uid uuid.UUID, key string, dirty bool) {
	s.mu.Lock()
	if s.suspended {
		if p, ok := s.buffer[cacheKey{uid, key}]; ok && !p.removed {
			p.dirty = dirty
			s.buffer[cacheKey{uid, key}] = p
		}
		// An entry only in the underlying cache keeps its flag until
		// resume; buffering a flag-only change for an unknown value
		// would have to invent one.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.underlying.SetDirty(uid, key, dirty)
}

// Close implements Cache. Buffered writes from an unresumed suspension are
// dropped - they were advisory.
func (s *Suspendable) Close() error {
	return s.underlying.Close()
}
