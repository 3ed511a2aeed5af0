package cache

import (
	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
)

// Cache is the derived-value store contract.
//
// Values are advisory: they can be dropped at any time, and every reader
// must be prepared to recompute. No method returns an error - a backend
// failure degrades to a miss, surfaced only via logs.
type Cache interface {
	// Set stores a value for (uid, key) with the given dirty flag.
	Set(uid uuid.UUID, key string, v value.Value, dirty bool)

	// Get returns the stored value, or def when absent. Never fails.
	Get(uid uuid.UUID, key string, def value.Value) value.Value

	// Remove drops the entry. Idempotent: removing an absent entry is a
	// no-op.
	Remove(uid uuid.UUID, key string)

	// IsDirty reports the entry's dirty flag. An absent entry is
	// conservatively dirty - the caller must recompute.
	IsDirty(uid uuid.UUID, key string) bool

	// SetDirty updates the dirty flag of an existing entry. Setting the
	// flag on an absent entry is a no-op.
	SetDirty(uid uuid.UUID, key string, dirty bool)

	Close() error
}
