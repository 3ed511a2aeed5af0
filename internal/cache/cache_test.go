package cache

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/value"
)

// openBackends returns one instance of every cache backend, each seeded
// against a fresh store.
func openBackends(t *testing.T) map[string]Cache {
	t.Helper()

	durable, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { durable.Close() })

	mem := NewMemory()
	t.Cleanup(func() { mem.Close() })

	return map[string]Cache{
		"memory": mem,
		"sqlite": durable,
	}
}

func TestCacheSetGet(t *testing.T) {
	uid := uuid.New()
	def := value.String("fallback")

	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.True(t, value.Equal(def, c.Get(uid, "title", def)))

			c.Set(uid, "title", value.String("brutalism"), false)
			assert.True(t, value.Equal(value.String("brutalism"), c.Get(uid, "title", def)))

			c.Set(uid, "title", value.Int(42), true)
			assert.True(t, value.Equal(value.Int(42), c.Get(uid, "title", def)))
		})
	}
}

func TestCacheAbsentIsDirty(t *testing.T) {
	uid := uuid.New()

	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.True(t, c.IsDirty(uid, "missing"))

			c.Set(uid, "present", value.Bool(true), false)
			assert.False(t, c.IsDirty(uid, "present"))

			c.SetDirty(uid, "present", true)
			assert.True(t, c.IsDirty(uid, "present"))

			// Flagging an absent entry must not create one.
			c.SetDirty(uid, "missing", false)
			assert.True(t, c.IsDirty(uid, "missing"))
		})
	}
}

func TestCacheRemoveIdempotent(t *testing.T) {
	uid := uuid.New()
	def := value.Null{}

	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			c.Set(uid, "k", value.Float(1.5), false)
			c.Remove(uid, "k")
			assert.True(t, value.Equal(def, c.Get(uid, "k", def)))
			assert.True(t, c.IsDirty(uid, "k"))

			// Removing again is a no-op, not an error.
			c.Remove(uid, "k")
			c.Remove(uuid.New(), "never-set")
		})
	}
}

func TestCacheEntriesIndependent(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	def := value.Null{}

	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			c.Set(a, "k", value.String("a"), false)
			c.Set(b, "k", value.String("b"), true)
			c.Set(a, "other", value.String("x"), false)

			assert.True(t, value.Equal(value.String("a"), c.Get(a, "k", def)))
			assert.True(t, value.Equal(value.String("b"), c.Get(b, "k", def)))
			assert.False(t, c.IsDirty(a, "k"))
			assert.True(t, c.IsDirty(b, "k"))

			c.Remove(a, "k")
			assert.True(t, value.Equal(value.String("x"), c.Get(a, "other", def)))
			assert.True(t, value.Equal(value.String("b"), c.Get(b, "k", def)))
		})
	}
}

func TestSQLiteCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	uid := uuid.New()

	c, err := OpenSQLite(path, slog.Default())
	require.NoError(t, err)
	c.Set(uid, "k", value.Int(7), false)
	require.NoError(t, c.Close())

	c, err = OpenSQLite(path, slog.Default())
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, value.Equal(value.Int(7), c.Get(uid, "k", value.Null{})))
	assert.False(t, c.IsDirty(uid, "k"))
}

func TestSQLiteDroppedWriteAfterCloseIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	uid := uuid.New()

	c, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), logger)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c.Set(uid, "k", value.Int(1), true)
	assert.Contains(t, buf.String(), "cache write dropped after close")
	assert.Contains(t, buf.String(), uid.String())
}

func TestSuspendableBuffersWrites(t *testing.T) {
	uid := uuid.New()
	def := value.Null{}

	under := NewMemory()
	s := NewSuspendable(under)

	s.Suspend()
	s.Set(uid, "k", value.String("buffered"), true)

	// The suspender observes its own write; the underlying cache does not.
	assert.True(t, value.Equal(value.String("buffered"), s.Get(uid, "k", def)))
	assert.True(t, value.Equal(def, under.Get(uid, "k", def)))

	s.Resume()
	assert.True(t, value.Equal(value.String("buffered"), under.Get(uid, "k", def)))
	assert.True(t, under.IsDirty(uid, "k"))
}

func TestSuspendableSetThenRemoveIsNetZero(t *testing.T) {
	uid := uuid.New()
	def := value.Null{}

	under := NewMemory()
	s := NewSuspendable(under)

	s.Suspend()
	s.Set(uid, "k", value.Int(1), false)
	s.Remove(uid, "k")
	s.Resume()

	assert.True(t, value.Equal(def, under.Get(uid, "k", def)))
	assert.True(t, under.IsDirty(uid, "k"))
}

func TestSuspendableRemoveShadowsUnderlying(t *testing.T) {
	uid := uuid.New()
	def := value.Null{}

	under := NewMemory()
	under.Set(uid, "k", value.String("old"), false)
	s := NewSuspendable(under)

	s.Suspend()
	s.Remove(uid, "k")

	assert.True(t, value.Equal(def, s.Get(uid, "k", def)))
	assert.True(t, s.IsDirty(uid, "k"))
	// Until resume the underlying entry is untouched.
	assert.True(t, value.Equal(value.String("old"), under.Get(uid, "k", def)))

	s.Resume()
	assert.True(t, value.Equal(def, under.Get(uid, "k", def)))
}

func TestSuspendableLastWriteWins(t *testing.T) {
	uid := uuid.New()
	def := value.Null{}

	under := NewMemory()
	s := NewSuspendable(under)

	s.Suspend()
	s.Set(uid, "k", value.Int(1), true)
	s.Set(uid, "k", value.Int(2), false)
	s.Remove(uid, "k")
	s.Set(uid, "k", value.Int(3), true)
	s.Resume()

	assert.True(t, value.Equal(value.Int(3), under.Get(uid, "k", def)))
	assert.True(t, under.IsDirty(uid, "k"))
}

func TestSuspendablePassthroughWhenNotSuspended(t *testing.T) {
	uid := uuid.New()
	def := value.Null{}

	under := NewMemory()
	s := NewSuspendable(under)

	s.Set(uid, "k", value.String("direct"), false)
	assert.True(t, value.Equal(value.String("direct"), under.Get(uid, "k", def)))

	s.Remove(uid, "k")
	assert.True(t, value.Equal(def, under.Get(uid, "k", def)))
}
