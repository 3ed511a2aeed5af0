package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/cache"
	"github.com/cairnstore/cairn/internal/graph"
	"github.com/cairnstore/cairn/internal/testutil"
	"github.com/cairnstore/cairn/internal/value"
)

func newAttachedEntity(t *testing.T) (*graph.Entity, *testutil.RecordingWriter, *cache.Memory) {
	t.Helper()
	arena := graph.NewArena()
	w := testutil.NewRecordingWriter()
	c := cache.NewMemory()
	e := graph.New(arena, "node")
	e.AddRef()
	require.NoError(t, e.AttachRoot(w, c))
	w.Reset()
	return e, w, c
}

func TestTransactionCoalescesBulkData(t *testing.T) {
	e, w, _ := newAttachedEntity(t)

	e.BeginTransaction()
	for i := 0; i < 10; i++ {
		require.NoError(t, e.SetData("payload", []byte{byte(i)}))
	}
	assert.Equal(t, 0, w.Count("set-data"))
	require.NoError(t, e.EndTransaction())

	// Exactly one erase-and-write regardless of mutation count.
	assert.Equal(t, 1, w.CountKey("clear-data", "payload"))
	assert.Equal(t, 1, w.CountKey("set-data", "payload"))
	assert.Equal(t, []byte{9}, e.Data("payload"))
}

func TestTransactionCoalescesProperties(t *testing.T) {
	e, w, _ := newAttachedEntity(t)

	e.BeginTransaction()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.SetProperty("count", value.Int(int64(i))))
	}
	// In-memory state is live inside the window; the durable write waits.
	assert.True(t, value.Equal(value.Int(4), e.PropertyOr("count", value.Null{})))
	assert.Equal(t, 0, w.Count("set-property"))

	require.NoError(t, e.EndTransaction())
	assert.Equal(t, 1, w.CountKey("set-property", "count"))
}

func TestTransactionBuffersCachedValues(t *testing.T) {
	e, _, c := newAttachedEntity(t)
	def := value.Null{}

	e.BeginTransaction()
	e.SetCachedValue("stat", value.Float(2.5), false)

	// Visible through the entity, not yet in the cache.
	assert.True(t, value.Equal(value.Float(2.5), e.CachedValue("stat", def)))
	assert.True(t, value.Equal(def, c.Get(e.UUID(), "stat", def)))

	require.NoError(t, e.EndTransaction())
	assert.True(t, value.Equal(value.Float(2.5), c.Get(e.UUID(), "stat", def)))
	assert.False(t, c.IsDirty(e.UUID(), "stat"))
}

func TestTransactionCachedSetThenRemoveIsNetZero(t *testing.T) {
	e, _, c := newAttachedEntity(t)
	def := value.Null{}

	e.BeginTransaction()
	e.SetCachedValue("stat", value.Int(1), false)
	e.RemoveCachedValue("stat")
	require.NoError(t, e.EndTransaction())

	assert.True(t, value.Equal(def, c.Get(e.UUID(), "stat", def)))
	assert.True(t, c.IsDirty(e.UUID(), "stat"))
}

func TestTransactionNesting(t *testing.T) {
	e, w, _ := newAttachedEntity(t)

	e.BeginTransaction()
	e.BeginTransaction()
	require.NoError(t, e.SetData("payload", []byte("inner")))
	require.NoError(t, e.EndTransaction())

	// Only the outermost end spills.
	assert.True(t, e.InTransaction())
	assert.Equal(t, 0, w.Count("set-data"))

	require.NoError(t, e.EndTransaction())
	assert.False(t, e.InTransaction())
	assert.Equal(t, 1, w.Count("set-data"))
}

func TestTransactionClearDataCoalesces(t *testing.T) {
	e, w, _ := newAttachedEntity(t)
	require.NoError(t, e.SetData("payload", []byte("old")))
	w.Reset()

	e.BeginTransaction()
	require.NoError(t, e.SetData("payload", []byte("new")))
	require.NoError(t, e.ClearData("payload"))
	require.NoError(t, e.EndTransaction())

	// The surviving operation is the clear; no write follows it.
	assert.Equal(t, 1, w.CountKey("clear-data", "payload"))
	assert.Equal(t, 0, w.CountKey("set-data", "payload"))
	assert.Nil(t, e.Data("payload"))
}

func TestTransactionDataNotificationDeferred(t *testing.T) {
	e, _, _ := newAttachedEntity(t)
	obs := &testutil.RecordingObserver{}
	e.AddObserver(obs)
	defer e.RemoveObserver(obs)

	e.BeginTransaction()
	require.NoError(t, e.SetData("payload", []byte("a")))
	require.NoError(t, e.SetData("payload", []byte("b")))
	assert.Equal(t, 0, obs.CountKind(graph.DataChanged))

	require.NoError(t, e.EndTransaction())
	assert.Equal(t, 1, obs.CountKind(graph.DataChanged))
}

func TestUnbalancedEndTransactionPanics(t *testing.T) {
	e, _, _ := newAttachedEntity(t)
	assert.Panics(t, func() { _ = e.EndTransaction() })
}
