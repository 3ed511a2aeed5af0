package storage_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// fixedUUID returns a deterministic UUID for golden and equivalence tests.
func fixedUUID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

func snap(n int, tag string) *storage.NodeSnapshot {
	return &storage.NodeSnapshot{UUID: fixedUUID(n), Type: tag}
}

// applyScript runs one fixed operation sequence against a backend. Both
// backends must end in an observably identical state.
func applyScript(t *testing.T, b storage.Backend) {
	t.Helper()

	root := snap(1, "library")
	root.Properties = map[string]value.Value{
		"name": value.String("specimens"),
		"rev":  value.Int(3),
	}
	require.NoError(t, b.SetRoot(root))

	folder := snap(2, "folder")
	require.NoError(t, b.SetItem(fixedUUID(1), "featured", folder))
	require.NoError(t, b.SetProperty(fixedUUID(2), "label", value.String("pinned")))

	// Relationship churn: end state is [5, 3, 4].
	require.NoError(t, b.InsertItem(fixedUUID(1), "entries", snap(3, "leaf"), 0))
	require.NoError(t, b.InsertItem(fixedUUID(1), "entries", snap(4, "leaf"), 1))
	require.NoError(t, b.InsertItem(fixedUUID(1), "entries", snap(5, "leaf"), 0))
	require.NoError(t, b.InsertItem(fixedUUID(1), "entries", snap(6, "leaf"), 3))
	require.NoError(t, b.RemoveItem(fixedUUID(1), "entries", 3))

	require.NoError(t, b.SetData(fixedUUID(3), "payload", []byte{1, 2, 3}))
	require.NoError(t, b.SetData(fixedUUID(3), "thumb", []byte{9}))
	require.NoError(t, b.ClearData(fixedUUID(3), "thumb"))
	require.NoError(t, b.ClearData(fixedUUID(3), "never-set"))

	// Replace the featured slot; the old folder cascades away.
	require.NoError(t, b.SetItem(fixedUUID(1), "featured", snap(7, "folder")))
	require.NoError(t, b.SetType(fixedUUID(7), "smart-folder"))
}

func TestMemoryScript(t *testing.T) {
	m := storage.NewMemory()
	applyScript(t, m)

	root, ok, err := m.Root()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fixedUUID(1), root)

	members, err := m.Relationship(fixedUUID(1), "entries")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fixedUUID(5), fixedUUID(3), fixedUUID(4)}, members)

	// Node 2 was replaced and cascaded; node 6 was removed.
	uids, err := m.UUIDs()
	require.NoError(t, err)
	assert.NotContains(t, uids, fixedUUID(2))
	assert.NotContains(t, uids, fixedUUID(6))

	tag, err := m.TypeTag(fixedUUID(7))
	require.NoError(t, err)
	assert.Equal(t, "smart-folder", tag)

	rc, err := m.RefCount(fixedUUID(3))
	require.NoError(t, err)
	assert.Equal(t, 1, rc)

	d, err := m.Data(fixedUUID(3), "payload")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, d)
	d, err = m.Data(fixedUUID(3), "thumb")
	require.NoError(t, err)
	assert.Nil(t, d)

	problems, err := storage.Verify(m)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestMemoryClearItemIdempotent(t *testing.T) {
	m := storage.NewMemory()
	require.NoError(t, m.SetRoot(snap(1, "library")))
	require.NoError(t, m.SetItem(fixedUUID(1), "slot", snap(2, "leaf")))
	require.NoError(t, m.ClearItem(fixedUUID(1), "slot"))
	require.NoError(t, m.ClearItem(fixedUUID(1), "slot"))

	// A cleared child can be rewritten into the slot from a snapshot.
	require.NoError(t, m.SetItem(fixedUUID(1), "slot", snap(2, "leaf")))
	rc, err := m.RefCount(fixedUUID(2))
	require.NoError(t, err)
	assert.Equal(t, 1, rc)
}

func TestMemoryDiamondCascade(t *testing.T) {
	m := storage.NewMemory()
	require.NoError(t, m.SetRoot(snap(1, "library")))

	shared := snap(5, "leaf")
	mid := snap(2, "folder")
	mid.Relationships = map[string][]*storage.NodeSnapshot{
		"entries": {snap(4, "leaf"), shared},
	}
	keeper := snap(3, "folder")
	keeper.Relationships = map[string][]*storage.NodeSnapshot{
		"entries": {shared},
	}
	require.NoError(t, m.SetItem(fixedUUID(1), "mid", mid))
	require.NoError(t, m.SetItem(fixedUUID(1), "keeper", keeper))

	rc, err := m.RefCount(fixedUUID(5))
	require.NoError(t, err)
	assert.Equal(t, 2, rc)

	require.NoError(t, m.ClearItem(fixedUUID(1), "mid"))

	uids, err := m.UUIDs()
	require.NoError(t, err)
	assert.NotContains(t, uids, fixedUUID(2))
	assert.NotContains(t, uids, fixedUUID(4))
	assert.Contains(t, uids, fixedUUID(5))

	rc, err = m.RefCount(fixedUUID(5))
	require.NoError(t, err)
	assert.Equal(t, 1, rc)
}

func TestMemoryDisconnectedMutationsAreNoOps(t *testing.T) {
	m := storage.NewMemory()
	require.NoError(t, m.SetRoot(snap(1, "library")))
	m.Disconnect()

	require.NoError(t, m.SetProperty(fixedUUID(1), "name", value.String("late")))
	require.NoError(t, m.SetItem(fixedUUID(1), "slot", snap(2, "leaf")))

	props, err := m.Properties(fixedUUID(1))
	require.NoError(t, err)
	assert.Empty(t, props)
	items, err := m.Items(fixedUUID(1))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryToMapRoundTrip(t *testing.T) {
	m := storage.NewMemory()
	applyScript(t, m)

	raw, err := m.ToMap()
	require.NoError(t, err)
	restored, err := storage.FromMap(raw)
	require.NoError(t, err)

	want, err := storage.Export(m)
	require.NoError(t, err)
	got, err := storage.Export(restored)
	require.NoError(t, err)

	wantJSON, err := want.MarshalCanonical()
	require.NoError(t, err)
	gotJSON, err := got.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(wantJSON), string(gotJSON))
}

func TestMemoryInsertOutOfRange(t *testing.T) {
	m := storage.NewMemory()
	require.NoError(t, m.SetRoot(snap(1, "library")))
	err := m.InsertItem(fixedUUID(1), "entries", snap(2, "leaf"), 1)
	require.Error(t, err)
}
