package storage_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// snapNode adapts a NodeSnapshot to the live-node interface the Writer
// contract snapshots from.
type snapNode struct {
	s *storage.NodeSnapshot
}

var _ storage.Node = snapNode{}

func (n snapNode) UUID() uuid.UUID { return n.s.UUID }
func (n snapNode) TypeTag() string { return n.s.Type }

func (n snapNode) PropertyKeys() []string {
	keys := make([]string, 0, len(n.s.Properties))
	for k := range n.s.Properties {
		keys = append(keys, k)
	}
	return keys
}

func (n snapNode) Property(key string) (value.Value, bool) {
	v, ok := n.s.Properties[key]
	return v, ok
}

func (n snapNode) ItemKeys() []string {
	keys := make([]string, 0, len(n.s.Items))
	for k := range n.s.Items {
		keys = append(keys, k)
	}
	return keys
}

func (n snapNode) Item(key string) storage.Node {
	child, ok := n.s.Items[key]
	if !ok {
		return nil
	}
	return snapNode{child}
}

func (n snapNode) RelationshipKeys() []string {
	keys := make([]string, 0, len(n.s.Relationships))
	for k := range n.s.Relationships {
		keys = append(keys, k)
	}
	return keys
}

func (n snapNode) Relationship(key string) []storage.Node {
	members := n.s.Relationships[key]
	out := make([]storage.Node, len(members))
	for i, child := range members {
		out[i] = snapNode{child}
	}
	return out
}

func (n snapNode) DataKeys() []string {
	keys := make([]string, 0, len(n.s.Data))
	for k := range n.s.Data {
		keys = append(keys, k)
	}
	return keys
}

func (n snapNode) Data(key string) []byte { return n.s.Data[key] }

func TestAsyncReadAfterWrite(t *testing.T) {
	a := storage.NewAsync(storage.NewMemory(), slog.Default())
	defer a.Close()

	require.NoError(t, a.SetRoot(snapNode{snap(1, "library")}))
	require.NoError(t, a.InsertItem(snapNode{snap(1, "library")}, "entries", snapNode{snap(2, "leaf")}, 0))
	require.NoError(t, a.InsertItem(snapNode{snap(1, "library")}, "entries", snapNode{snap(3, "leaf")}, 0))
	require.NoError(t, a.SetProperty(snapNode{snap(2, "leaf")}, "label", value.String("two")))

	// Reads drain the queue first: everything above is visible.
	members, err := a.Relationship(fixedUUID(1), "entries")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{fixedUUID(3), fixedUUID(2)}, members)

	props, err := a.Properties(fixedUUID(2))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.String("two"), props["label"]))
}

func TestAsyncMatchesDirect(t *testing.T) {
	runScript := func(w storage.Writer) {
		root := snap(1, "library")
		require.NoError(t, w.SetRoot(snapNode{root}))
		require.NoError(t, w.SetItem(snapNode{root}, "featured", snapNode{snap(2, "folder")}))
		require.NoError(t, w.InsertItem(snapNode{root}, "entries", snapNode{snap(3, "leaf")}, 0))
		require.NoError(t, w.InsertItem(snapNode{root}, "entries", snapNode{snap(4, "leaf")}, 0))
		require.NoError(t, w.RemoveItem(snapNode{root}, "entries", 1))
		require.NoError(t, w.SetData(snapNode{snap(4, "leaf")}, "payload", []byte{7}))
		require.NoError(t, w.ClearItem(snapNode{root}, "featured"))
	}

	direct := storage.NewMemory()
	runScript(storage.NewDirect(direct))

	asyncBackend := storage.NewMemory()
	async := storage.NewAsync(asyncBackend, slog.Default())
	runScript(async)
	async.Join()

	want, err := storage.Export(direct)
	require.NoError(t, err)
	got, err := storage.Export(asyncBackend)
	require.NoError(t, err)

	wantJSON, err := want.MarshalCanonical()
	require.NoError(t, err)
	gotJSON, err := got.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(wantJSON), string(gotJSON))
}

func TestAsyncFailedWriteIsSoft(t *testing.T) {
	a := storage.NewAsync(storage.NewMemory(), slog.Default())
	defer a.Close()

	require.NoError(t, a.SetRoot(snapNode{snap(1, "library")}))

	// Removing from an empty relationship fails inside the worker; the
	// failure is logged, not propagated, and the loop continues.
	require.NoError(t, a.RemoveItem(snapNode{snap(1, "library")}, "entries", 0))
	require.NoError(t, a.SetProperty(snapNode{snap(1, "library")}, "name", value.String("still alive")))

	props, err := a.Properties(fixedUUID(1))
	require.NoError(t, err)
	assert.True(t, value.Equal(value.String("still alive"), props["name"]))
}

func TestAsyncDroppedWriteAfterCloseIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	a := storage.NewAsync(storage.NewMemory(), logger)
	require.NoError(t, a.Close())

	require.NoError(t, a.SetProperty(snapNode{snap(1, "library")}, "name", value.String("late")))
	assert.Contains(t, buf.String(), "write dropped after close")
	assert.Contains(t, buf.String(), fixedUUID(1).String())
}

func TestAsyncDoubleClosePanics(t *testing.T) {
	a := storage.NewAsync(storage.NewMemory(), slog.Default())
	require.NoError(t, a.Close())
	assert.Panics(t, func() { _ = a.Close() })
}

func TestAsyncDisconnectStopsMutations(t *testing.T) {
	a := storage.NewAsync(storage.NewMemory(), slog.Default())
	defer a.Close()

	require.NoError(t, a.SetRoot(snapNode{snap(1, "library")}))
	a.Join()
	a.Disconnect()

	require.NoError(t, a.SetProperty(snapNode{snap(1, "library")}, "name", value.String("late")))
	props, err := a.Properties(fixedUUID(1))
	require.NoError(t, err)
	assert.Empty(t, props)
}