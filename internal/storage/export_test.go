package storage_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/storage"
)

func TestExportGolden(t *testing.T) {
	m := storage.NewMemory()
	applyScript(t, m)

	doc, err := storage.Export(m)
	require.NoError(t, err)
	data, err := doc.MarshalCanonical()
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "export", data)
}

func TestExportIsDeterministic(t *testing.T) {
	m := storage.NewMemory()
	applyScript(t, m)

	first, err := storage.Export(m)
	require.NoError(t, err)
	second, err := storage.Export(m)
	require.NoError(t, err)

	a, err := first.MarshalCanonical()
	require.NoError(t, err)
	b, err := second.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestImportRejectsNewerVersion(t *testing.T) {
	doc := &storage.Document{Version: storage.DocumentVersion + 1}
	err := storage.Import(doc, storage.NewMemory())
	require.Error(t, err)
}

func TestFromSnapshotDerivesRefcounts(t *testing.T) {
	shared := snap(3, "leaf")
	root := snap(1, "library")
	root.Items = map[string]*storage.NodeSnapshot{"pick": shared}
	root.Relationships = map[string][]*storage.NodeSnapshot{
		"entries": {snap(2, "leaf"), shared},
	}

	doc := storage.FromSnapshot(root)
	assert.Equal(t, fixedUUID(1).String(), doc.Root)
	assert.Equal(t, 0, doc.Nodes[fixedUUID(1).String()].RefCount)
	assert.Equal(t, 1, doc.Nodes[fixedUUID(2).String()].RefCount)

	// One inbound link per path: item slot plus relationship membership.
	assert.Equal(t, 2, doc.Nodes[fixedUUID(3).String()].RefCount)
}

func TestDocumentMapRoundTrip(t *testing.T) {
	m := storage.NewMemory()
	applyScript(t, m)
	doc, err := storage.Export(m)
	require.NoError(t, err)

	parsed, err := storage.DocumentFromMap(doc.ToMap())
	require.NoError(t, err)

	want, err := doc.MarshalCanonical()
	require.NoError(t, err)
	got, err := parsed.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}
