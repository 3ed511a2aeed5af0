package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnstore/cairn/internal/cache"
	"github.com/cairnstore/cairn/internal/graph"
	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/testutil"
	"github.com/cairnstore/cairn/internal/value"
)

func TestRefCountBalance(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")
	assert.Equal(t, 0, e.RefCount())

	for i := 0; i < 5; i++ {
		e.AddRef()
	}
	for i := 0; i < 3; i++ {
		e.RemoveRef()
	}
	assert.Equal(t, 2, e.RefCount())
}

func TestRemoveRefAtZeroPanics(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")
	assert.Panics(t, func() { e.RemoveRef() })
}

func TestFinalizeFiresExactlyOnce(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")

	fired := 0
	e.SetFinalizer(func(*graph.Entity) { fired++ })

	e.AddRef()
	e.AddRef()
	assert.Equal(t, 2, e.RefCount())

	e.RemoveRef()
	assert.Equal(t, 0, fired)
	e.RemoveRef()
	assert.Equal(t, 1, fired)

	// The entity is gone from the arena and dead for further refs.
	_, ok := arena.Lookup(e.UUID())
	assert.False(t, ok)
	assert.Panics(t, func() { e.AddRef() })
}

func TestFinalizeWithParentPanics(t *testing.T) {
	arena := graph.NewArena()
	parent := graph.New(arena, "node")
	parent.AddRef()
	child := graph.New(arena, "node")
	require.NoError(t, parent.SetItem("slot", child))

	// The parent's link holds the only reference; dropping it out from
	// under the parent is an ownership violation.
	assert.Panics(t, func() { child.RemoveRef() })
}

func TestRemoveAbsentParentPanics(t *testing.T) {
	arena := graph.NewArena()
	a := graph.New(arena, "node")
	b := graph.New(arena, "node")
	assert.Panics(t, func() { a.RemoveParent(b) })
}

func TestRemoveAbsentObserverPanics(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")
	assert.Panics(t, func() { e.RemoveObserver(&testutil.RecordingObserver{}) })
}

func TestSetItemAdoptsChild(t *testing.T) {
	arena := graph.NewArena()
	w := testutil.NewRecordingWriter()
	c := cache.NewMemory()

	parent := graph.New(arena, "folder")
	parent.AddRef()
	require.NoError(t, parent.AttachRoot(w, c))
	w.Reset()

	child := graph.New(arena, "leaf")
	require.NoError(t, parent.SetItem("slot", child))

	assert.Equal(t, 1, child.RefCount())
	assert.Same(t, child, parent.Item("slot"))
	assert.Equal(t, []*graph.Entity{parent}, child.Parents())
	assert.Equal(t, 1, w.Count("set-item"))

	// The child inherited the persistence context: its own mutations now
	// reach the writer.
	require.NoError(t, child.SetProperty("name", value.String("x")))
	assert.Equal(t, 1, w.Count("set-property"))
}

func TestSetItemReplacesPrevious(t *testing.T) {
	arena := graph.NewArena()
	parent := graph.New(arena, "folder")
	parent.AddRef()

	first := graph.New(arena, "leaf")
	second := graph.New(arena, "leaf")

	firstFinalized := false
	first.SetFinalizer(func(*graph.Entity) { firstFinalized = true })

	require.NoError(t, parent.SetItem("slot", first))
	require.NoError(t, parent.SetItem("slot", second))

	assert.Same(t, second, parent.Item("slot"))
	assert.True(t, firstFinalized)
	assert.Equal(t, 1, second.RefCount())
	assert.Equal(t, []*graph.Entity{parent}, second.Parents())
}

func TestSetItemNilChildPanics(t *testing.T) {
	arena := graph.NewArena()
	parent := graph.New(arena, "folder")

	assert.PanicsWithValue(t,
		"graph: SetItem \"slot\" with nil child on entity "+parent.UUID().String()+"; use ClearItem",
		func() { _ = parent.SetItem("slot", nil) })
}

func TestSetItemSameChildIsNoOp(t *testing.T) {
	arena := graph.NewArena()
	w := testutil.NewRecordingWriter()

	parent := graph.New(arena, "folder")
	parent.AddRef()
	require.NoError(t, parent.AttachRoot(w, cache.NewMemory()))

	child := graph.New(arena, "leaf")
	require.NoError(t, parent.SetItem("slot", child))
	w.Reset()

	require.NoError(t, parent.SetItem("slot", child))
	assert.Equal(t, 1, child.RefCount())
	assert.Empty(t, w.Ops())
}

func TestClearItemIdempotent(t *testing.T) {
	arena := graph.NewArena()
	w := testutil.NewRecordingWriter()

	parent := graph.New(arena, "folder")
	parent.AddRef()
	require.NoError(t, parent.AttachRoot(w, cache.NewMemory()))

	child := graph.New(arena, "leaf")
	finalized := 0
	child.SetFinalizer(func(*graph.Entity) { finalized++ })

	require.NoError(t, parent.SetItem("slot", child))
	require.NoError(t, parent.ClearItem("slot"))
	assert.Equal(t, 1, finalized)
	w.Reset()

	// Clearing an empty slot again is a no-op, not an error.
	require.NoError(t, parent.ClearItem("slot"))
	assert.Empty(t, w.Ops())
}

func TestInsertAtZeroOrdersNewestFirst(t *testing.T) {
	arena := graph.NewArena()
	mem := storage.NewMemory()
	w := storage.NewDirect(mem)

	p := graph.New(arena, "folder")
	p.AddRef()
	require.NoError(t, p.AttachRoot(w, cache.NewMemory()))

	a := graph.New(arena, "leaf")
	b := graph.New(arena, "leaf")
	require.NoError(t, p.InsertItem("children", a, 0))
	require.NoError(t, p.InsertItem("children", b, 0))

	members := p.Relationship("children")
	require.Len(t, members, 2)
	assert.Same(t, b, members[0])
	assert.Same(t, a, members[1])

	// The stored order matches: B at index 0, A at index 1.
	stored, err := mem.Relationship(p.UUID(), "children")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, b.UUID(), stored[0])
	assert.Equal(t, a.UUID(), stored[1])
}

func TestDuplicateMemberInsertPanics(t *testing.T) {
	arena := graph.NewArena()
	p := graph.New(arena, "folder")
	p.AddRef()
	child := graph.New(arena, "leaf")
	require.NoError(t, p.InsertItem("children", child, 0))
	assert.Panics(t, func() { _ = p.InsertItem("children", child, 1) })
}

func TestRelationshipOrderSurvivesChurn(t *testing.T) {
	arena := graph.NewArena()
	mem := storage.NewMemory()
	w := storage.NewDirect(mem)

	p := graph.New(arena, "folder")
	p.AddRef()
	require.NoError(t, p.AttachRoot(w, cache.NewMemory()))

	// Interleaved inserts and removes; the live order and the stored
	// order must agree at every step.
	children := make([]*graph.Entity, 6)
	for i := range children {
		children[i] = graph.New(arena, "leaf")
	}
	require.NoError(t, p.AppendItem("children", children[0]))
	require.NoError(t, p.AppendItem("children", children[1]))
	require.NoError(t, p.InsertItem("children", children[2], 1))
	require.NoError(t, p.RemoveItem("children", 0))
	require.NoError(t, p.InsertItem("children", children[3], 0))
	require.NoError(t, p.AppendItem("children", children[4]))
	require.NoError(t, p.RemoveItem("children", 2))
	require.NoError(t, p.InsertItem("children", children[5], 1))

	live := p.Relationship("children")
	stored, err := mem.Relationship(p.UUID(), "children")
	require.NoError(t, err)
	require.Equal(t, len(live), len(stored))
	for i := range live {
		assert.Equal(t, live[i].UUID(), stored[i], "index %d", i)
	}
}

func TestCascadingDeleteInStore(t *testing.T) {
	arena := graph.NewArena()
	mem := storage.NewMemory()
	w := storage.NewDirect(mem)

	root := graph.New(arena, "folder")
	root.AddRef()
	require.NoError(t, root.AttachRoot(w, cache.NewMemory()))

	// root -> mid -> {leafA, shared}; root -> keeper -> shared.
	mid := graph.New(arena, "folder")
	keeper := graph.New(arena, "folder")
	leafA := graph.New(arena, "leaf")
	shared := graph.New(arena, "leaf")

	require.NoError(t, root.AppendItem("children", mid))
	require.NoError(t, root.AppendItem("children", keeper))
	require.NoError(t, mid.AppendItem("children", leafA))
	require.NoError(t, mid.AppendItem("children", shared))
	require.NoError(t, keeper.AppendItem("children", shared))

	uids, err := mem.UUIDs()
	require.NoError(t, err)
	require.Len(t, uids, 5)

	// Dropping the sole owning reference to mid removes mid and leafA;
	// shared survives through keeper.
	require.NoError(t, root.RemoveItem("children", 0))

	uids, err = mem.UUIDs()
	require.NoError(t, err)
	assert.Len(t, uids, 3)
	assert.NotContains(t, uids, mid.UUID())
	assert.NotContains(t, uids, leafA.UUID())
	assert.Contains(t, uids, shared.UUID())

	rc, err := mem.RefCount(shared.UUID())
	require.NoError(t, err)
	assert.Equal(t, 1, rc)

	problems, err := storage.Verify(mem)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestDiamondSharedChildCounts(t *testing.T) {
	arena := graph.NewArena()
	p := graph.New(arena, "folder")
	p.AddRef()
	q := graph.New(arena, "folder")
	q.AddRef()

	shared := graph.New(arena, "leaf")
	finalized := 0
	shared.SetFinalizer(func(*graph.Entity) { finalized++ })

	require.NoError(t, p.SetItem("slot", shared))
	require.NoError(t, q.SetItem("slot", shared))
	assert.Equal(t, 2, shared.RefCount())
	assert.Len(t, shared.Parents(), 2)

	require.NoError(t, p.ClearItem("slot"))
	assert.Equal(t, 0, finalized)
	require.NoError(t, q.ClearItem("slot"))
	assert.Equal(t, 1, finalized)
}

func TestObserverFanOut(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")
	e.AddRef()

	obs := &testutil.RecordingObserver{}
	e.AddObserver(obs)

	require.NoError(t, e.SetProperty("title", value.String("hello")))
	child := graph.New(arena, "leaf")
	require.NoError(t, e.SetItem("slot", child))
	require.NoError(t, e.InsertItem("children", graph.New(arena, "leaf"), 0))
	require.NoError(t, e.SetData("blob", []byte{1, 2, 3}))
	require.NoError(t, e.ClearData("blob"))
	require.NoError(t, e.RemoveItem("children", 0))
	require.NoError(t, e.ClearItem("slot"))

	assert.Equal(t, []graph.ChangeKind{
		graph.PropertyChanged,
		graph.ItemSet,
		graph.MemberInserted,
		graph.DataChanged,
		graph.DataCleared,
		graph.MemberRemoved,
		graph.ItemCleared,
	}, obs.Kinds())

	e.RemoveObserver(obs)
	require.NoError(t, e.SetProperty("title", value.String("bye")))
	assert.Equal(t, 7, len(obs.Changes))
}

func TestPropertyAbsenceIsDefault(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")

	assert.True(t, value.Equal(value.Int(9), e.PropertyOr("missing", value.Int(9))))
	_, ok := e.Property("missing")
	assert.False(t, ok)

	require.NoError(t, e.SetProperty("present", value.Bool(true)))
	assert.True(t, value.Equal(value.Bool(true), e.PropertyOr("present", value.Null{})))
}

func TestCachedValuesThroughEntity(t *testing.T) {
	arena := graph.NewArena()
	c := cache.NewMemory()

	e := graph.New(arena, "node")
	e.AddRef()
	require.NoError(t, e.AttachRoot(testutil.NewRecordingWriter(), c))

	def := value.Null{}
	assert.True(t, value.Equal(def, e.CachedValue("thumb", def)))
	assert.True(t, e.IsCachedValueDirty("thumb"))

	e.SetCachedValue("thumb", value.String("png"), false)
	assert.True(t, value.Equal(value.String("png"), e.CachedValue("thumb", def)))
	assert.False(t, e.IsCachedValueDirty("thumb"))

	e.RemoveCachedValue("thumb")
	e.RemoveCachedValue("thumb") // Idempotent
	assert.True(t, value.Equal(def, e.CachedValue("thumb", def)))
}

func TestDetachedEntityMutatesLocally(t *testing.T) {
	arena := graph.NewArena()
	e := graph.New(arena, "node")
	e.AddRef()

	require.NoError(t, e.SetProperty("k", value.Int(1)))
	require.NoError(t, e.SetData("d", []byte("x")))
	assert.Equal(t, []byte("x"), e.Data("d"))

	// No writer, no cache: cached reads fall through to the default.
	assert.True(t, e.IsCachedValueDirty("anything"))
}
