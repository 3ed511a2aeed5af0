package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/cache"
	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// Entity is a persistent graph node: stable UUID, polymorphic type tag,
// scalar properties, optional single-child item slots, ordered
// relationships, bulk data, and a set of weak parent back-references
// resolved through the arena.
//
// Structural state is owned by the model goroutine. The mutex guards only
// the refcount and the observer list.
type Entity struct {
	uid     uuid.UUID
	typeTag string
	arena   *Arena

	mu        sync.Mutex
	refcount  int
	finalized bool
	observers []Observer

	// Weak back-references: one count per owning link.
	parents map[uuid.UUID]int

	writer storage.Writer
	cache  cache.Cache

	properties    map[string]value.Value
	items         map[string]*Entity
	relationships map[string]*relation
	data          map[string][]byte

	txLevel  int
	txProps  map[string]value.Value
	txCached map[string]txCachedEntry
	txData   map[string]txDataEntry

	finalizer func(*Entity)
}

// New creates a detached entity with refcount 0 and no parent, registered
// in the arena under a fresh UUID.
func New(arena *Arena, typeTag string) *Entity {
	return newWithUUID(arena, uuid.New(), typeTag)
}

func newWithUUID(arena *Arena, uid uuid.UUID, typeTag string) *Entity {
	e := &Entity{
		uid:           uid,
		typeTag:       typeTag,
		arena:         arena,
		parents:       make(map[uuid.UUID]int),
		properties:    make(map[string]value.Value),
		items:         make(map[string]*Entity),
		relationships: make(map[string]*relation),
		data:          make(map[string][]byte),
	}
	arena.register(e)
	return e
}

// UUID returns the entity's stable identity.
func (e *Entity) UUID() uuid.UUID { return e.uid }

// TypeTag returns the polymorphic type tag.
func (e *Entity) TypeTag() string { return e.typeTag }

// SetTypeTag changes the tag and persists it when a writer is attached.
func (e *Entity) SetTypeTag(tag string) error {
	e.typeTag = tag
	if e.writer != nil {
		return e.writer.SetType(e.Node(), tag)
	}
	return nil
}

// RefCount reports the current reference count.
func (e *Entity) RefCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refcount
}

// SetFinalizer installs a hook invoked exactly once, when the refcount
// reaches zero.
func (e *Entity) SetFinalizer(fn func(*Entity)) {
	e.finalizer = fn
}

// isFinalized reports whether the entity has already been finalized.
func (e *Entity) isFinalized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized
}

// AddRef increments the reference count.
func (e *Entity) AddRef() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		panic(fmt.Sprintf("graph: add ref on finalized entity %s", e.uid))
	}
	e.refcount++
}

// RemoveRef decrements the reference count, finalizing the entity exactly
// once when it reaches zero. Decrementing at zero is a fatal assertion.
// At the instant of finalization the entity must have no parents and no
// observers.
func (e *Entity) RemoveRef() {
	e.mu.Lock()
	if e.refcount == 0 {
		e.mu.Unlock()
		panic(fmt.Sprintf("graph: refcount underflow on entity %s", e.uid))
	}
	e.refcount--
	final := e.refcount == 0 && !e.finalized
	if final {
		e.finalized = true
		if len(e.observers) > 0 {
			e.mu.Unlock()
			panic(fmt.Sprintf("graph: finalizing entity %s with %d observers", e.uid, len(e.observers)))
		}
	}
	e.mu.Unlock()

	if final {
		e.finalize()
	}
}

// finalize releases the entity's own children and unregisters it. Runs on
// the goroutine that dropped the last reference.
func (e *Entity) finalize() {
	if len(e.parents) > 0 {
		panic(fmt.Sprintf("graph: finalizing entity %s with %d parents", e.uid, len(e.parents)))
	}
	for key, child := range e.items {
		delete(e.items, key)
		child.RemoveParent(e)
		child.RemoveRef()
	}
	for key, rel := range e.relationships {
		delete(e.relationships, key)
		for _, child := range rel.members {
			child.RemoveParent(e)
			child.RemoveRef()
		}
	}
	if e.finalizer != nil {
		e.finalizer(e)
	}
	e.arena.unregister(e.uid)
}

// AddParent records a weak back-reference to p, one per owning link.
func (e *Entity) AddParent(p *Entity) {
	e.parents[p.uid]++
}

// RemoveParent drops one back-reference to p. Removing an absent parent is
// a fatal assertion.
func (e *Entity) RemoveParent(p *Entity) {
	n, ok := e.parents[p.uid]
	if !ok {
		panic(fmt.Sprintf("graph: removing absent parent %s from entity %s", p.uid, e.uid))
	}
	if n == 1 {
		delete(e.parents, p.uid)
	} else {
		e.parents[p.uid] = n - 1
	}
}

// Parents resolves the live parent entities through the arena.
func (e *Entity) Parents() []*Entity {
	out := make([]*Entity, 0, len(e.parents))
	for uid := range e.parents {
		if p, ok := e.arena.Lookup(uid); ok {
			out = append(out, p)
		}
	}
	return out
}

// AddObserver registers an observer for mutation events.
func (e *Entity) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// RemoveObserver unregisters an observer. Removing one that was never
// registered is a fatal assertion.
func (e *Entity) RemoveObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.observers {
		if existing == o {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("graph: removing absent observer from entity %s", e.uid))
}

func (e *Entity) notify(c Change) {
	e.mu.Lock()
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()
	for _, o := range observers {
		o.EntityChanged(c)
	}
}

// AttachRoot registers e as the store's refcount-exempt anchor, writing its
// subtree, and propagates the persistence context through the graph.
func (e *Entity) AttachRoot(w storage.Writer, c cache.Cache) error {
	e.attach(w, c)
	if w != nil {
		return w.SetRoot(e.Node())
	}
	return nil
}

// attach propagates the persistence context onto e and its subtree.
func (e *Entity) attach(w storage.Writer, c cache.Cache) {
	e.writer = w
	e.cache = c
	for _, child := range e.items {
		child.attach(w, c)
	}
	for _, rel := range e.relationships {
		for _, child := range rel.members {
			child.attach(w, c)
		}
	}
}

// detach removes the persistence context from e and its subtree.
func (e *Entity) detach() {
	e.attach(nil, nil)
}

// Property returns the named property.
func (e *Entity) Property(key string) (value.Value, bool) {
	v, ok := e.properties[key]
	return v, ok
}

// PropertyOr returns the named property, or def when absent. Absence is
// not an error.
func (e *Entity) PropertyOr(key string, def value.Value) value.Value {
	if v, ok := e.properties[key]; ok {
		return v
	}
	return def
}

// PropertyKeys returns the property names in sorted order.
func (e *Entity) PropertyKeys() []string {
	return sortedKeys(e.properties)
}

// SetProperty stores a property, enqueues the durable write when a writer
// is attached, and fans out to observers. Inside a transaction the durable
// write is deferred, last-write-wins per key.
func (e *Entity) SetProperty(key string, v value.Value) error {
	e.properties[key] = v
	if e.txLevel > 0 {
		e.txProps[key] = v
	} else if e.writer != nil {
		if err := e.writer.SetProperty(e.Node(), key, v); err != nil {
			return err
		}
	}
	e.notify(Change{Entity: e, Kind: PropertyChanged, Key: key, Value: v})
	return nil
}

// Item returns the child in the named slot, nil when empty.
func (e *Entity) Item(key string) *Entity {
	return e.items[key]
}

// ItemKeys returns the occupied slot names in sorted order.
func (e *Entity) ItemKeys() []string {
	return sortedKeys(e.items)
}

// SetItem places child in the named slot, adopting it: the child gains a
// reference, a parent back-reference, and the persistence context,
// recursively. A previously occupied slot releases its child. Setting the
// slot to its current child is a no-op. A nil child is a fatal assertion;
// ClearItem is the path to an empty slot.
func (e *Entity) SetItem(key string, child *Entity) error {
	if child == nil {
		panic(fmt.Sprintf("graph: SetItem %q with nil child on entity %s; use ClearItem", key, e.uid))
	}
	prev := e.items[key]
	if prev == child {
		return nil
	}

	if prev != nil {
		prev.RemoveParent(e)
		prev.detach()
	}

	e.items[key] = child
	child.AddRef()
	child.AddParent(e)
	child.attach(e.writer, e.cache)

	var err error
	if e.writer != nil {
		err = e.writer.SetItem(e.Node(), key, child.Node())
	}
	e.notify(Change{Entity: e, Kind: ItemSet, Key: key, Child: child})

	if prev != nil {
		prev.RemoveRef()
	}
	return err
}

// ClearItem empties the named slot, releasing its child. Clearing an empty
// slot is a no-op.
func (e *Entity) ClearItem(key string) error {
	child, ok := e.items[key]
	if !ok {
		return nil
	}
	delete(e.items, key)
	child.RemoveParent(e)
	child.detach()

	var err error
	if e.writer != nil {
		err = e.writer.ClearItem(e.Node(), key)
	}
	e.notify(Change{Entity: e, Kind: ItemCleared, Key: key, Child: child})

	child.RemoveRef()
	return err
}

// Relationship returns the ordered members of the named relationship.
func (e *Entity) Relationship(key string) []*Entity {
	rel, ok := e.relationships[key]
	if !ok {
		return nil
	}
	return rel.list()
}

// RelationshipKeys returns the non-empty relationship names in sorted
// order.
func (e *Entity) RelationshipKeys() []string {
	return sortedKeys(e.relationships)
}

// InsertItem inserts child before index in the named relationship,
// adopting it. Trailing members shift up by one in the store. Inserting a
// member already present is a fatal assertion.
func (e *Entity) InsertItem(key string, child *Entity, index int) error {
	rel, ok := e.relationships[key]
	if !ok {
		rel = &relation{}
		e.relationships[key] = rel
	}
	rel.insert(index, child)

	child.AddRef()
	child.AddParent(e)
	child.attach(e.writer, e.cache)

	var err error
	if e.writer != nil {
		err = e.writer.InsertItem(e.Node(), key, child.Node(), index)
	}
	e.notify(Change{Entity: e, Kind: MemberInserted, Key: key, Index: index, Child: child})
	return err
}

// AppendItem inserts child at the end of the named relationship.
func (e *Entity) AppendItem(key string, child *Entity) error {
	var length int
	if rel, ok := e.relationships[key]; ok {
		length = len(rel.members)
	}
	return e.InsertItem(key, child, length)
}

// RemoveItem removes the member at index from the named relationship,
// releasing it. Trailing members shift down by one in the store.
func (e *Entity) RemoveItem(key string, index int) error {
	rel, ok := e.relationships[key]
	if !ok {
		panic(fmt.Sprintf("graph: remove from absent relationship %q on entity %s", key, e.uid))
	}
	child := rel.remove(index)
	if len(rel.members) == 0 {
		delete(e.relationships, key)
	}
	child.RemoveParent(e)
	child.detach()

	var err error
	if e.writer != nil {
		err = e.writer.RemoveItem(e.Node(), key, index)
	}
	e.notify(Change{Entity: e, Kind: MemberRemoved, Key: key, Index: index, Child: child})

	child.RemoveRef()
	return err
}

// Data returns the named bulk-data payload, nil when absent. Inside a
// transaction the buffered payload shadows the committed one.
func (e *Entity) Data(key string) []byte {
	if e.txLevel > 0 {
		if entry, ok := e.txData[key]; ok {
			if entry.cleared {
				return nil
			}
			return append([]byte(nil), entry.data...)
		}
	}
	d, ok := e.data[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), d...)
}

// DataKeys returns the occupied bulk-data slot names in sorted order.
func (e *Entity) DataKeys() []string {
	return sortedKeys(e.data)
}

// SetData stores a bulk payload. Inside a transaction the write is
// buffered and the store sees exactly one erase-and-write per key at
// transaction end, no matter how many mutations occurred.
func (e *Entity) SetData(key string, data []byte) error {
	buf := append([]byte(nil), data...)
	if e.txLevel > 0 {
		e.txData[key] = txDataEntry{data: buf}
		return nil
	}
	e.data[key] = buf
	var err error
	if e.writer != nil {
		err = e.writer.SetData(e.Node(), key, buf)
	}
	e.notify(Change{Entity: e, Kind: DataChanged, Key: key})
	return err
}

// ClearData removes a bulk payload. Clearing an absent slot is a no-op.
func (e *Entity) ClearData(key string) error {
	if e.txLevel > 0 {
		_, committed := e.data[key]
		_, buffered := e.txData[key]
		if !committed && !buffered {
			return nil
		}
		e.txData[key] = txDataEntry{cleared: true}
		return nil
	}
	if _, ok := e.data[key]; !ok {
		return nil
	}
	delete(e.data, key)
	var err error
	if e.writer != nil {
		err = e.writer.ClearData(e.Node(), key)
	}
	e.notify(Change{Entity: e, Kind: DataCleared, Key: key})
	return err
}

// SetCachedValue stores a derived value in the attached cache. Inside a
// transaction the write is buffered, last-write-wins per key.
func (e *Entity) SetCachedValue(key string, v value.Value, dirty bool) {
	if e.txLevel > 0 {
		e.txCached[key] = txCachedEntry{v: v, dirty: dirty}
		return
	}
	if e.cache != nil {
		e.cache.Set(e.uid, key, v, dirty)
	}
}

// CachedValue returns the derived value, or def on a miss. Never fails.
func (e *Entity) CachedValue(key string, def value.Value) value.Value {
	if e.txLevel > 0 {
		if entry, ok := e.txCached[key]; ok {
			if entry.removed {
				return def
			}
			return entry.v
		}
	}
	if e.cache == nil {
		return def
	}
	return e.cache.Get(e.uid, key, def)
}

// RemoveCachedValue drops the derived value. Idempotent.
func (e *Entity) RemoveCachedValue(key string) {
	if e.txLevel > 0 {
		e.txCached[key] = txCachedEntry{removed: true}
		return
	}
	if e.cache != nil {
		e.cache.Remove(e.uid, key)
	}
}

// IsCachedValueDirty reports the dirty flag; an absent entry is
// conservatively dirty.
func (e *Entity) IsCachedValueDirty(key string) bool {
	if e.txLevel > 0 {
		if entry, ok := e.txCached[key]; ok {
			return entry.removed || entry.dirty
		}
	}
	if e.cache == nil {
		return true
	}
	return e.cache.IsDirty(e.uid, key)
}

// SetCachedValueDirty updates the dirty flag of an existing entry.
func (e *Entity) SetCachedValueDirty(key string, dirty bool) {
	if e.txLevel > 0 {
		if entry, ok := e.txCached[key]; ok && !entry.removed {
			entry.dirty = dirty
			e.txCached[key] = entry
		}
		return
	}
	if e.cache != nil {
		e.cache.SetDirty(e.uid, key, dirty)
	}
}

// Write serializes the entity's full persistent state to the attached
// writer. No-op when detached.
func (e *Entity) Write() error {
	if e.writer == nil {
		return nil
	}
	return e.writer.WriteNode(e.Node())
}

// Node adapts the entity to the closed read interface the storage layer
// snapshots from.
func (e *Entity) Node() storage.Node {
	return entityNode{e}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
