package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
)

type memNode struct {
	typeTag       string
	refcount      int
	properties    map[string]value.Value
	items         map[string]uuid.UUID
	relationships map[string][]uuid.UUID
	data          map[string][]byte
}

func newMemNode() *memNode {
	return &memNode{
		properties:    make(map[string]value.Value),
		items:         make(map[string]uuid.UUID),
		relationships: make(map[string][]uuid.UUID),
		data:          make(map[string][]byte),
	}
}

// Memory is the ephemeral map-of-maps backend. It holds the same node graph
// the SQLite backend persists, and serializes to/from one nested UUID-keyed
// mapping for embedding or tests without a database file.
type Memory struct {
	mu           sync.Mutex
	nodes        map[uuid.UUID]*memNode
	root         uuid.UUID
	hasRoot      bool
	disconnected bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[uuid.UUID]*memNode)}
}

var _ Store = (*Memory)(nil)

// SetRoot implements Backend.
func (m *Memory) SetRoot(n *NodeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.writeNodeIfAbsent(n)
	m.root = n.UUID
	m.hasRoot = true
	return nil
}

// WriteNode implements Backend.
func (m *Memory) WriteNode(n *NodeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.writeNodeIfAbsent(n)
	return nil
}

// SetType implements Backend.
func (m *Memory) SetType(uid uuid.UUID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.node(uid).typeTag = tag
	return nil
}

// SetProperty implements Backend.
func (m *Memory) SetProperty(uid uuid.UUID, key string, v value.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.node(uid).properties[key] = v
	return nil
}

// SetItem implements Backend.
func (m *Memory) SetItem(parent uuid.UUID, key string, child *NodeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.writeNodeIfAbsent(child)
	p := m.node(parent)
	if prev, ok := p.items[key]; ok {
		if prev == child.UUID {
			return nil
		}
		// Slot already occupied: replace, releasing the old child.
		delete(p.items, key)
		m.decref(prev)
	}
	p.items[key] = child.UUID
	m.nodes[child.UUID].refcount++
	return nil
}

// ClearItem implements Backend.
func (m *Memory) ClearItem(parent uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	p, ok := m.nodes[parent]
	if !ok {
		return nil
	}
	child, ok := p.items[key]
	if !ok {
		return nil
	}
	delete(p.items, key)
	m.decref(child)
	return nil
}

// InsertItem implements Backend.
func (m *Memory) InsertItem(parent uuid.UUID, key string, child *NodeSnapshot, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.writeNodeIfAbsent(child)
	p := m.node(parent)
	members := p.relationships[key]
	if index < 0 || index > len(members) {
		return fmt.Errorf("insert %s[%q]: index %d out of range [0,%d]", parent, key, index, len(members))
	}
	members = append(members, uuid.UUID{})
	copy(members[index+1:], members[index:])
	members[index] = child.UUID
	p.relationships[key] = members
	m.nodes[child.UUID].refcount++
	m.checkIndexIntegrity(parent, key)
	return nil
}

// RemoveItem implements Backend.
func (m *Memory) RemoveItem(parent uuid.UUID, key string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	p, ok := m.nodes[parent]
	if !ok {
		return fmt.Errorf("remove %s[%q]: no such node", parent, key)
	}
	members := p.relationships[key]
	if index < 0 || index >= len(members) {
		return fmt.Errorf("remove %s[%q]: index %d out of range [0,%d)", parent, key, index, len(members))
	}
	child := members[index]
	members = append(members[:index], members[index+1:]...)
	if len(members) == 0 {
		delete(p.relationships, key)
	} else {
		p.relationships[key] = members
	}
	m.decref(child)
	m.checkIndexIntegrity(parent, key)
	return nil
}

// SetData implements Backend.
func (m *Memory) SetData(uid uuid.UUID, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.node(uid).data[key] = append([]byte(nil), data...)
	return nil
}

// ClearData implements Backend.
func (m *Memory) ClearData(uid uuid.UUID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	if n, ok := m.nodes[uid]; ok {
		delete(n.data, key)
	}
	return nil
}

// Disconnect implements Backend.
func (m *Memory) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

// Close implements Backend.
func (m *Memory) Close() error {
	return nil
}

// node returns the node for uid, creating it with refcount 0 if absent.
func (m *Memory) node(uid uuid.UUID) *memNode {
	n, ok := m.nodes[uid]
	if !ok {
		n = newMemNode()
		m.nodes[uid] = n
	}
	return n
}

// writeNodeIfAbsent cascades a full serialization of the subtree rooted at
// s. A node that already exists is left untouched - it is already durable.
func (m *Memory) writeNodeIfAbsent(s *NodeSnapshot) {
	if _, ok := m.nodes[s.UUID]; ok {
		return
	}
	n := newMemNode()
	n.typeTag = s.Type
	m.nodes[s.UUID] = n
	for k, v := range s.Properties {
		n.properties[k] = v
	}
	for k, d := range s.Data {
		n.data[k] = append([]byte(nil), d...)
	}
	for k, child := range s.Items {
		m.writeNodeIfAbsent(child)
		n.items[k] = child.UUID
		m.nodes[child.UUID].refcount++
	}
	for k, members := range s.Relationships {
		uids := make([]uuid.UUID, len(members))
		for i, child := range members {
			m.writeNodeIfAbsent(child)
			uids[i] = child.UUID
			m.nodes[child.UUID].refcount++
		}
		n.relationships[k] = uids
	}
}

// decref decrements a node's store refcount, cascading deletion at zero.
// Underflow is a fatal store-integrity violation.
func (m *Memory) decref(uid uuid.UUID) {
	n, ok := m.nodes[uid]
	if !ok {
		panic(fmt.Sprintf("storage: decref of unknown node %s", uid))
	}
	n.refcount--
	if n.refcount < 0 {
		panic(fmt.Sprintf("storage: refcount underflow on node %s", uid))
	}
	if n.refcount > 0 {
		return
	}
	// Cascade: release children first, then drop the node itself.
	for _, child := range n.items {
		m.decref(child)
	}
	for _, members := range n.relationships {
		for _, child := range members {
			m.decref(child)
		}
	}
	delete(m.nodes, uid)
}

// checkIndexIntegrity re-derives {count, max, min} for the (parent, key)
// group and asserts the indices are exactly {0, ..., count-1}. The slice
// representation makes the index implicit, so only duplicates can violate
// density here; the check still guards against them.
func (m *Memory) checkIndexIntegrity(parent uuid.UUID, key string) {
	p, ok := m.nodes[parent]
	if !ok {
		return
	}
	members := p.relationships[key]
	seen := make(map[uuid.UUID]struct{}, len(members))
	for _, child := range members {
		if _, dup := seen[child]; dup {
			panic(fmt.Sprintf("storage: duplicate member %s in relationship %s[%q]", child, parent, key))
		}
		seen[child] = struct{}{}
	}
}

// Root implements Reader.
func (m *Memory) Root() (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root, m.hasRoot, nil
}

// UUIDs implements Reader.
func (m *Memory) UUIDs() ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uids := make([]uuid.UUID, 0, len(m.nodes))
	for uid := range m.nodes {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i].String() < uids[j].String() })
	return uids, nil
}

// TypeTag implements Reader.
func (m *Memory) TypeTag(uid uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[uid]; ok {
		return n.typeTag, nil
	}
	return "", nil
}

// RefCount implements Reader.
func (m *Memory) RefCount(uid uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[uid]; ok {
		return n.refcount, nil
	}
	return 0, fmt.Errorf("refcount: no such node %s", uid)
}

// Properties implements Reader.
func (m *Memory) Properties(uid uuid.UUID) (map[string]value.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uid]
	if !ok {
		return map[string]value.Value{}, nil
	}
	out := make(map[string]value.Value, len(n.properties))
	for k, v := range n.properties {
		out[k] = v
	}
	return out, nil
}

// Items implements Reader.
func (m *Memory) Items(uid uuid.UUID) (map[string]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uid]
	if !ok {
		return map[string]uuid.UUID{}, nil
	}
	out := make(map[string]uuid.UUID, len(n.items))
	for k, v := range n.items {
		out[k] = v
	}
	return out, nil
}

// RelationshipKeys implements Reader.
func (m *Memory) RelationshipKeys(uid uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uid]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(n.relationships))
	for k := range n.relationships {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Relationship implements Reader.
func (m *Memory) Relationship(uid uuid.UUID, key string) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uid]
	if !ok {
		return nil, nil
	}
	return append([]uuid.UUID(nil), n.relationships[key]...), nil
}

// DataKeys implements Reader.
func (m *Memory) DataKeys(uid uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uid]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(n.data))
	for k := range n.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Data implements Reader.
func (m *Memory) Data(uid uuid.UUID, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[uid]
	if !ok {
		return nil, nil
	}
	d, ok := n.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), d...), nil
}

// ToMap serializes the whole store to one nested UUID-keyed mapping.
// The result round-trips through FromMap to an observably identical graph.
func (m *Memory) ToMap() (map[string]any, error) {
	doc, err := Export(m)
	if err != nil {
		return nil, err
	}
	return doc.ToMap(), nil
}

// FromMap reconstructs a store from a nested mapping produced by ToMap.
func FromMap(raw map[string]any) (*Memory, error) {
	doc, err := DocumentFromMap(raw)
	if err != nil {
		return nil, err
	}
	m := NewMemory()
	if err := Import(doc, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Restore implements the bulk importer used by Import: it writes raw rows
// including refcounts, bypassing the operation-level cascade logic.
func (m *Memory) Restore(doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected {
		return nil
	}
	m.nodes = make(map[uuid.UUID]*memNode, len(doc.Nodes))
	m.hasRoot = false
	for uidStr, nd := range doc.Nodes {
		uid, err := uuid.Parse(uidStr)
		if err != nil {
			return fmt.Errorf("restore: bad uuid %q: %w", uidStr, err)
		}
		n := newMemNode()
		n.typeTag = nd.Type
		n.refcount = nd.RefCount
		for k, raw := range nd.Properties {
			v, err := value.FromGo(raw)
			if err != nil {
				return fmt.Errorf("restore %s property %q: %w", uidStr, k, err)
			}
			n.properties[k] = v
		}
		for k, childStr := range nd.Items {
			child, err := uuid.Parse(childStr)
			if err != nil {
				return fmt.Errorf("restore %s item %q: %w", uidStr, k, err)
			}
			n.items[k] = child
		}
		for k, memberStrs := range nd.Relationships {
			members := make([]uuid.UUID, len(memberStrs))
			for i, s := range memberStrs {
				child, err := uuid.Parse(s)
				if err != nil {
					return fmt.Errorf("restore %s relationship %q[%d]: %w", uidStr, k, i, err)
				}
				members[i] = child
			}
			n.relationships[k] = members
		}
		for k, d := range nd.Data {
			n.data[k] = append([]byte(nil), d...)
		}
		m.nodes[uid] = n
	}
	if doc.Root != "" {
		root, err := uuid.Parse(doc.Root)
		if err != nil {
			return fmt.Errorf("restore: bad root uuid %q: %w", doc.Root, err)
		}
		m.root = root
		m.hasRoot = true
	}
	return nil
}
