package graph

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/storage"
)

// LoadResult is the outcome of reconstructing a graph from a store.
type LoadResult struct {
	// Root is the reconstructed anchor, holding one reference for the
	// caller. Nil when the store is empty or the root itself failed to
	// build.
	Root *Entity

	// NeedsRewrite is set when the load self-healed corruption: unknown
	// type tags, type-less nodes, duplicate relationship members, or
	// entities whose constructors rejected them. A subsequent Save
	// normalizes the store.
	NeedsRewrite bool
}

// Load reconstructs the graph reachable from the store's root. Malformed
// nodes are logged and skipped without aborting the rest of the load;
// entities built once are memoized by UUID so diamond references resolve
// to a single instance.
//
// The returned graph is detached; attach a writer and cache through
// Entity.AttachRoot before mutating.
func Load(r storage.Reader, reg *Registry, arena *Arena, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rootUID, ok, err := r.Root()
	if err != nil {
		return nil, fmt.Errorf("load root: %w", err)
	}
	if !ok {
		return &LoadResult{}, nil
	}

	l := &loader{
		reader:   r,
		registry: reg,
		arena:    arena,
		logger:   logger,
		built:    make(map[uuid.UUID]*Entity),
	}
	root, err := l.build(rootUID)
	if err != nil {
		return nil, err
	}
	if root != nil {
		root.AddRef()
	}
	return &LoadResult{Root: root, NeedsRewrite: l.needsRewrite}, nil
}

// Save writes a normalized image of the graph rooted at root into dst,
// replacing its contents. Refcounts are re-derived from the link
// structure, so a store flagged NeedsRewrite comes out clean.
func Save(root *Entity, dst storage.Restorer) error {
	doc := storage.FromSnapshot(storage.Snapshot(root.Node()))
	return storage.Import(doc, dst)
}

type loader struct {
	reader   storage.Reader
	registry *Registry
	arena    *Arena
	logger   *slog.Logger

	// built memoizes every attempted node, nil for nodes that failed.
	built        map[uuid.UUID]*Entity
	needsRewrite bool
}

// build reconstructs one node and its subtree. Returns (nil, nil) when the
// node is malformed and was skipped; errors are reserved for reader I/O
// failures, which abort the load.
func (l *loader) build(uid uuid.UUID) (*Entity, error) {
	if e, ok := l.built[uid]; ok {
		return e, nil
	}

	tag, err := l.reader.TypeTag(uid)
	if err != nil {
		return nil, fmt.Errorf("load %s type: %w", uid, err)
	}
	if tag == "" {
		l.logger.Warn("skipping type-less node", "uuid", uid.String())
		l.skip(uid)
		return nil, nil
	}
	ctor, ok := l.registry.Lookup(tag)
	if !ok {
		l.logger.Warn("skipping node with unknown type tag", "uuid", uid.String(), "type", tag)
		l.skip(uid)
		return nil, nil
	}

	e := newWithUUID(l.arena, uid, tag)

	props, err := l.reader.Properties(uid)
	if err != nil {
		return nil, fmt.Errorf("load %s properties: %w", uid, err)
	}
	for k, v := range props {
		e.properties[k] = v
	}

	dataKeys, err := l.reader.DataKeys(uid)
	if err != nil {
		return nil, fmt.Errorf("load %s data keys: %w", uid, err)
	}
	for _, k := range dataKeys {
		d, err := l.reader.Data(uid, k)
		if err != nil {
			return nil, fmt.Errorf("load %s data %q: %w", uid, k, err)
		}
		e.data[k] = d
	}

	items, err := l.reader.Items(uid)
	if err != nil {
		return nil, fmt.Errorf("load %s items: %w", uid, err)
	}
	for k, childUID := range items {
		child, err := l.build(childUID)
		if err != nil {
			return nil, err
		}
		if child == nil {
			l.needsRewrite = true
			continue
		}
		e.items[k] = child
		child.AddRef()
		child.AddParent(e)
	}

	relKeys, err := l.reader.RelationshipKeys(uid)
	if err != nil {
		return nil, fmt.Errorf("load %s relationships: %w", uid, err)
	}
	for _, k := range relKeys {
		members, err := l.reader.Relationship(uid, k)
		if err != nil {
			return nil, fmt.Errorf("load %s relationship %q: %w", uid, k, err)
		}
		seen := make(map[uuid.UUID]struct{}, len(members))
		rel := &relation{}
		for _, childUID := range members {
			if _, dup := seen[childUID]; dup {
				// Collapse to the first occurrence; a later save writes
				// the normalized order back.
				l.logger.Warn("collapsing duplicate relationship member",
					"uuid", uid.String(), "relationship", k, "member", childUID.String())
				l.needsRewrite = true
				continue
			}
			seen[childUID] = struct{}{}
			child, err := l.build(childUID)
			if err != nil {
				return nil, err
			}
			if child == nil {
				l.needsRewrite = true
				continue
			}
			rel.insert(len(rel.members), child)
			child.AddRef()
			child.AddParent(e)
		}
		if len(rel.members) > 0 {
			e.relationships[k] = rel
		}
	}

	if err := ctor(e); err != nil {
		l.logger.Warn("discarding entity rejected by constructor",
			"uuid", uid.String(), "type", tag, "error", err)
		l.discard(e)
		l.skip(uid)
		return nil, nil
	}

	l.built[uid] = e
	return e, nil
}

func (l *loader) skip(uid uuid.UUID) {
	l.built[uid] = nil
	l.needsRewrite = true
}

// discard unwinds a partially built entity: release every linked child and
// unregister it, leaving shared children owned by their other parents.
func (l *loader) discard(e *Entity) {
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
	l.arena.unregister(e.uid)

	// Releasing those links may have finalized children whose only
	// reference so far came from the rejected entity. Drop their memo
	// entries so a later path rebuilds them instead of receiving a dead
	// instance.
	for uid, b := range l.built {
		if b != nil && b.isFinalized() {
			delete(l.built, uid)
		}
	}
}
