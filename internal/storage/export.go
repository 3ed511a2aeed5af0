package storage

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cairnstore/cairn/internal/value"
)

// DocumentVersion marks the export document format.
const DocumentVersion = 1

// Document is the whole-store export form: every node with its type,
// store refcount, properties, item links, ordered relationships, and bulk
// data. Importing a document yields an observably identical graph - same
// nodes, same refcounts, same relationship order.
type Document struct {
	Version int                `json:"version" yaml:"version"`
	Root    string             `json:"root,omitempty" yaml:"root,omitempty"`
	Nodes   map[string]NodeDoc `json:"nodes" yaml:"nodes"`
}

// NodeDoc is one node's row-level state in an export document.
type NodeDoc struct {
	Type          string              `json:"type,omitempty" yaml:"type,omitempty"`
	RefCount      int                 `json:"refcount" yaml:"refcount"`
	Properties    map[string]any      `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items         map[string]string   `json:"items,omitempty" yaml:"items,omitempty"`
	Relationships map[string][]string `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Data          map[string][]byte   `json:"data,omitempty" yaml:"data,omitempty"`
}

// Export reads the entire store into a Document.
func Export(r Reader) (*Document, error) {
	doc := &Document{
		Version: DocumentVersion,
		Nodes:   make(map[string]NodeDoc),
	}

	if root, ok, err := r.Root(); err != nil {
		return nil, fmt.Errorf("export root: %w", err)
	} else if ok {
		doc.Root = root.String()
	}

	uids, err := r.UUIDs()
	if err != nil {
		return nil, fmt.Errorf("export uuids: %w", err)
	}

	for _, uid := range uids {
		nd := NodeDoc{}

		nd.Type, err = r.TypeTag(uid)
		if err != nil {
			return nil, fmt.Errorf("export %s type: %w", uid, err)
		}
		nd.RefCount, err = r.RefCount(uid)
		if err != nil {
			return nil, fmt.Errorf("export %s refcount: %w", uid, err)
		}

		props, err := r.Properties(uid)
		if err != nil {
			return nil, fmt.Errorf("export %s properties: %w", uid, err)
		}
		if len(props) > 0 {
			nd.Properties = make(map[string]any, len(props))
			for k, v := range props {
				nd.Properties[k] = value.ToGo(v)
			}
		}

		items, err := r.Items(uid)
		if err != nil {
			return nil, fmt.Errorf("export %s items: %w", uid, err)
		}
		if len(items) > 0 {
			nd.Items = make(map[string]string, len(items))
			for k, child := range items {
				nd.Items[k] = child.String()
			}
		}

		relKeys, err := r.RelationshipKeys(uid)
		if err != nil {
			return nil, fmt.Errorf("export %s relationships: %w", uid, err)
		}
		if len(relKeys) > 0 {
			nd.Relationships = make(map[string][]string, len(relKeys))
			for _, k := range relKeys {
				members, err := r.Relationship(uid, k)
				if err != nil {
					return nil, fmt.Errorf("export %s relationship %q: %w", uid, k, err)
				}
				strs := make([]string, len(members))
				for i, child := range members {
					strs[i] = child.String()
				}
				nd.Relationships[k] = strs
			}
		}

		dataKeys, err := r.DataKeys(uid)
		if err != nil {
			return nil, fmt.Errorf("export %s data keys: %w", uid, err)
		}
		if len(dataKeys) > 0 {
			nd.Data = make(map[string][]byte, len(dataKeys))
			for _, k := range dataKeys {
				d, err := r.Data(uid, k)
				if err != nil {
					return nil, fmt.Errorf("export %s data %q: %w", uid, k, err)
				}
				nd.Data[k] = d
			}
		}

		doc.Nodes[uid.String()] = nd
	}

	return doc, nil
}

// FromSnapshot builds a Document from a root subtree snapshot. Refcounts
// are re-derived from the link structure, one per inbound link, with the
// root itself refcount-exempt at zero. Importing the result replaces the
// store with a normalized image of the live graph.
func FromSnapshot(root *NodeSnapshot) *Document {
	doc := &Document{
		Version: DocumentVersion,
		Root:    root.UUID.String(),
		Nodes:   make(map[string]NodeDoc),
	}
	snapshotNode(doc, root)
	return doc
}

func snapshotNode(doc *Document, s *NodeSnapshot) {
	uid := s.UUID.String()
	if _, ok := doc.Nodes[uid]; ok {
		return
	}

	nd := NodeDoc{Type: s.Type}
	if len(s.Properties) > 0 {
		nd.Properties = make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			nd.Properties[k] = value.ToGo(v)
		}
	}
	if len(s.Data) > 0 {
		nd.Data = make(map[string][]byte, len(s.Data))
		for k, d := range s.Data {
			nd.Data[k] = append([]byte(nil), d...)
		}
	}
	if len(s.Items) > 0 {
		nd.Items = make(map[string]string, len(s.Items))
	}
	if len(s.Relationships) > 0 {
		nd.Relationships = make(map[string][]string, len(s.Relationships))
	}
	doc.Nodes[uid] = nd

	for k, child := range s.Items {
		nd.Items[k] = child.UUID.String()
		snapshotNode(doc, child)
		snapshotIncref(doc, child.UUID.String())
	}
	for k, members := range s.Relationships {
		strs := make([]string, len(members))
		for i, child := range members {
			strs[i] = child.UUID.String()
			snapshotNode(doc, child)
			snapshotIncref(doc, child.UUID.String())
		}
		nd.Relationships[k] = strs
	}
}

func snapshotIncref(doc *Document, uid string) {
	nd := doc.Nodes[uid]
	nd.RefCount++
	doc.Nodes[uid] = nd
}

// Restorer is the bulk-import hook a backend provides: write raw rows
// including refcounts, bypassing operation-level cascade logic.
type Restorer interface {
	Restore(doc *Document) error
}

// Import loads a document into a backend.
func Import(doc *Document, dst Restorer) error {
	if doc.Version > DocumentVersion {
		return fmt.Errorf("import: document version %d newer than supported %d", doc.Version, DocumentVersion)
	}
	return dst.Restore(doc)
}

// MarshalCanonical serializes a document to deterministic JSON: nodes keyed
// by UUID in sorted order, map keys sorted, no HTML escaping. Two exports
// of observably identical graphs produce byte-identical output, which is
// what the golden tests compare.
func (doc *Document) MarshalCanonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return buf.Bytes(), nil
}

// ToMap converts the document to one nested UUID-keyed mapping of plain Go
// types, the in-memory serialization form named by the storage contract.
func (doc *Document) ToMap() map[string]any {
	nodes := make(map[string]any, len(doc.Nodes))
	for uid, nd := range doc.Nodes {
		node := map[string]any{
			"refcount": int64(nd.RefCount),
		}
		if nd.Type != "" {
			node["type"] = nd.Type
		}
		if len(nd.Properties) > 0 {
			props := make(map[string]any, len(nd.Properties))
			for k, v := range nd.Properties {
				props[k] = v
			}
			node["properties"] = props
		}
		if len(nd.Items) > 0 {
			items := make(map[string]any, len(nd.Items))
			for k, v := range nd.Items {
				items[k] = v
			}
			node["items"] = items
		}
		if len(nd.Relationships) > 0 {
			rels := make(map[string]any, len(nd.Relationships))
			for k, members := range nd.Relationships {
				ms := make([]any, len(members))
				for i, s := range members {
					ms[i] = s
				}
				rels[k] = ms
			}
			node["relationships"] = rels
		}
		if len(nd.Data) > 0 {
			data := make(map[string]any, len(nd.Data))
			for k, d := range nd.Data {
				data[k] = base64.StdEncoding.EncodeToString(d)
			}
			node["data"] = data
		}
		nodes[uid] = node
	}

	out := map[string]any{
		"version": int64(doc.Version),
		"nodes":   nodes,
	}
	if doc.Root != "" {
		out["root"] = doc.Root
	}
	return out
}

// DocumentFromMap parses the nested mapping form back into a Document.
func DocumentFromMap(raw map[string]any) (*Document, error) {
	doc := &Document{Nodes: make(map[string]NodeDoc)}

	if v, ok := raw["version"]; ok {
		n, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("document version: %w", err)
		}
		doc.Version = n
	}
	if v, ok := raw["root"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("document root: expected string, got %T", v)
		}
		doc.Root = s
	}

	nodesRaw, ok := raw["nodes"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document: missing nodes mapping")
	}
	for uid, nodeAny := range nodesRaw {
		nodeRaw, ok := nodeAny.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node %s: expected mapping, got %T", uid, nodeAny)
		}
		nd, err := nodeDocFromMap(nodeRaw)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", uid, err)
		}
		doc.Nodes[uid] = nd
	}
	return doc, nil
}

func nodeDocFromMap(raw map[string]any) (NodeDoc, error) {
	var nd NodeDoc

	if v, ok := raw["type"]; ok {
		s, ok := v.(string)
		if !ok {
			return nd, fmt.Errorf("type: expected string, got %T", v)
		}
		nd.Type = s
	}
	if v, ok := raw["refcount"]; ok {
		n, err := asInt(v)
		if err != nil {
			return nd, fmt.Errorf("refcount: %w", err)
		}
		nd.RefCount = n
	}
	if v, ok := raw["properties"]; ok {
		props, ok := v.(map[string]any)
		if !ok {
			return nd, fmt.Errorf("properties: expected mapping, got %T", v)
		}
		nd.Properties = props
	}
	if v, ok := raw["items"]; ok {
		items, ok := v.(map[string]any)
		if !ok {
			return nd, fmt.Errorf("items: expected mapping, got %T", v)
		}
		nd.Items = make(map[string]string, len(items))
		for k, cv := range items {
			s, ok := cv.(string)
			if !ok {
				return nd, fmt.Errorf("item %q: expected string, got %T", k, cv)
			}
			nd.Items[k] = s
		}
	}
	if v, ok := raw["relationships"]; ok {
		rels, ok := v.(map[string]any)
		if !ok {
			return nd, fmt.Errorf("relationships: expected mapping, got %T", v)
		}
		nd.Relationships = make(map[string][]string, len(rels))
		for k, mv := range rels {
			members, ok := mv.([]any)
			if !ok {
				return nd, fmt.Errorf("relationship %q: expected sequence, got %T", k, mv)
			}
			strs := make([]string, len(members))
			for i, mm := range members {
				s, ok := mm.(string)
				if !ok {
					return nd, fmt.Errorf("relationship %q[%d]: expected string, got %T", k, i, mm)
				}
				strs[i] = s
			}
			nd.Relationships[k] = strs
		}
	}
	if v, ok := raw["data"]; ok {
		data, ok := v.(map[string]any)
		if !ok {
			return nd, fmt.Errorf("data: expected mapping, got %T", v)
		}
		nd.Data = make(map[string][]byte, len(data))
		for k, dv := range data {
			switch d := dv.(type) {
			case string:
				decoded, err := base64.StdEncoding.DecodeString(d)
				if err != nil {
					return nd, fmt.Errorf("data %q: %w", k, err)
				}
				nd.Data[k] = decoded
			case []byte:
				nd.Data[k] = append([]byte(nil), d...)
			default:
				return nd, fmt.Errorf("data %q: expected string or bytes, got %T", k, dv)
			}
		}
	}
	return nd, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// SortedNodeUUIDs returns the document's node keys in sorted order, for
// deterministic iteration in tooling output.
func (doc *Document) SortedNodeUUIDs() []string {
	keys := make([]string, 0, len(doc.Nodes))
	for k := range doc.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
