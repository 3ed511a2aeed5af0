package harness

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// Scenario is one declarative conformance case: a named sequence of store
// operations plus expectations over the final state.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Step is a single store operation. Op selects the operation; the other
// fields are filled per-op (see applyStep for which ops read which fields).
type Step struct {
	Op string `yaml:"op"`

	Node   *NodeSpec `yaml:"node,omitempty"`
	Parent string    `yaml:"parent,omitempty"`
	UUID   string    `yaml:"uuid,omitempty"`
	Key    string    `yaml:"key,omitempty"`
	Index  int       `yaml:"index,omitempty"`
	Type   string    `yaml:"type,omitempty"`
	Value  any       `yaml:"value,omitempty"`
	Data   string    `yaml:"data,omitempty"` // base64
}

// NodeSpec describes a node subtree to write, mirroring storage.NodeSnapshot
// in YAML-friendly form. Data payloads are base64.
type NodeSpec struct {
	UUID          string                 `yaml:"uuid"`
	Type          string                 `yaml:"type,omitempty"`
	Properties    map[string]any         `yaml:"properties,omitempty"`
	Items         map[string]*NodeSpec   `yaml:"items,omitempty"`
	Relationships map[string][]*NodeSpec `yaml:"relationships,omitempty"`
	Data          map[string]string      `yaml:"data,omitempty"`
}

// Expect describes the state the store must be in after the steps ran.
// Every field is optional; zero-valued fields are not checked.
type Expect struct {
	// Nodes is the exact node count, when non-nil.
	Nodes *int `yaml:"nodes,omitempty"`

	// Root is the expected anchor UUID. "none" asserts an empty store.
	Root string `yaml:"root,omitempty"`

	// Clean asserts that Verify reports no problems.
	Clean bool `yaml:"clean,omitempty"`

	// RefCounts maps node UUIDs to their expected store refcount.
	RefCounts map[string]int `yaml:"refcounts,omitempty"`

	// Relationships pins member order for specific relationship groups.
	Relationships []RelationshipExpect `yaml:"relationships,omitempty"`

	// Absent lists UUIDs that must no longer exist (cascade victims).
	Absent []string `yaml:"absent,omitempty"`
}

// RelationshipExpect pins the exact member order of one relationship group.
type RelationshipExpect struct {
	Parent  string   `yaml:"parent"`
	Key     string   `yaml:"key"`
	Members []string `yaml:"members"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %q: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	for i, step := range sc.Steps {
		if _, ok := stepOps[step.Op]; !ok {
			return fmt.Errorf("step %d: unknown op %q", i, step.Op)
		}
	}
	return nil
}

var stepOps = map[string]struct{}{
	"set-root":     {},
	"write-node":   {},
	"set-type":     {},
	"set-property": {},
	"set-item":     {},
	"clear-item":   {},
	"insert-item":  {},
	"remove-item":  {},
	"set-data":     {},
	"clear-data":   {},
	"disconnect":   {},
}

// snapshot converts the YAML node form into a NodeSnapshot ready for the
// Backend.
func (n *NodeSpec) snapshot() (*storage.NodeSnapshot, error) {
	uid, err := uuid.Parse(n.UUID)
	if err != nil {
		return nil, fmt.Errorf("node uuid %q: %w", n.UUID, err)
	}

	s := &storage.NodeSnapshot{
		UUID: uid,
		Type: n.Type,
	}
	if len(n.Properties) > 0 {
		s.Properties = make(map[string]value.Value, len(n.Properties))
		for k, raw := range n.Properties {
			v, err := value.FromGo(raw)
			if err != nil {
				return nil, fmt.Errorf("node %s property %q: %w", n.UUID, k, err)
			}
			s.Properties[k] = v
		}
	}
	if len(n.Items) > 0 {
		s.Items = make(map[string]*storage.NodeSnapshot, len(n.Items))
		for k, child := range n.Items {
			cs, err := child.snapshot()
			if err != nil {
				return nil, err
			}
			s.Items[k] = cs
		}
	}
	if len(n.Relationships) > 0 {
		s.Relationships = make(map[string][]*storage.NodeSnapshot, len(n.Relationships))
		for k, members := range n.Relationships {
			snaps := make([]*storage.NodeSnapshot, len(members))
			for i, child := range members {
				cs, err := child.snapshot()
				if err != nil {
					return nil, err
				}
				snaps[i] = cs
			}
			s.Relationships[k] = snaps
		}
	}
	if len(n.Data) > 0 {
		s.Data = make(map[string][]byte, len(n.Data))
		for k, b64 := range n.Data {
			payload, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return nil, fmt.Errorf("node %s data %q: %w", n.UUID, k, err)
			}
			s.Data[k] = payload
		}
	}
	return s, nil
}
