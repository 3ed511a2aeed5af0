package harness

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// Result is the outcome of running one scenario against one backend.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Errors lists expectation failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Document is the canonical export of the final state, used for golden
	// comparison and for cross-backend equivalence checks.
	Document *storage.Document `json:"document"`
}

// AddError records an expectation failure and marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run applies the scenario's steps to the store and evaluates its
// expectations. A step error aborts the run; expectation failures do not.
func Run(sc *Scenario, s storage.Store) (*Result, error) {
	for i, step := range sc.Steps {
		if err := applyStep(s, step); err != nil {
			return nil, fmt.Errorf("scenario %q step %d (%s): %w", sc.Name, i, step.Op, err)
		}
	}

	result := &Result{Pass: true}
	if sc.Expect != nil {
		evaluateExpect(sc.Expect, s, result)
	}

	doc, err := storage.Export(s)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: export: %w", sc.Name, err)
	}
	result.Document = doc

	return result, nil
}

func applyStep(s storage.Store, step Step) error {
	switch step.Op {
	case "set-root":
		snap, err := requireNode(step)
		if err != nil {
			return err
		}
		return s.SetRoot(snap)

	case "write-node":
		snap, err := requireNode(step)
		if err != nil {
			return err
		}
		return s.WriteNode(snap)

	case "set-type":
		uid, err := parseStepUUID(step.UUID)
		if err != nil {
			return err
		}
		return s.SetType(uid, step.Type)

	case "set-property":
		uid, err := parseStepUUID(step.UUID)
		if err != nil {
			return err
		}
		v, err := value.FromGo(step.Value)
		if err != nil {
			return fmt.Errorf("property %q: %w", step.Key, err)
		}
		return s.SetProperty(uid, step.Key, v)

	case "set-item":
		parent, err := parseStepUUID(step.Parent)
		if err != nil {
			return err
		}
		snap, err := requireNode(step)
		if err != nil {
			return err
		}
		return s.SetItem(parent, step.Key, snap)

	case "clear-item":
		parent, err := parseStepUUID(step.Parent)
		if err != nil {
			return err
		}
		return s.ClearItem(parent, step.Key)

	case "insert-item":
		parent, err := parseStepUUID(step.Parent)
		if err != nil {
			return err
		}
		snap, err := requireNode(step)
		if err != nil {
			return err
		}
		return s.InsertItem(parent, step.Key, snap, step.Index)

	case "remove-item":
		parent, err := parseStepUUID(step.Parent)
		if err != nil {
			return err
		}
		return s.RemoveItem(parent, step.Key, step.Index)

	case "set-data":
		uid, err := parseStepUUID(step.UUID)
		if err != nil {
			return err
		}
		payload, err := base64.StdEncoding.DecodeString(step.Data)
		if err != nil {
			return fmt.Errorf("data %q: %w", step.Key, err)
		}
		return s.SetData(uid, step.Key, payload)

	case "clear-data":
		uid, err := parseStepUUID(step.UUID)
		if err != nil {
			return err
		}
		return s.ClearData(uid, step.Key)

	case "disconnect":
		s.Disconnect()
		return nil

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func requireNode(step Step) (*storage.NodeSnapshot, error) {
	if step.Node == nil {
		return nil, fmt.Errorf("op %q requires a node", step.Op)
	}
	return step.Node.snapshot()
}

func parseStepUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("missing uuid")
	}
	uid, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("uuid %q: %w", s, err)
	}
	return uid, nil
}
