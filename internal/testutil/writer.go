package testutil

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/storage"
	"github.com/cairnstore/cairn/internal/value"
)

// Op is one recorded writer call: the operation name plus the addressing
// arguments that matter for assertions.
type Op struct {
	Name  string
	UUID  uuid.UUID
	Key   string
	Index int
}

// RecordingWriter implements storage.Writer and records every call, in
// order, optionally forwarding to a delegate backend.
//
// This enables write-coalescing assertions: a test counts how many durable
// operations a graph mutation sequence produced, independent of what the
// backend stored.
//
// Thread-safety: safe for concurrent use via internal mutex, although the
// graph layer only ever calls it from the model goroutine.
type RecordingWriter struct {
	mu  sync.Mutex
	ops []Op

	// Delegate, when non-nil, receives every call after recording.
	Delegate storage.Writer
}

var _ storage.Writer = (*RecordingWriter)(nil)

// NewRecordingWriter creates a recorder with no delegate.
func NewRecordingWriter() *RecordingWriter {
	return &RecordingWriter{}
}

// Ops returns a copy of the recorded calls in order.
func (w *RecordingWriter) Ops() []Op {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Op(nil), w.ops...)
}

// Count returns how many recorded calls match the operation name.
func (w *RecordingWriter) Count(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, op := range w.ops {
		if op.Name == name {
			n++
		}
	}
	return n
}

// CountKey returns how many recorded calls match both operation name and
// key.
func (w *RecordingWriter) CountKey(name, key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, op := range w.ops {
		if op.Name == name && op.Key == key {
			n++
		}
	}
	return n
}

// Reset discards the recorded calls.
func (w *RecordingWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = nil
}

func (w *RecordingWriter) record(op Op) {
	w.mu.Lock()
	w.ops = append(w.ops, op)
	w.mu.Unlock()
}

// SetRoot implements storage.Writer.
func (w *RecordingWriter) SetRoot(n storage.Node) error {
	w.record(Op{Name: "set-root", UUID: n.UUID()})
	if w.Delegate != nil {
		return w.Delegate.SetRoot(n)
	}
	return nil
}

// WriteNode implements storage.Writer.
func (w *RecordingWriter) WriteNode(n storage.Node) error {
	w.record(Op{Name: "write-node", UUID: n.UUID()})
	if w.Delegate != nil {
		return w.Delegate.WriteNode(n)
	}
	return nil
}

// SetType implements storage.Writer.
func (w *RecordingWriter) SetType(n storage.Node, tag string) error {
	w.record(Op{Name: "set-type", UUID: n.UUID(), Key: tag})
	if w.Delegate != nil {
		return w.Delegate.SetType(n, tag)
	}
	return nil
}

// SetProperty implements storage.Writer.
func (w *RecordingWriter) SetProperty(n storage.Node, key string, v value.Value) error {
	w.record(Op{Name: "set-property", UUID: n.UUID(), Key: key})
	if w.Delegate != nil {
		return w.Delegate.SetProperty(n, key, v)
	}
	return nil
}

// SetItem implements storage.Writer.
func (w *RecordingWriter) SetItem(parent storage.Node, key string, child storage.Node) error {
	w.record(Op{Name: "set-item", UUID: parent.UUID(), Key: key})
	if w.Delegate != nil {
		return w.Delegate.SetItem(parent, key, child)
	}
	return nil
}

// ClearItem implements storage.Writer.
func (w *RecordingWriter) ClearItem(parent storage.Node, key string) error {
	w.record(Op{Name: "clear-item", UUID: parent.UUID(), Key: key})
	if w.Delegate != nil {
		return w.Delegate.ClearItem(parent, key)
	}
	return nil
}

// InsertItem implements storage.Writer.
func (w *RecordingWriter) InsertItem(parent storage.Node, key string, child storage.Node, index int) error {
	w.record(Op{Name: "insert-item", UUID: parent.UUID(), Key: key, Index: index})
	if w.Delegate != nil {
		return w.Delegate.InsertItem(parent, key, child, index)
	}
	return nil
}

// RemoveItem implements storage.Writer.
func (w *RecordingWriter) RemoveItem(parent storage.Node, key string, index int) error {
	w.record(Op{Name: "remove-item", UUID: parent.UUID(), Key: key, Index: index})
	if w.Delegate != nil {
		return w.Delegate.RemoveItem(parent, key, index)
	}
	return nil
}

// SetData implements storage.Writer.
func (w *RecordingWriter) SetData(n storage.Node, key string, data []byte) error {
	w.record(Op{Name: "set-data", UUID: n.UUID(), Key: key})
	if w.Delegate != nil {
		return w.Delegate.SetData(n, key, data)
	}
	return nil
}

// ClearData implements storage.Writer.
func (w *RecordingWriter) ClearData(n storage.Node, key string) error {
	w.record(Op{Name: "clear-data", UUID: n.UUID(), Key: key})
	if w.Delegate != nil {
		return w.Delegate.ClearData(n, key)
	}
	return nil
}

// Disconnect implements storage.Writer.
func (w *RecordingWriter) Disconnect() {
	w.record(Op{Name: "disconnect"})
	if w.Delegate != nil {
		w.Delegate.Disconnect()
	}
}

// Close implements storage.Writer.
func (w *RecordingWriter) Close() error {
	w.record(Op{Name: "close"})
	if w.Delegate != nil {
		return w.Delegate.Close()
	}
	return nil
}
