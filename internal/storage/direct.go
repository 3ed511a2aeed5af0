package storage

import (
	"github.com/cairnstore/cairn/internal/value"
)

// Direct applies the Writer contract synchronously against a backend.
// Observably equivalent to Async for any call sequence; used by tests and
// tooling where the worker indirection only obscures failures.
type Direct struct {
	backend Backend
}

var _ Writer = (*Direct)(nil)

// NewDirect wraps a backend without a worker.
func NewDirect(backend Backend) *Direct {
	return &Direct{backend: backend}
}

// SetRoot implements Writer.
func (d *Direct) SetRoot(n Node) error {
	return d.backend.SetRoot(Snapshot(n))
}

// WriteNode implements Writer.
func (d *Direct) WriteNode(n Node) error {
	return d.backend.WriteNode(Snapshot(n))
}

// SetType implements Writer.
func (d *Direct) SetType(n Node, tag string) error {
	return d.backend.SetType(n.UUID(), tag)
}

// SetProperty implements Writer.
func (d *Direct) SetProperty(n Node, key string, v value.Value) error {
	return d.backend.SetProperty(n.UUID(), key, v)
}

// SetItem implements Writer.
func (d *Direct) SetItem(parent Node, key string, child Node) error {
	return d.backend.SetItem(parent.UUID(), key, Snapshot(child))
}

// ClearItem implements Writer.
func (d *Direct) ClearItem(parent Node, key string) error {
	return d.backend.ClearItem(parent.UUID(), key)
}

// InsertItem implements Writer.
func (d *Direct) InsertItem(parent Node, key string, child Node, index int) error {
	return d.backend.InsertItem(parent.UUID(), key, Snapshot(child), index)
}

// RemoveItem implements Writer.
func (d *Direct) RemoveItem(parent Node, key string, index int) error {
	return d.backend.RemoveItem(parent.UUID(), key, index)
}

// SetData implements Writer.
func (d *Direct) SetData(n Node, key string, data []byte) error {
	return d.backend.SetData(n.UUID(), key, data)
}

// ClearData implements Writer.
func (d *Direct) ClearData(n Node, key string) error {
	return d.backend.ClearData(n.UUID(), key)
}

// Disconnect implements Writer.
func (d *Direct) Disconnect() {
	d.backend.Disconnect()
}

// Close implements Writer.
func (d *Direct) Close() error {
	return d.backend.Close()
}
