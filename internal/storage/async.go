package storage

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/cairnstore/cairn/internal/value"
	"github.com/cairnstore/cairn/internal/worker"
)

// Async decouples model mutation from I/O: every mutating call snapshots
// its arguments on the calling goroutine and defers the backend write to a
// dedicated worker goroutine. Reads join the queue first, guaranteeing
// read-after-write consistency. A failed deferred write is logged by the
// worker and never propagates.
type Async struct {
	backend Store
	w       *worker.Worker
	logger  *slog.Logger
}

var _ Writer = (*Async)(nil)
var _ Reader = (*Async)(nil)

// NewAsync wraps a backend with its own worker goroutine.
// A nil logger falls back to slog.Default().
func NewAsync(backend Store, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{
		backend: backend,
		w:       worker.New("storage", logger),
		logger:  logger,
	}
}

// enqueue defers one write. A write arriving after Close is dropped; the
// soft-fail policy surfaces the drop through the log.
func (a *Async) enqueue(op string, uid uuid.UUID, fn worker.Action) {
	if !a.w.Defer(fn) {
		a.logger.Warn("write dropped after close", "op", op, "uuid", uid.String())
	}
}

// SetRoot implements Writer.
func (a *Async) SetRoot(n Node) error {
	s := Snapshot(n)
	a.enqueue("set-root", s.UUID, func() error { return a.backend.SetRoot(s) })
	return nil
}

// WriteNode implements Writer.
func (a *Async) WriteNode(n Node) error {
	s := Snapshot(n)
	a.enqueue("write-node", s.UUID, func() error { return a.backend.WriteNode(s) })
	return nil
}

// SetType implements Writer.
func (a *Async) SetType(n Node, tag string) error {
	uid := n.UUID()
	a.enqueue("set-type", uid, func() error { return a.backend.SetType(uid, tag) })
	return nil
}

// SetProperty implements Writer.
func (a *Async) SetProperty(n Node, key string, v value.Value) error {
	uid := n.UUID()
	a.enqueue("set-property", uid, func() error { return a.backend.SetProperty(uid, key, v) })
	return nil
}

// SetItem implements Writer.
func (a *Async) SetItem(parent Node, key string, child Node) error {
	parentUID := parent.UUID()
	s := Snapshot(child)
	a.enqueue("set-item", parentUID, func() error { return a.backend.SetItem(parentUID, key, s) })
	return nil
}

// ClearItem implements Writer.
func (a *Async) ClearItem(parent Node, key string) error {
	parentUID := parent.UUID()
	a.enqueue("clear-item", parentUID, func() error { return a.backend.ClearItem(parentUID, key) })
	return nil
}

// InsertItem implements Writer.
func (a *Async) InsertItem(parent Node, key string, child Node, index int) error {
	parentUID := parent.UUID()
	s := Snapshot(child)
	a.enqueue("insert-item", parentUID, func() error { return a.backend.InsertItem(parentUID, key, s, index) })
	return nil
}

// RemoveItem implements Writer.
func (a *Async) RemoveItem(parent Node, key string, index int) error {
	parentUID := parent.UUID()
	a.enqueue("remove-item", parentUID, func() error { return a.backend.RemoveItem(parentUID, key, index) })
	return nil
}

// SetData implements Writer.
func (a *Async) SetData(n Node, key string, data []byte) error {
	uid := n.UUID()
	payload := append([]byte(nil), data...)
	a.enqueue("set-data", uid, func() error { return a.backend.SetData(uid, key, payload) })
	return nil
}

// ClearData implements Writer.
func (a *Async) ClearData(n Node, key string) error {
	uid := n.UUID()
	a.enqueue("clear-data", uid, func() error { return a.backend.ClearData(uid, key) })
	return nil
}

// Disconnect implements Writer. Takes effect immediately: queued actions
// still run, but each backend mutation is a no-op from this point on.
func (a *Async) Disconnect() {
	a.backend.Disconnect()
}

// Close drains the queue, stops the worker, and closes the backend.
// Double close is a fatal programmer error (the worker panics).
func (a *Async) Close() error {
	a.w.Close()
	return a.backend.Close()
}

// Join blocks until every previously deferred write has been applied.
func (a *Async) Join() {
	a.w.Join()
}

// Root implements Reader, draining the queue first.
func (a *Async) Root() (uuid.UUID, bool, error) {
	a.w.Join()
	return a.backend.Root()
}

// UUIDs implements Reader, draining the queue first.
func (a *Async) UUIDs() ([]uuid.UUID, error) {
	a.w.Join()
	return a.backend.UUIDs()
}

// TypeTag implements Reader, draining the queue first.
func (a *Async) TypeTag(uid uuid.UUID) (string, error) {
	a.w.Join()
	return a.backend.TypeTag(uid)
}

// RefCount implements Reader, draining the queue first.
func (a *Async) RefCount(uid uuid.UUID) (int, error) {
	a.w.Join()
	return a.backend.RefCount(uid)
}

// Properties implements Reader, draining the queue first.
func (a *Async) Properties(uid uuid.UUID) (map[string]value.Value, error) {
	a.w.Join()
	return a.backend.Properties(uid)
}

// Items implements Reader, draining the queue first.
func (a *Async) Items(uid uuid.UUID) (map[string]uuid.UUID, error) {
	a.w.Join()
	return a.backend.Items(uid)
}

// RelationshipKeys implements Reader, draining the queue first.
func (a *Async) RelationshipKeys(uid uuid.UUID) ([]string, error) {
	a.w.Join()
	return a.backend.RelationshipKeys(uid)
}

// Relationship implements Reader, draining the queue first.
func (a *Async) Relationship(uid uuid.UUID, key string) ([]uuid.UUID, error) {
	a.w.Join()
	return a.backend.Relationship(uid, key)
}

// DataKeys implements Reader, draining the queue first.
func (a *Async) DataKeys(uid uuid.UUID) ([]string, error) {
	a.w.Join()
	return a.backend.DataKeys(uid)
}

// Data implements Reader, draining the queue first.
func (a *Async) Data(uid uuid.UUID, key string) ([]byte, error) {
	a.w.Join()
	return a.backend.Data(uid, key)
}
