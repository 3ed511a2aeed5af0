package graph

import (
	"fmt"

	"github.com/cairnstore/cairn/internal/value"
)

type txCachedEntry struct {
	v       value.Value
	dirty   bool
	removed bool
}

type txDataEntry struct {
	data    []byte
	cleared bool
}

// BeginTransaction opens a coalescing window on this entity. Windows nest;
// only the outermost end spills.
//
// While the window is open, durable property writes, cached-value writes,
// and bulk-data writes are buffered locally with last-write-wins per key.
// In-memory property state and observer notification for properties stay
// immediate; bulk-data notification is deferred to the spill.
func (e *Entity) BeginTransaction() {
	e.txLevel++
	if e.txLevel == 1 {
		e.txProps = make(map[string]value.Value)
		e.txCached = make(map[string]txCachedEntry)
		e.txData = make(map[string]txDataEntry)
	}
}

// EndTransaction closes one nesting level. On return to zero the buffers
// spill: one durable property write per touched key, one cache operation
// per touched cached value, and exactly one erase-and-write per touched
// bulk-data slot. Unbalanced calls are a fatal assertion.
func (e *Entity) EndTransaction() error {
	if e.txLevel == 0 {
		panic(fmt.Sprintf("graph: unbalanced end transaction on entity %s", e.uid))
	}
	e.txLevel--
	if e.txLevel > 0 {
		return nil
	}

	props, cached, data := e.txProps, e.txCached, e.txData
	e.txProps, e.txCached, e.txData = nil, nil, nil

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.writer != nil {
		for _, key := range sortedKeys(props) {
			record(e.writer.SetProperty(e.Node(), key, props[key]))
		}
	}

	if e.cache != nil {
		for _, key := range sortedKeys(cached) {
			entry := cached[key]
			if entry.removed {
				e.cache.Remove(e.uid, key)
			} else {
				e.cache.Set(e.uid, key, entry.v, entry.dirty)
			}
		}
	}

	for _, key := range sortedKeys(data) {
		entry := data[key]
		if entry.cleared {
			delete(e.data, key)
			if e.writer != nil {
				record(e.writer.ClearData(e.Node(), key))
			}
			e.notify(Change{Entity: e, Kind: DataCleared, Key: key})
			continue
		}
		e.data[key] = entry.data
		if e.writer != nil {
			record(e.writer.ClearData(e.Node(), key))
			record(e.writer.SetData(e.Node(), key, entry.data))
		}
		e.notify(Change{Entity: e, Kind: DataChanged, Key: key})
	}

	return firstErr
}

// InTransaction reports whether a coalescing window is open.
func (e *Entity) InTransaction() bool {
	return e.txLevel > 0
}
