package testutil

import (
	"github.com/cairnstore/cairn/internal/graph"
)

// RecordingObserver implements graph.Observer and records every change
// event in delivery order.
//
// Observers run synchronously on the mutating goroutine, so no locking is
// needed.
type RecordingObserver struct {
	Changes []graph.Change
}

var _ graph.Observer = (*RecordingObserver)(nil)

// EntityChanged implements graph.Observer.
func (o *RecordingObserver) EntityChanged(c graph.Change) {
	o.Changes = append(o.Changes, c)
}

// Kinds returns the recorded change kinds in delivery order.
func (o *RecordingObserver) Kinds() []graph.ChangeKind {
	kinds := make([]graph.ChangeKind, len(o.Changes))
	for i, c := range o.Changes {
		kinds[i] = c.Kind
	}
	return kinds
}

// CountKind returns how many recorded changes match the kind.
func (o *RecordingObserver) CountKind(kind graph.ChangeKind) int {
	n := 0
	for _, c := range o.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
