// Package harness runs declarative conformance scenarios against the
// datastore backends.
//
// A scenario is a YAML file describing a sequence of store operations and a
// set of expectations over the resulting state. The same scenario runs
// unchanged against the in-memory backend and the SQLite backend; any
// divergence between the two is a conformance bug in one of them.
//
// Scenarios deliberately speak the Backend vocabulary (set-root, insert-item,
// remove-item, ...) rather than the entity vocabulary: the harness exists to
// pin down store semantics - refcount cascades, relationship index density,
// idempotent clears - independent of the object graph sitting on top.
package harness
