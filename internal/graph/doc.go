// Package graph implements the in-memory entity model: reference-counted
// persistent entities with flat properties, optional single-child item
// slots, ordered relationships, and bulk data, durably mirrored through an
// attached storage writer and cache.
//
// The graph is structurally single-threaded: all structural mutation
// happens on one designated model goroutine. Entity-level locking exists
// only around the refcount and the observer list, the sole fields touched
// from other goroutines. Durable I/O is decoupled behind the writer, which
// snapshots arguments before anything crosses a goroutine boundary.
//
// Ownership forms a DAG. An entity gains a reference and inherits its
// parent's persistence context when linked into an item slot or a
// relationship, and loses it on removal; refcount zero finalizes the
// entity exactly once, releasing its own children in turn.
package graph
