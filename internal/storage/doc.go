// Package storage implements the durable write/read contract backing the
// entity graph.
//
// Two interchangeable backends provide identical semantics:
//   - Memory: an ephemeral map-of-maps graph, serializable to and from one
//     nested UUID-keyed mapping for embedding and tests
//   - SQLite: a relational schema (nodes, properties, relationships, items,
//     data) committed one transaction per logical operation
//
// # Store-level reference counting
//
// Every node carries a refcount independent of the in-memory entity
// refcount: one count per items row or relationships row referencing it.
// Reaching zero cascades - the node's own property/data rows are deleted,
// every single-item child and relationship member is recursively
// decremented, then the node row itself is removed. Ownership forms a DAG;
// a node reachable via two paths is decremented twice and deleted only
// once, tracked purely by its shared refcount. The root node is the
// refcount-exempt anchor: nothing ever decrements it.
//
// # Relationship index integrity
//
// Relationship rows are uniquely keyed by (parent, key, index) and indices
// are dense, zero-based, and contiguous for the relationship's entire
// lifetime. Insertion renumbers in two phases - trailing rows move to a
// disjoint negative range first, then flip back shifted by one - so no
// transient primary-key collision is possible. After every insert or
// remove an integrity check re-derives {count, max, min} for the group and
// panics on violation.
//
// # Asynchronous execution
//
// Production callers wrap a backend in Async, which snapshots arguments on
// the calling goroutine and defers each mutation to a single worker
// goroutine. Reads join the queue first, so they observe all prior writes.
// Direct applies the same contract synchronously for tests and tools.
package storage
