// Package cache implements the advisory derived-value store: dirty-tracked
// key/value entries keyed by (entity UUID, key), fully decoupled from the
// durable object graph.
//
// Absence is never an error - a miss resolves to the caller's default, and
// an absent dirty flag conservatively reads as dirty, both of which just
// mean "recompute".
//
// Backends: a volatile map and a SQLite table behind the async worker.
// The two are observably equivalent for any call sequence; only the SQLite
// backend survives process restart. Suspendable composes over either,
// buffering writes while suspended and merging on resume so a set-then-
// remove pair entirely within one suspension has zero net effect.
package cache
