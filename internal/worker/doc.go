// Package worker provides the single-goroutine asynchronous execution proxy
// shared by the datastore and cache layers.
//
// Every mutating storage call is captured as a deferred action and handed to
// one dedicated worker goroutine through an unbounded FIFO queue, so the
// model goroutine never blocks on durable I/O. Queue order is commit order.
//
// Reads call Join first, which blocks until every previously enqueued action
// has run, giving read-after-write consistency.
//
// Close enqueues a sentinel that ends the loop after draining; calling Close
// twice is a programmer error and panics. A failed or panicking action is
// recovered and logged, and the loop continues - a failed write is a
// soft-fail surfaced only via logs, with no retry.
package worker
