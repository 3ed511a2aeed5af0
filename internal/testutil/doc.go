// Package testutil provides deterministic test doubles shared across
// packages: a recording storage writer for write-coalescing assertions and
// a recording observer for notification-order assertions.
package testutil
