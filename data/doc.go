// Package data provides Payload, a lazily-evaluated wrapper that unifies
// heterogeneous byte sources (strings, byte buffers, pull-based readers)
// into one object with multiple interchangeable views.
//
// A Payload built from a reader drains it at most once: the first view that
// needs the full buffer performs the drain and caches the result, and every
// later view reads the cache. The drain is guarded by an explicit
// unconsumed/draining/cached state machine so the invariant holds under real
// goroutine concurrency, not just cooperative scheduling.
package data
