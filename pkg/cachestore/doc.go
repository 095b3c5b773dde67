// Package cachestore provides the shared Redis cache store used by every
// cache layer, plus the coalescing resolver that collapses concurrent misses
// for the same key into a single backing fetch.
//
// The store is fail-soft by contract: no operation ever returns a transport
// error to a caller. A read against an unreachable store degrades to absent,
// a write degrades to a no-op, and the connected/degraded transition is
// reported once through the injected logger and metrics. Correctness must
// never depend on the cache being available — callers always hold a path to
// the source of truth.
package cachestore
