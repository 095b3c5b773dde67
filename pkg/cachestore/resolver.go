package cachestore

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver deduplicates concurrent cache misses for the same key: N callers
// racing on an uncached key trigger exactly one backing fetch and all receive
// its result, or its failure. The in-flight bookkeeping lives in a
// singleflight.Group, whose check-and-register is atomic, so two racing
// misses can never both start a fetch.
//
// The resolver performs no retries; a failed fetch clears the in-flight entry
// so the next miss tries again rather than being poisoned.
type Resolver[T any] struct {
	store *Store
	group singleflight.Group
}

// NewResolver creates a Resolver backed by the shared cache store.
func NewResolver[T any](store *Store) *Resolver[T] {
	return &Resolver[T]{store: store}
}

// Resolve returns the cached value for key, or runs fetch exactly once across
// all concurrent callers, writes the result back with the given TTL, and
// returns it.
func (r *Resolver[T]) Resolve(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if r.store.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// A coalesced caller may land here just after the leader populated
		// the cache; re-check before fetching.
		var c T
		if r.store.GetJSON(ctx, key, &c) {
			return c, nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		r.store.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return v.(T), nil
}
