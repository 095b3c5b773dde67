package cachestore

import "sync/atomic"

// LayerMetrics is a point-in-time snapshot of one cache layer's counters.
type LayerMetrics struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Errors    int64   `json:"errors"`
	Fallbacks int64   `json:"fallbacks"`
	HitRate   float64 `json:"hit_rate"`
}

// Counters tracks per-layer outcomes alongside the Prometheus vectors, so
// layers can report a local snapshot without scraping the registry.
// The zero value is ready to use.
type Counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	errors    atomic.Int64
	fallbacks atomic.Int64
}

func (c *Counters) Hit()      { c.hits.Add(1) }
func (c *Counters) Miss()     { c.misses.Add(1) }
func (c *Counters) Error()    { c.errors.Add(1) }
func (c *Counters) Fallback() { c.fallbacks.Add(1) }

// Snapshot returns the current counts. HitRate is hits over hits+misses;
// a layer that has served no lookups reports 0.
func (c *Counters) Snapshot() LayerMetrics {
	m := LayerMetrics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Errors:    c.errors.Load(),
		Fallbacks: c.fallbacks.Load(),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	return m
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.errors.Store(0)
	c.fallbacks.Store(0)
}
