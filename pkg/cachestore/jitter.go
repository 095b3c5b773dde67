package cachestore

import (
	"math/rand"
	"time"
)

// Jitter returns a duration drawn uniformly from
// [base*(1-fraction), base*(1+fraction)]. Writing many entries with the same
// base TTL at the same instant (warm-up, deploy) would otherwise expire them
// all in one synchronized burst against the backing store.
func Jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}

	span := float64(base) * fraction
	offset := (rand.Float64()*2 - 1) * span
	return base + time.Duration(offset)
}
