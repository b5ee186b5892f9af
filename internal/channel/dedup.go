package channel

import "time"

// dedupRetention is how long a processed event key is remembered. A key is
// held for at least this long and at most twice it, bounded by the two
// generations below.
const dedupRetention = 60 * time.Second

// dedupCache remembers recently processed event keys. Instead of one
// eviction timer per entry it keeps two generations and rotates them on a
// fixed cadence, so a message storm costs one map rotation, not a pile of
// timers.
type dedupCache struct {
	ttl       time.Duration
	rotatedAt time.Time
	current   map[string]struct{}
	previous  map[string]struct{}
}

func newDedupCache(ttl time.Duration, now time.Time) *dedupCache {
	if ttl <= 0 {
		ttl = dedupRetention
	}
	return &dedupCache{
		ttl:       ttl,
		rotatedAt: now,
		current:   make(map[string]struct{}),
		previous:  make(map[string]struct{}),
	}
}

// Seen records the key and reports whether it had already been recorded
// within the retention window.
func (d *dedupCache) Seen(key string, now time.Time) bool {
	d.sweep(now)
	if _, ok := d.current[key]; ok {
		return true
	}
	if _, ok := d.previous[key]; ok {
		return true
	}
	d.current[key] = struct{}{}
	return false
}

// Reset drops every remembered key. Called on each successful connect so a
// retried reservation starts clean.
func (d *dedupCache) Reset(now time.Time) {
	d.current = make(map[string]struct{})
	d.previous = make(map[string]struct{})
	d.rotatedAt = now
}

func (d *dedupCache) sweep(now time.Time) {
	elapsed := now.Sub(d.rotatedAt)
	if elapsed < d.ttl {
		return
	}
	if elapsed >= 2*d.ttl {
		d.Reset(now)
		return
	}
	d.previous = d.current
	d.current = make(map[string]struct{})
	d.rotatedAt = d.rotatedAt.Add(d.ttl)
}
