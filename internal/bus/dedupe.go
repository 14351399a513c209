package bus

import (
	"sync"
	"time"
)

type dedupeEntry struct {
	key string
	at  time.Time
}

// DedupeCache remembers recently seen keys so redelivered gateway events are
// processed once. Entries expire after ttl; at most max keys are kept.
type DedupeCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	seen  map[string]time.Time
	order []dedupeEntry
	now   func() time.Time
}

// NewDedupeCache creates a cache.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:  ttl,
		max:  max,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// IsDuplicate records key and reports whether it was already recorded and
// not yet expired.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.prune(now)
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	d.order = append(d.order, dedupeEntry{key: key, at: now})
	d.prune(now)
	return false
}

// prune drops expired keys and evicts the oldest while over capacity.
func (d *DedupeCache) prune(now time.Time) {
	drop := 0
	for ; drop < len(d.order); drop++ {
		e := d.order[drop]
		if now.Sub(e.at) < d.ttl && len(d.seen) <= d.max {
			break
		}
		delete(d.seen, e.key)
	}
	if drop > 0 {
		d.order = append(d.order[:0], d.order[drop:]...)
	}
}

// Len returns the number of remembered keys.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
