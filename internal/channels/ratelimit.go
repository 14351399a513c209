package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	senderBurst   = 30
	senderRefill  = 2 * time.Second // one token back every 2s, 30 per minute
	senderIdleTTL = 10 * time.Minute
	maxSenders    = 4096
)

type senderBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// SenderRateLimiter gives each sender a token bucket so one noisy user
// cannot flood the bus. Safe for concurrent use.
type SenderRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*senderBucket
	now     func() time.Time
	burst   int
	refill  time.Duration
}

// NewSenderRateLimiter allows bursts of 30 events and 30 per minute sustained.
func NewSenderRateLimiter() *SenderRateLimiter {
	return &SenderRateLimiter{
		buckets: make(map[string]*senderBucket),
		now:     time.Now,
		burst:   senderBurst,
		refill:  senderRefill,
	}
}

// Allow spends one token from key's bucket.
func (r *SenderRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		if len(r.buckets) >= maxSenders {
			r.evict(now)
		}
		b = &senderBucket{lim: rate.NewLimiter(rate.Every(r.refill), r.burst)}
		r.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// evict drops idle senders, then the least recently seen one if still full.
func (r *SenderRateLimiter) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, b := range r.buckets {
		if now.Sub(b.seen) >= senderIdleTTL {
			delete(r.buckets, k)
			continue
		}
		if oldestKey == "" || b.seen.Before(oldest) {
			oldestKey, oldest = k, b.seen
		}
	}
	if len(r.buckets) >= maxSenders {
		delete(r.buckets, oldestKey)
	}
}

// Len returns the number of tracked senders.
func (r *SenderRateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
