package transfer

import (
	"sync"
	"time"
)

const (
	rateLimitWindow = time.Minute
	rateLimitMax    = 60
)

// rateLimiter applies a sliding-window request limit per client IP.
// Timestamps older than the window are pruned on every check, so an idle
// bucket costs nothing once its entries age out.
type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	buckets map[string][]time.Time

	// now is swappable in tests.
	now func() time.Time
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	return &rateLimiter{
		window:  window,
		max:     max,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow prunes the caller's bucket and reports whether another request
// fits in the window. The request is recorded only when allowed.
func (rl *rateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	bucket := rl.buckets[ip]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= rl.max {
		rl.buckets[ip] = kept
		return false
	}
	rl.buckets[ip] = append(kept, now)
	return true
}

// size reports the live entry count for one IP, for tests.
func (rl *rateLimiter) size(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets[ip])
}
