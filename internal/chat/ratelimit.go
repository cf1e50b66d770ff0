package chat

import (
	"sync"
	"time"
)

// RateLimiter throttles chat starts per user over a sliding window. The key
// is the user id alone, so rotating client session ids does not reset the
// budget.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	stop     chan struct{}
}

// NewRateLimiter creates a limiter and starts its background eviction loop.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Allow records a request for key and reports whether it is within budget.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	recent := r.requests[key][:0:0]
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Close stops the eviction loop.
func (r *RateLimiter) Close() {
	close(r.stop)
}

// evictLoop drops expired keys so the map cannot grow without bound.
func (r *RateLimiter) evictLoop() {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		cutoff := time.Now().Add(-r.window)
		for key, times := range r.requests {
			fresh := times[:0:0]
			for _, t := range times {
				if t.After(cutoff) {
					fresh = append(fresh, t)
				}
			}
			if len(fresh) == 0 {
				delete(r.requests, key)
			} else {
				r.requests[key] = fresh
			}
		}
		r.mu.Unlock()
	}
}
