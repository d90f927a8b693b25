package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a simple in-memory rate limiter using a sliding window.
// It satisfies auth.Throttle for single-node deployments.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop. Call Close to stop it.
func NewRateLimiter(window time.Duration, maxReqs int) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop(time.Hour)
	return rl
}

// Allow records a request for key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	filtered := prune(rl.requests[key], now.Add(-rl.window))

	if len(filtered) >= rl.maxReqs {
		rl.requests[key] = filtered
		return false, nil
	}

	rl.requests[key] = append(filtered, now)
	return true, nil
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func prune(reqs []time.Time, cutoff time.Time) []time.Time {
	filtered := make([]time.Time, 0, len(reqs))
	for _, t := range reqs {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops keys with no requests inside the window.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, reqs := range rl.requests {
		filtered := prune(reqs, cutoff)
		if len(filtered) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = filtered
		}
	}
}
