package server

import (
	"sync"
	"time"
)

// RateLimiter implements a per-IP sliding window rate limiter. It guards
// the admin login endpoint against password guessing.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*attempts
	limit    int           // requests allowed per window
	window   time.Duration // time window
	enabled  bool
	stop     chan struct{}
	stopOnce sync.Once
}

type attempts struct {
	times []time.Time
}

// NewRateLimiter creates a rate limiter with the given limit per window.
// If limit is 0, rate limiting is disabled.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*attempts),
		limit:   limit,
		window:  window,
		enabled: limit > 0,
		stop:    make(chan struct{}),
	}
	if rl.enabled {
		go rl.cleanup()
	}
	return rl
}

// Allow checks if the given IP is allowed to make a request.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.enabled {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	a, ok := rl.clients[ip]
	if !ok {
		a = &attempts{}
		rl.clients[ip] = a
	}
	a.times = pruneBefore(a.times, now.Add(-rl.window))

	if len(a.times) >= rl.limit {
		return false
	}
	a.times = append(a.times, now)
	return true
}

// Stop ends the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	valid := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// cleanup removes idle clients periodically.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for ip, a := range rl.clients {
			a.times = pruneBefore(a.times, cutoff)
			if len(a.times) == 0 {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}
