package realtime

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter for one key.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = connectRateEvents
	}
	if window <= 0 {
		window = connectRateWindow
	}
	return &RateLimiter{
		events: make([]time.Time, 0, limit),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trimLocked(now)
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

func (r *RateLimiter) idle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trimLocked(now)
	return len(r.events) == 0
}

func (r *RateLimiter) trimLocked(now time.Time) {
	cut := now.Add(-r.window)
	dst := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	r.events = dst
}

// ConnectLimiter applies one RateLimiter per key (remote IP for push handshakes).
type ConnectLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	byKey     map[string]*RateLimiter
	lastSweep time.Time
}

func NewConnectLimiter(limit int, window time.Duration) *ConnectLimiter {
	if limit <= 0 {
		limit = connectRateEvents
	}
	if window <= 0 {
		window = connectRateWindow
	}
	return &ConnectLimiter{limit: limit, window: window, byKey: make(map[string]*RateLimiter)}
}

func (c *ConnectLimiter) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	if now.Sub(c.lastSweep) >= c.window {
		for k, rl := range c.byKey {
			if rl.idle(now) {
				delete(c.byKey, k)
			}
		}
		c.lastSweep = now
	}
	rl := c.byKey[key]
	if rl == nil {
		rl = NewRateLimiter(c.limit, c.window)
		c.byKey[key] = rl
	}
	c.mu.Unlock()

	return rl.Allow(now)
}

// Keys is the number of tracked keys.
func (c *ConnectLimiter) Keys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}
