package stream

import (
	"sync"
	"time"
)

// ConnLimiter is a sliding-window limit on new stream connections per key.
type ConnLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewConnLimiter returns nil when limit <= 0; a nil limiter allows everything.
func NewConnLimiter(limit int, interval time.Duration) *ConnLimiter {
	if limit <= 0 {
		return nil
	}
	return &ConnLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *ConnLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}
	rl.history[key] = append(fresh, now)
	rl.sweep(windowStart)
	return true
}

// sweep forgets keys whose last attempt fell out of the window.
func (rl *ConnLimiter) sweep(windowStart time.Time) {
	for key, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, key)
		}
	}
}
