package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds run/trigger requests per connection with a token
// bucket per key. rpm <= 0 disables limiting. Limits are hot-reloadable
// via SetRate.
type RateLimiter struct {
	limiters sync.Map // key → *limiterEntry

	mu    sync.RWMutex
	r     rate.Limit
	burst int
}

type limiterEntry struct {
	limiter *rate.Limiter
	// lastSeen is unix nanos, atomic: Allow writes it while cleanupLoop
	// reads it.
	lastSeen atomic.Int64
}

func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	rl := &RateLimiter{r: r, burst: burst}
	go rl.cleanupLoop()
	return rl
}

// SetRate swaps the limits, resetting existing buckets. Applied by the
// config hot-reload handler.
func (rl *RateLimiter) SetRate(rpm, burst int) {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}

	rl.mu.Lock()
	rl.r = r
	rl.burst = burst
	rl.mu.Unlock()

	rl.limiters.Range(func(key, _ any) bool {
		rl.limiters.Delete(key)
		return true
	})
	slog.Info("rate limits updated", "rpm", rpm, "burst", burst)
}

// Allow reports whether a request under key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	disabled := rl.r == 0
	rl.mu.RUnlock()
	if disabled {
		return true
	}

	entry := rl.getOrCreate(key)
	if !entry.limiter.Allow() {
		slog.Warn("request rate limited", "key", key)
		return false
	}
	entry.lastSeen.Store(time.Now().UnixNano())
	return true
}

func (rl *RateLimiter) getOrCreate(key string) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	rl.mu.RLock()
	entry := &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)}
	rl.mu.RUnlock()
	entry.lastSeen.Store(time.Now().UnixNano())
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

// cleanupLoop drops buckets idle for over an hour; disconnected clients
// never use theirs again.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour).UnixNano()
		rl.limiters.Range(func(key, v any) bool {
			if v.(*limiterEntry).lastSeen.Load() < cutoff {
				rl.limiters.Delete(key)
			}
			return true
		})
	}
}
