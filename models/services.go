// zmforum/models/services.go
package models

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Stateful Services ---

// RateLimiter hands out a token bucket per principal so one user flooding the
// forum with topics or replies cannot starve everyone else.
type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time

	every  time.Duration
	burst  int
	prune  time.Duration
	expire time.Duration
}

// NewRateLimiter creates and starts a new rate limiter. Buckets refill one
// token per 'every' up to 'burst'; entries idle longer than 'expire' are
// dropped every 'prune'.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		prune:    prune,
		expire:   expire,
	}
	go rl.cleanup()
	return rl
}

// GetLimiter retrieves or creates the limiter for a given key (user id).
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// cleanup periodically removes idle entries from the limiter maps.
func (rl *RateLimiter) cleanup() {
	for range time.Tick(rl.prune) {
		rl.Mu.Lock()
		cutoff := time.Now().Add(-rl.expire)
		for key, lastSeen := range rl.LastSeen {
			if lastSeen.Before(cutoff) {
				delete(rl.Limiters, key)
				delete(rl.LastSeen, key)
			}
		}
		rl.Mu.Unlock()
	}
}
