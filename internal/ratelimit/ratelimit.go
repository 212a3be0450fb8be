package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimit interface {
	Allow(key string) bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per client key.
type KeyedLimiter struct {
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	mutex    sync.Mutex
	now      func() time.Time
}

// New allows rps requests per second per key with bursts up to burst.
func New(rps float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (rl *KeyedLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	now := rl.now()
	v.lastSeen = now
	rl.mutex.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Cleanup forgets keys idle for longer than idle and returns how many were
// dropped.
func (rl *KeyedLimiter) Cleanup(idle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := rl.now().Add(-idle)
	dropped := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			dropped++
		}
	}
	return dropped
}

func (rl *KeyedLimiter) size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.visitors)
}
