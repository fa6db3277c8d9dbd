package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// MAX_TRACKED_KEYS caps how many client limiters are kept at once.
const MAX_TRACKED_KEYS = 4096

// IDLE_EVICTION is how long an untouched limiter survives a prune.
const IDLE_EVICTION = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client key. Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
	now     func() time.Time
}

// NewRateLimiter allows rpm requests per minute per key with the given burst.
// rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(rpm) / 60),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (r *RateLimiter) Enabled() bool {
	return r != nil && r.limit > 0
}

// Allow reports whether key may proceed now.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.entries) >= MAX_TRACKED_KEYS {
		r.prune(now)
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (r *RateLimiter) prune(now time.Time) {
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) >= IDLE_EVICTION {
			delete(r.entries, k)
		}
	}
	// still full: drop arbitrary entries
	for len(r.entries) >= MAX_TRACKED_KEYS {
		for k := range r.entries {
			delete(r.entries, k)
			break
		}
	}
}

func (r *RateLimiter) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
