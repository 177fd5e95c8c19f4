package api

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"cnop-transactional-core/internal/apperrors"
)

// rateLimiter is a simple in-memory sliding-window limiter, one bucket
// per key. Good enough for a single process; a multi-instance
// deployment would need this backed by Redis instead.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// rateLimitMiddleware throttles requests per authenticated username
// (or per client IP when unauthenticated), protecting the lock manager
// from a single caller hammering it with retries. NewServer installs
// it on every route, read-only ones included.
func rateLimitMiddleware(limiter *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestContext(c)
		key := rc.Username
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.allow(key) {
			respondError(c, apperrors.New(apperrors.KindLockAcquireFailed, "too many requests, slow down"))
			c.Abort()
			return
		}
		c.Next()
	}
}

const (
	rateLimitRequestsPerWindow = 120
	rateLimitWindow            = time.Minute
)
