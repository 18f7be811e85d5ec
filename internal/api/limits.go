package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ipRateLimiter applies a per-client-IP token bucket.
type ipRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	refill  time.Duration
	burst   int
}

type tokenBucket struct {
	tokens     float64
	capacity   float64
	lastRefill time.Time
}

func newIPRateLimiter(refill time.Duration, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		buckets: make(map[string]*tokenBucket),
		refill:  refill,
		burst:   burst,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[ip]
	if !ok {
		l.buckets[ip] = &tokenBucket{
			tokens:     float64(l.burst) - 1,
			capacity:   float64(l.burst),
			lastRefill: now,
		}
		return true
	}

	refills := now.Sub(b.lastRefill).Nanoseconds() / l.refill.Nanoseconds()
	if refills > 0 {
		b.tokens = min(b.capacity, b.tokens+float64(refills))
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func rateLimitMiddleware(limiter *ipRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": limiter.refill.String(),
			})
			return
		}
		c.Next()
	}
}

func bodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
