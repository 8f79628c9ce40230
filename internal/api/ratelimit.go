package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/repeatd/internal/clock"
)

// staleBucketAge is how long an idle client's bucket is kept.
const staleBucketAge = 10 * time.Minute

// RateLimiter implements a token bucket rate limiter per IP address
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
	burst    int           // max tokens (bucket size)
	clock    clock.Clock
}

type clientBucket struct {
	tokens    int
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter with specified rate (requests per interval) and burst size.
// A nil clock uses the real clock.
func NewRateLimiter(rate int, interval time.Duration, burst int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Default
	}
	return &RateLimiter{
		clients:  make(map[string]*clientBucket),
		rate:     rate,
		interval: interval,
		burst:    burst,
		clock:    clk,
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()

	bucket, exists := rl.clients[ip]
	if !exists {
		// New client starts with full bucket
		rl.clients[ip] = &clientBucket{
			tokens:    rl.burst - 1, // -1 for this request
			lastCheck: now,
		}
		return true
	}

	// Refill whole intervals only; the remainder carries over to the next check
	if elapsed := now.Sub(bucket.lastCheck); elapsed >= rl.interval {
		intervals := int(elapsed / rl.interval)
		bucket.tokens += intervals * rl.rate
		if bucket.tokens > rl.burst {
			bucket.tokens = rl.burst
		}
		bucket.lastCheck = bucket.lastCheck.Add(time.Duration(intervals) * rl.interval)
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

// Sweep removes buckets idle for longer than staleBucketAge. Returns how many were removed.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	threshold := rl.clock.Now().Add(-staleBucketAge)
	removed := 0
	for ip, bucket := range rl.clients {
		if bucket.lastCheck.Before(threshold) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// Middleware returns a Gin middleware that rate limits requests
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if !rl.Allow(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": rl.interval.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
