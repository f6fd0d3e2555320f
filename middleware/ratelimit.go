package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// A bucket pairs a token bucket with the time it was last used, so the
// sweeper can drop addresses that stopped sending traffic.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimit throttles requests per client IP using a token bucket of
// r tokens per second with burst b. Requests over the limit get a 429.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	buckets := &sync.Map{}

	// Sweep idle buckets so the map does not grow with every address
	// that ever hit the server.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-10 * time.Minute)
			buckets.Range(func(k, v interface{}) bool {
				if v.(*bucket).lastSeen.Before(cutoff) {
					buckets.Delete(k)
				}
				return true
			})
		}
	}()

	bucketFor := func(ip string) *rate.Limiter {
		v, _ := buckets.LoadOrStore(ip, &bucket{lim: rate.NewLimiter(r, b)})
		bk := v.(*bucket)
		bk.lastSeen = time.Now()
		return bk.lim
	}

	return func(c *gin.Context) {
		if !bucketFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
