package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lifecycle/internal/response"
)

// RateLimiter is a token bucket per caller. Callers are keyed by admin id
// when a token was validated, and by client IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
	now      func() time.Time
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 5 batch runs per minute).
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware that rejects callers over their budget.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(callerKey(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evict(now)

	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[key] = v
	}

	// Refill whole intervals only.
	if refill := int(now.Sub(v.lastSeen)/rl.interval) * rl.rate; refill > 0 {
		v.tokens = min(v.tokens+refill, rl.rate)
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// evict drops callers idle for more than three intervals.
func (rl *RateLimiter) evict(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*rl.interval {
			delete(rl.visitors, k)
		}
	}
}

func callerKey(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Actor()
	}
	return "ip:" + c.ClientIP()
}
