package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/runflow/errors"
)

// RateLimit allows at most perMinute requests per key in any sliding
// minute. key defaults to SubjectKey.
func RateLimit(perMinute int, key func(*gin.Context) string) gin.HandlerFunc {
	if key == nil {
		key = SubjectKey
	}
	rl := &rateLimiter{requests: make(map[string][]time.Time), limit: perMinute, now: time.Now}
	return func(c *gin.Context) {
		if !rl.allow(key(c)) {
			appErr := errors.New(errors.ErrCodeServiceUnavailable, "Rate limit exceeded.", http.StatusTooManyRequests)
			appErr.Retryable = true
			abort(c, appErr)
			return
		}
		c.Next()
	}
}

// SubjectKey keys on the authenticated subject, falling back to client IP.
func SubjectKey(c *gin.Context) string {
	if sub := c.GetString(ContextSubject); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + c.ClientIP()
}

type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	now      func() time.Time
	calls    int
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)
	rl.calls++
	if rl.calls%1024 == 0 {
		rl.prune(cutoff)
	}

	valid := filterByTime(rl.requests[key], cutoff)
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// prune drops keys with no request inside the window.
func (rl *rateLimiter) prune(cutoff time.Time) {
	for key, times := range rl.requests {
		if valid := filterByTime(times, cutoff); len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

func filterByTime(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
