package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

const (
	limiterIdle = 5 * time.Minute
	sweepEvery  = time.Minute
)

type rateLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// IPRateLimiter 按客户端 IP 的令牌桶
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
	swept    time.Time
}

func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	perMinute = max(perMinute, 1)
	return &IPRateLimiter{
		limiters: map[string]*rateLimiter{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
		now:      time.Now,
	}
}

// Allow 距上次清理超过 sweepEvery 时顺带清理过期的 limiter
func (l *IPRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) >= sweepEvery {
		l.sweep(now)
	}
	rl, ok := l.limiters[key]
	if !ok {
		rl = &rateLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = rl
	}
	rl.expires = now.Add(limiterIdle)
	return rl.limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) sweep(now time.Time) {
	for k, rl := range l.limiters {
		if now.After(rl.expires) {
			delete(l.limiters, k)
		}
	}
	l.swept = now
}

func RateLimitMiddleware(l *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			pkg.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
