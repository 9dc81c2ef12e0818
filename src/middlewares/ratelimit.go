package middlewares

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per client IP in fixed windows kept in Redis,
// so every API instance shares the same counters. Redis errors let the
// request through.
type RateLimiter struct {
	Client redis.Cmdable
	Limit  int
	Window time.Duration
	Prefix string
	Now    func() time.Time
}

func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		Client: client,
		Limit:  limit,
		Window: window,
		Prefix: "ratelimit",
		Now:    time.Now,
	}
}

func (r *RateLimiter) key(clientIP string, now time.Time) (string, time.Time) {
	start := now.Truncate(r.Window)
	return fmt.Sprintf("%s:%s:%d", r.Prefix, clientIP, start.Unix()), start.Add(r.Window)
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if r.Client == nil {
			ctx.Next()
			return
		}
		now := r.Now()
		key, reset := r.key(ctx.ClientIP(), now)
		count, err := r.Client.Incr(ctx.Request.Context(), key).Result()
		if err != nil {
			log.Printf("[RateLimit] Redis unavailable, allowing request: %s\n", err.Error())
			ctx.Next()
			return
		}
		if count == 1 {
			if err := r.Client.Expire(ctx.Request.Context(), key, r.Window).Err(); err != nil {
				log.Printf("[RateLimit] Error setting expiry on %s: %s\n", key, err.Error())
			}
		}
		remaining := int64(r.Limit) - count
		if remaining < 0 {
			remaining = 0
		}
		ctx.Header("X-RateLimit-Limit", strconv.Itoa(r.Limit))
		ctx.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(r.Limit) {
			retryAfter := int(reset.Sub(now).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			ctx.Header("Retry-After", strconv.Itoa(retryAfter))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		ctx.Next()
	}
}
