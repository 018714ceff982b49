package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/glowdesk/glowdesk/pkg/common"
	"github.com/glowdesk/glowdesk/pkg/config"
	"github.com/glowdesk/glowdesk/pkg/logger"
)

// Limiter is a fixed-window request limiter backed by Redis. Its primary job
// is slowing down redemption code enumeration, so the window key is the
// client, not the code.
type Limiter struct {
	client goredis.UniversalClient
	cfg    config.RateLimitConfig
	now    func() time.Time
}

// NewLimiter creates a new limiter
func NewLimiter(client goredis.UniversalClient, cfg config.RateLimitConfig) *Limiter {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "rl"
	}
	return &Limiter{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Allow reports whether the caller identified by key may proceed. Redis
// failures fail open: slowing down enumeration is not worth an outage.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if !l.cfg.Enabled || l.client == nil {
		return true, nil
	}

	window := l.now().Unix() / int64(l.cfg.WindowSeconds)
	redisKey := fmt.Sprintf("%s:%s:%d", l.cfg.RedisPrefix, key, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, time.Duration(l.cfg.WindowSeconds)*time.Second).Err(); err != nil {
			return true, err
		}
	}

	return count <= int64(l.cfg.Limit), nil
}

// Middleware returns a gin middleware that throttles by client IP
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.WithContext(c.Request.Context()).Warn("rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			common.ErrorResponse(c, http.StatusTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
