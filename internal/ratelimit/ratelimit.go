// Package ratelimit implements a Redis-backed fixed-window limiter for
// the HTTP write surface.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func New(client *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{redis: client, prefix: prefix, limit: limit, window: window}
}

// KeyedBy returns a fiber middleware that rate-limits requests per the
// value keyFunc extracts (the server keys it by client IP).
func (l *Limiter) KeyedBy(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := keyFunc(c)
		if key == "" {
			return c.Next()
		}
		ctx := context.Background()
		redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

		count, err := l.redis.Incr(ctx, redisKey).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			l.redis.Expire(ctx, redisKey, l.window)
		}
		if count > int64(l.limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
