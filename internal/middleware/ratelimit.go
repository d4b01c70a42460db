// Package middleware provides authentication and authorization middleware for the application.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when the limiter's Redis
// store cannot be reached.
type FailPolicy int

const (
	// FailOpen lets the request through. The default: a Redis outage
	// should not take connection requests down with it.
	FailOpen FailPolicy = iota
	// FailClosed answers 503. For endpoints where unmetered traffic is
	// worse than no traffic.
	FailClosed
)

// rateLimitKey builds the counter key for one caller on one resource.
func rateLimitKey(resource, id string) string {
	return fmt.Sprintf("forge:rl:%s:%s", resource, id)
}

// CheckRateLimit counts the caller against a fixed window and reports
// whether the request is allowed. The limiter is switched off entirely in
// test, development and stress environments so local workflows and load
// tests are never throttled.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	switch env {
	case "test", "development", "stress":
		return true, nil
	}

	if rdb == nil {
		return false, fmt.Errorf("rate limit store unavailable")
	}

	cnt, err := rdb.Incr(ctx, rateLimitKey(resource, id)).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		// First hit in this window starts the clock.
		rdb.Expire(ctx, rateLimitKey(resource, id), window)
	}
	return cnt <= int64(limit), nil
}

// RateLimit enforces limit requests per window, failing open on store
// errors. Authenticated callers are keyed per user so a shared NAT does not
// burn one founder's budget on another's traffic; anonymous callers fall
// back to the remote IP.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit store-failure policy.
// The optional name labels the limited resource in keys and metrics;
// without it the route path is used.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id string
		if uid := c.Locals("userID"); uid != nil {
			id = fmt.Sprintf("user:%v", uid)
		} else {
			id = fmt.Sprintf("ip:%s", c.IP())
		}

		resource := c.Path()
		if len(name) > 0 {
			resource = name[0]
		}

		allowed, err := CheckRateLimit(c.UserContext(), rdb, resource, id, limit, window)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limiter unavailable, failing closed",
					slog.String("resource", resource),
					slog.String("error", err.Error()),
				)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		if !allowed {
			RateLimitRejections.WithLabelValues(resource).Inc()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
