package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limiterRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCheckRateLimit(t *testing.T) {
	t.Run("DisabledOutsideProduction", func(t *testing.T) {
		for _, env := range []string{"test", "development", "stress"} {
			t.Setenv("APP_ENV", env)
			allowed, err := CheckRateLimit(context.Background(), nil, "connection_request", "user:1", 1, time.Minute)
			assert.NoError(t, err)
			assert.True(t, allowed, "env %s must bypass the limiter", env)
		}
	})

	t.Run("NilStoreIsAnError", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		allowed, err := CheckRateLimit(context.Background(), nil, "connection_request", "user:1", 1, time.Minute)
		assert.Error(t, err)
		assert.False(t, allowed)
	})

	t.Run("CountsPerCallerAndResource", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		rdb := limiterRedis(t)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			allowed, err := CheckRateLimit(ctx, rdb, "connection_request", "user:1", 2, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}

		allowed, err := CheckRateLimit(ctx, rdb, "connection_request", "user:1", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)

		// Another caller's budget is untouched.
		allowed, err = CheckRateLimit(ctx, rdb, "connection_request", "user:2", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	newApp := func(rdb *redis.Client, policy FailPolicy) *fiber.App {
		app := fiber.New()
		app.Post("/api/connections/request",
			RateLimitWithPolicy(rdb, 1, time.Minute, policy, "connection_request"),
			func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusCreated) })
		return app
	}

	t.Run("BypassInTestMode", func(t *testing.T) {
		t.Setenv("APP_ENV", "test")
		app := newApp(nil, FailOpen)

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/connections/request", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("EnforcesLimitWithRetryAfter", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := newApp(limiterRedis(t), FailOpen)

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/connections/request", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()

		resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/connections/request", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
		_ = resp.Body.Close()
	})

	t.Run("FailOpenWithoutStore", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := newApp(nil, FailOpen)

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/connections/request", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("FailClosedWithoutStore", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		app := newApp(nil, FailClosed)

		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/connections/request", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		_ = resp.Body.Close()
	})
}
