// Package cache provides Redis caching utilities for the application.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"forge/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// client is nil whenever Redis is unreachable or unconfigured. Every helper
// in this package checks for that, so the connection layer degrades to the
// database instead of failing requests.
var client *redis.Client

// errorCountingHook feeds Redis command failures into the prometheus
// counter. redis.Nil is a cache miss, not a failure.
type errorCountingHook struct{}

func (errorCountingHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (errorCountingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			middleware.RedisErrors.WithLabelValues(cmd.Name()).Inc()
		}
		return err
	}
}

func (errorCountingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			middleware.RedisErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}

// InitRedis connects the package client. addr is either a bare host:port or
// a redis:// URL. Connection problems leave the client nil and the inbox,
// pending-list and room-key caches disabled.
func InitRedis(addr string) {
	opts, err := parseAddr(addr)
	if err != nil {
		middleware.Logger.Warn("Redis disabled: bad address",
			slog.String("addr", addr),
			slog.String("error", err.Error()),
		)
		client = nil
		return
	}

	candidate := redis.NewClient(opts)
	candidate.AddHook(errorCountingHook{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := candidate.Ping(ctx).Err(); err != nil {
		middleware.Logger.Warn("Redis disabled: ping failed, continuing without cache",
			slog.String("error", err.Error()),
		)
		client = nil
		return
	}

	client = candidate
	middleware.Logger.Info("Redis connected", slog.String("addr", opts.Addr))
}

func parseAddr(addr string) (*redis.Options, error) {
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

// GetClient returns the current Redis client, nil when caching is disabled.
func GetClient() *redis.Client {
	return client
}
