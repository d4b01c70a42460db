package middleware

import (
	"context"
	"log/slog"
	"os"
	"time"

	"forge/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Logger is the global structured logger instance used throughout the application.
var Logger *slog.Logger

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	UserRoleKey  contextKey = "user_role"
	TraceIDKey   contextKey = "trace_id"
)

// Requests slower than this get logged at warn level; the connection and
// room endpoints should never take anywhere near it.
const slowRequestThreshold = 2 * time.Second

// ctxHandler decorates every record with the request-scoped identity and
// correlation values carried in the context, so service and repository
// layers never have to thread them through explicitly.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if rid, ok := ctx.Value(RequestIDKey).(string); ok {
		r.AddAttrs(slog.String("request_id", rid))
	}
	if uid, ok := ctx.Value(UserIDKey).(uint); ok {
		r.AddAttrs(slog.Uint64("user_id", uint64(uid)))
	}
	if role, ok := ctx.Value(UserRoleKey).(string); ok {
		r.AddAttrs(slog.String("user_role", role))
	}
	if tid, ok := ctx.Value(TraceIDKey).(string); ok {
		r.AddAttrs(slog.String("trace_id", tid))
	}
	return h.Handler.Handle(ctx, r)
}

func init() {
	var handler slog.Handler

	// JSON for log pipelines in production, text for terminals elsewhere.
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch os.Getenv("APP_ENV") {
	case "production", "prod":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(&ctxHandler{handler})
}

// ContextMiddleware copies the request id, caller identity and trace id from
// Fiber locals into the request context for the context-aware logger. Runs
// before the identity middleware, so user values only appear on routes where
// identity has been established by the time a log line is emitted.
func ContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		if rid, ok := c.Locals("requestid").(string); ok {
			ctx = context.WithValue(ctx, RequestIDKey, rid)
		}
		if uid, ok := c.Locals("userID").(uint); ok {
			ctx = context.WithValue(ctx, UserIDKey, uid)
		}
		if role, ok := c.Locals("userRole").(models.Role); ok {
			ctx = context.WithValue(ctx, UserRoleKey, string(role))
		}
		if tid, ok := c.Locals("traceID").(string); ok {
			ctx = context.WithValue(ctx, TraceIDKey, tid)
		}

		c.SetUserContext(ctx)
		return c.Next()
	}
}

// StructuredLogger logs one line per request after it completes.
func StructuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		attrs := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", latency),
			slog.String("user_agent", c.Get("User-Agent")),
		}

		// Context-aware levels so request_id/user_id ride along.
		ctx := c.UserContext()
		switch {
		case err != nil:
			attrs = append(attrs, slog.String("error", err.Error()))
			Logger.ErrorContext(ctx, "request failed", attrs...)
		case latency > slowRequestThreshold:
			Logger.WarnContext(ctx, "slow request", attrs...)
		default:
			Logger.InfoContext(ctx, "request processed", attrs...)
		}

		return err
	}
}
