package middleware

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RedisErrors counts Redis command failures by command name.
var RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forge_redis_errors_total",
	Help: "Total number of Redis errors by command",
}, []string{"command"})

// RateLimitRejections counts requests turned away by the rate limiter.
var RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forge_rate_limit_rejections_total",
	Help: "Total number of requests rejected by the rate limiter, by resource",
}, []string{"resource"})

// InitMetrics creates the fiberprometheus middleware for the given service name.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	return fiberprometheus.New(serviceName)
}

// MetricsMiddleware wraps the fiberprometheus handler as a Fiber middleware.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	return prom.Middleware
}
