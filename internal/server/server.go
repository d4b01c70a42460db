// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"forge/internal/cache"
	"forge/internal/config"
	"forge/internal/database"
	"forge/internal/mesh"
	"forge/internal/middleware"
	"forge/internal/models"
	"forge/internal/notifications"
	"forge/internal/repository"
	"forge/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	verifier middleware.Verifier

	connRepo repository.ConnectionRepository
	roomRepo repository.RoomRepository

	connectionService *service.ConnectionService
	roomService       *service.RoomService

	channel mesh.Channel
	roomHub *notifications.RoomHub
}

// NewServer creates a new server instance, establishing the database and
// Redis connections itself.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	return NewServerWithDeps(cfg, db, cache.GetClient())
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB/Redis.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	connRepo := repository.NewConnectionRepository(db)
	roomRepo := repository.NewRoomRepository(db)

	prom := middleware.InitMetrics("forge-api")

	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		verifier:       newVerifier(cfg),
		connRepo:       connRepo,
		roomRepo:       roomRepo,
	}
	server.connectionService = service.NewConnectionService(db, connRepo)
	server.roomService = service.NewRoomService(connRepo, roomRepo)

	// The chat transport needs Redis; without it the HTTP API still works
	// but room attach and publish are unavailable.
	if redisClient != nil {
		server.channel = mesh.NewRedisChannel(redisClient, mesh.Options{
			Namespace:    cfg.MeshNamespace,
			IdentitySalt: cfg.IdentityPassSalt,
			HistoryLimit: cfg.MeshHistoryLimit,
		})
		server.roomHub = notifications.NewRoomHub(server.channel)
	}

	return server, nil
}

// newVerifier picks the identity verifier for the deployment profile.
// Production requires signed bearer tokens; everywhere else the asserted
// X-User-ID / X-User-Role headers are trusted.
func newVerifier(cfg *config.Config) middleware.Verifier {
	if cfg.IsProduction() && cfg.JWTSecret != "" {
		return middleware.JWTVerifier{Secret: cfg.JWTSecret}
	}
	return middleware.HeaderVerifier{}
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// OpenTelemetry spans per request
	app.Use(middleware.TracingMiddleware())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Role, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Forge Backend Metrics Dashboard",
	}))

	// All routes below require a resolved caller identity.
	protected := api.Group("", middleware.IdentityRequired(s.verifier))

	// Connection lifecycle routes
	connections := protected.Group("/connections")
	connections.Post("/request", middleware.RateLimit(
		s.redis, 20, time.Minute, "connection_request"), s.SendConnectionRequest)
	connections.Get("/requests/incoming", s.GetIncomingRequests)
	connections.Get("/requests/outgoing", s.GetOutgoingRequests)
	connections.Get("/notifications", s.GetConnectionNotifications)
	connections.Post("/requests/:requestId/accept", s.AcceptConnectionRequest)
	connections.Post("/requests/:requestId/reject", s.RejectConnectionRequest)

	// Inbox: accepted connections from the caller's point of view
	protected.Get("/inbox", s.GetInbox)

	// Room provisioning
	chat := protected.Group("/chat")
	chat.Post("/rooms", s.ProvisionRoom)
	chat.Post("/", s.ResolveRoomByCounterpart)

	// Websocket endpoint - protected by identity middleware
	ws := api.Group("/ws", WebSocketUpgradeRequired(), middleware.IdentityRequired(s.verifier))
	ws.Get("/chat", s.RoomChatHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Redis carries the chat transport, so readiness requires it.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "Forge",
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Forge API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// Shutdown the HTTP/WS server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	// Close WebSocket connections and release room subscriptions
	if s.roomHub != nil {
		if err := s.roomHub.Shutdown(ctx); err != nil {
			log.Printf("error shutting down %s: %v", s.roomHub.Name(), err)
		}
	}

	// Close database connection
	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Printf("error closing sql DB: %v", cerr)
		}
	}

	// Close Redis connection
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
}
