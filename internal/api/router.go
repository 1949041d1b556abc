// Package api assembles the HTTP surface: middleware, routes and the event stream.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/leadflow/backend/internal/api/handlers"
	"github.com/leadflow/backend/internal/metrics"
	"github.com/leadflow/backend/internal/middleware/ratelimit"
	"github.com/leadflow/backend/internal/middleware/security"
	"github.com/leadflow/backend/internal/middleware/validation"
	"github.com/leadflow/backend/pkg/config"
	"github.com/leadflow/backend/pkg/logger"
)

type Handlers struct {
	Discovery *handlers.DiscoveryHandler
	Campaign  *handlers.CampaignHandler
	Voice     *handlers.VoiceHandler
	Events    *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

// NewRouter returns the configured app and a func that stops its background middleware.
func NewRouter(cfg config.ServerConfig, h Handlers) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		AppName:      "leadflow",
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimitPerMin,
		ExemptPrefixes:       []string{"/api/v1/voice", "/api/v1/events", "/health", "/ready", "/metrics"},
		Logger:               logger.GetLogger(),
	})

	origins := strings.Join(cfg.AllowedOrigins, ",")
	if origins == "" {
		origins = "*"
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.IsDevelopment,
	}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		MaxBodyBytes: cfg.BodyLimit,
		Logger:       logger.GetLogger(),
	}))

	app.Get("/health", h.Health.Health)
	app.Get("/ready", h.Health.Ready)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/discovery/search", h.Discovery.Search)
	api.Post("/discovery/sweep", h.Discovery.Sweep)

	api.Post("/newsroom/scan", h.Campaign.NewsroomScan)
	api.Get("/newsroom/signals/:zip", h.Campaign.ZipSignals)
	api.Post("/drip", h.Campaign.Drip)
	api.Post("/dialer/sweep", h.Campaign.DialerSweep)

	api.Post("/voice", h.Voice.Handle)
	api.Post("/voice/tools", h.Voice.Tools)
	api.Post("/voice/conversation", h.Voice.Conversation)

	api.Use("/events", h.Events.Upgrade)
	api.Get("/events", websocket.New(h.Events.HandleConnection))

	return app, limiter.Stop
}
