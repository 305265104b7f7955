// Package api assembles the HTTP surface: middleware, REST routes, the
// websocket search stream and the Prometheus endpoint.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/adaptive-search/backend/internal/api/handlers"
	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/middleware/ratelimit"
	"github.com/adaptive-search/backend/internal/middleware/security"
	"github.com/adaptive-search/backend/internal/middleware/validation"
	"github.com/adaptive-search/backend/pkg/config"
	"github.com/adaptive-search/backend/pkg/logger"
)

const apiPrefix = "/api/v1"

type Handlers struct {
	Search    *handlers.SearchHandler
	Admin     *handlers.AdminHandler
	Documents *handlers.DocumentHandler
	WebSocket *handlers.WebSocketHandler
}

type Options struct {
	Server      config.ServerConfig
	Development bool
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

// NewApp builds the fiber app. The returned stop function releases the rate
// limiter.
func NewApp(h Handlers, opts Options) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(opts.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(opts.Server.WriteTimeout) * time.Second,
		BodyLimit:    opts.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: opts.Server.RateLimit,
		Logger:            logger.GetLogger(),
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: opts.Development}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group(apiPrefix)
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		QueryPaths: []string{apiPrefix + "/search", apiPrefix + "/optimize", apiPrefix + "/feedback"},
		Logger:     logger.GetLogger(),
	}))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	if h.Search != nil {
		api.Post("/search", h.Search.Search)
		api.Post("/optimize", h.Search.Optimize)
		api.Post("/feedback", h.Search.Feedback)
		api.Get("/suggestions", h.Search.Suggestions)
		api.Post("/sessions", h.Search.StartSession)
		api.Get("/sessions/:id", h.Search.GetSession)
		api.Delete("/sessions/:id", h.Search.EndSession)
		api.Get("/metrics/performance", h.Search.Performance)
	}

	if h.Admin != nil {
		api.Get("/patterns", h.Admin.ExportPatterns)
		api.Post("/patterns", h.Admin.ImportPatterns)
		api.Get("/topics", h.Admin.Topics)
		api.Post("/topics/fit", h.Admin.FitTopics)
		api.Get("/evaluation/interactions", h.Admin.InteractionReport)
		api.Post("/evaluation/dataset", h.Admin.DatasetReport)
	}

	if h.Documents != nil {
		api.Post("/documents", h.Documents.UploadDocument)
	}

	if h.WebSocket != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/search", websocket.New(h.WebSocket.HandleConnection))
	}

	return app, limiter.Stop
}
