package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/security"
	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/tools"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	RateLimitRequests int           // requests per window, 0 disables limiting
	RateLimitWindow   time.Duration // time window
	IdempotencyTTL    time.Duration // TTL for idempotency keys
}

// DefaultRouteConfig returns default route configuration
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		IdempotencyTTL:    24 * time.Hour,
	}
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, d *tools.Dispatcher, reg *browser.Registry, orch *tasks.Orchestrator) {
	SetupRoutesWithConfig(app, d, reg, orch, DefaultRouteConfig())
}

// SetupRoutesWithConfig configures all API routes with custom security settings
func SetupRoutesWithConfig(app *fiber.App, d *tools.Dispatcher, reg *browser.Registry, orch *tasks.Orchestrator, config RouteConfig) {
	idempotencyStore := security.NewIdempotencyStore(config.IdempotencyTTL)
	handler := NewHandlerWithSecurity(d, reg, orch, idempotencyStore)

	app.Get("/", handler.Index)
	app.Get("/health", handler.HealthCheck)

	// Tool dispatch endpoints
	mcp := app.Group("/mcp")
	mcp.Use(security.SecurityHeadersMiddleware())
	mcp.Use(security.RequestValidationMiddleware())
	if config.RateLimitRequests > 0 {
		rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerWindow: config.RateLimitRequests,
			WindowDuration:    config.RateLimitWindow,
			BurstMax:          20,
		})
		secMiddleware := security.NewMiddleware(rateLimiter)
		mcp.Use(secMiddleware.RateLimitMiddleware())
	}
	mcp.Get("", handler.ListTools)
	mcp.Post("", handler.CallTool)

	// Task status and event streaming; the ws route must register
	// before the param route.
	tasksGroup := app.Group("/tasks")
	tasksGroup.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	tasksGroup.Get("/ws", websocket.New(handler.HandleWebSocket))
	tasksGroup.Get("/:task_id", handler.GetTaskStatus)
	tasksGroup.Get("/:task_id/events", handler.StreamTaskEvents)
}
