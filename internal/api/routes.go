package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/birbparty/qcloud-nest/internal/telemetry"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, handler *Handler, config *Config) {
	// Health and metrics endpoints (no auth required)
	app.Get("/health", handler.Health)
	app.Get(config.MetricsPath, adaptor.HTTPHandler(telemetry.PrometheusHandler()))

	// API v1 group
	v1 := app.Group("/v1")
	v1.Use(RateLimiter(config.RateLimit))

	// Apply API key validation if configured
	if config.APIKey != "" {
		v1.Use(ValidateAPIKey(config.APIKey))
	}

	// Registry endpoints
	services := v1.Group("/services")
	services.Get("/", handler.ListServices)
	services.Get("/:name", handler.GetService)

	// Action endpoints
	services.Post("/:name/actions/:action", handler.InvokeAction)
	services.Post("/:name/actions/:action/async", handler.InvokeAsync)
	v1.Get("/results/:id", handler.GetResult)

	// Operational endpoints
	v1.Get("/audit", handler.GetAudit)
	v1.Delete("/cache/services/:name", handler.InvalidateCache)

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": ServiceName,
			"version": "1.0.0",
			"status":  "running",
			"endpoints": fiber.Map{
				"services": fiber.Map{
					"list":     "GET /v1/services",
					"describe": "GET /v1/services/:name",
					"invoke":   "POST /v1/services/:name/actions/:action",
					"async":    "POST /v1/services/:name/actions/:action/async",
				},
				"results": "GET /v1/results/:id",
				"audit":   "GET /v1/audit",
				"cache":   "DELETE /v1/cache/services/:name",
				"health":  "GET /health",
				"metrics": "GET " + config.MetricsPath,
			},
		})
	})

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse("Endpoint not found", ErrCodeNotFound),
		)
	})
}

// NewApp builds the fiber app with middleware and routes
func NewApp(handler *Handler, config *Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      ServiceName,
		ErrorHandler: ErrorHandler,
		ReadTimeout:  config.RequestTimeout,
		WriteTimeout: config.RequestTimeout,
	})
	SetupMiddleware(app)
	SetupRoutes(app, handler, config)
	return app
}
