package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/birbparty/qcloud-nest/internal/telemetry"
	"github.com/birbparty/qcloud-nest/sdk"
)

// SetupMiddleware configures all middleware for the application
func SetupMiddleware(app *fiber.App) {
	// Request ID middleware
	app.Use(requestid.New())

	// Structured request logs and Prometheus metrics
	app.Use(telemetry.FiberLoggingMiddleware())
	app.Use(telemetry.FiberMetricsMiddleware())

	// Recover middleware
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// CORS middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}))

	// Custom error handler
	app.Use(errorHandler())

	// Timing middleware
	app.Use(timingMiddleware())
}

// ErrorHandler is the fiber.Config ErrorHandler of the gateway
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(NewErrorResponse(err.Error(), codeForStatus(code)))
}

// errorHandler turns errors returned by handlers into JSON responses
func errorHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(NewErrorResponse(fiberErr.Message, codeForStatus(fiberErr.Code)))
		}

		status := StatusForError(err)
		if status >= fiber.StatusInternalServerError {
			telemetry.WithContext(c.UserContext()).WithError(err).
				WithField("path", c.Path()).Error("Request failed")
		}
		return c.Status(status).JSON(NewSDKErrorResponse(err))
	}
}

// StatusForError maps an sdk error to an HTTP status
func StatusForError(err error) int {
	switch sdk.TypeOf(err) {
	case sdk.ErrorTypeServiceNotFound:
		return fiber.StatusNotFound
	case sdk.ErrorTypeServiceDefinition, sdk.ErrorTypeClient, sdk.ErrorTypeConfig:
		return fiber.StatusBadRequest
	case sdk.ErrorTypeAuthentication:
		return fiber.StatusUnauthorized
	case sdk.ErrorTypeServer:
		return fiber.StatusBadGateway
	case sdk.ErrorTypeDiscovery:
		return fiber.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return ErrCodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return ErrCodeInvalidRequest
	case fiber.StatusUnauthorized:
		return ErrCodeUnauthorized
	case fiber.StatusRequestTimeout, fiber.StatusGatewayTimeout:
		return ErrCodeTimeout
	case fiber.StatusTooManyRequests:
		return ErrCodeRateLimited
	case fiber.StatusServiceUnavailable:
		return ErrCodeUnavailable
	}
	return ErrCodeInternalError
}

// timingMiddleware adds request timing headers
func timingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Add timing headers
		c.Set("X-Response-Time", fmt.Sprintf("%d ms", time.Since(start).Milliseconds()))

		return err
	}
}

// ValidateAPIKey creates a middleware for API key validation
func ValidateAPIKey(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey != "" {
			// Get API key from header
			key := c.Get("X-API-Key")
			if key == "" {
				// Try Authorization header
				if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if key != apiKey {
				return c.Status(fiber.StatusUnauthorized).JSON(
					NewErrorResponse("Invalid or missing API key", ErrCodeUnauthorized),
				)
			}
		}
		return c.Next()
	}
}

// RateLimiter limits each client IP to requestsPerMinute requests in a fixed
// one-minute window. A non-positive limit disables it.
func RateLimiter(requestsPerMinute int) fiber.Handler {
	return limiter.New(limiter.Config{
		Next: func(c *fiber.Ctx) bool {
			return requestsPerMinute <= 0
		},
		Max:        requestsPerMinute,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(
				NewErrorResponse("Rate limit exceeded", ErrCodeRateLimited),
			)
		},
	})
}
