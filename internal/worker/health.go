package worker

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/birbparty/qcloud-nest/internal/queue"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
)

// HealthChecker reports whether a dependency is reachable. *queue.Client satisfies it.
type HealthChecker interface {
	Health() error
}

// DLQInspector reads and clears the dead letter queue. *queue.DLQHandler satisfies it.
type DLQInspector interface {
	GetDLQStats() (*queue.DLQStats, error)
	PurgeDLQ(ctx context.Context) error
}

// NewHealthApp builds the worker's internal HTTP surface:
//
//	GET    /health   readiness of the processor and NATS
//	GET    /stats    processing counters and DLQ state
//	DELETE /dlq      drop every dead-lettered message
//	GET    /metrics  Prometheus exposition
func NewHealthApp(serviceName string, metrics *Metrics, checker HealthChecker, dlq DLQInspector) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/health", func(c *fiber.Ctx) error {
		status, code := "healthy", fiber.StatusOK
		if !metrics.IsHealthy() || checker.Health() != nil {
			status, code = "unhealthy", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{"status": status, "service": serviceName})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		stats := metrics.GetStats()
		if dlqStats, err := dlq.GetDLQStats(); err != nil {
			stats["dlq_error"] = err.Error()
		} else {
			stats["dlq"] = dlqStats
		}
		return c.JSON(stats)
	})

	app.Delete("/dlq", func(c *fiber.Ctx) error {
		before, err := dlq.GetDLQStats()
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		if err := dlq.PurgeDLQ(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		telemetry.L().WithField("purged", before.TotalMessages).Warn("Dead letter queue purged")
		return c.JSON(fiber.Map{"purged": before.TotalMessages})
	})

	app.Get("/metrics", adaptor.HTTPHandler(telemetry.PrometheusHandler()))

	return app
}
