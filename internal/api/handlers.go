// Package api exposes the cloud API wrapper over HTTP
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/internal/cache"
	"github.com/birbparty/qcloud-nest/internal/clients"
	"github.com/birbparty/qcloud-nest/internal/queue"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
	"github.com/birbparty/qcloud-nest/sdk"
)

// ServiceName is reported by the health endpoint
const ServiceName = "qcloud-nest-api"

// ActionQueue enqueues actions and reads their results. *queue.Client satisfies it.
type ActionQueue interface {
	PublishAction(ctx context.Context, msg *queue.ActionMessage) error
	GetResult(ctx context.Context, id string) (*queue.ResultMessage, error)
}

// AuditReader lists recorded calls. *audit.Store satisfies it.
type AuditReader interface {
	Recent(ctx context.Context, service string, limit int) ([]audit.CallRecord, error)
}

// HealthCheck reports the health of one dependency
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies of the handlers. Only Registry and Pool are
// required; a nil Cache, Queue or AuditReader disables the matching feature.
type Deps struct {
	Registry    *sdk.Registry
	Pool        *clients.Pool
	Cache       *cache.ResponseCache
	Queue       ActionQueue
	Recorder    audit.Recorder
	AuditReader AuditReader
	// RetryPolicy is the base policy of retried calls. Nil means
	// sdk.DefaultRetryPolicy.
	RetryPolicy *sdk.RetryPolicy
	// RetryLimits bounds the policy a request may ask for. Nil means
	// sdk.DefaultRetryLimits.
	RetryLimits   *sdk.RetryLimits
	DefaultRegion string
	Checks        map[string]HealthCheck
}

// Handler holds all dependencies for API handlers
type Handler struct {
	Deps
	retryPolicy sdk.RetryPolicy
	retryLimits sdk.RetryLimits
}

// NewHandler creates a new handler instance
func NewHandler(deps Deps) *Handler {
	if deps.Recorder == nil {
		deps.Recorder = audit.NopRecorder{}
	}
	h := &Handler{
		Deps:        deps,
		retryPolicy: sdk.DefaultRetryPolicy(),
		retryLimits: sdk.DefaultRetryLimits(),
	}
	if deps.RetryPolicy != nil {
		h.retryPolicy = *deps.RetryPolicy
	}
	if deps.RetryLimits != nil {
		h.retryLimits = *deps.RetryLimits
	}
	return h
}

// ListServices handles GET /v1/services
func (h *Handler) ListServices(c *fiber.Ctx) error {
	names := h.Registry.Names()
	return c.JSON(&ServicesResponse{
		Snapshot: h.Registry.Snapshot(),
		Count:    len(names),
		Services: names,
	})
}

// GetService handles GET /v1/services/:name
func (h *Handler) GetService(c *fiber.Ctx) error {
	name := c.Params("name")
	desc, ok := h.Registry.Lookup(name)
	if !ok {
		return sdk.NewError(sdk.ErrorTypeServiceNotFound, "service "+name+" not found", nil)
	}
	return c.JSON(ConvertToServiceResponse(desc))
}

// parseInvoke reads the request body into an action message
func (h *Handler) parseInvoke(c *fiber.Ctx) (*queue.ActionMessage, error) {
	var req InvokeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if req.Region == "" {
		req.Region = h.DefaultRegion
	}

	msg := queue.NewActionMessage(c.Params("name"), req.Version, req.Region, c.Params("action"), req.Params)
	msg.Headers = req.Headers
	msg.Retry = req.Retry
	msg.MaxRetries = req.MaxRetries
	msg.RetryDelay = req.RetryDelay
	if err := msg.Validate(); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := msg.CheckRetryLimits(h.retryPolicy, h.retryLimits); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return msg, nil
}

// InvokeAction handles POST /v1/services/:name/actions/:action
func (h *Handler) InvokeAction(c *fiber.Ctx) error {
	ctx := c.UserContext()

	msg, err := h.parseInvoke(c)
	if err != nil {
		return err
	}

	client, err := h.Pool.Get(msg.Service, msg.Version, msg.Region)
	if err != nil {
		RecordAction("sync", "error")
		return err
	}

	call := func(ctx context.Context) (*sdk.Response, error) {
		start := time.Now()
		var resp *sdk.Response
		var err error
		if msg.Retry {
			resp, err = client.CallWithRetryPolicy(ctx, msg.RetryPolicy(h.retryPolicy), msg.Action, msg.Params, msg.Headers)
		} else {
			resp, err = client.Call(ctx, msg.Action, msg.Params, msg.Headers)
		}
		rec := audit.NewCallRecord(client, msg.Action, audit.SourceAPI, resp, err, time.Since(start))
		if recErr := h.Recorder.Record(ctx, rec); recErr != nil {
			telemetry.WithContext(ctx).WithError(recErr).Warn("Failed to record audit entry")
		}
		return resp, err
	}

	var resp *sdk.Response
	cached := false
	if h.Cache != nil {
		resp, cached, err = h.Cache.Fetch(ctx, client, msg.Action, msg.Params, call)
	} else {
		resp, err = call(ctx)
	}

	mode := "sync"
	if cached {
		mode = "cached"
	}
	if err != nil {
		RecordAction(mode, "error")
		return err
	}
	RecordAction(mode, "success")

	return c.JSON(&InvokeResponse{
		Service:   client.Service(),
		Version:   client.Version(),
		Region:    client.Region(),
		Action:    msg.Action,
		RequestID: resp.RequestID,
		Cached:    cached,
		Response:  resp.Body,
	})
}

// InvokeAsync handles POST /v1/services/:name/actions/:action/async
func (h *Handler) InvokeAsync(c *fiber.Ctx) error {
	if h.Queue == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Async actions are not configured")
	}

	msg, err := h.parseInvoke(c)
	if err != nil {
		return err
	}
	if _, ok := h.Registry.Lookup(msg.Service); !ok {
		return sdk.NewError(sdk.ErrorTypeServiceNotFound, "service "+msg.Service+" not found", nil)
	}

	if err := h.Queue.PublishAction(c.UserContext(), msg); err != nil {
		RecordAction("async", "error")
		telemetry.WithContext(c.UserContext()).WithError(err).Error("Failed to enqueue action")
		return c.Status(fiber.StatusServiceUnavailable).JSON(
			NewErrorResponseWithDetails("Failed to enqueue action", ErrCodeUnavailable, err.Error()),
		)
	}
	RecordAction("async", "success")

	return c.Status(fiber.StatusAccepted).JSON(&AsyncResponse{
		ID:        msg.ID,
		Status:    "queued",
		ResultURL: "/v1/results/" + msg.ID,
	})
}

// GetResult handles GET /v1/results/:id
func (h *Handler) GetResult(c *fiber.Ctx) error {
	if h.Queue == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Async actions are not configured")
	}

	res, err := h.Queue.GetResult(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, queue.ErrResultNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(
				NewErrorResponse("Result not found or not ready", ErrCodeNotFound),
			)
		}
		return err
	}
	return c.JSON(res)
}

// GetAudit handles GET /v1/audit?service=&limit=
func (h *Handler) GetAudit(c *fiber.Ctx) error {
	if h.AuditReader == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Audit log is not configured")
	}

	records, err := h.AuditReader.Recent(c.UserContext(), c.Query("service"), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(&AuditResponse{Records: records, Count: len(records)})
}

// InvalidateCache handles DELETE /v1/cache/services/:name
func (h *Handler) InvalidateCache(c *fiber.Ctx) error {
	if h.Cache == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Response cache is not configured")
	}

	name := c.Params("name")
	removed, err := h.Cache.Invalidate(c.UserContext(), name)
	if err != nil {
		return err
	}
	return c.JSON(&InvalidateResponse{Service: name, Removed: removed})
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()

	checks := map[string]string{
		"registry": "healthy",
	}
	if h.Registry == nil || h.Registry.Len() == 0 {
		checks["registry"] = "unhealthy: no services loaded"
	}

	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
		} else {
			checks[name] = "healthy"
		}
	}

	// Overall status
	status := "healthy"
	for _, check := range checks {
		if check != "healthy" {
			status = "unhealthy"
			break
		}
	}
	UpdateHealthMetric(status == "healthy")

	response := &HealthResponse{
		Status:  status,
		Service: ServiceName,
		Version: "1.0.0",
		Uptime:  time.Since(startTime).String(),
		Checks:  checks,
	}

	statusCode := fiber.StatusOK
	if status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

var startTime = time.Now()
