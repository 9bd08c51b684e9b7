package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/security"
	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/tools"
)

// Handler handles API requests
type Handler struct {
	dispatcher       *tools.Dispatcher
	registry         *browser.Registry
	orchestrator     *tasks.Orchestrator
	idempotencyStore *security.IdempotencyStore
}

// NewHandler creates a new handler
func NewHandler(d *tools.Dispatcher, reg *browser.Registry, orch *tasks.Orchestrator) *Handler {
	return &Handler{
		dispatcher:       d,
		registry:         reg,
		orchestrator:     orch,
		idempotencyStore: security.NewIdempotencyStore(24 * time.Hour),
	}
}

// NewHandlerWithSecurity creates a new handler with a shared idempotency store
func NewHandlerWithSecurity(d *tools.Dispatcher, reg *browser.Registry, orch *tasks.Orchestrator, store *security.IdempotencyStore) *Handler {
	return &Handler{
		dispatcher:       d,
		registry:         reg,
		orchestrator:     orch,
		idempotencyStore: store,
	}
}

// ToolCallRequest is the body of a dispatch request.
type ToolCallRequest struct {
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ErrorHandler is the custom error handler for Fiber. Tool errors keep
// their kind; everything else is classified by status code.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var terr *tools.Error
	if errors.As(err, &terr) {
		return c.Status(statusForKind(terr.Kind)).JSON(terr)
	}

	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}

	kind := tools.KindUpstreamFailure
	switch {
	case code == fiber.StatusNotFound:
		kind = tools.KindNotFound
	case code >= 400 && code < 500:
		kind = tools.KindInvalidParameters
	}
	return c.Status(code).JSON(fiber.Map{
		"error_kind": kind,
		"detail":     err.Error(),
	})
}

func statusForKind(kind tools.Kind) int {
	switch kind {
	case tools.KindNotFound:
		return fiber.StatusNotFound
	case tools.KindInvalidParameters, tools.KindUnknownTool:
		return fiber.StatusBadRequest
	case tools.KindAlreadyExists:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// Index returns service information
// GET /
func (h *Handler) Index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": config.AppName,
		"version": config.Version,
		"endpoints": fiber.Map{
			"tools":  "GET /mcp",
			"call":   "POST /mcp",
			"tasks":  "GET /tasks/:task_id",
			"events": "GET /tasks/:task_id/events",
			"ws":     "GET /tasks/ws?task_id=<id>",
			"health": "GET /health",
		},
	})
}

// HealthCheck returns health status
// GET /health
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"version":   config.Version,
		"sessions":  len(h.registry.List()),
		"tasks":     h.orchestrator.TaskCount(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ListTools enumerates the callable tools
// GET /mcp
func (h *Handler) ListTools(c *fiber.Ctx) error {
	list := h.dispatcher.List()
	return c.JSON(fiber.Map{
		"service": config.AppName,
		"version": config.Version,
		"tools":   list,
		"count":   len(list),
	})
}

// CallTool dispatches one tool call
// POST /mcp
func (h *Handler) CallTool(c *fiber.Ctx) error {
	var req ToolCallRequest
	if err := c.BodyParser(&req); err != nil {
		return tools.InvalidParams("invalid request body: %v", err)
	}
	if req.ToolName == "" {
		return tools.InvalidParams("tool_name is required")
	}

	// Replay a cached response when the caller retries with the same key.
	idempotencyKey := c.Get("X-Idempotency-Key")
	if idempotencyKey != "" && h.idempotencyStore != nil {
		if entry, exists := h.idempotencyStore.Check(idempotencyKey); exists {
			c.Set("X-Idempotency-Hit", "true")
			return c.JSON(entry.Response)
		}
	}

	result, err := h.dispatcher.Dispatch(context.Background(), req.ToolName, req.Parameters)
	if err != nil {
		return err
	}

	if idempotencyKey != "" && h.idempotencyStore != nil {
		h.idempotencyStore.Store(idempotencyKey, req.ToolName, result)
	}
	return c.JSON(result)
}

// GetTaskStatus returns the status of an agent task
// GET /tasks/:task_id
func (h *Handler) GetTaskStatus(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	if taskID == "" {
		return tools.InvalidParams("task_id is required")
	}
	snap, err := h.orchestrator.GetStatus(taskID)
	if err != nil {
		return tools.NotFoundErr("task %q not found", taskID)
	}
	return c.JSON(snap)
}
