package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/tools"
)

// StreamTaskEvents streams task events via SSE
// GET /tasks/:task_id/events
func (h *Handler) StreamTaskEvents(c *fiber.Ctx) error {
	taskID := c.Params("task_id")
	if taskID == "" {
		return tools.InvalidParams("task_id is required")
	}

	snap, err := h.orchestrator.GetStatus(taskID)
	if err != nil {
		return tools.NotFoundErr("task %q not found", taskID)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	hub := h.orchestrator.Hub()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// Send current status first
		eventData, _ := json.Marshal(tasks.Event{
			TaskID:  taskID,
			Status:  snap.Status,
			Step:    snap.StepsCompleted,
			Message: snap.Result,
			Time:    time.Now().Unix(),
		})
		fmt.Fprintf(w, "data: %s\n\n", eventData)
		w.Flush()

		// If the task is already finished, close the stream
		if snap.Status != tasks.StatusRunning {
			return
		}

		// Subscribe to events
		events := hub.Subscribe(taskID)
		defer hub.Unsubscribe(taskID, events)

		for event := range events {
			eventData, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", eventData)
			w.Flush()

			// Close stream when the task finishes
			if event.Status != tasks.StatusRunning {
				return
			}
		}
	})

	return nil
}

// HandleWebSocket handles WebSocket connections for task events
func (h *Handler) HandleWebSocket(c *websocket.Conn) {
	taskID := c.Query("task_id")
	if taskID == "" {
		_ = c.WriteJSON(map[string]interface{}{
			"error_kind": tools.KindInvalidParameters,
			"detail":     "task_id is required",
		})
		c.Close()
		return
	}

	snap, err := h.orchestrator.GetStatus(taskID)
	if err != nil {
		_ = c.WriteJSON(map[string]interface{}{
			"error_kind": tools.KindNotFound,
			"detail":     fmt.Sprintf("task %q not found", taskID),
		})
		c.Close()
		return
	}

	// Send current status first
	_ = c.WriteJSON(tasks.Event{
		TaskID:  taskID,
		Status:  snap.Status,
		Step:    snap.StepsCompleted,
		Message: snap.Result,
		Time:    time.Now().Unix(),
	})

	// If the task is already finished, close the connection
	if snap.Status != tasks.StatusRunning {
		c.Close()
		return
	}

	hub := h.orchestrator.Hub()
	events := hub.Subscribe(taskID)
	defer hub.Unsubscribe(taskID, events)

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			return
		}

		// Close connection when the task finishes
		if event.Status != tasks.StatusRunning {
			time.Sleep(100 * time.Millisecond)
			return
		}
	}
}
