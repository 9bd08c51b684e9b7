package tasks

import (
	"sync"
	"time"
)

// Event is one task lifecycle notification.
type Event struct {
	TaskID  string `json:"task_id"`
	Status  Status `json:"status"`
	Step    int    `json:"step,omitempty"`
	Message string `json:"message,omitempty"`
	Time    int64  `json:"time"`
}

// Hub manages event subscriptions per task.
type Hub struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription for task events.
func (h *Hub) Subscribe(taskID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 10)
	h.subscribers[taskID] = append(h.subscribers[taskID], ch)
	return ch
}

// Unsubscribe removes a subscription.
func (h *Hub) Unsubscribe(taskID string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[taskID]
	for i, sub := range subs {
		if sub == ch {
			h.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(h.subscribers[taskID]) == 0 {
		delete(h.subscribers, taskID)
	}
}

// Emit sends an event to all subscribers of a task. Slow subscribers
// miss events rather than stall the execution goroutine.
func (h *Hub) Emit(taskID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event.Time == 0 {
		event.Time = time.Now().Unix()
	}
	for _, ch := range h.subscribers[taskID] {
		select {
		case ch <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Close closes all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for taskID, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, taskID)
	}
}
