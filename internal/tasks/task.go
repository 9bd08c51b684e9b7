// Package tasks runs browser agent tasks in the background and keeps
// their records queryable until a retention window expires.
package tasks

import (
	"time"

	"github.com/google/uuid"

	"github.com/browserd/browserd/internal/agent"
)

// DefaultRetention is how long finished task records stay queryable.
const DefaultRetention = 24 * time.Hour

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is one background agent run. Identity fields are fixed at
// submit time; Status, History, and Error are only touched by the
// store so readers always see a consistent record.
type Task struct {
	ID         string        `json:"task_id"`
	SessionID  string        `json:"session_id"`
	AdHoc      bool          `json:"ad_hoc,omitempty"`
	Goal       string        `json:"task"`
	MaxSteps   int           `json:"max_steps"`
	Model      string        `json:"model,omitempty"`
	Status     Status        `json:"status"`
	Error      string        `json:"error,omitempty"`
	History    agent.History `json:"history"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
	FinishedAt int64         `json:"finished_at,omitempty"`
}

// NewTask mints a task in the running state. Retry submissions get a
// distinct id prefix so fallback runs stand out in logs and status
// responses.
func NewTask(sessionID, goal string, maxSteps int, model string, retry bool) *Task {
	prefix := "task_"
	if retry {
		prefix = "retry_task_"
	}
	now := time.Now().Unix()
	return &Task{
		ID:        prefix + uuid.New().String()[:8],
		SessionID: sessionID,
		Goal:      goal,
		MaxSteps:  maxSteps,
		Model:     model,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Finished reports whether the task reached a terminal status.
func (t *Task) Finished() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// IsExpired reports whether a finished task has outlived the retention
// window. Running tasks never expire.
func (t *Task) IsExpired(retention time.Duration) bool {
	if !t.Finished() || t.FinishedAt == 0 {
		return false
	}
	return time.Now().Unix() > t.FinishedAt+int64(retention.Seconds())
}

// StatusSnapshot is the pollable view of a task. IsSuccessful stays
// null until the task finishes.
type StatusSnapshot struct {
	TaskID          string   `json:"task_id"`
	SessionID       string   `json:"session_id"`
	Status          Status   `json:"status"`
	StepsCompleted  int      `json:"steps_completed"`
	IsSuccessful    *bool    `json:"is_successful"`
	DurationSeconds float64  `json:"duration_seconds"`
	URLsVisited     []string `json:"urls_visited"`
	Result          string   `json:"result,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// Snapshot converts the task record to its pollable form.
func (t *Task) Snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		TaskID:         t.ID,
		SessionID:      t.SessionID,
		Status:         t.Status,
		StepsCompleted: len(t.History.Steps),
		URLsVisited:    t.History.URLsVisited,
		Result:         t.History.FinalResult,
		Errors:         t.History.Errors,
	}
	if snap.URLsVisited == nil {
		snap.URLsVisited = []string{}
	}
	if t.Error != "" && !containsString(snap.Errors, t.Error) {
		snap.Errors = append(append([]string(nil), snap.Errors...), t.Error)
	}
	if t.Finished() {
		success := t.Status == StatusCompleted && t.History.Successful
		snap.IsSuccessful = &success
	}
	if !t.History.StartedAt.IsZero() {
		end := t.History.FinishedAt
		if end.IsZero() {
			end = time.Now()
		}
		snap.DurationSeconds = end.Sub(t.History.StartedAt).Seconds()
	}
	return snap
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
