package tasks

import (
	"testing"
	"time"

	"github.com/browserd/browserd/internal/agent"
)

func TestCleanupExpiredEvictsFinishedOnly(t *testing.T) {
	store := NewStore(1 * time.Second)
	defer store.Stop()

	expired := NewTask("default", "old finished task", 5, "", false)
	expired.Status = StatusCompleted
	expired.FinishedAt = time.Now().Add(-10 * time.Second).Unix()
	store.Save(expired)

	stale := NewTask("default", "old but still running", 5, "", false)
	stale.CreatedAt = time.Now().Add(-10 * time.Minute).Unix()
	store.Save(stale)

	fresh := NewTask("default", "just finished", 5, "", false)
	fresh.Status = StatusFailed
	fresh.FinishedAt = time.Now().Unix()
	store.Save(fresh)

	store.cleanupExpired()

	if _, err := store.Get(expired.ID); err == nil {
		t.Error("Expected the expired task to be evicted")
	}
	if _, err := store.Get(stale.ID); err != nil {
		t.Error("Expected the running task to survive cleanup")
	}
	if _, err := store.Get(fresh.ID); err != nil {
		t.Error("Expected the recently finished task to survive cleanup")
	}
}

func TestSetFinishedIsTerminal(t *testing.T) {
	store := NewStore(time.Hour)
	defer store.Stop()

	task := NewTask("default", "one shot", 5, "", false)
	store.Save(task)

	store.SetFinished(task.ID, StatusFailed, agent.History{}, "first failure")
	store.SetFinished(task.ID, StatusCompleted, agent.History{Successful: true}, "")

	got, err := store.Get(task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Expected the first terminal status to stick, got %s", got.Status)
	}
	if got.Error != "first failure" {
		t.Errorf("Expected the first failure detail to stick, got %q", got.Error)
	}
}

func TestNewTaskPrefixes(t *testing.T) {
	task := NewTask("default", "goal", 5, "", false)
	if len(task.ID) < 6 || task.ID[:5] != "task_" {
		t.Errorf("Expected task_ prefix, got %s", task.ID)
	}
	if task.Status != StatusRunning {
		t.Errorf("Expected new tasks to start running, got %s", task.Status)
	}

	retry := NewTask("", "goal", 5, "", true)
	if len(retry.ID) < 12 || retry.ID[:11] != "retry_task_" {
		t.Errorf("Expected retry_task_ prefix, got %s", retry.ID)
	}
}

func TestSnapshotMergesTaskError(t *testing.T) {
	task := NewTask("default", "goal", 5, "", false)
	task.Status = StatusFailed
	task.Error = "session went away"
	task.History = agent.History{
		Errors:    []string{"step 2: click failed"},
		StartedAt: time.Now().Add(-3 * time.Second),
	}
	task.History.FinishedAt = time.Now()
	task.FinishedAt = time.Now().Unix()

	snap := task.Snapshot()
	if len(snap.Errors) != 2 {
		t.Fatalf("Expected both error sources in the snapshot, got %v", snap.Errors)
	}
	if snap.IsSuccessful == nil || *snap.IsSuccessful {
		t.Error("Expected a failed snapshot")
	}
	if snap.DurationSeconds <= 0 {
		t.Errorf("Expected a positive duration, got %f", snap.DurationSeconds)
	}

	// The same message in both places is reported once.
	task.History.Errors = []string{"session went away"}
	snap = task.Snapshot()
	if len(snap.Errors) != 1 {
		t.Errorf("Expected duplicate errors to collapse, got %v", snap.Errors)
	}
}

func TestHubEmitDoesNotBlock(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch := hub.Subscribe("task_x")
	for i := 0; i < 25; i++ {
		hub.Emit("task_x", Event{TaskID: "task_x", Status: StatusRunning, Step: i})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 10 {
		t.Errorf("Expected between 1 and 10 buffered events, got %d", received)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch := hub.Subscribe("task_y")
	hub.Unsubscribe("task_y", ch)

	if _, ok := <-ch; ok {
		t.Error("Expected the channel to be closed after unsubscribe")
	}

	// Emitting to a task with no subscribers is a no-op.
	hub.Emit("task_y", Event{TaskID: "task_y", Status: StatusCompleted})
}
