package tasks

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/browserd/browserd/internal/agent"
)

// ErrTaskNotFound is returned when a task id has no record, either
// because it never existed or because the record expired.
var ErrTaskNotFound = errors.New("task not found")

// Store keeps task records in memory and evicts finished ones after
// the retention window.
type Store struct {
	tasks         map[string]*Task
	mu            sync.RWMutex
	retention     time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewStore creates a task store with background cleanup.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	store := &Store{
		tasks:       make(map[string]*Task),
		retention:   retention,
		stopCleanup: make(chan struct{}),
	}
	store.startCleanup()
	return store
}

// startCleanup runs periodic cleanup of expired task records.
func (s *Store) startCleanup() {
	s.cleanupTicker = time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupExpired()
			case <-s.stopCleanup:
				s.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpired removes finished tasks older than the retention
// window. Running tasks are never evicted.
func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, task := range s.tasks {
		if task.IsExpired(s.retention) {
			delete(s.tasks, id)
			deleted++
		}
	}

	if deleted > 0 {
		log.Printf("Cleaned up %d expired task records", deleted)
	}
}

// Stop halts the cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// Save registers a task record.
func (s *Store) Save(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// Get returns a copy of a task record. The copy keeps readers off the
// record while the execution goroutine is still writing to it.
func (s *Store) Get(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

// SetSession records the session a task ended up bound to. Retry
// tasks get their session assigned only once the ad-hoc browser is up.
func (s *Store) SetSession(taskID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return
	}
	task.SessionID = sessionID
	task.UpdatedAt = time.Now().Unix()
}

// SetFinished moves a task to a terminal status with its final
// history. A task that is already terminal is left untouched.
func (s *Store) SetFinished(taskID string, status Status, history agent.History, runErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[taskID]
	if !exists || task.Finished() {
		return
	}
	now := time.Now().Unix()
	task.Status = status
	task.History = history
	task.Error = runErr
	task.UpdatedAt = now
	task.FinishedAt = now
}

// Delete removes a task record.
func (s *Store) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// Count returns the number of task records currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// List returns copies of all task records.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		list = append(list, *task)
	}
	return list
}
