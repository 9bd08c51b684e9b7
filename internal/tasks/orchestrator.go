package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/browserd/browserd/internal/agent"
	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/llm"
)

// ErrAgentUnavailable is returned when task submission is attempted
// without a configured LLM client.
var ErrAgentUnavailable = errors.New("agent tasks are unavailable: no LLM API key configured")

// EventSubject is the subject prefix used when mirroring task events
// onto an external bus.
const EventSubject = "TASKS.events."

// progressInterval is how often a live run is polled for new steps to
// mirror onto the event hub.
const progressInterval = 2 * time.Second

// Runner drives one agent run. *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context) error
	History() agent.History
	Close()
}

// TaskSpec describes one agent run.
type TaskSpec struct {
	Goal           string
	MaxSteps       int
	Model          string
	UseVision      bool
	AllowedDomains []string
}

// RunnerFactory builds the runner for a task. Swappable in tests.
type RunnerFactory func(session *browser.Session, spec TaskSpec) Runner

// Publisher mirrors task events onto an external message bus.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type execution struct {
	sessionID string
	runner    Runner
}

// Orchestrator submits agent tasks, runs them in the background, and
// answers status polls without ever blocking on a live run.
type Orchestrator struct {
	registry  *browser.Registry
	store     *Store
	hub       *Hub
	client    *llm.Client
	factory   RunnerFactory
	publisher Publisher

	mu      sync.Mutex
	runners map[string]*execution
	custom  bool
}

// NewOrchestrator creates a task orchestrator. client may be nil, in
// which case submissions fail with ErrAgentUnavailable until a runner
// factory is installed.
func NewOrchestrator(registry *browser.Registry, store *Store, hub *Hub, client *llm.Client) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		store:    store,
		hub:      hub,
		client:   client,
		runners:  make(map[string]*execution),
	}
	o.factory = o.defaultFactory
	return o
}

// SetRunnerFactory overrides how runners are built.
func (o *Orchestrator) SetRunnerFactory(factory RunnerFactory) {
	o.factory = factory
	o.custom = true
}

// SetPublisher installs an external event mirror.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// Hub returns the event hub tasks publish to.
func (o *Orchestrator) Hub() *Hub {
	return o.hub
}

// TaskCount reports how many task records are currently retained.
func (o *Orchestrator) TaskCount() int {
	return o.store.Count()
}

func (o *Orchestrator) defaultFactory(session *browser.Session, spec TaskSpec) Runner {
	brain := agent.NewLLMBrain(o.client, spec.Model)
	return agent.New(session, brain, spec.Goal, spec.MaxSteps, spec.UseVision)
}

func (o *Orchestrator) available() bool {
	return o.client != nil || o.custom
}

// Submit starts a task against the given session and returns its id.
// The session is resolved before the task is registered, so a session
// that cannot be reached fails the submission rather than the run. The
// task record is in the store, status running, before this returns.
func (o *Orchestrator) Submit(sessionID string, spec TaskSpec) (string, error) {
	if !o.available() {
		return "", ErrAgentUnavailable
	}
	session, err := o.registry.GetOrCreate(sessionID)
	if err != nil {
		return "", err
	}

	task := NewTask(session.ID, spec.Goal, spec.MaxSteps, spec.Model, false)
	runner := o.factory(session, spec)
	o.store.Save(task)
	o.track(task.ID, session.ID, runner)
	o.emit(task.ID, StatusRunning, 0, "task started")

	go o.execute(task.ID, runner)
	return task.ID, nil
}

// SubmitRetry starts a task in a fresh ad-hoc session. The session is
// created inside the run and best-effort closed when the run ends, no
// matter how it ends.
func (o *Orchestrator) SubmitRetry(spec TaskSpec) (string, error) {
	if !o.available() {
		return "", ErrAgentUnavailable
	}

	task := NewTask("", spec.Goal, spec.MaxSteps, spec.Model, true)
	task.AdHoc = true
	o.store.Save(task)
	o.emit(task.ID, StatusRunning, 0, "retry task started")

	go o.runAdHoc(task.ID, spec)
	return task.ID, nil
}

func (o *Orchestrator) runAdHoc(taskID string, spec TaskSpec) {
	profile := o.registry.Defaults()
	if len(spec.AllowedDomains) > 0 {
		profile.AllowedDomains = spec.AllowedDomains
	}
	session, err := o.registry.NewAdHoc(profile)
	if err != nil {
		o.finish(taskID, agent.History{}, fmt.Errorf("failed to start ad-hoc session: %w", err))
		return
	}
	defer func() {
		for _, cerr := range session.Close() {
			log.Printf("Warning: failed to clean up ad-hoc session %s: %v", session.ID, cerr)
		}
	}()

	o.store.SetSession(taskID, session.ID)
	runner := o.factory(session, spec)
	o.track(taskID, session.ID, runner)

	o.execute(taskID, runner)
}

// execute runs the runner to completion, mirroring step progress onto
// the hub while it is live.
func (o *Orchestrator) execute(taskID string, runner Runner) {
	done := make(chan struct{})
	go o.watchProgress(taskID, runner, done)

	err := runner.Run(context.Background())
	close(done)
	o.finish(taskID, runner.History(), err)
}

// watchProgress emits an event whenever a live run has landed new
// steps, so stream subscribers see progress between submit and finish.
func (o *Orchestrator) watchProgress(taskID string, runner Runner, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			steps := len(runner.History().Steps)
			if steps > last {
				last = steps
				o.emit(taskID, StatusRunning, steps, fmt.Sprintf("completed step %d", steps))
			}
		}
	}
}

// finish records the terminal state of a task and releases its runner.
func (o *Orchestrator) finish(taskID string, history agent.History, runErr error) {
	status := StatusCompleted
	detail := ""
	message := "task completed"
	if runErr != nil {
		status = StatusFailed
		detail = runErr.Error()
		message = "task failed: " + detail
	}
	o.store.SetFinished(taskID, status, history, detail)
	o.untrack(taskID)
	o.emit(taskID, status, len(history.Steps), message)
}

// GetStatus returns a snapshot of a task. For a running task the live
// agent history is merged in, so polling shows progress without
// waiting on the run.
func (o *Orchestrator) GetStatus(taskID string) (StatusSnapshot, error) {
	task, err := o.store.Get(taskID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	if task.Status == StatusRunning {
		if runner := o.runnerFor(taskID); runner != nil {
			task.History = runner.History()
		}
	}
	return task.Snapshot(), nil
}

// PurgeSession stops runners bound to a session, typically because the
// session is being closed underneath them. The runs wind down on their
// own and record whatever they got done.
func (o *Orchestrator) PurgeSession(sessionID string) {
	var stopped []Runner
	o.mu.Lock()
	for _, ex := range o.runners {
		if ex.sessionID == sessionID {
			stopped = append(stopped, ex.runner)
		}
	}
	o.mu.Unlock()

	for _, runner := range stopped {
		runner.Close()
	}
}

// Stop closes all live runners.
func (o *Orchestrator) Stop() {
	var stopped []Runner
	o.mu.Lock()
	for _, ex := range o.runners {
		stopped = append(stopped, ex.runner)
	}
	o.mu.Unlock()

	for _, runner := range stopped {
		runner.Close()
	}
}

func (o *Orchestrator) track(taskID, sessionID string, runner Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runners[taskID] = &execution{sessionID: sessionID, runner: runner}
}

func (o *Orchestrator) untrack(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runners, taskID)
}

func (o *Orchestrator) runnerFor(taskID string) Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ex, ok := o.runners[taskID]; ok {
		return ex.runner
	}
	return nil
}

// emit fans an event out to hub subscribers and, when configured, the
// external bus.
func (o *Orchestrator) emit(taskID string, status Status, step int, message string) {
	event := Event{
		TaskID:  taskID,
		Status:  status,
		Step:    step,
		Message: message,
		Time:    time.Now().Unix(),
	}
	o.hub.Emit(taskID, event)

	if o.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := o.publisher.Publish(EventSubject+taskID, data); err != nil {
		log.Printf("Warning: failed to publish event for task %s: %v", taskID, err)
	}
}
