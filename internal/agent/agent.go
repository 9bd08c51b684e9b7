// Package agent runs autonomous multi-step browser tasks: a model
// picks one action per step against a live session until it declares
// the task done or the step budget runs out.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/browserd/browserd/internal/browser"
)

// Surface is the slice of a browser session the agent drives.
// *browser.Session satisfies it.
type Surface interface {
	CaptureState(includeScreenshot bool) (*browser.State, error)
	Navigate(url string, newTab bool) (int, error)
	Click(index int) error
	Type(index int, text string) error
	PressKey(key string) error
	Scroll(direction string) (int, error)
	Back() error
	SelectOption(index int, text string) (*browser.SelectResult, error)
}

// Decision is one step chosen by the model.
type Decision struct {
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	Index     int    `json:"index,omitempty"`
	Text      string `json:"text,omitempty"`
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`

	// Set when Action is "done"
	Success bool   `json:"success,omitempty"`
	Result  string `json:"result,omitempty"`
}

// DecisionRequest carries everything the model sees for one step.
type DecisionRequest struct {
	Task      string
	State     *browser.State
	History   []StepRecord
	Step      int
	MaxSteps  int
	UseVision bool
}

// Brain decides the next action from the current page state.
type Brain interface {
	NextAction(ctx context.Context, req DecisionRequest) (*Decision, error)
}

// StepRecord is one executed step in a run's history.
type StepRecord struct {
	Step   int    `json:"step"`
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// History is the cumulative record of a run. Snapshots of it back the
// task status API.
type History struct {
	Steps       []StepRecord `json:"steps"`
	URLsVisited []string     `json:"urls_visited"`
	Errors      []string     `json:"errors"`
	FinalResult string       `json:"final_result,omitempty"`
	Successful  bool         `json:"successful"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Agent drives one task to completion. Run may be called once; History
// can be polled concurrently while it executes.
type Agent struct {
	surface   Surface
	brain     Brain
	task      string
	maxSteps  int
	useVision bool

	mu      sync.Mutex
	history History
	closed  bool
}

// New binds a task to a surface and a brain.
func New(surface Surface, brain Brain, task string, maxSteps int, useVision bool) *Agent {
	if maxSteps < 1 {
		maxSteps = 1
	}
	return &Agent{
		surface:   surface,
		brain:     brain,
		task:      task,
		maxSteps:  maxSteps,
		useVision: useVision,
	}
}

// Run executes the agent loop. Individual action failures are recorded
// in the history and the loop continues; Run itself returns an error
// only when the run cannot go on (cancelled context, lost session, or
// a failed model call).
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.history.StartedAt = time.Now()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.history.FinishedAt = time.Now()
		a.mu.Unlock()
	}()

	for step := 1; step <= a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			a.recordError(step, fmt.Sprintf("run cancelled: %v", err))
			return fmt.Errorf("run cancelled: %w", err)
		}
		if a.isClosed() {
			return nil
		}

		state, err := a.surface.CaptureState(a.useVision)
		if err != nil {
			a.recordError(step, fmt.Sprintf("failed to capture page state: %v", err))
			return fmt.Errorf("failed to capture page state: %w", err)
		}
		a.recordURL(state.URL)

		decision, err := a.brain.NextAction(ctx, DecisionRequest{
			Task:      a.task,
			State:     state,
			History:   a.snapshotSteps(),
			Step:      step,
			MaxSteps:  a.maxSteps,
			UseVision: a.useVision,
		})
		if err != nil {
			a.recordError(step, fmt.Sprintf("model decision failed: %v", err))
			return fmt.Errorf("model decision failed: %w", err)
		}

		if decision.Action == "done" {
			a.mu.Lock()
			a.history.FinalResult = decision.Result
			a.history.Successful = decision.Success
			a.history.Steps = append(a.history.Steps, StepRecord{
				Step:   step,
				Action: "done",
				Detail: decision.Reasoning,
			})
			a.mu.Unlock()
			return nil
		}

		detail, err := a.apply(decision)
		record := StepRecord{Step: step, Action: decision.Action, Detail: detail}
		if err != nil {
			record.Error = err.Error()
		}

		a.mu.Lock()
		a.history.Steps = append(a.history.Steps, record)
		if record.Error != "" {
			a.history.Errors = append(a.history.Errors, record.Error)
		}
		a.mu.Unlock()
	}

	// Step budget exhausted without a done decision
	return nil
}

// History returns a snapshot safe to read while the run continues.
func (a *Agent) History() History {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.history
	h.Steps = append([]StepRecord(nil), a.history.Steps...)
	h.URLsVisited = append([]string(nil), a.history.URLsVisited...)
	h.Errors = append([]string(nil), a.history.Errors...)
	return h
}

// Close asks a running loop to stop before its next step.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *Agent) apply(d *Decision) (string, error) {
	switch d.Action {
	case "navigate":
		tab, err := a.surface.Navigate(d.URL, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("opened %s in tab %d", d.URL, tab), nil

	case "click":
		if err := a.surface.Click(d.Index); err != nil {
			return "", err
		}
		return fmt.Sprintf("clicked element %d", d.Index), nil

	case "type":
		if err := a.surface.Type(d.Index, d.Text); err != nil {
			return "", err
		}
		return fmt.Sprintf("typed into element %d", d.Index), nil

	case "press_key":
		if err := a.surface.PressKey(d.Key); err != nil {
			return "", err
		}
		return fmt.Sprintf("pressed %s", d.Key), nil

	case "scroll":
		pixels, err := a.surface.Scroll(d.Direction)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("scrolled %s %dpx", d.Direction, pixels), nil

	case "go_back":
		if err := a.surface.Back(); err != nil {
			return "", err
		}
		return "went back", nil

	case "select_option":
		result, err := a.surface.SelectOption(d.Index, d.Text)
		if err != nil {
			return "", err
		}
		return result.Message, nil

	default:
		return "", fmt.Errorf("unknown action %q", d.Action)
	}
}

func (a *Agent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Agent) snapshotSteps() []StepRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]StepRecord(nil), a.history.Steps...)
}

func (a *Agent) recordURL(url string) {
	if url == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, seen := range a.history.URLsVisited {
		if seen == url {
			return
		}
	}
	a.history.URLsVisited = append(a.history.URLsVisited, url)
}

func (a *Agent) recordError(step int, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history.Steps = append(a.history.Steps, StepRecord{Step: step, Action: "abort", Error: msg})
	a.history.Errors = append(a.history.Errors, msg)
}
