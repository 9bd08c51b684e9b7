package tasks_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/browserd/browserd/internal/agent"
	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/tasks"
)

type fakeRunner struct {
	history agent.History
	err     error
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
}

func newFakeRunner(history agent.History, err error) *fakeRunner {
	return &fakeRunner{history: history, err: err, done: make(chan struct{})}
}

func (r *fakeRunner) Run(ctx context.Context) error {
	<-r.done
	return r.err
}

func (r *fakeRunner) History() agent.History {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history
}

func (r *fakeRunner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.release()
}

func (r *fakeRunner) release() {
	r.once.Do(func() { close(r.done) })
}

func (r *fakeRunner) wasClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func newStubRegistry(t *testing.T) *browser.Registry {
	t.Helper()
	reg := browser.NewRegistry("", t.TempDir(), browser.DefaultProfile())
	reg.SetLaunchFunc(func(profile browser.Profile) (*launcher.Launcher, *rod.Browser, *rod.Page, error) {
		return nil, nil, nil, nil
	})
	return reg
}

func newTestOrchestrator(t *testing.T, reg *browser.Registry) (*tasks.Orchestrator, *tasks.Store) {
	t.Helper()
	store := tasks.NewStore(time.Hour)
	t.Cleanup(store.Stop)
	hub := tasks.NewHub()
	t.Cleanup(hub.Close)
	return tasks.NewOrchestrator(reg, store, hub, nil), store
}

func waitForStatus(t *testing.T, o *tasks.Orchestrator, taskID string, want tasks.Status) tasks.StatusSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.GetStatus(taskID)
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Task %s never reached status %s", taskID, want)
	return tasks.StatusSnapshot{}
}

func TestSubmitReportsRunningImmediately(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	runner := newFakeRunner(agent.History{
		StartedAt:   time.Now(),
		FinalResult: "found the pricing page",
		Successful:  true,
	}, nil)
	o.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		return runner
	})

	taskID, err := o.Submit("default", tasks.TaskSpec{Goal: "find the pricing page", MaxSteps: 5})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	if !strings.HasPrefix(taskID, "task_") {
		t.Errorf("Expected task_ id prefix, got %s", taskID)
	}

	snap, err := o.GetStatus(taskID)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if snap.Status != tasks.StatusRunning {
		t.Errorf("Expected running before the run finishes, got %s", snap.Status)
	}
	if snap.IsSuccessful != nil {
		t.Error("Expected is_successful to be unset while running")
	}
	if snap.SessionID != "default" {
		t.Errorf("Expected session default, got %s", snap.SessionID)
	}

	runner.release()
	final := waitForStatus(t, o, taskID, tasks.StatusCompleted)
	if final.IsSuccessful == nil || !*final.IsSuccessful {
		t.Error("Expected a successful outcome")
	}
	if final.Result != "found the pricing page" {
		t.Errorf("Expected final result, got %q", final.Result)
	}

	// Terminal status must not revert.
	again, err := o.GetStatus(taskID)
	if err != nil {
		t.Fatalf("Failed to re-poll status: %v", err)
	}
	if again.Status != tasks.StatusCompleted {
		t.Errorf("Expected completed to stick, got %s", again.Status)
	}
}

func TestSubmitWithoutLLMFails(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	if _, err := o.Submit("default", tasks.TaskSpec{Goal: "do a thing", MaxSteps: 5}); !errors.Is(err, tasks.ErrAgentUnavailable) {
		t.Errorf("Expected ErrAgentUnavailable, got %v", err)
	}
}

func TestSubmitSessionFailureRegistersNothing(t *testing.T) {
	reg := browser.NewRegistry("", t.TempDir(), browser.DefaultProfile())
	reg.SetLaunchFunc(func(profile browser.Profile) (*launcher.Launcher, *rod.Browser, *rod.Page, error) {
		return nil, nil, nil, errors.New("no browser on this host")
	})
	o, store := newTestOrchestrator(t, reg)
	o.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		return newFakeRunner(agent.History{}, nil)
	})

	if _, err := o.Submit("default", tasks.TaskSpec{Goal: "do a thing", MaxSteps: 5}); err == nil {
		t.Fatal("Expected submission to fail when the session cannot start")
	}
	if got := len(store.List()); got != 0 {
		t.Errorf("Expected no task records after a failed submission, got %d", got)
	}
}

func TestFailedRunRecordsError(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	runner := newFakeRunner(agent.History{StartedAt: time.Now()}, errors.New("browser crashed mid-run"))
	runner.release()
	o.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		return runner
	})

	taskID, err := o.Submit("default", tasks.TaskSpec{Goal: "do a thing", MaxSteps: 5})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	snap := waitForStatus(t, o, taskID, tasks.StatusFailed)
	if snap.IsSuccessful == nil || *snap.IsSuccessful {
		t.Error("Expected a failed outcome")
	}
	found := false
	for _, e := range snap.Errors {
		if strings.Contains(e, "browser crashed mid-run") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected the run error in the snapshot, got %v", snap.Errors)
	}
}

func TestSubmitRetryUsesAdHocSession(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	var mu sync.Mutex
	var captured *browser.Session
	runner := newFakeRunner(agent.History{StartedAt: time.Now(), Successful: true}, nil)
	runner.release()
	o.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		mu.Lock()
		captured = s
		mu.Unlock()
		return runner
	})

	taskID, err := o.SubmitRetry(tasks.TaskSpec{Goal: "do it again", MaxSteps: 5})
	if err != nil {
		t.Fatalf("Failed to submit retry task: %v", err)
	}
	if !strings.HasPrefix(taskID, "retry_task_") {
		t.Errorf("Expected retry_task_ id prefix, got %s", taskID)
	}

	snap := waitForStatus(t, o, taskID, tasks.StatusCompleted)
	if !strings.HasPrefix(snap.SessionID, "adhoc_") {
		t.Errorf("Expected an ad-hoc session id, got %s", snap.SessionID)
	}

	// The ad-hoc session never appears in the registry listing.
	for _, s := range reg.List() {
		if s.SessionID == snap.SessionID {
			t.Errorf("Expected ad-hoc session %s to stay unregistered", snap.SessionID)
		}
	}

	// And it is torn down once the run ends.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		s := captured
		mu.Unlock()
		if s != nil {
			if _, err := s.CaptureState(false); errors.Is(err, browser.ErrSessionClosed) {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected the ad-hoc session to be closed after the run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPurgeSessionStopsRunningTask(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	runner := newFakeRunner(agent.History{StartedAt: time.Now()}, nil)
	o.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		return runner
	})

	taskID, err := o.Submit("default", tasks.TaskSpec{Goal: "long slow task", MaxSteps: 50})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	o.PurgeSession("default")
	if !runner.wasClosed() {
		t.Error("Expected the runner to be closed when its session is purged")
	}
	waitForStatus(t, o, taskID, tasks.StatusCompleted)
}

func TestGetStatusUnknownTask(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	if _, err := o.GetStatus("task_doesnotexist"); !errors.Is(err, tasks.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestGetStatusMergesLiveHistory(t *testing.T) {
	reg := newStubRegistry(t)
	o, _ := newTestOrchestrator(t, reg)

	runner := newFakeRunner(agent.History{
		StartedAt: time.Now(),
		Steps: []agent.StepRecord{
			{Step: 1, Action: "navigate", Detail: "opened https://example.com/ in tab 0"},
			{Step: 2, Action: "click", Detail: "clicked element 3"},
		},
		URLsVisited: []string{"https://example.com/"},
	}, nil)
	o.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		return runner
	})

	taskID, err := o.Submit("default", tasks.TaskSpec{Goal: "poke around", MaxSteps: 5})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	snap, err := o.GetStatus(taskID)
	if err != nil {
		t.Fatalf("Failed to get status: %v", err)
	}
	if snap.Status != tasks.StatusRunning {
		t.Fatalf("Expected running, got %s", snap.Status)
	}
	if snap.StepsCompleted != 2 {
		t.Errorf("Expected 2 steps from the live run, got %d", snap.StepsCompleted)
	}
	if len(snap.URLsVisited) != 1 || snap.URLsVisited[0] != "https://example.com/" {
		t.Errorf("Expected visited urls from the live run, got %v", snap.URLsVisited)
	}

	runner.release()
	waitForStatus(t, o, taskID, tasks.StatusCompleted)
}
