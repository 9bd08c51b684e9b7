package browser

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

var (
	// ErrSessionExists is returned by Create for a duplicate session id.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned for lookups of unregistered ids.
	ErrSessionNotFound = errors.New("session not found")
)

// LaunchFunc starts a browser for a profile and returns the launcher,
// the connected browser, and its initial page. Tests swap this out to
// avoid launching real Chromium.
type LaunchFunc func(profile Profile) (*launcher.Launcher, *rod.Browser, *rod.Page, error)

// SessionSummary is one row of the session listing. A session whose
// page query fails is still listed, with Error set.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	TabCount  int       `json:"tab_count"`
	CreatedAt time.Time `json:"created_at"`
	Error     string    `json:"error,omitempty"`
}

// Registry owns every named browser session. It is the only component
// that creates or removes them.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]struct{}

	launch       LaunchFunc
	defaults     Profile
	binPath      string
	workspaceDir string
}

// NewRegistry creates a session registry. binPath may be empty to let
// the launcher locate a browser on its own.
func NewRegistry(binPath, workspaceDir string, defaults Profile) *Registry {
	r := &Registry{
		sessions:     make(map[string]*Session),
		pending:      make(map[string]struct{}),
		defaults:     defaults,
		binPath:      binPath,
		workspaceDir: workspaceDir,
	}
	r.launch = r.launchBrowser
	return r
}

// SetLaunchFunc overrides how the registry starts browsers.
func (r *Registry) SetLaunchFunc(fn LaunchFunc) {
	r.launch = fn
}

// Defaults returns the profile applied to sessions created without an
// explicit one.
func (r *Registry) Defaults() Profile {
	return r.defaults
}

// Create starts a new session under id, failing with ErrSessionExists
// if the id is already live. An empty id gets a generated one. The
// registry lock is not held while the browser launches, so unrelated
// sessions never stall behind a slow startup.
func (r *Registry) Create(id string, profile Profile) (*Session, error) {
	if id == "" {
		id = "session_" + uuid.New().String()[:8]
	}

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	if _, ok := r.pending[id]; ok {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	s, err := r.start(id, profile)

	r.mu.Lock()
	delete(r.pending, id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[id] = s
	r.mu.Unlock()

	log.Printf("Created browser session %s", id)
	return s, nil
}

// GetOrCreate returns the live session for id. Only the default id is
// auto-created; any other absent id fails with ErrSessionNotFound.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	if id == "" {
		id = DefaultSessionID
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	if id != DefaultSessionID {
		return nil, ErrSessionNotFound
	}

	s, err := r.Create(id, r.defaults)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrSessionExists) {
		return nil, err
	}

	// Another caller is creating the default session; wait for it.
	deadline := time.Now().Add(actionTimeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		s, ok := r.sessions[id]
		_, creating := r.pending[id]
		r.mu.Unlock()
		if ok {
			return s, nil
		}
		if !creating {
			return r.Create(id, r.defaults)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, ErrSessionNotFound
}

// Close removes the session entry and tears the session down. Teardown
// failures are logged and returned for reporting, never fatal; the
// entry is removed regardless.
func (r *Registry) Close(id string) ([]error, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	subErrs := s.Close()
	for _, err := range subErrs {
		log.Printf("Warning: cleanup error closing session %s: %v", id, err)
	}
	log.Printf("Closed browser session %s", id)
	return subErrs, nil
}

// List snapshots every live session. Sessions whose page queries fail
// are reported with an error field rather than omitted.
func (r *Registry) List() []SessionSummary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summarize())
	}
	return summaries
}

// NewAdHoc starts an unregistered session for fallback agent runs. The
// caller owns its teardown.
func (r *Registry) NewAdHoc(profile Profile) (*Session, error) {
	id := "adhoc_" + uuid.New().String()[:8]
	return r.start(id, profile)
}

// CloseAll tears down every registered session, best-effort.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		for _, err := range s.Close() {
			log.Printf("Warning: cleanup error closing session %s: %v", s.ID, err)
		}
	}
}

func (r *Registry) start(id string, profile Profile) (*Session, error) {
	l, b, page, err := r.launch(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser for session %s: %w", id, err)
	}

	workspace := filepath.Join(r.workspaceDir, id)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		if b != nil {
			_ = b.Close()
		}
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return nil, fmt.Errorf("failed to create workspace for session %s: %w", id, err)
	}

	return newSession(id, profile, workspace, l, b, page), nil
}

func (r *Registry) launchBrowser(profile Profile) (*launcher.Launcher, *rod.Browser, *rod.Page, error) {
	l := launcher.New().Headless(profile.Headless)
	if r.binPath != "" {
		l.Bin(r.binPath)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, nil, nil, fmt.Errorf("failed to open initial page: %w", err)
	}

	return l, b, page, nil
}
