// Package browser owns live Chromium sessions: their lifecycle, tabs,
// element maps, and the interaction commands issued against them.
package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// DefaultSessionID is the only id the registry auto-creates on lookup.
const DefaultSessionID = "default"

// actionTimeout bounds element lookups and interactions so a stale
// locator fails the call instead of hanging it.
const actionTimeout = 10 * time.Second

// pageLoadTimeout bounds full page loads after navigation.
const pageLoadTimeout = 30 * time.Second

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrElementNotFound is returned when an element index has no entry
	// in the session's current element map.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoOpenPages is returned when a session has no page to act on.
	ErrNoOpenPages = errors.New("session has no open pages")
	// ErrDomainNotAllowed is returned when navigation targets a host
	// outside the session's allowed domains.
	ErrDomainNotAllowed = errors.New("domain not allowed for this session")
	// ErrTabNotFound is returned for an out-of-range tab index.
	ErrTabNotFound = errors.New("tab not found")
)

// Profile configures a session at creation time. It is fixed for the
// session's lifetime; GetOrCreate never re-applies it to a live session.
type Profile struct {
	Headless           bool
	AllowedDomains     []string
	WaitBetweenActions time.Duration
}

// DefaultProfile returns the profile used for the auto-created default
// session.
func DefaultProfile() Profile {
	return Profile{
		Headless:           true,
		WaitBetweenActions: 500 * time.Millisecond,
	}
}

// ElementRef describes one interactive element captured from the page.
// References are valid only until the next navigation or capture.
type ElementRef struct {
	Index      int               `json:"index"`
	XPath      string            `json:"xpath"`
	Tag        string            `json:"tag"`
	Role       string            `json:"role,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Session is one live browser automation context. All commands against
// the same session serialize on its mutex, so interleaved callers
// cannot race each other at the browser level.
type Session struct {
	ID        string
	CreatedAt time.Time

	profile   Profile
	workspace string

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	pages    []*rod.Page
	active   int
	elements map[int]ElementRef
	closed   bool
}

func newSession(id string, profile Profile, workspace string, l *launcher.Launcher, b *rod.Browser, first *rod.Page) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		profile:   profile,
		workspace: workspace,
		launcher:  l,
		browser:   b,
		elements:  make(map[int]ElementRef),
	}
	if first != nil {
		s.pages = append(s.pages, first)
	}
	return s
}

// Profile returns the session's creation-time configuration.
func (s *Session) Profile() Profile {
	return s.profile
}

// Workspace returns the session's artifact directory.
func (s *Session) Workspace() string {
	return s.workspace
}

// Close tears the session down best-effort: every sub-step failure is
// collected rather than aborting the rest, and the session is marked
// closed regardless.
func (s *Session) Close() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}

	s.browser = nil
	s.launcher = nil
	s.pages = nil
	s.elements = nil
	return errs
}

// SaveArtifact writes data into the session workspace and returns the
// file path.
func (s *Session) SaveArtifact(name string, data []byte) (string, error) {
	if s.workspace == "" {
		return "", fmt.Errorf("session has no workspace")
	}
	if err := os.MkdirAll(s.workspace, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	path := filepath.Join(s.workspace, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// activePage returns the current tab. Callers must hold s.mu.
func (s *Session) activePage() (*rod.Page, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if len(s.pages) == 0 {
		return nil, ErrNoOpenPages
	}
	if s.active < 0 || s.active >= len(s.pages) {
		s.active = 0
	}
	return s.pages[s.active], nil
}

// pace applies the configured wait between actions. Callers must hold
// s.mu so the wait also throttles the next queued command.
func (s *Session) pace() {
	if s.profile.WaitBetweenActions > 0 {
		time.Sleep(s.profile.WaitBetweenActions)
	}
}
