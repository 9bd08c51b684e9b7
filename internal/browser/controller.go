package browser

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// ErrUnsupportedKey is returned for key names with no known mapping.
var ErrUnsupportedKey = errors.New("unsupported key")

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"Space":      input.Space,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

const scrollJS = `(direction) => {
	const dy = Math.floor(window.innerHeight * 0.8);
	window.scrollBy(0, direction === 'up' ? -dy : dy);
	return dy;
}`

// Navigate loads a URL in the active tab, or in a fresh tab when
// newTab is set, and returns the index of the tab that navigated.
func (s *Session) Navigate(rawURL string, newTab bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}

	if err := s.checkDomainLocked(rawURL); err != nil {
		return 0, err
	}

	if newTab || len(s.pages) == 0 {
		page, err := s.browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			return 0, fmt.Errorf("failed to open tab: %w", err)
		}
		s.pages = append(s.pages, page)
		s.active = len(s.pages) - 1
	}

	page, err := s.activePage()
	if err != nil {
		return 0, err
	}

	if err := page.Navigate(rawURL); err != nil {
		return 0, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	if err := page.Timeout(pageLoadTimeout).WaitLoad(); err != nil {
		return 0, fmt.Errorf("failed to wait for page load: %w", err)
	}

	// Navigation invalidates element indices
	s.elements = make(map[int]ElementRef)
	s.pace()
	return s.active, nil
}

// Click clicks the element behind index from the last captured state.
func (s *Session) Click(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.elementLocked(index)
	if err != nil {
		return err
	}
	page, err := s.activePage()
	if err != nil {
		return err
	}

	el, err := page.Timeout(actionTimeout).ElementX(ref.XPath)
	if err != nil {
		return fmt.Errorf("%w: index %d is no longer on the page", ErrElementNotFound, index)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click element %d: %w", index, err)
	}

	s.pace()
	return nil
}

// Type replaces the text of the element behind index.
func (s *Session) Type(index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.elementLocked(index)
	if err != nil {
		return err
	}
	page, err := s.activePage()
	if err != nil {
		return err
	}

	el, err := page.Timeout(actionTimeout).ElementX(ref.XPath)
	if err != nil {
		return fmt.Errorf("%w: index %d is no longer on the page", ErrElementNotFound, index)
	}

	if err := el.SelectAllText(); err != nil {
		log.Printf("Warning: could not select existing text in element %d: %v", index, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("failed to type into element %d: %w", index, err)
	}

	s.pace()
	return nil
}

// PressKey sends one key to the active page. Named keys like Enter and
// Tab are supported alongside single characters.
func (s *Session) PressKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.activePage()
	if err != nil {
		return err
	}

	k, ok := namedKeys[key]
	if !ok {
		runes := []rune(key)
		if len(runes) != 1 {
			return fmt.Errorf("%w: %q", ErrUnsupportedKey, key)
		}
		k = input.Key(runes[0])
	}

	if err := page.Keyboard.Type(k); err != nil {
		return fmt.Errorf("failed to press key %q: %w", key, err)
	}

	s.pace()
	return nil
}

// Scroll moves the viewport up or down by most of one screen and
// returns the pixel distance.
func (s *Session) Scroll(direction string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.activePage()
	if err != nil {
		return 0, err
	}

	result, err := page.Eval(scrollJS, direction)
	if err != nil {
		return 0, fmt.Errorf("failed to scroll: %w", err)
	}

	s.pace()
	return result.Value.Int(), nil
}

// Back navigates the active tab one step back in history.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.activePage()
	if err != nil {
		return err
	}

	if err := page.NavigateBack(); err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	if err := page.Timeout(pageLoadTimeout).WaitLoad(); err != nil {
		log.Printf("Warning: wait after back navigation failed for session %s: %v", s.ID, err)
	}

	s.elements = make(map[int]ElementRef)
	s.pace()
	return nil
}

// Tabs lists the session's open tabs.
func (s *Session) Tabs() ([]TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.tabsLocked(), nil
}

// SwitchTab makes the tab at index the active one.
func (s *Session) SwitchTab(index int) (TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return TabInfo{}, ErrSessionClosed
	}
	if index < 0 || index >= len(s.pages) {
		return TabInfo{}, fmt.Errorf("%w: index %d", ErrTabNotFound, index)
	}

	s.active = index
	s.elements = make(map[int]ElementRef)

	page := s.pages[index]
	if _, err := page.Activate(); err != nil {
		log.Printf("Warning: failed to activate tab %d: %v", index, err)
	}

	tab := TabInfo{Index: index}
	if info, err := page.Info(); err == nil {
		tab.URL = info.URL
		tab.Title = info.Title
	}
	return tab, nil
}

// CloseTab closes the tab at index. Closing the last tab leaves the
// session pageless until the next navigation.
func (s *Session) CloseTab(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if index < 0 || index >= len(s.pages) {
		return fmt.Errorf("%w: index %d", ErrTabNotFound, index)
	}

	if err := s.pages[index].Close(); err != nil {
		return fmt.Errorf("failed to close tab %d: %w", index, err)
	}

	s.pages = append(s.pages[:index], s.pages[index+1:]...)
	switch {
	case s.active == index:
		s.active = 0
	case s.active > index:
		s.active--
	}
	s.elements = make(map[int]ElementRef)
	return nil
}

func (s *Session) checkDomainLocked(rawURL string) error {
	if len(s.profile.AllowedDomains) == 0 {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil
	}
	host = strings.TrimPrefix(host, "www.")

	for _, domain := range s.profile.AllowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		domain = strings.TrimPrefix(domain, "www.")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDomainNotAllowed, host)
}
