package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-rod/rod"
)

// elementCaptureJS walks the document and returns interactive, visible
// elements as a JSON array. Indices are assigned in document order.
const elementCaptureJS = `() => {
	const tags = ['a', 'button', 'input', 'select', 'textarea', 'details', 'summary', 'label'];
	const roles = ['button', 'link', 'menu', 'menuitem', 'listbox', 'option', 'combobox', 'checkbox', 'radio', 'tab', 'textbox', 'searchbox', 'switch'];

	const xpathOf = (el) => {
		const parts = [];
		while (el && el.nodeType === Node.ELEMENT_NODE) {
			let idx = 1;
			let sib = el.previousElementSibling;
			while (sib) {
				if (sib.tagName === el.tagName) idx += 1;
				sib = sib.previousElementSibling;
			}
			parts.unshift(el.tagName.toLowerCase() + '[' + idx + ']');
			el = el.parentElement;
		}
		return '/' + parts.join('/');
	};

	const visible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		return style.visibility !== 'hidden' && style.display !== 'none';
	};

	const interactive = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tags.includes(tag)) return true;
		const role = (el.getAttribute('role') || '').toLowerCase();
		if (roles.includes(role)) return true;
		return !!(el.onclick || el.getAttribute('onclick'));
	};

	const results = [];
	let index = 0;
	for (const el of document.querySelectorAll('*')) {
		if (!interactive(el) || !visible(el)) continue;
		const attrs = {};
		for (const name of ['id', 'name', 'type', 'placeholder', 'href', 'value', 'aria-label', 'role', 'title', 'alt']) {
			const v = el.getAttribute(name);
			if (v) attrs[name] = v;
		}
		results.push({
			index: index,
			xpath: xpathOf(el),
			tag: el.tagName.toLowerCase(),
			role: (el.getAttribute('role') || '').toLowerCase(),
			text: (el.innerText || el.value || '').trim().slice(0, 100),
			attributes: attrs,
		});
		index += 1;
	}
	return JSON.stringify(results);
}`

// pageContentJS returns the page text and optionally its links as JSON.
const pageContentJS = `(withLinks, textLimit, linkLimit) => {
	const out = { text: (document.body ? document.body.innerText : '').slice(0, textLimit), links: [] };
	if (withLinks) {
		for (const a of document.querySelectorAll('a[href]')) {
			if (out.links.length >= linkLimit) break;
			const text = (a.innerText || '').trim().slice(0, 100);
			if (!text) continue;
			out.links.push({ text: text, href: a.href });
		}
	}
	return JSON.stringify(out);
}`

const (
	extractTextLimit = 16000
	extractLinkLimit = 100
)

// TabInfo describes one open tab.
type TabInfo struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// State is a snapshot of the session's active page: location, tabs, and
// the interactive element map used by index-based commands.
type State struct {
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Tabs       []TabInfo    `json:"tabs"`
	Elements   []ElementRef `json:"interactive_elements"`
	Screenshot string       `json:"screenshot,omitempty"`
}

// PageLink is one anchor collected during content extraction.
type PageLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// PageContent is the raw material handed to content extraction.
type PageContent struct {
	URL   string     `json:"url"`
	Title string     `json:"title"`
	Text  string     `json:"text"`
	Links []PageLink `json:"links,omitempty"`
}

// CaptureState snapshots the active page and rebuilds the element map.
// Element indices from earlier captures are invalidated.
func (s *Session) CaptureState(includeScreenshot bool) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.activePage()
	if err != nil {
		return nil, err
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to query page info: %w", err)
	}

	refs, err := captureElements(page)
	if err != nil {
		return nil, err
	}

	s.elements = make(map[int]ElementRef, len(refs))
	for _, ref := range refs {
		s.elements[ref.Index] = ref
	}

	state := &State{
		URL:      info.URL,
		Title:    info.Title,
		Tabs:     s.tabsLocked(),
		Elements: refs,
	}

	if includeScreenshot {
		shot, err := page.Screenshot(false, nil)
		if err != nil {
			log.Printf("Warning: failed to capture screenshot for session %s: %v", s.ID, err)
		} else {
			state.Screenshot = base64.StdEncoding.EncodeToString(shot)
		}
	}

	return state, nil
}

// ElementByIndex resolves an index against the last captured element
// map.
func (s *Session) ElementByIndex(index int) (ElementRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elementLocked(index)
}

// elementLocked resolves an element index. Callers must hold s.mu.
func (s *Session) elementLocked(index int) (ElementRef, error) {
	ref, ok := s.elements[index]
	if !ok {
		if len(s.elements) == 0 {
			return ElementRef{}, fmt.Errorf("%w: no elements captured, get browser state first", ErrElementNotFound)
		}
		return ElementRef{}, fmt.Errorf("%w: index %d", ErrElementNotFound, index)
	}
	return ref, nil
}

// PageContent collects the active page's text and optionally its links.
func (s *Session) PageContent(extractLinks bool) (*PageContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := s.activePage()
	if err != nil {
		return nil, err
	}

	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to query page info: %w", err)
	}

	result, err := page.Eval(pageContentJS, extractLinks, extractTextLimit, extractLinkLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to collect page content: %w", err)
	}

	content := &PageContent{URL: info.URL, Title: info.Title}
	if err := json.Unmarshal([]byte(result.Value.Str()), content); err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}
	return content, nil
}

// Summarize reports the session for listings. Page query failures are
// captured in the Error field so the session is never hidden.
func (s *Session) Summarize() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := SessionSummary{
		SessionID: s.ID,
		TabCount:  len(s.pages),
		CreatedAt: s.CreatedAt,
	}

	page, err := s.activePage()
	if err != nil {
		summary.Error = err.Error()
		return summary
	}

	info, err := page.Info()
	if err != nil {
		summary.Error = fmt.Sprintf("failed to query page: %v", err)
		return summary
	}

	summary.URL = info.URL
	summary.Title = info.Title
	return summary
}

func captureElements(page *rod.Page) ([]ElementRef, error) {
	result, err := page.Eval(elementCaptureJS)
	if err != nil {
		return nil, fmt.Errorf("failed to capture elements: %w", err)
	}

	var refs []ElementRef
	if err := json.Unmarshal([]byte(result.Value.Str()), &refs); err != nil {
		return nil, fmt.Errorf("failed to parse element map: %w", err)
	}
	return refs, nil
}

// tabsLocked lists open tabs. Callers must hold s.mu.
func (s *Session) tabsLocked() []TabInfo {
	tabs := make([]TabInfo, 0, len(s.pages))
	for i, p := range s.pages {
		tab := TabInfo{Index: i}
		if info, err := p.Info(); err == nil {
			tab.URL = info.URL
			tab.Title = info.Title
		}
		tabs = append(tabs, tab)
	}
	return tabs
}
