package browser

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-rod/rod"
)

// maxFrameDepth bounds the nested-frame walk.
const maxFrameDepth = 3

// frameEvalTimeout keeps per-frame probes and selection attempts short
// so a dead frame fails fast instead of stalling the whole search.
const frameEvalTimeout = 3 * time.Second

const (
	widgetSelect      = "select"
	widgetARIA        = "aria"
	widgetUnsupported = "unsupported"
)

// probeJS locates the element inside the current frame's document and
// classifies it. Dropdown-like widgets often live in a nested frame, so
// a miss here only means "not in this frame".
const probeJS = `(xpath) => {
	const node = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!node) return JSON.stringify({ found: false });
	const tag = node.tagName.toLowerCase();
	const role = (node.getAttribute('role') || '').toLowerCase();
	if (tag === 'select') {
		const options = Array.from(node.options).map(o => o.label || o.text);
		return JSON.stringify({ found: true, tag: tag, role: role, kind: 'select', options: options });
	}
	if (role === 'menu' || role === 'listbox' || role === 'combobox') {
		return JSON.stringify({ found: true, tag: tag, role: role, kind: 'aria' });
	}
	return JSON.stringify({ found: true, tag: tag, role: role, kind: 'unsupported' });
}`

// selectOptionJS picks the option whose visible label equals the target
// exactly, case-sensitively, and fires the events a real change would.
const selectOptionJS = `(xpath, label) => {
	const node = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!node || node.tagName.toLowerCase() !== 'select') {
		return JSON.stringify({ ok: false, reason: 'no select element at locator' });
	}
	for (const opt of Array.from(node.options)) {
		const text = opt.label || opt.text;
		if (text === label) {
			node.value = opt.value;
			opt.selected = true;
			node.dispatchEvent(new Event('input', { bubbles: true }));
			node.dispatchEvent(new Event('change', { bubbles: true }));
			return JSON.stringify({ ok: true, label: text, value: opt.value });
		}
	}
	return JSON.stringify({ ok: false, reason: 'no option with exact label match' });
}`

// clickAriaItemJS activates the item whose trimmed text equals the
// target. Both an invocation and a synthetic pointer event are sent
// since some widgets only react to one of them.
const clickAriaItemJS = `(xpath, label) => {
	const node = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!node) return JSON.stringify({ ok: false, reason: 'element not found' });
	const items = node.querySelectorAll('[role="menuitem"], [role="menuitemcheckbox"], [role="menuitemradio"], [role="option"], option, li');
	for (const item of items) {
		if ((item.textContent || '').trim() === label) {
			if (typeof item.click === 'function') item.click();
			item.dispatchEvent(new MouseEvent('click', { bubbles: true, cancelable: true, view: window }));
			return JSON.stringify({ ok: true, label: label });
		}
	}
	return JSON.stringify({ ok: false, reason: 'no item with matching text' });
}`

type probeInfo struct {
	Found   bool     `json:"found"`
	Tag     string   `json:"tag"`
	Role    string   `json:"role"`
	Kind    string   `json:"kind"`
	Options []string `json:"options,omitempty"`
}

type selectOutcome struct {
	OK     bool   `json:"ok"`
	Label  string `json:"label"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// SelectResult reports a dropdown selection attempt. Selected false is
// not an error; callers read Message to see what happened.
type SelectResult struct {
	Selected bool   `json:"selected"`
	Message  string `json:"message"`
}

// SelectOption resolves the element behind index and tries to choose
// the option with the given text, searching the main document first and
// then nested frames depth-first. The first frame that yields a
// successful selection short-circuits the walk; frames where the
// element is absent, unsupported, or has no matching option are skipped
// rather than failing the call.
func (s *Session) SelectOption(index int, text string) (*SelectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.elementLocked(index)
	if err != nil {
		return nil, err
	}
	page, err := s.activePage()
	if err != nil {
		return nil, err
	}

	frames := collectFrames(page, 0)
	for i, frame := range frames {
		probe, err := probeFrame(frame, ref.XPath)
		if err != nil {
			log.Printf("Session %s: frame %d probe failed: %v", s.ID, i, err)
			continue
		}
		if !probe.Found {
			continue
		}

		switch probe.Kind {
		case widgetSelect:
			outcome, err := attemptInFrame(frame, selectOptionJS, ref.XPath, text)
			if err != nil {
				log.Printf("Session %s: frame %d select attempt failed: %v", s.ID, i, err)
				continue
			}
			if outcome.OK {
				s.pace()
				return &SelectResult{
					Selected: true,
					Message:  fmt.Sprintf("Selected option %q (value %q) in frame %d", outcome.Label, outcome.Value, i),
				}, nil
			}
			// The same xpath can resolve to a different select in a
			// nested document, so a miss here is not final.

		case widgetARIA:
			outcome, err := attemptInFrame(frame, clickAriaItemJS, ref.XPath, text)
			if err != nil {
				log.Printf("Session %s: frame %d menu activation failed: %v", s.ID, i, err)
				continue
			}
			if outcome.OK {
				s.pace()
				return &SelectResult{
					Selected: true,
					Message:  fmt.Sprintf("Activated %s item %q in frame %d", probe.Role, text, i),
				}, nil
			}

		default:
			log.Printf("Session %s: frame %d has unsupported widget tag=%s role=%s", s.ID, i, probe.Tag, probe.Role)
		}
	}

	return &SelectResult{
		Selected: false,
		Message:  fmt.Sprintf("Could not select option '%s' in any frame", text),
	}, nil
}

// collectFrames returns the page followed by its nested frames in
// document order, depth-first.
func collectFrames(page *rod.Page, depth int) []*rod.Page {
	frames := []*rod.Page{page}
	if depth >= maxFrameDepth {
		return frames
	}

	els, err := page.Elements("iframe, frame")
	if err != nil {
		return frames
	}
	for _, el := range els {
		child, err := el.Frame()
		if err != nil {
			continue
		}
		frames = append(frames, collectFrames(child, depth+1)...)
	}
	return frames
}

func probeFrame(frame *rod.Page, xpath string) (probeInfo, error) {
	result, err := frame.Timeout(frameEvalTimeout).Eval(probeJS, xpath)
	if err != nil {
		return probeInfo{}, err
	}
	return parseProbeInfo(result.Value.Str())
}

func attemptInFrame(frame *rod.Page, js, xpath, text string) (selectOutcome, error) {
	result, err := frame.Timeout(frameEvalTimeout).Eval(js, xpath, text)
	if err != nil {
		return selectOutcome{}, err
	}
	return parseSelectOutcome(result.Value.Str())
}

func parseProbeInfo(raw string) (probeInfo, error) {
	var info probeInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return probeInfo{}, fmt.Errorf("failed to parse probe result: %w", err)
	}
	return info, nil
}

func parseSelectOutcome(raw string) (selectOutcome, error) {
	var outcome selectOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return selectOutcome{}, fmt.Errorf("failed to parse selection result: %w", err)
	}
	return outcome, nil
}
