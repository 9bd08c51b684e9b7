// Package tools routes (tool_name, parameters) requests onto the
// browser registry, task orchestrator, and credential vault, and
// translates every failure into the uniform error envelope.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/llm"
	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/vault"
)

const extractSystemPrompt = `You extract information from web pages. Answer the query using only the page content provided. Be concise and factual. If the page does not contain the answer, say so instead of guessing.`

// ToolInfo describes one dispatchable tool for listings. Parameters is
// a field summary in wire order; a trailing ? marks an optional field.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters,omitempty"`
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type toolEntry struct {
	description string
	params      string
	handler     handlerFunc
}

// Dispatcher is the single entry point for tool calls. It owns no
// state beyond the static routing table; every mutation happens in the
// components it routes to.
type Dispatcher struct {
	cfg          *config.Config
	registry     *browser.Registry
	orchestrator *tasks.Orchestrator
	vault        *vault.Vault
	llm          *llm.Client
	table        map[string]toolEntry
}

// NewDispatcher builds the routing table. client may be nil when no
// LLM credentials are configured; agent and extraction tools then fail
// at call time rather than at startup.
func NewDispatcher(cfg *config.Config, registry *browser.Registry, orch *tasks.Orchestrator, v *vault.Vault, client *llm.Client) *Dispatcher {
	d := &Dispatcher{
		cfg:          cfg,
		registry:     registry,
		orchestrator: orch,
		vault:        v,
		llm:          client,
	}
	d.table = map[string]toolEntry{
		"create_browser_session": {"Create a new browser session with optional configuration", "session_id?, headless?, allowed_domains?, wait_between_actions?", d.createSession},
		"list_browser_sessions":  {"List all active browser sessions", "", d.listSessions},
		"close_browser_session":  {"Close a browser session and release its resources", "session_id?", d.closeSession},

		"browser_navigate":        {"Navigate to a URL in the current or a new tab", "url, new_tab?, session_id?", d.navigate},
		"browser_click":           {"Click an element by its index from the last state capture", "index, session_id?", d.click},
		"browser_type":            {"Type text into an element by its index", "index, text, session_id?", d.typeText},
		"browser_key":             {"Press a key such as Enter, Tab, or Escape", "key, session_id?", d.pressKey},
		"browser_scroll":          {"Scroll the page up or down", "direction?, session_id?", d.scroll},
		"browser_get_state":       {"Capture the current page state with interactive elements", "include_screenshot?, session_id?", d.getState},
		"browser_extract_content": {"Extract information from the current page with a query", "query, extract_links?, session_id?", d.extractContent},
		"browser_go_back":         {"Navigate back in the current tab history", "session_id?", d.goBack},
		"browser_list_tabs":       {"List open tabs in a session", "session_id?", d.listTabs},
		"browser_switch_tab":      {"Switch the active tab by index", "tab_index, session_id?", d.switchTab},
		"browser_close_tab":       {"Close a tab by index", "tab_index, session_id?", d.closeTab},
		"select_dropdown_option":  {"Select a dropdown or menu option by its exact visible text", "index, text, session_id?", d.selectOption},

		"browse_agent":          {"Run an autonomous agent task in a session", "task, max_steps?, model?, session_id?", d.browseAgent},
		"retry_browse_agent":    {"Run an agent task in a fresh ad-hoc session", "task, max_steps?, model?, allowed_domains?, use_vision?, session_id?", d.retryAgent},
		"get_agent_task_status": {"Poll the status of a submitted agent task", "task_id", d.taskStatus},

		"generate_account_credentials": {"Generate and store credentials for a website", "website, email, session_id?", d.generateCredentials},
		"retrieve_account_credentials": {"Retrieve previously stored credentials for a website", "website, email, session_id?", d.retrieveCredentials},
	}
	return d
}

// Dispatch routes one tool call. Every returned error is a *Error; raw
// collaborator failures never escape untranslated.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, params json.RawMessage) (any, error) {
	entry, ok := d.table[toolName]
	if !ok {
		return nil, UnknownToolErr(toolName)
	}
	result, err := entry.handler(ctx, params)
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// List enumerates every dispatchable tool. The set is derived from the
// routing table itself so the listing can never drift from Dispatch.
func (d *Dispatcher) List() []ToolInfo {
	list := make([]ToolInfo, 0, len(d.table))
	for name, entry := range d.table {
		list = append(list, ToolInfo{Name: name, Description: entry.description, Parameters: entry.params})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// translate maps component sentinels onto the error taxonomy.
// Anything unrecognized is wrapped as an upstream failure with the
// original message kept for diagnostics.
func translate(err error) error {
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}
	switch {
	case errors.Is(err, browser.ErrSessionNotFound),
		errors.Is(err, browser.ErrElementNotFound),
		errors.Is(err, browser.ErrTabNotFound),
		errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, vault.ErrCredentialNotFound):
		return NotFoundErr("%v", err)
	case errors.Is(err, browser.ErrSessionExists):
		return AlreadyExistsErr("%v", err)
	case errors.Is(err, browser.ErrDomainNotAllowed),
		errors.Is(err, browser.ErrUnsupportedKey):
		return InvalidParams("%v", err)
	default:
		return UpstreamErr(err, "%v", err)
	}
}

// decode unmarshals params into v. strict mode rejects unknown fields.
func decode(tool string, params json.RawMessage, strict bool, v any) error {
	if len(params) == 0 {
		params = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return InvalidParams("invalid parameters for %s: %v", tool, err)
	}
	return nil
}

// session resolves a session id, defaulting to the shared default
// session when the caller names none.
func (d *Dispatcher) session(id string) (*browser.Session, error) {
	if id == "" {
		id = browser.DefaultSessionID
	}
	s, err := d.registry.GetOrCreate(id)
	if err != nil {
		if errors.Is(err, browser.ErrSessionNotFound) {
			return nil, NotFoundErr("session %q not found", id)
		}
		return nil, err
	}
	return s, nil
}

func (d *Dispatcher) createSession(ctx context.Context, params json.RawMessage) (any, error) {
	var p CreateSessionParams
	if err := decode("create_browser_session", params, true, &p); err != nil {
		return nil, err
	}

	profile := d.registry.Defaults()
	if p.Headless != nil {
		profile.Headless = *p.Headless
	}
	if len(p.AllowedDomains) > 0 {
		profile.AllowedDomains = p.AllowedDomains
	}
	if p.WaitBetweenActions != nil {
		if *p.WaitBetweenActions < 0 {
			return nil, InvalidParams("create_browser_session wait_between_actions must not be negative")
		}
		profile.WaitBetweenActions = time.Duration(*p.WaitBetweenActions * float64(time.Second))
	}

	session, err := d.registry.Create(p.SessionID, profile)
	if err != nil {
		if errors.Is(err, browser.ErrSessionExists) {
			return nil, AlreadyExistsErr("session %q already exists", p.SessionID)
		}
		return nil, err
	}
	return map[string]any{
		"session_id": session.ID,
		"message":    fmt.Sprintf("Browser session %s created", session.ID),
	}, nil
}

func (d *Dispatcher) listSessions(ctx context.Context, params json.RawMessage) (any, error) {
	sessions := d.registry.List()
	return map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, nil
}

func (d *Dispatcher) closeSession(ctx context.Context, params json.RawMessage) (any, error) {
	var p SessionOnlyParams
	if err := decode("close_browser_session", params, false, &p); err != nil {
		return nil, err
	}
	id := p.SessionID
	if id == "" {
		id = browser.DefaultSessionID
	}

	// Stop any agent bound to the session before tearing it down.
	d.orchestrator.PurgeSession(id)

	warnings, err := d.registry.Close(id)
	if err != nil {
		return nil, NotFoundErr("session %q not found", id)
	}
	for _, w := range warnings {
		log.Printf("Warning: cleanup issue closing session %s: %v", id, w)
	}

	result := map[string]any{
		"session_id": id,
		"message":    fmt.Sprintf("Browser session %s closed", id),
	}
	if len(warnings) > 0 {
		result["cleanup_warnings"] = len(warnings)
	}
	return result, nil
}

func (d *Dispatcher) navigate(ctx context.Context, params json.RawMessage) (any, error) {
	var p NavigateParams
	if err := decode("browser_navigate", params, false, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, InvalidParams("browser_navigate requires a non-empty url")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	tab, err := s.Navigate(p.URL, p.NewTab)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":       p.URL,
		"tab_index": tab,
		"message":   fmt.Sprintf("Navigated to %s", p.URL),
	}, nil
}

func (d *Dispatcher) click(ctx context.Context, params json.RawMessage) (any, error) {
	var p ClickParams
	if err := decode("browser_click", params, false, &p); err != nil {
		return nil, err
	}
	if p.Index == nil {
		return nil, InvalidParams("browser_click requires index")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.Click(*p.Index); err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Clicked element %d", *p.Index),
	}, nil
}

func (d *Dispatcher) typeText(ctx context.Context, params json.RawMessage) (any, error) {
	var p TypeParams
	if err := decode("browser_type", params, false, &p); err != nil {
		return nil, err
	}
	if p.Index == nil {
		return nil, InvalidParams("browser_type requires index")
	}
	if p.Text == "" {
		return nil, InvalidParams("browser_type requires a non-empty text")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.Type(*p.Index, p.Text); err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Typed %q into element %d", p.Text, *p.Index),
	}, nil
}

func (d *Dispatcher) pressKey(ctx context.Context, params json.RawMessage) (any, error) {
	var p KeyParams
	if err := decode("browser_key", params, false, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, InvalidParams("browser_key requires a non-empty key")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.PressKey(p.Key); err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Pressed key %s", p.Key),
	}, nil
}

func (d *Dispatcher) scroll(ctx context.Context, params json.RawMessage) (any, error) {
	var p ScrollParams
	if err := decode("browser_scroll", params, false, &p); err != nil {
		return nil, err
	}
	direction := p.Direction
	if direction == "" {
		direction = "down"
	}
	if direction != "up" && direction != "down" {
		return nil, InvalidParams("browser_scroll direction must be \"up\" or \"down\"")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	dy, err := s.Scroll(direction)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Scrolled %s", direction),
		"delta_y": dy,
	}, nil
}

func (d *Dispatcher) getState(ctx context.Context, params json.RawMessage) (any, error) {
	var p GetStateParams
	if err := decode("browser_get_state", params, false, &p); err != nil {
		return nil, err
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	return s.CaptureState(p.IncludeScreenshot)
}

func (d *Dispatcher) extractContent(ctx context.Context, params json.RawMessage) (any, error) {
	var p ExtractParams
	if err := decode("browser_extract_content", params, false, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, InvalidParams("browser_extract_content requires a non-empty query")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	content, err := s.PageContent(p.ExtractLinks)
	if err != nil {
		return nil, err
	}
	if d.llm == nil {
		return nil, UpstreamErr(nil, "content extraction requires an LLM API key")
	}

	messages := []any{
		llm.SystemMessage(extractSystemPrompt),
		llm.UserMessage(buildExtractPrompt(p.Query, content)),
	}
	answer, err := d.llm.Complete(ctx, d.cfg.ExtractModel, messages, false)
	if err != nil {
		return nil, UpstreamErr(err, "content extraction failed: %v", err)
	}

	result := map[string]any{
		"url":     content.URL,
		"title":   content.Title,
		"content": answer,
	}
	if p.ExtractLinks {
		result["links"] = content.Links
	}
	name := fmt.Sprintf("extracted_%d.md", time.Now().UnixMilli())
	if path, err := s.SaveArtifact(name, []byte(answer)); err == nil {
		result["saved_to"] = path
	} else {
		log.Printf("Warning: failed to save extraction artifact: %v", err)
	}
	return result, nil
}

func buildExtractPrompt(query string, content *browser.PageContent) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Query: %s\n\n", query)
	fmt.Fprintf(&b, "Page URL: %s\nPage title: %s\n\n", content.URL, content.Title)
	fmt.Fprintf(&b, "Page content:\n%s\n", content.Text)
	if len(content.Links) > 0 {
		b.WriteString("\nLinks on the page:\n")
		for _, l := range content.Links {
			fmt.Fprintf(&b, "- %s (%s)\n", l.Text, l.Href)
		}
	}
	return b.String()
}

func (d *Dispatcher) goBack(ctx context.Context, params json.RawMessage) (any, error) {
	var p SessionOnlyParams
	if err := decode("browser_go_back", params, false, &p); err != nil {
		return nil, err
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.Back(); err != nil {
		return nil, err
	}
	return map[string]any{"message": "Navigated back"}, nil
}

func (d *Dispatcher) listTabs(ctx context.Context, params json.RawMessage) (any, error) {
	var p SessionOnlyParams
	if err := decode("browser_list_tabs", params, false, &p); err != nil {
		return nil, err
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	tabs, err := s.Tabs()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"tabs":  tabs,
		"count": len(tabs),
	}, nil
}

func (d *Dispatcher) switchTab(ctx context.Context, params json.RawMessage) (any, error) {
	var p TabParams
	if err := decode("browser_switch_tab", params, false, &p); err != nil {
		return nil, err
	}
	if p.TabIndex == nil {
		return nil, InvalidParams("browser_switch_tab requires tab_index")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	tab, err := s.SwitchTab(*p.TabIndex)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Switched to tab %d", *p.TabIndex),
		"tab":     tab,
	}, nil
}

func (d *Dispatcher) closeTab(ctx context.Context, params json.RawMessage) (any, error) {
	var p TabParams
	if err := decode("browser_close_tab", params, false, &p); err != nil {
		return nil, err
	}
	if p.TabIndex == nil {
		return nil, InvalidParams("browser_close_tab requires tab_index")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.CloseTab(*p.TabIndex); err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("Closed tab %d", *p.TabIndex),
	}, nil
}

func (d *Dispatcher) selectOption(ctx context.Context, params json.RawMessage) (any, error) {
	var p SelectOptionParams
	if err := decode("select_dropdown_option", params, false, &p); err != nil {
		return nil, err
	}
	if p.Index == nil {
		return nil, InvalidParams("select_dropdown_option requires index")
	}
	if p.Text == "" {
		return nil, InvalidParams("select_dropdown_option requires a non-empty text")
	}
	s, err := d.session(p.SessionID)
	if err != nil {
		return nil, err
	}
	return s.SelectOption(*p.Index, p.Text)
}

func (d *Dispatcher) browseAgent(ctx context.Context, params json.RawMessage) (any, error) {
	var p BrowseAgentParams
	if err := decode("browse_agent", params, false, &p); err != nil {
		return nil, err
	}
	if p.Task == "" {
		return nil, InvalidParams("browse_agent requires a non-empty task")
	}
	spec, err := d.taskSpec("browse_agent", p.Task, p.MaxSteps, p.Model)
	if err != nil {
		return nil, err
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = browser.DefaultSessionID
	}

	taskID, err := d.orchestrator.Submit(sessionID, spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":    taskID,
		"session_id": sessionID,
		"status":     string(tasks.StatusRunning),
		"message":    fmt.Sprintf("Agent task %s started", taskID),
	}, nil
}

func (d *Dispatcher) retryAgent(ctx context.Context, params json.RawMessage) (any, error) {
	var p RetryAgentParams
	if err := decode("retry_browse_agent", params, false, &p); err != nil {
		return nil, err
	}
	if p.Task == "" {
		return nil, InvalidParams("retry_browse_agent requires a non-empty task")
	}
	spec, err := d.taskSpec("retry_browse_agent", p.Task, p.MaxSteps, p.Model)
	if err != nil {
		return nil, err
	}
	spec.UseVision = p.UseVision
	spec.AllowedDomains = p.AllowedDomains

	taskID, err := d.orchestrator.SubmitRetry(spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id": taskID,
		"status":  string(tasks.StatusRunning),
		"message": fmt.Sprintf("Agent task %s started in a fresh session", taskID),
	}, nil
}

// taskSpec applies configured defaults and bounds to agent submissions.
func (d *Dispatcher) taskSpec(tool, goal string, maxSteps int, model string) (tasks.TaskSpec, error) {
	if maxSteps == 0 {
		maxSteps = d.cfg.MaxSteps
	}
	if maxSteps < 1 || maxSteps > 100 {
		return tasks.TaskSpec{}, InvalidParams("%s max_steps must be between 1 and 100", tool)
	}
	if model == "" {
		model = d.cfg.AgentModel
	}
	return tasks.TaskSpec{Goal: goal, MaxSteps: maxSteps, Model: model}, nil
}

func (d *Dispatcher) taskStatus(ctx context.Context, params json.RawMessage) (any, error) {
	var p TaskStatusParams
	if err := decode("get_agent_task_status", params, false, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, InvalidParams("get_agent_task_status requires task_id")
	}
	snap, err := d.orchestrator.GetStatus(p.TaskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			return nil, NotFoundErr("task %q not found", p.TaskID)
		}
		return nil, err
	}
	return snap, nil
}

func (d *Dispatcher) generateCredentials(ctx context.Context, params json.RawMessage) (any, error) {
	var p CredentialParams
	if err := decode("generate_account_credentials", params, false, &p); err != nil {
		return nil, err
	}
	if p.Website == "" {
		return nil, InvalidParams("generate_account_credentials requires a non-empty website")
	}
	if p.Email == "" {
		return nil, InvalidParams("generate_account_credentials requires a non-empty email")
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = browser.DefaultSessionID
	}

	password, err := d.vault.Generate(sessionID, p.Website, p.Email)
	if err != nil {
		return nil, PartialErr("credential stored in memory but not persisted: %v", err)
	}
	return map[string]any{
		"website":  vault.NormalizeWebsite(p.Website),
		"email":    p.Email,
		"password": password,
		"message":  "Credentials generated and stored",
	}, nil
}

func (d *Dispatcher) retrieveCredentials(ctx context.Context, params json.RawMessage) (any, error) {
	var p CredentialParams
	if err := decode("retrieve_account_credentials", params, false, &p); err != nil {
		return nil, err
	}
	if p.Website == "" {
		return nil, InvalidParams("retrieve_account_credentials requires a non-empty website")
	}
	if p.Email == "" {
		return nil, InvalidParams("retrieve_account_credentials requires a non-empty email")
	}
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = browser.DefaultSessionID
	}

	cred, err := d.vault.Retrieve(sessionID, p.Website, p.Email)
	if err != nil {
		if errors.Is(err, vault.ErrCredentialNotFound) {
			return nil, NotFoundErr("no credentials stored for %s under session %s", vault.NormalizeWebsite(p.Website), sessionID)
		}
		return nil, err
	}
	return map[string]any{
		"website":  vault.NormalizeWebsite(p.Website),
		"email":    cred.Email,
		"password": cred.Password,
	}, nil
}
