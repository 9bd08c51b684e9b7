package tools_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/browserd/browserd/internal/agent"
	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/tools"
	"github.com/browserd/browserd/internal/vault"
)

// specTools is the full wire-visible tool set.
var specTools = []string{
	"create_browser_session",
	"list_browser_sessions",
	"close_browser_session",
	"browser_navigate",
	"browser_click",
	"browser_type",
	"browser_key",
	"browser_scroll",
	"browser_get_state",
	"browser_extract_content",
	"browser_go_back",
	"browser_list_tabs",
	"browser_switch_tab",
	"browser_close_tab",
	"select_dropdown_option",
	"browse_agent",
	"retry_browse_agent",
	"get_agent_task_status",
	"generate_account_credentials",
	"retrieve_account_credentials",
}

type immediateRunner struct {
	history agent.History
}

func (r *immediateRunner) Run(ctx context.Context) error { return nil }
func (r *immediateRunner) History() agent.History        { return r.history }
func (r *immediateRunner) Close()                        {}

func newTestDispatcher(t *testing.T) *tools.Dispatcher {
	t.Helper()

	reg := browser.NewRegistry("", t.TempDir(), browser.DefaultProfile())
	reg.SetLaunchFunc(func(profile browser.Profile) (*launcher.Launcher, *rod.Browser, *rod.Page, error) {
		return nil, nil, nil, nil
	})

	store := tasks.NewStore(time.Hour)
	t.Cleanup(store.Stop)
	hub := tasks.NewHub()
	t.Cleanup(hub.Close)
	orch := tasks.NewOrchestrator(reg, store, hub, nil)
	orch.SetRunnerFactory(func(s *browser.Session, spec tasks.TaskSpec) tasks.Runner {
		return &immediateRunner{history: agent.History{Successful: true, FinalResult: "done"}}
	})

	v := vault.Open(filepath.Join(t.TempDir(), "credentials.json"))

	return tools.NewDispatcher(config.DefaultConfig(), reg, orch, v, nil)
}

func dispatch(t *testing.T, d *tools.Dispatcher, tool, params string) (any, error) {
	t.Helper()
	return d.Dispatch(context.Background(), tool, json.RawMessage(params))
}

func TestListingMatchesDispatchTable(t *testing.T) {
	d := newTestDispatcher(t)

	listed := make(map[string]bool)
	for _, info := range d.List() {
		listed[info.Name] = true
		if info.Description == "" {
			t.Errorf("Expected a description for tool %s", info.Name)
		}
		if info.Name != "list_browser_sessions" && info.Parameters == "" {
			t.Errorf("Expected a parameter summary for tool %s", info.Name)
		}
	}

	if len(listed) != len(specTools) {
		t.Errorf("Expected %d tools in the listing, got %d", len(specTools), len(listed))
	}
	for _, name := range specTools {
		if !listed[name] {
			t.Errorf("Expected tool %s in the listing", name)
		}
	}

	// Every listed name must be routable, and routing must never
	// answer with an unknown-tool error for a listed name.
	for name := range listed {
		_, err := dispatch(t, d, name, `{}`)
		if err != nil && tools.KindOf(err) == tools.KindUnknownTool {
			t.Errorf("Listed tool %s is not routable", name)
		}
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := dispatch(t, d, "browser_self_destruct", `{}`)
	if err == nil {
		t.Fatal("Expected an error for an unknown tool")
	}
	if tools.KindOf(err) != tools.KindUnknownTool {
		t.Errorf("Expected unknown_tool, got %s", tools.KindOf(err))
	}
}

func TestCreateSessionRejectsUnknownFields(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := dispatch(t, d, "create_browser_session", `{"session_id":"strict","bogus":true}`)
	if err == nil {
		t.Fatal("Expected unknown fields to be rejected")
	}
	if tools.KindOf(err) != tools.KindInvalidParameters {
		t.Errorf("Expected invalid_parameters, got %s", tools.KindOf(err))
	}
}

func TestCreateDuplicateSession(t *testing.T) {
	d := newTestDispatcher(t)

	if _, err := dispatch(t, d, "create_browser_session", `{"session_id":"dup"}`); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	_, err := dispatch(t, d, "create_browser_session", `{"session_id":"dup"}`)
	if err == nil {
		t.Fatal("Expected the duplicate create to fail")
	}
	if tools.KindOf(err) != tools.KindAlreadyExists {
		t.Errorf("Expected already_exists, got %s", tools.KindOf(err))
	}
}

func TestCloseUnknownSession(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := dispatch(t, d, "close_browser_session", `{"session_id":"ghost"}`)
	if err == nil {
		t.Fatal("Expected closing an unknown session to fail")
	}
	if tools.KindOf(err) != tools.KindNotFound {
		t.Errorf("Expected not_found, got %s", tools.KindOf(err))
	}
}

func TestPageToolOnUnknownSession(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := dispatch(t, d, "browser_navigate", `{"url":"https://example.com","session_id":"ghost"}`)
	if err == nil {
		t.Fatal("Expected navigation in an unknown session to fail")
	}
	if tools.KindOf(err) != tools.KindNotFound {
		t.Errorf("Expected not_found, got %s", tools.KindOf(err))
	}
}

func TestRequiredFieldValidation(t *testing.T) {
	d := newTestDispatcher(t)

	cases := []struct {
		tool   string
		params string
	}{
		{"browser_navigate", `{}`},
		{"browser_click", `{}`},
		{"browser_type", `{"index":0}`},
		{"browser_type", `{"text":"hello"}`},
		{"browser_key", `{}`},
		{"browser_scroll", `{"direction":"sideways"}`},
		{"browser_extract_content", `{}`},
		{"browser_switch_tab", `{}`},
		{"browser_close_tab", `{}`},
		{"select_dropdown_option", `{"index":1}`},
		{"browse_agent", `{}`},
		{"browse_agent", `{"task":"go","max_steps":500}`},
		{"retry_browse_agent", `{}`},
		{"get_agent_task_status", `{}`},
		{"generate_account_credentials", `{"email":"a@b.com"}`},
		{"generate_account_credentials", `{"website":"foo.com"}`},
		{"retrieve_account_credentials", `{}`},
	}

	for _, tc := range cases {
		_, err := dispatch(t, d, tc.tool, tc.params)
		if err == nil {
			t.Errorf("Expected %s with params %s to fail validation", tc.tool, tc.params)
			continue
		}
		if tools.KindOf(err) != tools.KindInvalidParameters {
			t.Errorf("Expected invalid_parameters for %s with %s, got %s", tc.tool, tc.params, tools.KindOf(err))
		}
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)

	res, err := dispatch(t, d, "generate_account_credentials", `{"website":"https://www.foo.com/signup","email":"a@b.com"}`)
	if err != nil {
		t.Fatalf("Failed to generate credentials: %v", err)
	}
	generated, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("Expected a map result, got %T", res)
	}
	if generated["website"] != "foo.com" {
		t.Errorf("Expected the normalized website, got %v", generated["website"])
	}
	password, _ := generated["password"].(string)
	if len(password) != vault.PasswordLength {
		t.Errorf("Expected a %d character password, got %q", vault.PasswordLength, password)
	}

	res, err = dispatch(t, d, "retrieve_account_credentials", `{"website":"foo.com","email":"a@b.com"}`)
	if err != nil {
		t.Fatalf("Failed to retrieve credentials: %v", err)
	}
	retrieved, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("Expected a map result, got %T", res)
	}
	if retrieved["password"] != password {
		t.Error("Expected the retrieve to return the generated password")
	}

	_, err = dispatch(t, d, "retrieve_account_credentials", `{"website":"never-stored.com","email":"a@b.com"}`)
	if err == nil {
		t.Fatal("Expected retrieval of unstored credentials to fail")
	}
	if tools.KindOf(err) != tools.KindNotFound {
		t.Errorf("Expected not_found, got %s", tools.KindOf(err))
	}
}

func TestBrowseAgentRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)

	res, err := dispatch(t, d, "browse_agent", `{"task":"find the pricing page"}`)
	if err != nil {
		t.Fatalf("Failed to submit agent task: %v", err)
	}
	submitted, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("Expected a map result, got %T", res)
	}
	taskID, _ := submitted["task_id"].(string)
	if taskID == "" {
		t.Fatal("Expected a task id in the submission result")
	}
	if submitted["status"] != "running" {
		t.Errorf("Expected status running at submit time, got %v", submitted["status"])
	}

	params, _ := json.Marshal(map[string]string{"task_id": taskID})
	res, err = d.Dispatch(context.Background(), "get_agent_task_status", params)
	if err != nil {
		t.Fatalf("Failed to get task status: %v", err)
	}
	if _, ok := res.(tasks.StatusSnapshot); !ok {
		t.Fatalf("Expected a status snapshot, got %T", res)
	}
}

func TestTaskStatusUnknown(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := dispatch(t, d, "get_agent_task_status", `{"task_id":"task_missing"}`)
	if err == nil {
		t.Fatal("Expected an unknown task id to fail")
	}
	if tools.KindOf(err) != tools.KindNotFound {
		t.Errorf("Expected not_found, got %s", tools.KindOf(err))
	}
}

func TestExtractContentWithoutLLM(t *testing.T) {
	d := newTestDispatcher(t)

	// The stub session has no pages, so reaching the LLM guard needs
	// nothing from the browser; the call fails upstream either way.
	_, err := dispatch(t, d, "browser_extract_content", `{"query":"what is on this page"}`)
	if err == nil {
		t.Fatal("Expected extraction to fail without a browser page or LLM")
	}
	if tools.KindOf(err) != tools.KindUpstreamFailure {
		t.Errorf("Expected upstream_failure, got %s", tools.KindOf(err))
	}
}
