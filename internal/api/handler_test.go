package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/gofiber/fiber/v2"

	"github.com/browserd/browserd/internal/agent"
	"github.com/browserd/browserd/internal/api"
	"github.com/browserd/browserd/internal/browser"
	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/tasks"
	"github.com/browserd/browserd/internal/tools"
	"github.com/browserd/browserd/internal/vault"
)

type stubRunner struct{}

func (r *stubRunner) Run(ctx context.Context) error { return nil }
func (r *stubRunner) History() agent.History {
	return agent.History{Successful: true, FinalResult: "done"}
}
func (r *stubRunner) Close() {}

func setupTestApp(t *testing.T) *fiber.App {
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
		return &stubRunner{}
	})

	v := vault.Open(filepath.Join(t.TempDir(), "credentials.json"))

	dispatcher := tools.NewDispatcher(config.DefaultConfig(), reg, orch, v, nil)

	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
	})
	api.SetupRoutesWithConfig(app, dispatcher, reg, orch, api.RouteConfig{
		IdempotencyTTL: time.Hour,
	})
	return app
}

func callTool(t *testing.T, app *fiber.App, body string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("Failed to parse response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, parsed
}

func TestHealthCheck(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", response["status"])
	}
}

func TestListTools(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest("GET", "/mcp", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if response["count"] != float64(20) {
		t.Errorf("Expected 20 tools, got %v", response["count"])
	}
	toolList, ok := response["tools"].([]interface{})
	if !ok || len(toolList) != 20 {
		t.Errorf("Expected a 20 entry tool list, got %v", response["tools"])
	}
}

func TestCallToolUnknown(t *testing.T) {
	app := setupTestApp(t)

	status, body := callTool(t, app, `{"tool_name":"browser_fly","parameters":{}}`)
	if status != 400 {
		t.Errorf("Expected status 400, got %d", status)
	}
	if body["error_kind"] != "unknown_tool" {
		t.Errorf("Expected unknown_tool, got %v", body["error_kind"])
	}
}

func TestCallToolMissingName(t *testing.T) {
	app := setupTestApp(t)

	status, body := callTool(t, app, `{"parameters":{}}`)
	if status != 400 {
		t.Errorf("Expected status 400, got %d", status)
	}
	if body["error_kind"] != "invalid_parameters" {
		t.Errorf("Expected invalid_parameters, got %v", body["error_kind"])
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	app := setupTestApp(t)

	status, body := callTool(t, app, `{"tool_name":"create_browser_session","parameters":{"session_id":"web"}}`)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d (%v)", status, body)
	}
	if body["session_id"] != "web" {
		t.Errorf("Expected session web, got %v", body["session_id"])
	}

	status, body = callTool(t, app, `{"tool_name":"create_browser_session","parameters":{"session_id":"web"}}`)
	if status != 409 {
		t.Errorf("Expected status 409 for a duplicate, got %d", status)
	}
	if body["error_kind"] != "already_exists" {
		t.Errorf("Expected already_exists, got %v", body["error_kind"])
	}

	status, _ = callTool(t, app, `{"tool_name":"close_browser_session","parameters":{"session_id":"web"}}`)
	if status != 200 {
		t.Errorf("Expected status 200 on close, got %d", status)
	}

	status, body = callTool(t, app, `{"tool_name":"close_browser_session","parameters":{"session_id":"web"}}`)
	if status != 404 {
		t.Errorf("Expected status 404 on double close, got %d", status)
	}
	if body["error_kind"] != "not_found" {
		t.Errorf("Expected not_found, got %v", body["error_kind"])
	}
}

func TestCredentialFlowOverHTTP(t *testing.T) {
	app := setupTestApp(t)

	status, body := callTool(t, app, `{"tool_name":"generate_account_credentials","parameters":{"website":"https://www.shop.example/checkout","email":"buyer@example.com"}}`)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d (%v)", status, body)
	}
	if body["website"] != "shop.example" {
		t.Errorf("Expected normalized website, got %v", body["website"])
	}
	password, _ := body["password"].(string)
	if password == "" {
		t.Fatal("Expected a generated password")
	}

	status, body = callTool(t, app, `{"tool_name":"retrieve_account_credentials","parameters":{"website":"shop.example","email":"buyer@example.com"}}`)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d (%v)", status, body)
	}
	if body["password"] != password {
		t.Error("Expected the stored password back")
	}
}

func TestAgentTaskOverHTTP(t *testing.T) {
	app := setupTestApp(t)

	status, body := callTool(t, app, `{"tool_name":"browse_agent","parameters":{"task":"check the docs page"}}`)
	if status != 200 {
		t.Fatalf("Expected status 200, got %d (%v)", status, body)
	}
	taskID, _ := body["task_id"].(string)
	if taskID == "" {
		t.Fatal("Expected a task id")
	}

	req := httptest.NewRequest("GET", "/tasks/"+taskID, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	var snap map[string]interface{}
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if snap["task_id"] != taskID {
		t.Errorf("Expected task %s in the status body, got %v", taskID, snap["task_id"])
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest("GET", "/tasks/task_missing", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["error_kind"] != "not_found" {
		t.Errorf("Expected not_found, got %v", body["error_kind"])
	}
}

func TestIdempotentToolCall(t *testing.T) {
	app := setupTestApp(t)

	body := `{"tool_name":"generate_account_credentials","parameters":{"website":"replay.example","email":"a@b.com"}}`

	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", "gen-1")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var first map[string]interface{}
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	req = httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", "gen-1")
	resp, err = app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Failed to test request: %v", err)
	}
	if resp.Header.Get("X-Idempotency-Hit") != "true" {
		t.Error("Expected the replay marker header on the second call")
	}
	raw, _ = io.ReadAll(resp.Body)
	var second map[string]interface{}
	if err := json.Unmarshal(raw, &second); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if first["password"] != second["password"] {
		t.Error("Expected the cached response to be replayed, not regenerated")
	}
}
