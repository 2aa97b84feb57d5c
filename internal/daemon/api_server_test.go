package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"worldsmith/internal/api"
	"worldsmith/internal/logging"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/services"
	"worldsmith/internal/storage"
	"worldsmith/internal/testsupport"
	"worldsmith/internal/theme"
	"worldsmith/internal/workflow"
)

type stubEngine struct {
	mu        sync.Mutex
	submitted []workflow.Input
	submitErr error
	exec      workflow.Execution
	descErr   error
}

func (e *stubEngine) Submit(_ context.Context, input workflow.Input) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.submitErr != nil {
		return "", e.submitErr
	}
	e.submitted = append(e.submitted, input)
	return input.RunID, nil
}

func (e *stubEngine) Describe(_ context.Context, _ string) (workflow.Execution, error) {
	if e.descErr != nil {
		return workflow.Execution{}, e.descErr
	}
	return e.exec, nil
}

func (e *stubEngine) submissions() []workflow.Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]workflow.Input(nil), e.submitted...)
}

func newTestAPIServer(t *testing.T, engine workflow.Engine) (*apiServer, *pipeline.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	svc := api.NewService(cfg, logging.NewNop(), store, engine, theme.NewDeriver(nil), nil)
	srv := newAPIServer(cfg, svc, logging.NewNop())
	if srv == nil {
		t.Fatal("expected an API server for a configured bind address")
	}
	return srv, store
}

func TestHandleGenerateAcceptsPrompt(t *testing.T) {
	eng := &stubEngine{}
	srv, _ := newTestAPIServer(t, eng)

	body := strings.NewReader(`{"prompt":"  a misty harbor at dawn  ","seed":7}`)
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	rr := httptest.NewRecorder()
	srv.handleGenerate(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("generate returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp api.GenerateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExecutionID == "" {
		t.Fatal("expected an execution id")
	}
	if resp.Status != string(pipeline.StatusPending) {
		t.Fatalf("status = %q, want %q", resp.Status, pipeline.StatusPending)
	}
	if resp.Theme == "" {
		t.Fatal("expected a derived theme")
	}

	subs := eng.submissions()
	if len(subs) != 1 {
		t.Fatalf("engine received %d submissions, want 1", len(subs))
	}
	if subs[0].RawPrompt != "a misty harbor at dawn" {
		t.Fatalf("raw prompt = %q", subs[0].RawPrompt)
	}
	if subs[0].Seed != 7 {
		t.Fatalf("seed = %d, want 7", subs[0].Seed)
	}
}

func TestHandleGenerateRejectsBadJSON(t *testing.T) {
	srv, _ := newTestAPIServer(t, &stubEngine{})

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	srv.handleGenerate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad JSON returned %d", rr.Code)
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if resp.Error != "invalid request body" {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestHandleGenerateRejectsEmptyPrompt(t *testing.T) {
	eng := &stubEngine{}
	srv, _ := newTestAPIServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"   "}`))
	rr := httptest.NewRecorder()
	srv.handleGenerate(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt returned %d: %s", rr.Code, rr.Body.String())
	}
	if len(eng.submissions()) != 0 {
		t.Fatal("empty prompt must not reach the engine")
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if !strings.Contains(resp.Error, "prompt") {
		t.Fatalf("error %q does not mention the prompt", resp.Error)
	}
}

func TestHandleStatusReportsExecution(t *testing.T) {
	eng := &stubEngine{
		exec: workflow.Execution{
			Handle: "misty-harbor-1",
			Status: workflow.ExecutionSucceeded,
			Output: map[string]string{"worldId": "w1", "theme": "misty-harbor"},
		},
	}
	srv, _ := newTestAPIServer(t, eng)

	req := httptest.NewRequest(http.MethodGet, "/status/misty-harbor-1", nil)
	rr := httptest.NewRecorder()
	srv.handleStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp api.StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExecutionID != "misty-harbor-1" {
		t.Fatalf("execution id = %q", resp.ExecutionID)
	}
	if resp.Status != "succeeded" {
		t.Fatalf("status = %q, want succeeded", resp.Status)
	}
	if resp.Output["worldId"] != "w1" {
		t.Fatalf("output = %v", resp.Output)
	}
}

func TestHandleStatusUnknownExecution(t *testing.T) {
	eng := &stubEngine{
		descErr: services.Wrap(services.ErrNotFound, "workflow", "describe",
			"No execution found for handle ghost-1", nil),
	}
	srv, _ := newTestAPIServer(t, eng)

	req := httptest.NewRequest(http.MethodGet, "/status/ghost-1", nil)
	rr := httptest.NewRecorder()
	srv.handleStatus(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown execution returned %d", rr.Code)
	}
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if !strings.Contains(resp.Error, "ghost-1") {
		t.Fatalf("error %q does not name the handle", resp.Error)
	}
}

func TestHandleStatusRejectsMalformedPath(t *testing.T) {
	srv, _ := newTestAPIServer(t, &stubEngine{})

	for _, target := range []string{"/status/", "/status/a/b"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		srv.handleStatus(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s returned %d, want 404", target, rr.Code)
		}
	}
}

func TestHandleWorldsListsEmptyCatalog(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	catalog := testsupport.MustOpenRegistry(t, cfg)
	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	reader := registry.NewReader(catalog, objects, time.Minute, logging.NewNop())

	svc := api.NewService(cfg, logging.NewNop(), store, &stubEngine{}, theme.NewDeriver(nil), reader)
	srv := newAPIServer(cfg, svc, logging.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/worlds", nil)
	rr := httptest.NewRecorder()
	srv.handleWorlds(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("worlds returned %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"worlds":[]`) {
		t.Fatalf("empty catalog body = %s", rr.Body.String())
	}
}

func TestHandleWorldsUnavailableWithoutCatalog(t *testing.T) {
	srv, _ := newTestAPIServer(t, &stubEngine{})

	req := httptest.NewRequest(http.MethodGet, "/worlds", nil)
	rr := httptest.NewRecorder()
	srv.handleWorlds(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("missing catalog returned %d, want 503", rr.Code)
	}
}

func TestHandleHealthzReportsRunCounts(t *testing.T) {
	srv, store := newTestAPIServer(t, &stubEngine{})
	testsupport.SeedRun(t, store, "kelp-forest", "a kelp forest")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.handleHealthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("healthz returned %d: %s", rr.Code, rr.Body.String())
	}
	var resp api.HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Runs["total"] != 1 || resp.Runs["pending"] != 1 {
		t.Fatalf("run counts = %v", resp.Runs)
	}
}

func TestHandlersEnforceMethods(t *testing.T) {
	srv, _ := newTestAPIServer(t, &stubEngine{})

	cases := []struct {
		name   string
		method string
		target string
		handle func(http.ResponseWriter, *http.Request)
	}{
		{"generate", http.MethodGet, "/generate", srv.handleGenerate},
		{"status", http.MethodPost, "/status/run-1", srv.handleStatus},
		{"worlds", http.MethodPost, "/worlds", srv.handleWorlds},
		{"healthz", http.MethodDelete, "/healthz", srv.handleHealthz},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rr := httptest.NewRecorder()
		tc.handle(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s returned %d, want 405", tc.method, tc.name, rr.Code)
		}
	}
}
