package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"worldsmith/internal/api"
	"worldsmith/internal/config"
	"worldsmith/internal/logging"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/services"
	"worldsmith/internal/testsupport"
	"worldsmith/internal/theme"
	"worldsmith/internal/workflow"
)

type idleStage struct{}

func (idleStage) Prepare(context.Context, *pipeline.Run) error { return nil }
func (idleStage) Execute(context.Context, *pipeline.Run) error { return nil }

func newTestDaemon(t *testing.T, cfg *config.Config, store *pipeline.Store) *Daemon {
	t.Helper()

	handlers := workflow.Handlers{
		Panorama:  idleStage{},
		Decompose: idleStage{},
		Compose:   idleStage{},
		Register:  idleStage{},
	}
	eng := workflow.NewLocalEngine(cfg, store, logging.NewNop(), nil, handlers)
	svc := api.NewService(cfg, logging.NewNop(), store, eng, theme.NewDeriver(nil), nil)

	d, err := New(cfg, logging.NewNop(), store, nil, eng, svc)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return d
}

func TestDaemonServesGenerationOverHTTP(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.PollIntervalSeconds = 1
	store := testsupport.MustOpenRunStore(t, cfg)
	d := newTestDaemon(t, cfg, store)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(d.Stop)

	if !d.Running() {
		t.Fatal("daemon not running after start")
	}
	addr := d.APIAddr()
	if addr == "" {
		t.Fatal("expected a bound API address")
	}
	base := "http://" + addr

	resp, err := http.Post(base+"/generate", "application/json",
		jsonBody(t, api.GenerateRequest{Prompt: "floating islands above a storm"}))
	if err != nil {
		t.Fatalf("generate request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate returned %d", resp.StatusCode)
	}
	var ack api.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode generate response: %v", err)
	}
	if ack.ExecutionID == "" {
		t.Fatal("expected an execution id")
	}

	status := waitForExecutionStatus(t, base, ack.ExecutionID, "succeeded", 10*time.Second)
	if status.Output["theme"] != ack.Theme {
		t.Fatalf("status output = %v, want theme %q", status.Output, ack.Theme)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("daemon still running after stop")
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)

	first := newTestDaemon(t, cfg, store)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first daemon: %v", err)
	}
	t.Cleanup(first.Stop)

	cfgSecond := *cfg
	cfgSecond.Paths.APIBind = ""
	second := newTestDaemon(t, &cfgSecond, store)

	err := second.Start(context.Background())
	if err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("second start error = %v", err)
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("start after lock release: %v", err)
	}
	second.Stop()
}

func TestDaemonStartIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	store := testsupport.MustOpenRunStore(t, cfg)
	d := newTestDaemon(t, cfg, store)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(d.Stop)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("second start on a running daemon: %v", err)
	}
}

func TestDaemonNewValidatesDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	eng := workflow.NewLocalEngine(cfg, store, logging.NewNop(), nil, workflow.Handlers{})

	if _, err := New(nil, nil, store, nil, eng, nil); err == nil {
		t.Fatal("expected error for missing config")
	}
	if _, err := New(cfg, nil, nil, nil, eng, nil); err == nil {
		t.Fatal("expected error for missing run store")
	}
	if _, err := New(cfg, nil, store, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing engine")
	}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return bytes.NewReader(data)
}

// waitForExecutionStatus polls the status endpoint until the execution
// reaches the wanted state or the deadline expires.
func waitForExecutionStatus(t *testing.T, base, id, want string, timeout time.Duration) api.StatusResponse {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var last api.StatusResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/status/" + id)
		if err != nil {
			t.Fatalf("status request: %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&last)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode status response: %v", err)
		}
		if last.Status == want {
			return last
		}
		if last.Status == "failed" {
			t.Fatalf("execution failed: %s", last.Error)
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("execution %s stuck in %q, want %q", id, last.Status, want)
	return last
}

func TestDaemonSweepReclaimsStaleWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.StaleWorkMaxAgeHours = 1
	store := testsupport.MustOpenRunStore(t, cfg)

	run := testsupport.SeedRun(t, store, "sunken-city", "a sunken city")
	run.Status = pipeline.StatusDecomposing
	stale := time.Now().Add(-3 * time.Hour).UTC()
	run.LastHeartbeat = &stale
	if err := store.Update(context.Background(), run); err != nil {
		t.Fatalf("mark run stale: %v", err)
	}

	staleDir := filepath.Join(cfg.Paths.WorkDir, "sunken-city-1")
	if err := os.MkdirAll(staleDir, 0o755); err != nil {
		t.Fatalf("create stale dir: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(staleDir, old, old); err != nil {
		t.Fatalf("age stale dir: %v", err)
	}

	d := newTestDaemon(t, cfg, store)
	d.sweepOnce(context.Background(), time.Hour)

	got, err := store.GetByID(context.Background(), run.ID)
	if err != nil || got == nil {
		t.Fatalf("load run: %v", err)
	}
	if got.Status != pipeline.StatusPending {
		t.Fatalf("status = %q, want pending after reclaim", got.Status)
	}
	if got.LastHeartbeat != nil {
		t.Fatal("heartbeat not cleared by reclaim")
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Fatalf("stale dir still present: %v", err)
	}
}
