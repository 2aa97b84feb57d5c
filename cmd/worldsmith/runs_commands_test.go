package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"worldsmith/internal/pipeline"
	"worldsmith/internal/testsupport"
)

func TestRunsListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	alpha := testsupport.SeedRun(t, env.store, "misty-harbor", "a misty harbor at dawn")

	beta := testsupport.SeedRun(t, env.store, "sunken-city", "a sunken city lit by anglerfish")
	beta.Status = pipeline.StatusFailed
	beta.ErrorMessage = "mesh export failed"
	if err := env.store.Update(ctx, beta); err != nil {
		t.Fatalf("update beta: %v", err)
	}

	out, _, err := runCLI(t, []string{"runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, alpha.ID)
	requireContains(t, out, beta.ID)
	requireContains(t, out, string(pipeline.StatusPending))
	requireContains(t, out, string(pipeline.StatusFailed))

	out, _, err = runCLI(t, []string{"runs", "list", "--status", "failed"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list --status failed: %v", err)
	}
	requireContains(t, out, beta.ID)
	if strings.Contains(out, alpha.ID) {
		t.Fatalf("pending run leaked into failed listing:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"runs", "show", beta.ID}, env.configPath)
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	requireContains(t, out, beta.ID)
	requireContains(t, out, "sunken-city")
	requireContains(t, out, "mesh export failed")
}

func TestRunsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"runs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	requireContains(t, out, "No runs recorded.")
}

func TestRunsListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"runs", "list", "--status", "melting"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), `unknown status "melting"`) {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestRunsShowJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	run := testsupport.SeedRun(t, env.store, "kelp-forest", "a kelp forest at noon")

	out, _, err := runCLI(t, []string{"runs", "show", run.ID, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("runs show --json: %v", err)
	}

	var detail map[string]any
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if detail["id"] != run.ID {
		t.Fatalf("expected id %s, got %v", run.ID, detail["id"])
	}
	if detail["theme"] != "kelp-forest" {
		t.Fatalf("expected theme kelp-forest, got %v", detail["theme"])
	}
	if detail["status"] != string(pipeline.StatusPending) {
		t.Fatalf("expected pending status, got %v", detail["status"])
	}
}

func TestRunsShowNotFound(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"runs", "show", "ghost-1"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "run ghost-1 not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRunsRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	run := testsupport.SeedRun(t, env.store, "glass-desert", "a desert of glass dunes")
	run.Status = pipeline.StatusFailed
	run.ErrorMessage = "panorama timed out"
	if err := env.store.Update(ctx, run); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	out, _, err := runCLI(t, []string{"runs", "retry", run.ID}, env.configPath)
	if err != nil {
		t.Fatalf("runs retry: %v", err)
	}
	requireContains(t, out, "Requeued 1 run(s)")

	updated, err := env.store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("lookup run: %v", err)
	}
	if updated.Status != pipeline.StatusPending {
		t.Fatalf("expected pending after retry, got %s", updated.Status)
	}
	if updated.ErrorMessage != "" {
		t.Fatalf("expected cleared error, got %q", updated.ErrorMessage)
	}
}

func TestRunsRetrySkipsNonFailed(t *testing.T) {
	env := setupCLITestEnv(t)

	run := testsupport.SeedRun(t, env.store, "cloud-citadel", "a citadel above the clouds")

	out, _, err := runCLI(t, []string{"runs", "retry", run.ID}, env.configPath)
	if err != nil {
		t.Fatalf("runs retry: %v", err)
	}
	requireContains(t, out, "Requeued 0 run(s)")
	requireContains(t, out, "Runs not in the failed state were left untouched.")
}

func TestRunsClear(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	done := testsupport.SeedRun(t, env.store, "tide-pools", "tide pools under a red sky")
	done.Status = pipeline.StatusCompleted
	if err := env.store.Update(ctx, done); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	testsupport.SeedRun(t, env.store, "mangrove-maze", "a mangrove maze")

	out, _, err := runCLI(t, []string{"runs", "clear", "--completed"}, env.configPath)
	if err != nil {
		t.Fatalf("runs clear --completed: %v", err)
	}
	requireContains(t, out, "Removed 1 completed run(s)")

	out, _, err = runCLI(t, []string{"runs", "clear", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("runs clear --all: %v", err)
	}
	requireContains(t, out, "Removed 1 run(s)")
}

func TestRunsClearRequiresExactlyOneFlag(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"runs", "clear"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "exactly one of") {
		t.Fatalf("expected flag selection error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"runs", "clear", "--failed", "--all"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "exactly one of") {
		t.Fatalf("expected flag selection error, got %v", err)
	}
}

func TestRunsReset(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	run := testsupport.SeedRun(t, env.store, "salt-flats", "mirrored salt flats")
	run.Status = pipeline.StatusDecomposing
	if err := env.store.Update(ctx, run); err != nil {
		t.Fatalf("mark decomposing: %v", err)
	}

	out, _, err := runCLI(t, []string{"runs", "reset"}, env.configPath)
	if err != nil {
		t.Fatalf("runs reset: %v", err)
	}
	requireContains(t, out, "Returned 1 run(s) to pending")

	updated, err := env.store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("lookup run: %v", err)
	}
	if updated.Status != pipeline.StatusPending {
		t.Fatalf("expected pending after reset, got %s", updated.Status)
	}
}
