package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func extractExecutionID(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Accepted "); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no execution id in output:\n%s", out)
	return ""
}

func waitForSucceeded(t *testing.T, configPath, id string) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		out, _, err := runCLI(t, []string{"status", id}, configPath)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if strings.Contains(out, "Status:    succeeded") {
			return out
		}
		if strings.Contains(out, "Status:    failed") {
			t.Fatalf("execution failed:\n%s", out)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("execution %s did not succeed in time", id)
	return ""
}

func TestGenerateSubmitsRun(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	out, _, err := runCLI(t, []string{"generate", "a misty harbor at dawn"}, env.configPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	requireContains(t, out, "Accepted ")
	requireContains(t, out, "Theme:")
	requireContains(t, out, "misty")
	requireContains(t, out, "Follow progress with `worldsmith status")
}

func TestGenerateWaitFollowsRun(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	out, _, err := runCLI(t, []string{"generate", "--wait", "--timeout", "30s", "floating islands above a storm"}, env.configPath)
	if err != nil {
		t.Fatalf("generate --wait: %v", err)
	}
	requireContains(t, out, "Accepted ")
	requireContains(t, out, "Generation complete")
}

func TestGenerateRequiresPrompt(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"generate"}, env.configPath)
	if err == nil {
		t.Fatal("expected argument error")
	}
}

func TestGenerateReportsUnreachableDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"generate", "a kelp forest"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "worldsmithd") {
		t.Fatalf("expected unreachable daemon error, got %v", err)
	}
}

func TestStatusShowsExecution(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	out, _, err := runCLI(t, []string{"generate", "a sunken city lit by anglerfish"}, env.configPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id := extractExecutionID(t, out)

	final := waitForSucceeded(t, env.configPath, id)
	requireContains(t, final, "Execution: "+id)
	requireContains(t, final, "theme: ")
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	out, _, err := runCLI(t, []string{"generate", "mirrored salt flats"}, env.configPath)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id := extractExecutionID(t, out)
	waitForSucceeded(t, env.configPath, id)

	out, _, err = runCLI(t, []string{"status", id, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var status map[string]any
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("invalid JSON: %v\noutput: %s", err, out)
	}
	if status["executionId"] != id {
		t.Fatalf("expected executionId %s, got %v", id, status["executionId"])
	}
	if status["status"] != "succeeded" {
		t.Fatalf("expected succeeded, got %v", status["status"])
	}
}

func TestStatusUnknownExecution(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	_, _, err := runCLI(t, []string{"status", "ghost-1"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "ghost-1") {
		t.Fatalf("expected unknown execution error, got %v", err)
	}
}
