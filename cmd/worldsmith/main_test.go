package main

import (
	"strings"
	"testing"
)

func TestRootHelpListsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, nil, env.configPath)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	for _, name := range []string{"generate", "status", "worlds", "runs", "health", "config"} {
		requireContains(t, out, name)
	}
}

func TestUnknownCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"frobnicate"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestDefinitionPrintsStateMachine(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"definition"}, env.configPath)
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	requireContains(t, out, `"StartAt": "GeneratePanorama"`)
	requireContains(t, out, "DecomposeLayers")
	requireContains(t, out, "ComposeWorld")
	requireContains(t, out, "RegisterWorld")
}
