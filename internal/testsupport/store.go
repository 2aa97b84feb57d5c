package testsupport

import (
	"context"
	"testing"
	"time"

	"worldsmith/internal/config"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/theme"
)

// MustOpenRunStore opens a pipeline.Store for tests and registers cleanup.
func MustOpenRunStore(t testing.TB, cfg *config.Config) *pipeline.Store {
	t.Helper()

	store, err := pipeline.Open(cfg)
	if err != nil {
		t.Fatalf("pipeline.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenRegistry opens a registry.Store for tests and registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedRun creates a pending run for tests using the provided store.
func SeedRun(t testing.TB, store *pipeline.Store, themeName, prompt string) *pipeline.Run {
	t.Helper()

	run, err := store.NewRun(context.Background(), &pipeline.Run{
		ID:        theme.NewRunID(themeName, time.Now()),
		Theme:     themeName,
		Prompt:    prompt,
		RawPrompt: prompt,
		Classes:   "outdoor",
		Seed:      42,
	})
	if err != nil {
		t.Fatalf("store.NewRun: %v", err)
	}
	return run
}
