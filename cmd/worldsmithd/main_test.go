package main

import (
	"context"
	"testing"

	"worldsmith/internal/engine"
	"worldsmith/internal/logging"
	"worldsmith/internal/storage"
	"worldsmith/internal/testsupport"
	"worldsmith/internal/workflow"
)

func TestBuildStageHandlersWiresAllStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	catalog := testsupport.MustOpenRegistry(t, cfg)
	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	gate := engine.NewGate(cfg.Engine.GPUSlots)

	handlers := buildStageHandlers(cfg, store, catalog, logging.NewNop(), objects, gate)

	if handlers.Panorama == nil {
		t.Fatal("panorama handler is nil")
	}
	if handlers.Decompose == nil {
		t.Fatal("decompose handler is nil")
	}
	if handlers.Compose == nil {
		t.Fatal("compose handler is nil")
	}
	if handlers.Register == nil {
		t.Fatal("register handler is nil")
	}
}

func TestBuildAPIServiceStartsResponding(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	catalog := testsupport.MustOpenRegistry(t, cfg)
	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)

	handlers := buildStageHandlers(cfg, store, catalog, logging.NewNop(), objects, engine.NewGate(1))
	eng := workflow.NewLocalEngine(cfg, store, logging.NewNop(), nil, handlers)

	svc := buildAPIService(cfg, logging.NewNop(), store, catalog, eng, objects)
	if svc == nil {
		t.Fatal("api service is nil")
	}

	health, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("expected ok health, got %q", health.Status)
	}
}
