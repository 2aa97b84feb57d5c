package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"worldsmith/internal/config"
	"worldsmith/internal/daemon"
	"worldsmith/internal/engine"
	"worldsmith/internal/logging"
	"worldsmith/internal/notifications"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := pipeline.Open(cfg)
	if err != nil {
		fatal(logger, "open run store", err)
	}

	catalog, err := registry.Open(cfg)
	if err != nil {
		fatal(logger, "open world catalog", err)
	}

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		fatal(logger, "connect object storage", err)
	}

	gate := engine.NewGate(cfg.Engine.GPUSlots)
	handlers := buildStageHandlers(cfg, store, catalog, logger, objects, gate)
	eng := workflow.NewLocalEngine(cfg, store, logger, notifications.NewService(cfg), handlers)
	svc := buildAPIService(cfg, logger, store, catalog, eng, objects)

	d, err := daemon.New(cfg, logger, store, catalog, eng, svc)
	if err != nil {
		fatal(logger, "create daemon", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		fatal(logger, "start daemon", err)
	}

	<-ctx.Done()
	logger.Info("worldsmithd shutting down")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, logging.Error(err))
	os.Exit(1)
}
