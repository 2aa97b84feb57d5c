package main

import (
	"context"
	"log/slog"
	"time"

	"worldsmith/internal/api"
	"worldsmith/internal/compose"
	"worldsmith/internal/config"
	"worldsmith/internal/decompose"
	"worldsmith/internal/engine"
	"worldsmith/internal/panorama"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/register"
	"worldsmith/internal/registry"
	"worldsmith/internal/services/textgen"
	"worldsmith/internal/storage"
	"worldsmith/internal/theme"
	"worldsmith/internal/workflow"
)

// buildObjectStore connects to MinIO and makes sure the artifact bucket
// exists before any stage tries to write into it.
func buildObjectStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
		return nil, err
	}
	return storage.NewMinioStore(client, cfg.Storage.Bucket, cfg.Storage.RootPrefix)
}

func buildStageHandlers(cfg *config.Config, store *pipeline.Store, catalog *registry.Store, logger *slog.Logger, objects storage.Store, gate *engine.Gate) workflow.Handlers {
	return workflow.Handlers{
		Panorama:  panorama.NewGenerator(cfg, store, logger, objects, gate),
		Decompose: decompose.NewDecomposer(cfg, store, logger, objects, gate),
		Compose:   compose.NewComposer(cfg, store, logger, objects, gate),
		Register:  register.NewRegistrar(cfg, store, catalog, logger, objects),
	}
}

func buildAPIService(cfg *config.Config, logger *slog.Logger, store *pipeline.Store, catalog *registry.Store, eng *workflow.LocalEngine, objects storage.Store) *api.Service {
	deriver := theme.NewDeriver(textgen.NewClient(textgen.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}))
	expiry := time.Duration(cfg.Storage.PresignExpirySeconds) * time.Second
	reader := registry.NewReader(catalog, objects, expiry, logger)
	return api.NewService(cfg, logger, store, eng, deriver, reader)
}
