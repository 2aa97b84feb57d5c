package register

import (
	"context"
	"fmt"

	"log/slog"

	"worldsmith/internal/config"
	"worldsmith/internal/logging"
	"worldsmith/internal/manifest"
	"worldsmith/internal/notifications"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/services"
	"worldsmith/internal/stage"
	"worldsmith/internal/storage"
)

// Registrar manages the world-registration workflow.
type Registrar struct {
	store    *pipeline.Store
	cfg      *config.Config
	logger   *slog.Logger
	objects  storage.Store
	writer   *registry.Writer
	notifier notifications.Service
}

// NewRegistrar constructs the registration handler using default dependencies.
func NewRegistrar(cfg *config.Config, store *pipeline.Store, catalog *registry.Store, logger *slog.Logger, objects storage.Store) *Registrar {
	writer := registry.NewWriter(catalog, logger)
	return NewRegistrarWithDependencies(cfg, store, logger, objects, writer, notifications.NewService(cfg))
}

// NewRegistrarWithDependencies allows injecting all collaborators (used in tests).
func NewRegistrarWithDependencies(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, objects storage.Store, writer *registry.Writer, notifier notifications.Service) *Registrar {
	return &Registrar{
		store:    store,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "register"),
		objects:  objects,
		writer:   writer,
		notifier: notifier,
	}
}

// SetLogger routes stage logs through the provided base logger.
func (r *Registrar) SetLogger(logger *slog.Logger) {
	r.logger = logging.NewComponentLogger(logger, "register")
}

func (r *Registrar) Prepare(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, r.logger)
	if run.ProgressStage == "" {
		run.ProgressStage = "Registering world"
	}
	run.ProgressMessage = "Cataloging world artifacts"
	run.ProgressPercent = 0
	run.ErrorMessage = ""
	logger.Info(
		"starting registration preparation",
		logging.String(logging.FieldTheme, run.Theme),
	)
	return nil
}

func (r *Registrar) Execute(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, r.logger)
	if r.objects == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"register",
			"object store",
			"Object store unavailable; check the storage section of the configuration",
			nil,
		)
	}
	if r.writer == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"register",
			"catalog writer",
			"World catalog unavailable; check the data directory configuration",
			nil,
		)
	}

	doc, err := stage.LoadManifest(ctx, r.objects, run.Theme, storage.StageWorld, manifest.WorldName)
	if err != nil {
		return err
	}
	if err := doc.ValidateWorld(); err != nil {
		return err
	}

	artifacts, err := r.objects.List(ctx, run.Theme, storage.StageWorld)
	if err != nil {
		return services.Wrap(
			services.ErrTransient,
			"register",
			"list world artifacts",
			"Failed to list world artifacts; check object-store connectivity",
			err,
		)
	}

	rec, err := r.writer.Register(ctx, run.Theme, artifacts)
	if err != nil {
		return err
	}

	run.WorldID = rec.ID
	run.SetProgressComplete("World registered", fmt.Sprintf("Catalog entry %s", rec.ID))
	logger.Info(
		"registration stage completed",
		logging.String("world_id", rec.ID),
		logging.Int("mesh_count", len(rec.PLYURIs)),
	)
	if r.notifier != nil {
		if err := r.notifier.NotifyWorldRegistered(ctx, run.Theme, rec.ID); err != nil {
			logger.Warn("world registration notification failed", logging.Error(err))
		}
	}
	return nil
}

// HealthCheck verifies registration stage dependencies.
func (r *Registrar) HealthCheck(ctx context.Context) stage.Health {
	const name = "register"
	if r.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if r.objects == nil {
		return stage.Unhealthy(name, "object store unavailable")
	}
	if r.writer == nil {
		return stage.Unhealthy(name, "catalog writer unavailable")
	}
	return stage.Healthy(name)
}
