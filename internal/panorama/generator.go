package panorama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"worldsmith/internal/config"
	"worldsmith/internal/engine"
	"worldsmith/internal/logging"
	"worldsmith/internal/manifest"
	"worldsmith/internal/notifications"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/services"
	"worldsmith/internal/stage"
	"worldsmith/internal/storage"
	"worldsmith/internal/workspace"
)

// Generator manages the text-to-panorama workflow.
type Generator struct {
	store    *pipeline.Store
	cfg      *config.Config
	logger   *slog.Logger
	client   engine.Client
	objects  storage.Store
	gate     *engine.Gate
	notifier notifications.Service
}

// NewGenerator constructs the panorama handler using default dependencies.
func NewGenerator(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, objects storage.Store, gate *engine.Gate) *Generator {
	// A typed-nil *engine.CLI stored in the interface would defeat the
	// nil-client guard in Execute, so only assign on success.
	var client engine.Client
	if cli, err := engine.NewCLI(cfg.Engine.Binary, engine.OptionsFromConfig(cfg.Engine)); err != nil {
		logger.Warn("worldengine client unavailable", logging.Error(err))
	} else {
		client = cli
	}
	return NewGeneratorWithDependencies(cfg, store, logger, client, objects, gate, notifications.NewService(cfg))
}

// NewGeneratorWithDependencies allows injecting all collaborators (used in tests).
func NewGeneratorWithDependencies(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, client engine.Client, objects storage.Store, gate *engine.Gate, notifier notifications.Service) *Generator {
	return &Generator{
		store:    store,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "panorama"),
		client:   client,
		objects:  objects,
		gate:     gate,
		notifier: notifier,
	}
}

// SetLogger routes stage logs through the provided base logger.
func (g *Generator) SetLogger(logger *slog.Logger) {
	g.logger = logging.NewComponentLogger(logger, "panorama")
}

func (g *Generator) Prepare(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, g.logger)
	if run.ProgressStage == "" {
		run.ProgressStage = "Generating panorama"
	}
	run.ProgressMessage = "Waiting for the engine"
	run.ProgressPercent = 0
	run.ErrorMessage = ""
	logger.Info(
		"starting panorama preparation",
		logging.String(logging.FieldTheme, run.Theme),
		logging.String("prompt", strings.TrimSpace(run.Prompt)),
	)
	if g.notifier != nil {
		if err := g.notifier.NotifyRunStarted(ctx, run.Theme, run.Prompt); err != nil {
			logger.Warn("run start notification failed", logging.Error(err))
		}
	}
	return nil
}

func (g *Generator) Execute(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, g.logger)
	if g.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"panorama",
			"engine client",
			"Worldengine client unavailable; point engine.binary at the worldengine executable",
			nil,
		)
	}
	if g.objects == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"panorama",
			"object store",
			"Object store unavailable; check the storage section of the configuration",
			nil,
		)
	}
	prompt := strings.TrimSpace(run.Prompt)
	if prompt == "" {
		return services.Wrap(
			services.ErrMissingInput,
			"panorama",
			"inspect run",
			"Run has no prompt; submit the run with a scene description",
			nil,
		)
	}

	dirs, err := workspace.StageDirs(g.cfg.Paths.WorkDir, run.ID, "pano")
	if err != nil {
		return services.Wrap(
			services.ErrConfiguration,
			"panorama",
			"stage workspace",
			"Failed to create scratch directories; point paths.work_dir at a writable location",
			err,
		)
	}
	defer func() {
		if err := workspace.CleanRun(g.cfg.Paths.WorkDir, run.ID); err != nil {
			logger.Warn("scratch cleanup failed", logging.Error(err))
		}
	}()

	logger.Info(
		"starting panorama render",
		logging.String(logging.FieldTheme, run.Theme),
		logging.Int64("seed", run.Seed),
		logging.String("output_dir", dirs.Out),
	)
	if err := g.renderPanorama(ctx, run, prompt, dirs.Out); err != nil {
		return err
	}

	imagePath := filepath.Join(dirs.Out, engine.PanoramaFileName)
	if _, err := os.Stat(imagePath); err != nil {
		return services.Wrap(
			services.ErrComputeFailure,
			"panorama",
			"collect output",
			"Engine reported success but produced no panorama image; check the engine output directory",
			err,
		)
	}

	uploaded, err := storage.UploadDir(ctx, g.objects, run.Theme, storage.StagePanorama, dirs.Out, manifest.PanoramaName)
	if err != nil {
		return services.Wrap(
			services.ErrTransient,
			"panorama",
			"stage out",
			"Failed to upload panorama artifacts; check object-store connectivity",
			err,
		)
	}
	for _, obj := range uploaded {
		if obj.Name == engine.PanoramaFileName {
			run.PanoramaURI = obj.Locator.String()
		}
	}

	doc := manifest.Manifest{
		Theme:     run.Theme,
		Prompt:    run.Prompt,
		Classes:   run.Classes,
		Seed:      run.Seed,
		Panorama:  engine.PanoramaFileName,
		CreatedAt: time.Now().UTC(),
	}
	if err := doc.ValidatePanorama(); err != nil {
		return err
	}
	manifestPath := filepath.Join(dirs.Out, manifest.PanoramaName)
	if err := doc.WriteFile(manifestPath); err != nil {
		return services.Wrap(services.ErrTransient, "panorama", "write manifest", "Failed to write the panorama manifest", err)
	}
	if _, err := storage.UploadFile(ctx, g.objects, run.Theme, storage.StagePanorama, manifest.PanoramaName, manifestPath); err != nil {
		return services.Wrap(
			services.ErrTransient,
			"panorama",
			"publish manifest",
			"Failed to publish the panorama manifest; check object-store connectivity",
			err,
		)
	}

	run.SetProgressComplete("Panorama generated", fmt.Sprintf("Published %d artifacts", len(uploaded)))
	logger.Info(
		"panorama stage completed",
		logging.String("panorama_uri", run.PanoramaURI),
		logging.Int("artifact_count", len(uploaded)),
	)
	if g.notifier != nil {
		if err := g.notifier.NotifyPanoramaCompleted(ctx, run.Theme); err != nil {
			logger.Warn("panorama completion notification failed", logging.Error(err))
		}
	}
	return nil
}

// renderPanorama holds a GPU slot for exactly the duration of the engine call.
func (g *Generator) renderPanorama(ctx context.Context, run *pipeline.Run, prompt, outDir string) error {
	if g.gate != nil {
		lease, err := g.gate.Acquire(ctx)
		if err != nil {
			return services.Wrap(
				services.ErrTransient,
				"panorama",
				"acquire gpu slot",
				"Interrupted while waiting for a free GPU slot",
				err,
			)
		}
		defer lease.Release()
	}
	req := engine.PanoramaRequest{
		Prompt:    prompt + ", " + engine.QualitySuffix,
		Seed:      run.Seed,
		OutputDir: outDir,
	}
	progressCB := func(update engine.ProgressUpdate) {
		stage.ApplyProgress(ctx, g.store, g.logger, run, update)
	}
	if err := g.client.GeneratePanorama(ctx, req, progressCB); err != nil {
		return services.Wrap(
			services.ErrComputeFailure,
			"panorama",
			"render panorama",
			"Worldengine panorama render failed; check engine logs and GPU availability",
			err,
		)
	}
	return nil
}

// HealthCheck verifies panorama stage dependencies.
func (g *Generator) HealthCheck(ctx context.Context) stage.Health {
	const name = "panorama"
	if g.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(g.cfg.Paths.WorkDir) == "" {
		return stage.Unhealthy(name, "work directory not configured")
	}
	if g.objects == nil {
		return stage.Unhealthy(name, "object store unavailable")
	}
	if g.client == nil {
		return stage.Unhealthy(name, "worldengine client unavailable")
	}
	binary := strings.TrimSpace(g.cfg.Engine.Binary)
	if binary == "" {
		return stage.Unhealthy(name, "worldengine binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("worldengine binary %q not found", binary))
	}
	return stage.Healthy(name)
}
