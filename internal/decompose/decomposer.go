package decompose

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
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

// Decomposer manages the panorama-to-layers workflow.
type Decomposer struct {
	store     *pipeline.Store
	cfg       *config.Config
	logger    *slog.Logger
	client    engine.Client
	objects   storage.Store
	gate      *engine.Gate
	notifier  notifications.Service
	labelsFG1 []string
	labelsFG2 []string
}

// Option adjusts optional decomposition inputs.
type Option func(*Decomposer)

// WithForegroundLabels pins the label sets the engine segments into the two
// foreground layers instead of letting it detect objects itself.
func WithForegroundLabels(fg1, fg2 []string) Option {
	return func(d *Decomposer) {
		d.labelsFG1 = fg1
		d.labelsFG2 = fg2
	}
}

// NewDecomposer constructs the decomposition handler using default dependencies.
func NewDecomposer(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, objects storage.Store, gate *engine.Gate, opts ...Option) *Decomposer {
	// A typed-nil *engine.CLI stored in the interface would defeat the
	// nil-client guard in Execute, so only assign on success.
	var client engine.Client
	if cli, err := engine.NewCLI(cfg.Engine.Binary, engine.OptionsFromConfig(cfg.Engine)); err != nil {
		logger.Warn("worldengine client unavailable", logging.Error(err))
	} else {
		client = cli
	}
	return NewDecomposerWithDependencies(cfg, store, logger, client, objects, gate, notifications.NewService(cfg), opts...)
}

// NewDecomposerWithDependencies allows injecting all collaborators (used in tests).
func NewDecomposerWithDependencies(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, client engine.Client, objects storage.Store, gate *engine.Gate, notifier notifications.Service, opts ...Option) *Decomposer {
	d := &Decomposer{
		store:    store,
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "decompose"),
		client:   client,
		objects:  objects,
		gate:     gate,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger routes stage logs through the provided base logger.
func (d *Decomposer) SetLogger(logger *slog.Logger) {
	d.logger = logging.NewComponentLogger(logger, "decompose")
}

func (d *Decomposer) Prepare(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, d.logger)
	if run.ProgressStage == "" {
		run.ProgressStage = "Decomposing layers"
	}
	run.ProgressMessage = "Waiting for the engine"
	run.ProgressPercent = 0
	run.ErrorMessage = ""
	logger.Info(
		"starting decomposition preparation",
		logging.String(logging.FieldTheme, run.Theme),
		logging.Bool("labels_pinned", len(d.labelsFG1) > 0 || len(d.labelsFG2) > 0),
	)
	return nil
}

func (d *Decomposer) Execute(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, d.logger)
	if d.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"decompose",
			"engine client",
			"Worldengine client unavailable; point engine.binary at the worldengine executable",
			nil,
		)
	}
	if d.objects == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"decompose",
			"object store",
			"Object store unavailable; check the storage section of the configuration",
			nil,
		)
	}

	dirs, err := workspace.StageDirs(d.cfg.Paths.WorkDir, run.ID, "layers")
	if err != nil {
		return services.Wrap(
			services.ErrConfiguration,
			"decompose",
			"stage workspace",
			"Failed to create scratch directories; point paths.work_dir at a writable location",
			err,
		)
	}
	defer func() {
		if err := workspace.CleanRun(d.cfg.Paths.WorkDir, run.ID); err != nil {
			logger.Warn("scratch cleanup failed", logging.Error(err))
		}
	}()

	doc, err := stage.LoadManifest(ctx, d.objects, run.Theme, storage.StagePanorama, manifest.PanoramaName)
	if err != nil {
		return err
	}
	if err := doc.ValidatePanorama(); err != nil {
		return err
	}
	panoramaPath, err := storage.FetchFile(ctx, d.objects, run.Theme, storage.StagePanorama, doc.Panorama, dirs.In)
	if err != nil {
		return services.Wrap(
			services.ErrMissingInput,
			"decompose",
			"fetch panorama",
			fmt.Sprintf("Panorama image missing for theme %s; rerun the panorama stage", run.Theme),
			err,
		)
	}

	classes := strings.TrimSpace(run.Classes)
	if classes == "" {
		classes = doc.Classes
	}
	logger.Info(
		"starting layer decomposition",
		logging.String(logging.FieldTheme, run.Theme),
		logging.String("classes", classes),
		logging.String("panorama_path", panoramaPath),
	)
	if err := d.splitLayers(ctx, run, panoramaPath, dirs.Out, classes); err != nil {
		return err
	}

	// The layer namespace carries its own panorama copy so composition never
	// reaches back into the panorama namespace.
	outPanorama := filepath.Join(dirs.Out, engine.PanoramaFileName)
	if _, err := os.Stat(outPanorama); err != nil {
		if err := stage.CopyFile(panoramaPath, outPanorama); err != nil {
			return services.Wrap(
				services.ErrTransient,
				"decompose",
				"carry panorama",
				"Failed to copy the panorama beside the layer artifacts",
				err,
			)
		}
	}

	layers, err := collectLayers(dirs.Out)
	if err != nil {
		return services.Wrap(services.ErrTransient, "decompose", "scan output", "Failed to scan the engine output directory", err)
	}
	if len(layers) == 0 {
		return services.Wrap(
			services.ErrComputeFailure,
			"decompose",
			"collect output",
			"Engine reported success but produced no layer artifacts; check the engine output directory",
			nil,
		)
	}

	if _, err := storage.UploadDir(ctx, d.objects, run.Theme, storage.StageLayers, dirs.Out, manifest.DecompositionName); err != nil {
		return services.Wrap(
			services.ErrTransient,
			"decompose",
			"stage out",
			"Failed to upload layer artifacts; check object-store connectivity",
			err,
		)
	}

	outDoc := manifest.Manifest{
		Theme:     run.Theme,
		Classes:   classes,
		Seed:      run.Seed,
		LabelsFG1: d.labelsFG1,
		LabelsFG2: d.labelsFG2,
		Panorama:  engine.PanoramaFileName,
		Layers:    layers,
		CreatedAt: time.Now().UTC(),
	}
	if err := outDoc.ValidateDecomposition(); err != nil {
		return err
	}
	manifestPath := filepath.Join(dirs.Out, manifest.DecompositionName)
	if err := outDoc.WriteFile(manifestPath); err != nil {
		return services.Wrap(services.ErrTransient, "decompose", "write manifest", "Failed to write the decomposition manifest", err)
	}
	if _, err := storage.UploadFile(ctx, d.objects, run.Theme, storage.StageLayers, manifest.DecompositionName, manifestPath); err != nil {
		return services.Wrap(
			services.ErrTransient,
			"decompose",
			"publish manifest",
			"Failed to publish the decomposition manifest; check object-store connectivity",
			err,
		)
	}

	run.SetProgressComplete("Layers decomposed", fmt.Sprintf("Split into %d layers", len(layers)))
	logger.Info(
		"decomposition stage completed",
		logging.Int("layer_count", len(layers)),
		logging.String("classes", classes),
	)
	if d.notifier != nil {
		if err := d.notifier.NotifyDecompositionCompleted(ctx, run.Theme, len(layers)); err != nil {
			logger.Warn("decomposition completion notification failed", logging.Error(err))
		}
	}
	return nil
}

// splitLayers holds a GPU slot for exactly the duration of the engine call.
func (d *Decomposer) splitLayers(ctx context.Context, run *pipeline.Run, panoramaPath, outDir, classes string) error {
	if d.gate != nil {
		lease, err := d.gate.Acquire(ctx)
		if err != nil {
			return services.Wrap(
				services.ErrTransient,
				"decompose",
				"acquire gpu slot",
				"Interrupted while waiting for a free GPU slot",
				err,
			)
		}
		defer lease.Release()
	}
	req := engine.DecomposeRequest{
		PanoramaPath: panoramaPath,
		Classes:      classes,
		LabelsFG1:    d.labelsFG1,
		LabelsFG2:    d.labelsFG2,
		OutputDir:    outDir,
	}
	progressCB := func(update engine.ProgressUpdate) {
		stage.ApplyProgress(ctx, d.store, d.logger, run, update)
	}
	if err := d.client.Decompose(ctx, req, progressCB); err != nil {
		return services.Wrap(
			services.ErrComputeFailure,
			"decompose",
			"split layers",
			"Worldengine decomposition failed; check engine logs and GPU availability",
			err,
		)
	}
	return nil
}

// HealthCheck verifies decomposition stage dependencies.
func (d *Decomposer) HealthCheck(ctx context.Context) stage.Health {
	const name = "decompose"
	if d.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Paths.WorkDir) == "" {
		return stage.Unhealthy(name, "work directory not configured")
	}
	if d.objects == nil {
		return stage.Unhealthy(name, "object store unavailable")
	}
	if d.client == nil {
		return stage.Unhealthy(name, "worldengine client unavailable")
	}
	binary := strings.TrimSpace(d.cfg.Engine.Binary)
	if binary == "" {
		return stage.Unhealthy(name, "worldengine binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("worldengine binary %q not found", binary))
	}
	return stage.Healthy(name)
}

// collectLayers lists every engine artifact relative to outDir, excluding the
// carried panorama and the manifest slot.
func collectLayers(outDir string) ([]string, error) {
	var layers []string
	err := filepath.WalkDir(outDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == engine.PanoramaFileName || name == manifest.DecompositionName {
			return nil
		}
		layers = append(layers, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(layers)
	return layers, nil
}
