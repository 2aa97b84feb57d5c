package compose

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
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/services"
	"worldsmith/internal/stage"
	"worldsmith/internal/storage"
	"worldsmith/internal/workspace"
)

// Composer manages the layers-to-world workflow.
type Composer struct {
	store   *pipeline.Store
	cfg     *config.Config
	logger  *slog.Logger
	client  engine.Client
	objects storage.Store
	gate    *engine.Gate
}

// NewComposer constructs the composition handler using default dependencies.
func NewComposer(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, objects storage.Store, gate *engine.Gate) *Composer {
	// A typed-nil *engine.CLI stored in the interface would defeat the
	// nil-client guard in Execute, so only assign on success.
	var client engine.Client
	if cli, err := engine.NewCLI(cfg.Engine.Binary, engine.OptionsFromConfig(cfg.Engine)); err != nil {
		logger.Warn("worldengine client unavailable", logging.Error(err))
	} else {
		client = cli
	}
	return NewComposerWithDependencies(cfg, store, logger, client, objects, gate)
}

// NewComposerWithDependencies allows injecting all collaborators (used in tests).
func NewComposerWithDependencies(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, client engine.Client, objects storage.Store, gate *engine.Gate) *Composer {
	return &Composer{
		store:   store,
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "compose"),
		client:  client,
		objects: objects,
		gate:    gate,
	}
}

// SetLogger routes stage logs through the provided base logger.
func (c *Composer) SetLogger(logger *slog.Logger) {
	c.logger = logging.NewComponentLogger(logger, "compose")
}

func (c *Composer) Prepare(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, c.logger)
	if run.ProgressStage == "" {
		run.ProgressStage = "Composing world"
	}
	run.ProgressMessage = "Waiting for the engine"
	run.ProgressPercent = 0
	run.ErrorMessage = ""
	logger.Info(
		"starting composition preparation",
		logging.String(logging.FieldTheme, run.Theme),
		logging.Int64("seed", run.Seed),
	)
	return nil
}

func (c *Composer) Execute(ctx context.Context, run *pipeline.Run) error {
	logger := logging.WithContext(ctx, c.logger)
	if c.client == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"compose",
			"engine client",
			"Worldengine client unavailable; point engine.binary at the worldengine executable",
			nil,
		)
	}
	if c.objects == nil {
		return services.Wrap(
			services.ErrConfiguration,
			"compose",
			"object store",
			"Object store unavailable; check the storage section of the configuration",
			nil,
		)
	}

	dirs, err := workspace.StageDirs(c.cfg.Paths.WorkDir, run.ID, "world")
	if err != nil {
		return services.Wrap(
			services.ErrConfiguration,
			"compose",
			"stage workspace",
			"Failed to create scratch directories; point paths.work_dir at a writable location",
			err,
		)
	}
	defer func() {
		if err := workspace.CleanRun(c.cfg.Paths.WorkDir, run.ID); err != nil {
			logger.Warn("scratch cleanup failed", logging.Error(err))
		}
	}()

	doc, err := stage.LoadManifest(ctx, c.objects, run.Theme, storage.StageLayers, manifest.DecompositionName)
	if err != nil {
		return err
	}
	if err := doc.ValidateDecomposition(); err != nil {
		return err
	}

	staged, err := storage.FetchStage(ctx, c.objects, run.Theme, storage.StageLayers, dirs.In)
	if err != nil {
		return services.Wrap(
			services.ErrTransient,
			"compose",
			"stage in",
			"Failed to download layer artifacts; check object-store connectivity",
			err,
		)
	}
	if staged == 0 {
		return services.Wrap(
			services.ErrMissingInput,
			"compose",
			"stage in",
			fmt.Sprintf("No layer artifacts for theme %s; rerun the decomposition stage", run.Theme),
			nil,
		)
	}

	logger.Info(
		"starting world composition",
		logging.String(logging.FieldTheme, run.Theme),
		logging.Int("staged_artifacts", staged),
		logging.Int64("seed", run.Seed),
	)
	if err := c.liftLayers(ctx, run, doc, dirs.In, dirs.Out); err != nil {
		return err
	}

	meshes, err := collectMeshes(dirs.Out)
	if err != nil {
		return services.Wrap(services.ErrTransient, "compose", "scan output", "Failed to scan the engine output directory", err)
	}
	if len(meshes) == 0 {
		return services.Wrap(
			services.ErrComputeFailure,
			"compose",
			"collect output",
			"Engine reported success but produced no mesh layers; check the engine output directory",
			nil,
		)
	}
	if len(meshes) < registry.MeshCountMin || len(meshes) > registry.MeshCountMax {
		return services.Wrap(
			services.ErrInvalidArtifactSet,
			"compose",
			"collect output",
			fmt.Sprintf("Engine produced %d mesh layers, want %d to %d", len(meshes), registry.MeshCountMin, registry.MeshCountMax),
			nil,
		)
	}

	// The catalog expects the panorama beside the meshes, so the stage
	// carries the copy staged in with the layers.
	outPanorama := filepath.Join(dirs.Out, engine.PanoramaFileName)
	if _, err := os.Stat(outPanorama); err != nil {
		inPanorama := filepath.Join(dirs.In, filepath.FromSlash(doc.Panorama))
		if _, err := os.Stat(inPanorama); err != nil {
			return services.Wrap(
				services.ErrMissingInput,
				"compose",
				"carry panorama",
				fmt.Sprintf("Panorama copy missing from the layer artifacts for theme %s; rerun the decomposition stage", run.Theme),
				err,
			)
		}
		if err := stage.CopyFile(inPanorama, outPanorama); err != nil {
			return services.Wrap(
				services.ErrTransient,
				"compose",
				"carry panorama",
				"Failed to copy the panorama beside the mesh layers",
				err,
			)
		}
	}

	if _, err := storage.UploadDir(ctx, c.objects, run.Theme, storage.StageWorld, dirs.Out, manifest.WorldName); err != nil {
		return services.Wrap(
			services.ErrTransient,
			"compose",
			"stage out",
			"Failed to upload world artifacts; check object-store connectivity",
			err,
		)
	}

	outDoc := manifest.Manifest{
		Theme:     run.Theme,
		Seed:      run.Seed,
		Panorama:  engine.PanoramaFileName,
		Meshes:    meshes,
		CreatedAt: time.Now().UTC(),
	}
	if err := outDoc.ValidateWorld(); err != nil {
		return err
	}
	manifestPath := filepath.Join(dirs.Out, manifest.WorldName)
	if err := outDoc.WriteFile(manifestPath); err != nil {
		return services.Wrap(services.ErrTransient, "compose", "write manifest", "Failed to write the world manifest", err)
	}
	if _, err := storage.UploadFile(ctx, c.objects, run.Theme, storage.StageWorld, manifest.WorldName, manifestPath); err != nil {
		return services.Wrap(
			services.ErrTransient,
			"compose",
			"publish manifest",
			"Failed to publish the world manifest; check object-store connectivity",
			err,
		)
	}

	run.SetProgressComplete("World composed", fmt.Sprintf("Built %d mesh layers", len(meshes)))
	logger.Info(
		"composition stage completed",
		logging.Int("mesh_count", len(meshes)),
	)
	return nil
}

// liftLayers holds a GPU slot for exactly the duration of the engine call.
func (c *Composer) liftLayers(ctx context.Context, run *pipeline.Run, doc manifest.Manifest, inDir, outDir string) error {
	if c.gate != nil {
		lease, err := c.gate.Acquire(ctx)
		if err != nil {
			return services.Wrap(
				services.ErrTransient,
				"compose",
				"acquire gpu slot",
				"Interrupted while waiting for a free GPU slot",
				err,
			)
		}
		defer lease.Release()
	}
	req := engine.ComposeRequest{
		InputDir:  inDir,
		LabelsFG1: doc.LabelsFG1,
		LabelsFG2: doc.LabelsFG2,
		Seed:      run.Seed,
		OutputDir: outDir,
	}
	progressCB := func(update engine.ProgressUpdate) {
		stage.ApplyProgress(ctx, c.store, c.logger, run, update)
	}
	if err := c.client.Compose(ctx, req, progressCB); err != nil {
		return services.Wrap(
			services.ErrComputeFailure,
			"compose",
			"lift layers",
			"Worldengine composition failed; check engine logs and GPU availability",
			err,
		)
	}
	return nil
}

// HealthCheck verifies composition stage dependencies.
func (c *Composer) HealthCheck(ctx context.Context) stage.Health {
	const name = "compose"
	if c.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(c.cfg.Paths.WorkDir) == "" {
		return stage.Unhealthy(name, "work directory not configured")
	}
	if c.objects == nil {
		return stage.Unhealthy(name, "object store unavailable")
	}
	if c.client == nil {
		return stage.Unhealthy(name, "worldengine client unavailable")
	}
	binary := strings.TrimSpace(c.cfg.Engine.Binary)
	if binary == "" {
		return stage.Unhealthy(name, "worldengine binary not configured")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("worldengine binary %q not found", binary))
	}
	return stage.Healthy(name)
}

// collectMeshes lists the .ply artifacts relative to outDir. Auxiliary
// formats like Draco exports stay out of the mesh set but still get uploaded
// with the rest of the directory.
func collectMeshes(outDir string) ([]string, error) {
	var meshes []string
	err := filepath.WalkDir(outDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".ply") {
			rel, err := filepath.Rel(outDir, path)
			if err != nil {
				return err
			}
			meshes = append(meshes, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(meshes)
	return meshes, nil
}
