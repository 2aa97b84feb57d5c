package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"worldsmith/internal/compose"
	"worldsmith/internal/config"
	"worldsmith/internal/decompose"
	"worldsmith/internal/engine"
	"worldsmith/internal/logging"
	"worldsmith/internal/notifications"
	"worldsmith/internal/panorama"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/register"
	"worldsmith/internal/registry"
	"worldsmith/internal/services/textgen"
	"worldsmith/internal/stageexec"
	"worldsmith/internal/storage"
	"worldsmith/internal/theme"
	"worldsmith/internal/workflow"
)

// newStageCommands returns the one-shot stage commands for hosts that run
// the pipeline without a daemon. Each command drives a single transition of
// the run state machine; pipeline chains all of them.
func newStageCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newPanoCommand(ctx),
		newLayersCommand(ctx),
		newWorldCommand(ctx),
		newPipelineCommand(ctx),
	}
}

// stageEnv is the wiring a one-shot stage needs: stores, object storage, and
// the engine slot gate.
type stageEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *pipeline.Store
	catalog *registry.Store
	objects storage.Store
	gate    *engine.Gate
}

func newStageEnv(ctx *commandContext) (*stageEnv, func(), error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := pipeline.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := registry.Open(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		store.Close()
		catalog.Close()
		return nil, nil, err
	}
	objects, err := storage.NewMinioStore(client, cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	if err != nil {
		store.Close()
		catalog.Close()
		return nil, nil, err
	}

	env := &stageEnv{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		catalog: catalog,
		objects: objects,
		gate:    engine.NewGate(cfg.Engine.GPUSlots),
	}
	cleanup := func() {
		store.Close()
		catalog.Close()
	}
	return env, cleanup, nil
}

// ensureBucket creates the artifact bucket when it does not exist yet, so a
// first one-shot run on a fresh object store works.
func (env *stageEnv) ensureBucket(ctx context.Context) error {
	client, err := storage.NewClient(env.cfg.Storage)
	if err != nil {
		return err
	}
	return storage.EnsureBucket(ctx, client, env.cfg.Storage.Bucket, env.cfg.Storage.Region)
}

// createRun derives a theme for the prompt and inserts a pending run.
func (env *stageEnv) createRun(ctx context.Context, prompt, classes string, seed int64) (*pipeline.Run, error) {
	deriver := theme.NewDeriver(textgen.NewClient(textgen.Config{
		APIKey:         env.cfg.LLM.APIKey,
		BaseURL:        env.cfg.LLM.BaseURL,
		Model:          env.cfg.LLM.Model,
		TimeoutSeconds: env.cfg.LLM.TimeoutSeconds,
	}))
	derived, err := deriver.Derive(ctx, prompt)
	if err != nil {
		return nil, err
	}

	if seed == 0 {
		seed = env.cfg.Engine.DefaultSeed
	}
	run := &pipeline.Run{
		ID:        theme.NewRunID(derived.Theme, time.Now()),
		Theme:     derived.Theme,
		Prompt:    derived.Prompt,
		RawPrompt: prompt,
		Classes:   strings.TrimSpace(classes),
		Seed:      seed,
	}
	return env.store.NewRun(ctx, run)
}

func (env *stageEnv) loadRun(ctx context.Context, id string) (*pipeline.Run, error) {
	id = strings.TrimSpace(id)
	run, err := env.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, nil
}

// runStage executes one handler under the transition the stage key names.
func runStage(ctx context.Context, env *stageEnv, run *pipeline.Run, stage string, handler stageexec.Handler) error {
	tr, ok := workflow.TransitionFor(stage)
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	return stageexec.Run(ctx, stageexec.Options{
		Logger:     env.logger,
		Store:      env.store,
		Notifier:   notifications.NewService(env.cfg),
		Handler:    handler,
		StageName:  stage,
		Processing: tr.Processing,
		Done:       tr.Done,
		Run:        run,
	})
}

func newPanoCommand(ctx *commandContext) *cobra.Command {
	var seed int64
	var classes string

	cmd := &cobra.Command{
		Use:   "pano <prompt>",
		Short: "Create a run and generate its panorama (no daemon required)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newStageEnv(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := env.ensureBucket(cmd.Context()); err != nil {
				return err
			}
			run, err := env.createRun(cmd.Context(), strings.TrimSpace(strings.Join(args, " ")), classes, seed)
			if err != nil {
				return err
			}

			handler := panorama.NewGenerator(env.cfg, env.store, env.logger, env.objects, env.gate)
			if err := runStage(cmd.Context(), env, run, workflow.StagePanorama, handler); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Panorama ready: %s\n", run.PanoramaURI)
			fmt.Fprintf(out, "Continue with `worldsmith layers %s`.\n", run.ID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Generation seed (0 uses the configured default)")
	cmd.Flags().StringVar(&classes, "classes", "", "Scene classes hint for layer decomposition")
	return cmd
}

func newLayersCommand(ctx *commandContext) *cobra.Command {
	var labelsFG1, labelsFG2 string

	cmd := &cobra.Command{
		Use:   "layers <run-id>",
		Short: "Decompose a run's panorama into semantic layers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newStageEnv(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := env.loadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run.PanoramaURI == "" {
				return fmt.Errorf("run %s has no panorama yet; run `worldsmith pano` first", run.ID)
			}

			var opts []decompose.Option
			if labelsFG1 != "" || labelsFG2 != "" {
				opts = append(opts, decompose.WithForegroundLabels(splitLabels(labelsFG1), splitLabels(labelsFG2)))
			}

			handler := decompose.NewDecomposer(env.cfg, env.store, env.logger, env.objects, env.gate, opts...)
			if err := runStage(cmd.Context(), env, run, workflow.StageDecompose, handler); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Layers ready for run %s\n", run.ID)
			fmt.Fprintf(out, "Continue with `worldsmith world %s`.\n", run.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&labelsFG1, "labels-fg1", "", "Comma-separated labels for the near foreground pass")
	cmd.Flags().StringVar(&labelsFG2, "labels-fg2", "", "Comma-separated labels for the far foreground pass")
	return cmd
}

func newWorldCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "world <run-id>",
		Short: "Compose a run's layers into meshes and register the world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newStageEnv(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := env.loadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			composer := compose.NewComposer(env.cfg, env.store, env.logger, env.objects, env.gate)
			if err := runStage(cmd.Context(), env, run, workflow.StageCompose, composer); err != nil {
				return err
			}

			registrar := register.NewRegistrar(env.cfg, env.store, env.catalog, env.logger, env.objects)
			if err := runStage(cmd.Context(), env, run, workflow.StageRegister, registrar); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "World registered: %s\n", run.WorldID)
			return nil
		},
	}
}

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	var seed int64
	var classes string
	var labelsFG1, labelsFG2 string

	cmd := &cobra.Command{
		Use:   "pipeline <prompt>",
		Short: "Run every stage for a prompt in-process (no daemon required)",
		Long: `Run the full pipeline for a prompt on this host: panorama generation,
layer decomposition, world composition, and registration. Useful on GPU
hosts without a daemon and for end-to-end smoke tests.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := newStageEnv(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := env.ensureBucket(cmd.Context()); err != nil {
				return err
			}
			run, err := env.createRun(cmd.Context(), strings.TrimSpace(strings.Join(args, " ")), classes, seed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s (theme %s)\n", run.ID, run.Theme)

			var decomposeOpts []decompose.Option
			if labelsFG1 != "" || labelsFG2 != "" {
				decomposeOpts = append(decomposeOpts,
					decompose.WithForegroundLabels(splitLabels(labelsFG1), splitLabels(labelsFG2)))
			}

			stages := []struct {
				name    string
				handler stageexec.Handler
			}{
				{workflow.StagePanorama, panorama.NewGenerator(env.cfg, env.store, env.logger, env.objects, env.gate)},
				{workflow.StageDecompose, decompose.NewDecomposer(env.cfg, env.store, env.logger, env.objects, env.gate, decomposeOpts...)},
				{workflow.StageCompose, compose.NewComposer(env.cfg, env.store, env.logger, env.objects, env.gate)},
				{workflow.StageRegister, register.NewRegistrar(env.cfg, env.store, env.catalog, env.logger, env.objects)},
			}
			for _, stage := range stages {
				fmt.Fprintf(out, "  %s...\n", stage.name)
				if err := runStage(cmd.Context(), env, run, stage.name, stage.handler); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "World registered: %s\n", run.WorldID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Generation seed (0 uses the configured default)")
	cmd.Flags().StringVar(&classes, "classes", "", "Scene classes hint for layer decomposition")
	cmd.Flags().StringVar(&labelsFG1, "labels-fg1", "", "Comma-separated labels for the near foreground pass")
	cmd.Flags().StringVar(&labelsFG2, "labels-fg2", "", "Comma-separated labels for the far foreground pass")
	return cmd
}

func splitLabels(value string) []string {
	parts := strings.Split(value, ",")
	labels := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			labels = append(labels, trimmed)
		}
	}
	return labels
}
