package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"worldsmith/internal/config"
	"worldsmith/internal/logging"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/services"
	"worldsmith/internal/theme"
	"worldsmith/internal/workflow"
)

// Service backs the daemon HTTP surface. It owns request validation, theme
// derivation, and the translation between engine executions and transport
// payloads.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	runs    *pipeline.Store
	engine  workflow.Engine
	deriver *theme.Deriver
	worlds  *registry.Reader
}

// NewService wires the front-end service. The deriver may carry a nil text
// client; derivation then falls back to deterministic slugs.
func NewService(cfg *config.Config, logger *slog.Logger, runs *pipeline.Store, engine workflow.Engine, deriver *theme.Deriver, worlds *registry.Reader) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "api"),
		runs:    runs,
		engine:  engine,
		deriver: deriver,
		worlds:  worlds,
	}
}

// Generate derives a theme for the prompt and submits a new execution. It
// returns as soon as the engine accepts the submission.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if s.engine == nil {
		return GenerateResponse{}, services.Wrap(services.ErrConfiguration, "api", "generate", "Workflow engine unavailable", nil)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return GenerateResponse{}, services.Wrap(services.ErrMissingInput, "api", "generate",
			"Request has no prompt; describe the scene to generate", nil)
	}

	derived, err := s.deriver.Derive(ctx, prompt)
	if err != nil {
		return GenerateResponse{}, services.Wrap(services.ErrTransient, "api", "generate",
			"Theme derivation failed; check the text model configuration", err)
	}
	themeName := theme.Sanitize(derived.Theme)
	if themeName == "" {
		return GenerateResponse{}, services.Wrap(services.ErrTransient, "api", "generate",
			fmt.Sprintf("Derived theme %q is unusable", derived.Theme), nil)
	}

	seed := req.Seed
	if seed == 0 && s.cfg != nil {
		seed = s.cfg.Engine.DefaultSeed
	}

	input := workflow.Input{
		RunID:     theme.NewRunID(themeName, time.Now()),
		Prompt:    derived.Prompt,
		RawPrompt: prompt,
		Theme:     themeName,
		Classes:   strings.TrimSpace(req.Classes),
		Seed:      seed,
	}
	if s.cfg != nil {
		input.Bucket = s.cfg.Storage.Bucket
		input.ComputeImage = s.cfg.Workflow.ComputeImage
	}

	handle, err := s.engine.Submit(ctx, input)
	if err != nil {
		return GenerateResponse{}, err
	}

	s.logger.Info("generation accepted",
		logging.String(logging.FieldRunID, handle),
		logging.String(logging.FieldTheme, themeName),
		logging.Int64("seed", seed),
	)
	return GenerateResponse{
		ExecutionID:    handle,
		Theme:          themeName,
		PromptExpanded: derived.Prompt,
		Status:         string(pipeline.StatusPending),
	}, nil
}

// Status resolves an execution handle.
func (s *Service) Status(ctx context.Context, id string) (StatusResponse, error) {
	if s.engine == nil {
		return StatusResponse{}, services.Wrap(services.ErrConfiguration, "api", "status", "Workflow engine unavailable", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return StatusResponse{}, services.Wrap(services.ErrMissingInput, "api", "status", "Execution id required", nil)
	}

	exec, err := s.engine.Describe(ctx, id)
	if err != nil {
		return StatusResponse{}, err
	}

	resp := StatusResponse{
		ExecutionID: exec.Handle,
		Status:      strings.ToLower(string(exec.Status)),
	}
	switch exec.Status {
	case workflow.ExecutionSucceeded:
		resp.Output = exec.Output
	case workflow.ExecutionFailed:
		resp.Error = exec.Error
	}
	return resp, nil
}

// Worlds returns the registered world catalog.
func (s *Service) Worlds(ctx context.Context) (WorldsResponse, error) {
	if s.worlds == nil {
		return WorldsResponse{}, services.Wrap(services.ErrConfiguration, "api", "worlds", "World catalog unavailable", nil)
	}
	list, err := s.worlds.ListWorlds(ctx)
	if err != nil {
		return WorldsResponse{}, services.Wrap(services.ErrTransient, "api", "worlds",
			"Could not list the world catalog", err)
	}
	if list == nil {
		list = []registry.World{}
	}
	return WorldsResponse{Worlds: list}, nil
}

// Health reports liveness plus run-store counts when a store is wired.
func (s *Service) Health(ctx context.Context) (HealthResponse, error) {
	resp := HealthResponse{Status: "ok"}
	if s.runs == nil {
		return resp, nil
	}
	summary, err := s.runs.Health(ctx)
	if err != nil {
		return HealthResponse{}, services.Wrap(services.ErrTransient, "api", "health", "Run store unavailable", err)
	}
	resp.Runs = map[string]int{
		"total":      summary.Total,
		"pending":    summary.Pending,
		"processing": summary.Processing,
		"failed":     summary.Failed,
		"completed":  summary.Completed,
	}
	return resp, nil
}
