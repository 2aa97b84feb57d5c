// Package stageexec applies the run lifecycle transitions shared by every
// pipeline stage: persist the processing status, run the handler, persist the
// outcome, and route failures through the notifier.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"worldsmith/internal/logging"
	"worldsmith/internal/notifications"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/services"
	"worldsmith/internal/stage"
)

// Handler is the stage contract used by the execution helper.
type Handler interface {
	Prepare(context.Context, *pipeline.Run) error
	Execute(context.Context, *pipeline.Run) error
}

// Options controls stage execution and run persistence behavior.
type Options struct {
	Logger     *slog.Logger
	Store      *pipeline.Store
	Notifier   notifications.Service
	Handler    Handler
	StageName  string
	Processing pipeline.Status
	Done       pipeline.Status
	Run        *pipeline.Run
}

// Run executes a stage and applies the transition semantics used by one-shot
// pipelines: the run enters the processing status before Prepare, and leaves
// in the done status only when Execute succeeds.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return fmt.Errorf("stage handler unavailable: %s", opts.StageName)
	}
	if opts.Store == nil {
		return fmt.Errorf("run store is required")
	}
	if opts.Run == nil {
		return fmt.Errorf("pipeline run is required")
	}

	stageCtx := logging.WithStage(ctx, opts.StageName)
	stageCtx = services.WithRunID(stageCtx, opts.Run.ID)
	stageCtx = services.WithTheme(stageCtx, opts.Run.Theme)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	if aware, ok := opts.Handler.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(opts.Processing)),
		logging.String("prompt", strings.TrimSpace(opts.Run.Prompt)),
	)

	setRunProcessingState(opts.Run, opts.Processing)
	if err := opts.Store.Update(stageCtx, opts.Run); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}

	if err := opts.Handler.Prepare(stageCtx, opts.Run); err != nil {
		return handleFailure(stageCtx, stageLogger, opts.Store, opts.Notifier, opts.StageName, opts.Run, err)
	}
	if err := opts.Store.Update(stageCtx, opts.Run); err != nil {
		return fmt.Errorf("persist stage preparation: %w", err)
	}

	if err := opts.Handler.Execute(stageCtx, opts.Run); err != nil {
		return handleFailure(stageCtx, stageLogger, opts.Store, opts.Notifier, opts.StageName, opts.Run, err)
	}

	if opts.Run.Status == opts.Processing || opts.Run.Status == "" {
		opts.Run.Status = opts.Done
	}
	opts.Run.LastHeartbeat = nil
	if err := opts.Store.Update(stageCtx, opts.Run); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(opts.Run.Status)),
		logging.String("progress_stage", strings.TrimSpace(opts.Run.ProgressStage)),
		logging.String("progress_message", strings.TrimSpace(opts.Run.ProgressMessage)),
	)

	return nil
}

func handleFailure(ctx context.Context, logger *slog.Logger, store *pipeline.Store, notifier notifications.Service, stageName string, run *pipeline.Run, stageErr error) error {
	// The stage context may already be canceled or past its deadline, and the
	// outcome must still reach the store.
	persistCtx := context.WithoutCancel(ctx)

	if errors.Is(stageErr, context.Canceled) && ctx.Err() != nil {
		// Shutdown, not a stage fault: leave the run in its processing status
		// so the next daemon start resumes it at the same stage.
		run.ErrorMessage = ""
		run.LastHeartbeat = nil
		if err := store.Update(persistCtx, run); err != nil {
			logger.Error("failed to persist interrupted run", logging.Error(err))
		}
		logger.Info(
			"stage interrupted",
			logging.String(logging.FieldEventType, "stage_interrupted"),
			logging.String("resume_status", string(run.Status)),
		)
		return stageErr
	}

	message := "stage failed"
	if stageErr != nil {
		details := services.Details(stageErr)
		message = strings.TrimSpace(details.Message)
		if message == "" {
			message = strings.TrimSpace(stageErr.Error())
		}
	}
	run.SetFailed(message)

	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("resolved_status", string(pipeline.StatusFailed)),
		logging.String("error_message", strings.TrimSpace(message)),
		logging.Error(stageErr),
	)
	if err := store.Update(persistCtx, run); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}

	if notifier != nil && stageErr != nil {
		contextLabel := fmt.Sprintf("%s (run %s)", stageName, run.ID)
		if err := notifier.NotifyError(persistCtx, stageErr, contextLabel); err != nil {
			logger.Debug("stage error notification failed", logging.Error(err))
		}
	}

	return stageErr
}

func setRunProcessingState(run *pipeline.Run, processing pipeline.Status) {
	now := time.Now().UTC()
	run.Status = processing
	if run.ProgressStage == "" {
		run.ProgressStage = deriveStageLabel(processing)
	}
	if run.ProgressMessage == "" {
		run.ProgressMessage = fmt.Sprintf("%s started", deriveStageLabel(processing))
	}
	run.ProgressPercent = 0
	run.ErrorMessage = ""
	run.LastHeartbeat = &now
}

func deriveStageLabel(status pipeline.Status) string {
	if status == "" {
		return ""
	}
	parts := strings.Fields(strings.ReplaceAll(string(status), "_", " "))
	for i, part := range parts {
		if part == "" {
			continue
		}
		runes := []rune(strings.ToLower(part))
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}
