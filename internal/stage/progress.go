package stage

import (
	"context"
	"fmt"
	"os"
	"time"

	"log/slog"

	"worldsmith/internal/engine"
	"worldsmith/internal/logging"
	"worldsmith/internal/pipeline"
)

// ApplyProgress folds an engine heartbeat into the run record and persists
// it. The caller's run is only mutated after the store accepted the update,
// so a failed write never leaves the in-memory run ahead of the database.
func ApplyProgress(ctx context.Context, store *pipeline.Store, logger *slog.Logger, run *pipeline.Run, update engine.ProgressUpdate) {
	next := *run
	if update.Stage != "" {
		next.ProgressStage = update.Stage
	}
	if update.Percent >= 0 {
		next.ProgressPercent = update.Percent
	}
	if update.Message != "" {
		next.ProgressMessage = update.Message
	}
	now := time.Now().UTC()
	next.LastHeartbeat = &now
	if err := store.Update(ctx, &next); err != nil {
		logging.WithContext(ctx, logger).Warn("failed to persist progress", logging.Error(err))
		return
	}
	*run = next
}

// CopyFile copies src to dst in a single read, sized for the per-stage
// artifacts carried between workspaces.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
