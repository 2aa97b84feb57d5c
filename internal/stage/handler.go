package stage

import (
	"context"
	"log/slog"

	"worldsmith/internal/pipeline"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *pipeline.Run) error
	Execute(context.Context, *pipeline.Run) error
	HealthCheck(context.Context) Health
}

// LoggerAware lets the executor hand a stage-scoped logger to handlers that
// enrich their log lines with run context.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
