// Package logging configures slog output for the daemon and CLI and carries
// the standardized structured field names used across the pipeline.
package logging
