package api

import "worldsmith/internal/registry"

// GenerateRequest is the submission payload for a new world.
type GenerateRequest struct {
	Prompt  string `json:"prompt"`
	Seed    int64  `json:"seed,omitempty"`
	Classes string `json:"classes,omitempty"`
}

// GenerateResponse acknowledges an accepted submission. The execution id is
// the handle for later status lookups.
type GenerateResponse struct {
	ExecutionID    string `json:"executionId"`
	Theme          string `json:"theme"`
	PromptExpanded string `json:"promptExpanded"`
	Status         string `json:"status"`
}

// StatusResponse reports where an execution stands. Output is present only
// on success, Error only on failure.
type StatusResponse struct {
	ExecutionID string            `json:"executionId"`
	Status      string            `json:"status"`
	Output      map[string]string `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// WorldsResponse lists every registered world.
type WorldsResponse struct {
	Worlds []registry.World `json:"worlds"`
}

// HealthResponse reports daemon liveness and run-store counts.
type HealthResponse struct {
	Status string         `json:"status"`
	Runs   map[string]int `json:"runs,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
