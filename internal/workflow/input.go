package workflow

import (
	"strings"

	"worldsmith/internal/config"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/services"
)

// Input is the parameter document an execution starts from. It carries the
// run identity, the scene text, and the storage and compute hints a hosted
// scheduler would need; the local engine reads storage settings from its
// own configuration and treats the hints as descriptive.
type Input struct {
	RunID        string `json:"executionId"`
	Prompt       string `json:"prompt"`
	RawPrompt    string `json:"rawPrompt,omitempty"`
	Theme        string `json:"theme"`
	Classes      string `json:"classes,omitempty"`
	Seed         int64  `json:"seed"`
	Bucket       string `json:"bucket,omitempty"`
	ComputeImage string `json:"computeImage,omitempty"`
}

// NewInput builds the submission document for a prepared run.
func NewInput(cfg *config.Config, run *pipeline.Run) Input {
	in := Input{
		RunID:     run.ID,
		Prompt:    run.Prompt,
		RawPrompt: run.RawPrompt,
		Theme:     run.Theme,
		Classes:   run.Classes,
		Seed:      run.Seed,
	}
	if cfg != nil {
		in.Bucket = cfg.Storage.Bucket
		in.ComputeImage = cfg.Workflow.ComputeImage
	}
	return in
}

// Validate reports whether the document can start an execution.
func (in Input) Validate() error {
	if strings.TrimSpace(in.RunID) == "" {
		return services.Wrap(services.ErrMissingInput, "workflow", "submit", "Submission has no execution id", nil)
	}
	if strings.TrimSpace(in.Theme) == "" {
		return services.Wrap(services.ErrMissingInput, "workflow", "submit", "Submission has no theme", nil)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return services.Wrap(services.ErrMissingInput, "workflow", "submit", "Submission has no prompt; provide a scene description", nil)
	}
	return nil
}
