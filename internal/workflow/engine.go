package workflow

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"worldsmith/internal/config"
	"worldsmith/internal/services"
)

// ExecutionStatus is the lifecycle state Describe reports.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Execution is a point-in-time view of a submitted run.
type Execution struct {
	Handle    string
	Status    ExecutionStatus
	Output    map[string]string
	Error     string
	StartedAt time.Time
	StoppedAt time.Time
}

// Done reports whether the execution reached a terminal status.
func (e Execution) Done() bool {
	return e.Status == ExecutionSucceeded || e.Status == ExecutionFailed
}

// Engine starts and inspects pipeline executions. Submit returns a handle
// immediately and the execution continues in the background. Describe
// resolves a handle and reports services.ErrNotFound when nothing matches.
type Engine interface {
	Submit(ctx context.Context, input Input) (string, error)
	Describe(ctx context.Context, handle string) (Execution, error)
}

// PollOptions bounds WaitForCompletion.
type PollOptions struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// PollOptionsFromConfig maps the configured polling knobs.
func PollOptionsFromConfig(cfg config.Workflow) PollOptions {
	return PollOptions{
		Interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxWait:  time.Duration(cfg.PollMaxWaitSeconds) * time.Second,
	}
}

const maxPollInterval = time.Minute

// WaitForCompletion polls Describe until the execution finishes, the wait
// budget runs out, or the context is canceled. The interval grows with
// light jitter so concurrent waiters spread their reads. The last observed
// execution is returned alongside any error.
func WaitForCompletion(ctx context.Context, eng Engine, handle string, opts PollOptions) (Execution, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Hour
	}
	deadline := time.Now().Add(maxWait)

	var last Execution
	for {
		exec, err := eng.Describe(ctx, handle)
		if err != nil {
			return last, err
		}
		last = exec
		if exec.Done() {
			return exec, nil
		}
		if !time.Now().Before(deadline) {
			return last, services.Wrap(services.ErrTransient, "workflow", "wait",
				fmt.Sprintf("Execution %s still running after %s; check its status again later", handle, maxWait), nil)
		}

		sleep := interval
		if jitter := interval / 4; jitter > 0 {
			sleep += rand.N(jitter)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(sleep):
		}
		if next := interval + interval/2; next < maxPollInterval {
			interval = next
		} else {
			interval = maxPollInterval
		}
	}
}
