package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"worldsmith/internal/config"
	"worldsmith/internal/logging"
	"worldsmith/internal/notifications"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/services"
	"worldsmith/internal/stageexec"
)

// Handlers carries the stage implementations the local engine drives.
type Handlers struct {
	Panorama  stageexec.Handler
	Decompose stageexec.Handler
	Compose   stageexec.Handler
	Register  stageexec.Handler
}

func (h Handlers) forStage(stage string) stageexec.Handler {
	switch stage {
	case StagePanorama:
		return h.Panorama
	case StageDecompose:
		return h.Decompose
	case StageCompose:
		return h.Compose
	case StageRegister:
		return h.Register
	default:
		return nil
	}
}

// LocalEngine executes workflow definitions in-process. Every submission
// becomes a goroutine that walks the state chain, and a background scanner
// picks up non-terminal runs so interrupted work resumes at the stage its
// status names.
type LocalEngine struct {
	cfg      *config.Config
	store    *pipeline.Store
	logger   *slog.Logger
	notifier notifications.Service
	def      Definition
	handlers Handlers

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	active map[string]struct{}
	wg     sync.WaitGroup

	backlogActive bool
	backlogStart  time.Time
	processed     int
	failed        int
}

// NewLocalEngine wires an engine around the run store and stage handlers.
func NewLocalEngine(cfg *config.Config, store *pipeline.Store, logger *slog.Logger, notifier notifications.Service, handlers Handlers) *LocalEngine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &LocalEngine{
		cfg:      cfg,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		notifier: notifier,
		def:      DefaultDefinition(cfg),
		handlers: handlers,
		active:   make(map[string]struct{}),
	}
}

// Start validates the wiring and launches the backlog scanner. The first
// sweep announces and resumes runs interrupted before the restart.
func (e *LocalEngine) Start(ctx context.Context) error {
	if e.store == nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "start", "Run store is required", nil)
	}
	for _, tr := range Transitions() {
		if e.handlers.forStage(tr.Stage) == nil {
			return services.Wrap(services.ErrConfiguration, "workflow", "start",
				fmt.Sprintf("No handler wired for the %s stage", tr.Stage), nil)
		}
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return services.Wrap(services.ErrConfiguration, "workflow", "start", "Workflow engine is already running", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.scan(runCtx)

	e.logger.Info("workflow engine started",
		logging.Int("states", len(e.def.States)),
		logging.String("start_at", e.def.States[0].Name),
	)
	return nil
}

// Stop cancels every in-flight execution and waits for them to unwind.
// Interrupted runs keep their processing status and resume on next start.
func (e *LocalEngine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	e.logger.Info("workflow engine stopped")
}

// Submit persists a new run for the input document and starts executing
// it. The returned handle doubles as the run identifier.
func (e *LocalEngine) Submit(ctx context.Context, input Input) (string, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}

	e.mu.Lock()
	running := e.cancel != nil
	e.mu.Unlock()
	if !running {
		return "", services.Wrap(services.ErrConfiguration, "workflow", "submit",
			"Workflow engine is not running; start the daemon and resubmit", nil)
	}

	run := &pipeline.Run{
		ID:        input.RunID,
		Theme:     input.Theme,
		Prompt:    input.Prompt,
		RawPrompt: input.RawPrompt,
		Classes:   input.Classes,
		Seed:      input.Seed,
	}
	if run.RawPrompt == "" {
		run.RawPrompt = run.Prompt
	}
	if run.Seed == 0 && e.cfg != nil {
		run.Seed = e.cfg.Engine.DefaultSeed
	}

	stored, err := e.store.NewRun(ctx, run)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "workflow", "submit",
			fmt.Sprintf("Could not persist run %s", input.RunID), err)
	}

	if !e.launch(stored) {
		// The engine stopped between the running check and the launch. The
		// run is persisted as pending and the next start resumes it.
		e.logger.Warn("submission accepted during shutdown; run resumes on next start",
			logging.String(logging.FieldRunID, stored.ID))
		return stored.ID, nil
	}

	e.logger.Info("execution submitted",
		logging.String(logging.FieldRunID, stored.ID),
		logging.String(logging.FieldTheme, stored.Theme),
		logging.Int64("seed", stored.Seed),
	)
	return stored.ID, nil
}

// Describe resolves a handle against the run store.
func (e *LocalEngine) Describe(ctx context.Context, handle string) (Execution, error) {
	if e.store == nil {
		return Execution{}, services.Wrap(services.ErrConfiguration, "workflow", "describe", "Run store is required", nil)
	}
	run, err := e.store.GetByID(ctx, handle)
	if err != nil {
		return Execution{}, services.Wrap(services.ErrTransient, "workflow", "describe",
			fmt.Sprintf("Could not load execution %s", handle), err)
	}
	if run == nil {
		return Execution{}, services.Wrap(services.ErrNotFound, "workflow", "describe",
			fmt.Sprintf("No execution found for handle %s", handle), nil)
	}
	return executionFromRun(run), nil
}

func executionFromRun(run *pipeline.Run) Execution {
	exec := Execution{
		Handle:    run.ID,
		Status:    ExecutionRunning,
		StartedAt: run.CreatedAt,
	}
	switch run.Status {
	case pipeline.StatusCompleted:
		exec.Status = ExecutionSucceeded
		exec.StoppedAt = run.UpdatedAt
		exec.Output = map[string]string{"theme": run.Theme}
		if run.WorldID != "" {
			exec.Output["worldId"] = run.WorldID
		}
		if run.PanoramaURI != "" {
			exec.Output["panorama"] = run.PanoramaURI
		}
	case pipeline.StatusFailed:
		exec.Status = ExecutionFailed
		exec.StoppedAt = run.UpdatedAt
		exec.Error = run.ErrorMessage
	}
	return exec
}

// scan resumes non-terminal runs on a fixed cadence. The first sweep covers
// the restart backlog and announces it; later sweeps catch runs that were
// retried or submitted while the engine could not launch them.
func (e *LocalEngine) scan(ctx context.Context) {
	defer e.wg.Done()

	interval := 30 * time.Second
	if e.cfg != nil && e.cfg.Workflow.PollIntervalSeconds > 0 {
		interval = time.Duration(e.cfg.Workflow.PollIntervalSeconds) * time.Second
	}

	announce := true
	for {
		e.sweep(ctx, announce)
		announce = false
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (e *LocalEngine) sweep(ctx context.Context, announce bool) {
	runs, err := e.store.List(ctx,
		pipeline.StatusPending,
		pipeline.StatusGenerating,
		pipeline.StatusDecomposing,
		pipeline.StatusComposing,
		pipeline.StatusRegistering,
	)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("backlog scan failed", logging.Error(err))
		}
		return
	}
	if len(runs) == 0 {
		return
	}

	if announce {
		e.mu.Lock()
		e.backlogActive = true
		e.backlogStart = time.Now()
		e.processed = 0
		e.failed = 0
		e.mu.Unlock()
	}

	launched := 0
	for _, run := range runs {
		if e.launch(run) {
			launched++
		}
	}

	if announce && launched > 0 {
		e.logger.Info("resuming interrupted runs", logging.Int("count", launched))
		if err := e.notifier.NotifyBacklogStarted(ctx, launched); err != nil {
			e.logger.Warn("backlog notification failed", logging.Error(err))
		}
	}
}

func (e *LocalEngine) launch(run *pipeline.Run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	if _, busy := e.active[run.ID]; busy {
		return false
	}
	e.active[run.ID] = struct{}{}
	ctx := e.runCtx
	e.wg.Add(1)
	go e.drive(ctx, run)
	return true
}

func (e *LocalEngine) release(ctx context.Context, runID string, failed bool) {
	e.mu.Lock()
	delete(e.active, runID)
	if e.backlogActive {
		if failed {
			e.failed++
		} else {
			e.processed++
		}
	}
	drained := e.backlogActive && len(e.active) == 0
	processed, failedCount := e.processed, e.failed
	began := e.backlogStart
	if drained {
		e.backlogActive = false
	}
	e.mu.Unlock()

	if drained {
		if err := e.notifier.NotifyBacklogCompleted(context.WithoutCancel(ctx), processed, failedCount, time.Since(began)); err != nil {
			e.logger.Warn("backlog notification failed", logging.Error(err))
		}
	}
}

// drive walks the state chain from wherever the run's status places it.
func (e *LocalEngine) drive(ctx context.Context, run *pipeline.Run) {
	defer e.wg.Done()

	logger := e.logger.With(
		logging.String(logging.FieldRunID, run.ID),
		logging.String(logging.FieldTheme, run.Theme),
	)

	bindings := e.bindings()
	start := resumeIndex(bindings, run.Status)
	if start < 0 {
		e.release(ctx, run.ID, run.Status == pipeline.StatusFailed)
		return
	}

	logger.Info("execution started",
		logging.String(logging.FieldEventType, "execution_start"),
		logging.String("from_state", bindings[start].state.Name),
		logging.Int64("seed", run.Seed),
	)

	var failed bool
	for _, b := range bindings[start:] {
		if err := e.runState(ctx, b, run, logger); err != nil {
			failed = true
			break
		}
	}

	if !failed {
		logger.Info("execution completed",
			logging.String(logging.FieldEventType, "execution_complete"),
			logging.String("world_id", run.WorldID),
		)
	}
	e.release(ctx, run.ID, failed)
}

// runState executes one state with its timeout and retry policy. Errors
// caused by engine shutdown are returned without retrying; the run store
// already holds the run in a resumable status.
func (e *LocalEngine) runState(ctx context.Context, b binding, run *pipeline.Run, logger *slog.Logger) error {
	attempts := b.state.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := time.Duration(b.state.Retry.IntervalSeconds) * time.Second

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying state",
				logging.String("state", b.state.Name),
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			if b.state.Retry.BackoffRate > 0 {
				wait = time.Duration(float64(wait) * b.state.Retry.BackoffRate)
			}
		}

		stateCtx := ctx
		cancel := context.CancelFunc(func() {})
		if b.state.TimeoutSeconds > 0 {
			stateCtx, cancel = context.WithTimeout(ctx, time.Duration(b.state.TimeoutSeconds)*time.Second)
		}
		err = stageexec.Run(stateCtx, stageexec.Options{
			Logger:     e.logger,
			Store:      e.store,
			Notifier:   e.notifier,
			Handler:    b.handler,
			StageName:  b.state.Stage,
			Processing: b.transition.Processing,
			Done:       b.transition.Done,
			Run:        run,
		})
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

type binding struct {
	state      State
	transition Transition
	handler    stageexec.Handler
}

func (e *LocalEngine) bindings() []binding {
	out := make([]binding, 0, len(e.def.States))
	for _, st := range e.def.States {
		tr, ok := TransitionFor(st.Stage)
		if !ok {
			continue
		}
		out = append(out, binding{state: st, transition: tr, handler: e.handlers.forStage(st.Stage)})
	}
	return out
}

// resumeIndex maps a run status to the state that should run next. Pending
// runs start at the top; terminal runs return -1.
func resumeIndex(bindings []binding, status pipeline.Status) int {
	if status == pipeline.StatusPending {
		return 0
	}
	for i, b := range bindings {
		if b.transition.Processing == status {
			return i
		}
	}
	return -1
}
