package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"worldsmith/internal/api"
	"worldsmith/internal/config"
	"worldsmith/internal/logging"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/services"
	"worldsmith/internal/workflow"
	"worldsmith/internal/workspace"
)

const sweepInterval = time.Hour

// Daemon owns the long-running pieces of worldsmith: the workflow engine,
// the HTTP API, and the stale-work sweeper. A file lock makes it a singleton
// per log directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *pipeline.Store
	catalog *registry.Store
	engine  *workflow.LocalEngine
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a daemon from its collaborators. The catalog store and the API
// service are optional; everything else is required.
func New(cfg *config.Config, logger *slog.Logger, store *pipeline.Store, catalog *registry.Store, engine *workflow.LocalEngine, svc *api.Service) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a configuration")
	}
	if store == nil {
		return nil, errors.New("daemon requires a run store")
	}
	if engine == nil {
		return nil, errors.New("daemon requires a workflow engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "init",
			"Could not create the log directory for the daemon lock", err)
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, "worldsmithd.lock")

	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		catalog:  catalog,
		engine:   engine,
		api:      newAPIServer(cfg, svc, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the singleton lock, starts the engine and the API server,
// and launches the sweeper. It returns an error when another daemon already
// holds the lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return nil
	}

	locked, err := d.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "start",
			"Could not acquire the daemon lock", err)
	}
	if !locked {
		return services.Wrap(services.ErrConfiguration, "daemon", "start",
			"Another worldsmith daemon instance is already running", nil)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.engine.Start(d.ctx); err != nil {
		d.cancel()
		_ = d.lock.Unlock()
		return err
	}

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.engine.Stop()
			d.cancel()
			_ = d.lock.Unlock()
			return err
		}
	} else {
		d.logger.Info("API server disabled; no bind address configured")
	}

	if d.cfg.Workflow.StaleWorkMaxAgeHours > 0 {
		d.wg.Add(1)
		go d.sweepStale(d.ctx)
	}

	d.running.Store(true)
	d.logger.Info("worldsmith daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.apiAddr()))
	return nil
}

// Stop shuts the daemon down in reverse start order and releases the lock.
// In-flight runs keep their processing status and resume on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
	}
	if d.api != nil {
		d.api.stop()
	}
	d.engine.Stop()
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.String("lock", d.lockPath),
			logging.Error(err))
	}

	d.running.Store(false)
	d.logger.Info("worldsmith daemon stopped")
}

// Close stops the daemon and closes the backing stores.
func (d *Daemon) Close() error {
	d.Stop()

	var errs []error
	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr reports the bound API address, or an empty string when the API is
// disabled.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

func (d *Daemon) apiAddr() string {
	if addr := d.APIAddr(); addr != "" {
		return addr
	}
	return "disabled"
}

// sweepStale periodically returns abandoned runs to the queue and prunes
// working directories past the stale cutoff. Runs driven by a live engine
// heartbeat well inside the cutoff and are never reclaimed here.
func (d *Daemon) sweepStale(ctx context.Context) {
	defer d.wg.Done()

	maxAge := time.Duration(d.cfg.Workflow.StaleWorkMaxAgeHours) * time.Hour
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	d.sweepOnce(ctx, maxAge)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx, maxAge)
		}
	}
}

func (d *Daemon) sweepOnce(ctx context.Context, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	reclaimed, err := d.store.ReclaimStaleProcessing(ctx, cutoff)
	switch {
	case err != nil && ctx.Err() == nil:
		d.logger.Warn("failed to reclaim stale runs", logging.Error(err))
	case reclaimed > 0:
		d.logger.Info("reclaimed stale runs",
			logging.Int64("count", reclaimed),
			logging.Duration("max_age", maxAge),
			logging.String(logging.FieldEventType, "stale_reclaim"))
	}

	workspace.CleanStale(d.cfg.Paths.WorkDir, maxAge, d.logger)
}
