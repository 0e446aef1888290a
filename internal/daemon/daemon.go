package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"stride/internal/api"
	"stride/internal/config"
	"stride/internal/deps"
	"stride/internal/dispatch"
	"stride/internal/logging"
	"stride/internal/maintenance"
	"stride/internal/metrics"
	"stride/internal/notifications"
	"stride/internal/services"
	"stride/internal/store"
)

// LockFile is the name of the single-instance lock under the data directory.
const LockFile = "strided.lock"

// Components are the background services the daemon owns.
type Components struct {
	Dispatcher *dispatch.Dispatcher
	Scheduler  *maintenance.Scheduler
	Health     *maintenance.HealthMonitor
	Metrics    *metrics.Metrics
	Notifier   notifications.Service
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	scheduler  *maintenance.Scheduler
	health     *maintenance.HealthMonitor
	metrics    *metrics.Metrics
	notifier   notifications.Service

	intake   *api.IntakeService
	sessions *api.SessionService
	queue    *api.QueueService

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, c Components) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil || c.Dispatcher == nil {
		return nil, errors.New("daemon requires config, store, logger, and dispatcher")
	}
	if c.Scheduler == nil {
		c.Scheduler = maintenance.NewScheduler(logger, c.Metrics)
	}
	if c.Notifier == nil {
		c.Notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, LockFile)
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      st,
		dispatcher: c.Dispatcher,
		scheduler:  c.Scheduler,
		health:     c.Health,
		metrics:    c.Metrics,
		notifier:   c.Notifier,
		intake:     api.NewIntakeService(st.Sessions(), c.Dispatcher, c.Metrics),
		sessions:   api.NewSessionService(st.Sessions(), st.Metrics(), st.Aggregates()),
		queue:      api.NewQueueService(st.Queue()),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the dispatcher, the
// maintenance scheduler, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stride daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	abort := func(err error) error {
		cancel()
		d.dispatcher.Stop()
		d.scheduler.Stop()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.dispatcher.Start(runCtx); err != nil {
		return abort(fmt.Errorf("start dispatcher: %w", err))
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		return abort(fmt.Errorf("start maintenance: %w", err))
	}
	if err := d.api.start(runCtx); err != nil {
		return abort(err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("stride daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. In-flight
// entries are released back to pending by the dispatcher.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.dispatcher.Stop()
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("stride daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the address the API server listens on, or "" when it
// is disabled or not started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// LockPath returns the path of the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Dispatcher:   api.FromStatusSummary(d.dispatcher.Status(ctx)),
		Maintenance:  d.scheduler.Status(),
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
}

// Health returns the latest health report, running a check when none exists
// yet.
func (d *Daemon) Health(ctx context.Context) (maintenance.Report, error) {
	if d.health == nil {
		return maintenance.Report{}, services.Wrap(services.ErrConfiguration, "daemon", "health", "health monitor unavailable", nil)
	}
	if report, ok := d.health.Latest(); ok {
		return report, nil
	}
	return d.health.Check(ctx)
}

// RunMaintenance runs one maintenance task immediately.
func (d *Daemon) RunMaintenance(ctx context.Context, task string) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return services.Wrap(services.ErrValidation, "daemon", "maintenance", "task name is required", nil)
	}
	d.logger.Info("manual maintenance run",
		logging.String(logging.FieldEventType, "maintenance_manual"),
		logging.String(logging.FieldTask, task),
	)
	return d.scheduler.RunNow(ctx, task)
}

// TestNotification sends a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
