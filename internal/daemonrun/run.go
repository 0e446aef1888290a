// Package daemonrun assembles the strided process: logging, tracing, the
// store, the analysis collaborators, the dispatcher, and the maintenance
// scheduler, and runs them until a shutdown signal arrives.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"stride/internal/analysis"
	"stride/internal/analytics"
	"stride/internal/config"
	"stride/internal/daemon"
	"stride/internal/dispatch"
	"stride/internal/gateway"
	"stride/internal/logging"
	"stride/internal/maintenance"
	"stride/internal/metrics"
	"stride/internal/notifications"
	"stride/internal/pipeline"
	"stride/internal/store"
)

// PIDFile is written under the data directory while the daemon runs.
const PIDFile = "strided.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the stride daemon runtime loop and blocks until cmdCtx is
// canceled or SIGINT/SIGTERM arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "*.log*", Exclude: []string{filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFile)}},
	)

	shutdownTracing, err := setupTracing(cfg, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown failed", logging.Error(err))
		}
	}()

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	d, err := build(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file, the api bind address, and database access"),
			logging.String(logging.FieldImpact, "no sessions will be processed"),
		)
		return err
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, PIDFile)
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("write pid file", logging.Error(err))
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("stride daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// build wires every collaborator around st.
func build(cfg *config.Config, st *store.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	notifier := notifications.NewService(cfg)

	engine, err := analysis.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("analysis engine: %w", err)
	}
	gw, err := gateway.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway client: %w", err)
	}

	orch := pipeline.New(cfg, st.Sessions(), engine, gw, logger, pipeline.WithMetrics(m))
	dispatcher := dispatch.New(cfg, st, orch, logger,
		dispatch.WithMetrics(m),
		dispatch.WithNotifier(notifier),
	)

	health := maintenance.NewHealthMonitor(cfg, st, logger, m, notifier, checkerOf(engine), checkerOf(gw))
	scheduler := maintenance.NewScheduler(logger, m)
	tasks := maintenance.DefaultTasks(cfg, maintenance.Dependencies{
		Store:     st,
		Refresher: analytics.NewSQLiteRefresher(cfg, st),
		Health:    health,
		Logger:    logger,
	})
	for _, task := range tasks {
		if err := scheduler.Register(task); err != nil {
			return nil, fmt.Errorf("register maintenance task %s: %w", task.Name, err)
		}
	}

	d, err := daemon.New(cfg, st, logger, daemon.Components{
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Health:     health,
		Metrics:    m,
		Notifier:   notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func checkerOf(v any) maintenance.Checker {
	if c, ok := v.(maintenance.Checker); ok {
		return c
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffprobe := cfg.FFprobeBinary()
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("analysis_engine", cfg.Analysis.Engine),
		logging.Bool("analysis_key_present", strings.TrimSpace(cfg.Analysis.APIKey) != ""),
		logging.Bool("gateway_remote", strings.TrimSpace(cfg.Gateway.URL) != ""),
		logging.Bool("gateway_key_present", strings.TrimSpace(cfg.Gateway.APIKey) != ""),
		logging.Bool("ffprobe_available", binaryAvailable(ffprobe)),
		logging.String("ffprobe_binary", ffprobe),
		logging.Bool("probe_artifacts", cfg.Media.ProbeArtifacts),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.Bool("tracing_enabled", cfg.Tracing.Enabled),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
