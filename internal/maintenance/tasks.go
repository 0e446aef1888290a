package maintenance

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"stride/internal/analytics"
	"stride/internal/config"
	"stride/internal/logging"
	"stride/internal/store"
)

// Task names.
const (
	TaskRetention  = "retention"
	TaskHealth     = "health"
	TaskAggregates = "aggregates"
	TaskLogs       = "logs"
)

// Dependencies are the collaborators the default tasks need.
type Dependencies struct {
	Store     *store.Store
	Refresher analytics.Refresher
	Health    *HealthMonitor
	Logger    *slog.Logger
}

// DefaultTasks builds the standard task set from configuration.
func DefaultTasks(cfg *config.Config, d Dependencies) []Task {
	logger := logging.NewComponentLogger(d.Logger, "maintenance")
	minutes := func(n int) time.Duration { return time.Duration(n) * time.Minute }

	retention := NewRetention(cfg, d.Store, logger)
	tasks := []Task{
		{
			Name:     TaskRetention,
			Interval: minutes(cfg.Maintenance.RetentionInterval),
			Run: func(ctx context.Context) error {
				_, err := retention.Sweep(ctx)
				return err
			},
		},
		{
			Name:     TaskLogs,
			Interval: minutes(cfg.Maintenance.LogRetentionInterval),
			Run: func(ctx context.Context) error {
				logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, logging.RetentionTarget{
					Dir:     cfg.Paths.LogDir,
					Pattern: "*.log*",
					Exclude: []string{filepath.Join(cfg.Paths.LogDir, logging.DaemonLogFile)},
				})
				return ctx.Err()
			},
		},
	}
	if d.Health != nil {
		tasks = append(tasks, Task{
			Name:       TaskHealth,
			Interval:   minutes(cfg.Maintenance.HealthInterval),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				_, err := d.Health.Check(ctx)
				return err
			},
		})
	}
	if d.Refresher != nil {
		tasks = append(tasks, Task{
			Name:       TaskAggregates,
			Interval:   minutes(cfg.Maintenance.AggregateInterval),
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				n, err := d.Refresher.Refresh(ctx)
				if err != nil {
					return err
				}
				logger.Debug("aggregates refreshed",
					logging.String(logging.FieldTask, TaskAggregates),
					logging.Int("aggregates", n),
				)
				return nil
			},
		})
	}
	return tasks
}

// NewRetention builds the retention sweep from configuration.
func NewRetention(cfg *config.Config, st *store.Store, logger *slog.Logger) *Retention {
	return &Retention{
		store:           st,
		logger:          logger,
		window:          cfg.RetentionWindow(),
		artifactDir:     cfg.Paths.ArtifactDir,
		deleteArtifacts: cfg.Maintenance.DeleteArtifacts,
		now:             time.Now,
	}
}
