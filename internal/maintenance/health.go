package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"stride/internal/config"
	"stride/internal/deps"
	"stride/internal/logging"
	"stride/internal/metrics"
	"stride/internal/notifications"
	"stride/internal/preflight"
	"stride/internal/stage"
	"stride/internal/store"
)

const collaboratorCheckTimeout = 5 * time.Second

// Checker is implemented by collaborators that can report readiness.
type Checker interface {
	HealthCheck(ctx context.Context) stage.Health
}

// DiskStatus describes free space on the data directory filesystem.
type DiskStatus struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"totalBytes"`
	FreeBytes  uint64 `json:"freeBytes"`
	MinFree    uint64 `json:"minFreeBytes"`
	Low        bool   `json:"low"`
	Error      string `json:"error,omitempty"`
}

// Report is the result of one health self-check.
type Report struct {
	CheckedAt     time.Time            `json:"checkedAt"`
	Healthy       bool                 `json:"healthy"`
	Database      store.DatabaseHealth `json:"database"`
	Queue         store.QueueStats     `json:"queue"`
	Disk          DiskStatus           `json:"disk"`
	Dependencies  []deps.Status        `json:"dependencies"`
	Directories   []preflight.Result   `json:"directories"`
	Collaborators []stage.Health       `json:"collaborators,omitempty"`
	Problems      []string             `json:"problems,omitempty"`
}

// HealthMonitor runs the self-check and keeps the latest report. It only
// reads.
type HealthMonitor struct {
	cfg          *config.Config
	store        *store.Store
	logger       *slog.Logger
	metrics      *metrics.Metrics
	notifier     notifications.Service
	checkers     []Checker
	requirements []deps.Requirement
	dataDir      string
	minFree      uint64
	statfs       func(path string) (total, free uint64, err error)
	now          func() time.Time

	mu      sync.RWMutex
	latest  *Report
	alerted bool
}

// NewHealthMonitor builds a monitor for the configured data directory.
// Checkers that are nil are skipped.
func NewHealthMonitor(cfg *config.Config, st *store.Store, logger *slog.Logger, m *metrics.Metrics, notifier notifications.Service, checkers ...Checker) *HealthMonitor {
	h := &HealthMonitor{
		cfg:          cfg,
		store:        st,
		logger:       logging.NewComponentLogger(logger, "health"),
		metrics:      m,
		notifier:     notifier,
		requirements: deps.Requirements(cfg),
		dataDir:      cfg.Paths.DataDir,
		minFree:      uint64(cfg.Maintenance.MinFreeDiskMiB) << 20,
		statfs:       statfs,
		now:          time.Now,
	}
	for _, c := range checkers {
		if c != nil {
			h.checkers = append(h.checkers, c)
		}
	}
	return h
}

// Check runs every probe and stores the report.
func (h *HealthMonitor) Check(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: h.now().UTC()}

	dbHealth, err := h.store.CheckHealth(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return report, err
		}
		dbHealth.Error = err.Error()
	}
	report.Database = dbHealth
	if !dbHealth.Healthy() {
		report.Problems = append(report.Problems, "database unhealthy")
	}

	stats, err := h.store.Queue().Stats(ctx)
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("queue stats unavailable: %v", err))
	} else {
		report.Queue = stats
		h.metrics.SetQueueEntries(map[string]int{
			string(store.EntryPending):    stats.Pending,
			string(store.EntryProcessing): stats.Processing,
			string(store.EntryCompleted):  stats.Completed,
			string(store.EntryFailed):     stats.Failed,
		})
	}

	report.Disk = h.checkDisk()
	if report.Disk.Error != "" {
		report.Problems = append(report.Problems, "disk stats unavailable: "+report.Disk.Error)
	} else if report.Disk.Low {
		report.Problems = append(report.Problems, fmt.Sprintf("free disk %d MiB below %d MiB",
			report.Disk.FreeBytes>>20, report.Disk.MinFree>>20))
	}

	report.Directories = preflight.Directories(h.cfg)
	for _, dir := range preflight.Failed(report.Directories) {
		report.Problems = append(report.Problems, fmt.Sprintf("%s not accessible: %s", strings.ToLower(dir.Name), dir.Detail))
	}

	report.Dependencies = deps.CheckBinaries(h.requirements)
	for _, name := range deps.MissingRequired(report.Dependencies) {
		report.Problems = append(report.Problems, "missing dependency "+name)
	}

	for _, checker := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, collaboratorCheckTimeout)
		result := checker.HealthCheck(checkCtx)
		cancel()
		report.Collaborators = append(report.Collaborators, result)
		if !result.Ready {
			report.Problems = append(report.Problems, fmt.Sprintf("%s not ready: %s", result.Name, result.Detail))
		}
	}

	report.Healthy = len(report.Problems) == 0
	h.setLatest(report)
	h.alert(ctx, report)
	return report, nil
}

// Latest returns the most recent report.
func (h *HealthMonitor) Latest() (Report, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Report{}, false
	}
	return *h.latest, true
}

func (h *HealthMonitor) setLatest(report Report) {
	h.mu.Lock()
	h.latest = &report
	h.mu.Unlock()
}

func (h *HealthMonitor) checkDisk() DiskStatus {
	status := DiskStatus{Path: h.dataDir, MinFree: h.minFree}
	total, free, err := h.statfs(h.dataDir)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.TotalBytes = total
	status.FreeBytes = free
	status.Low = h.minFree > 0 && free < h.minFree
	h.metrics.SetDiskFree(free)
	return status
}

// alert logs and notifies on the transition to unhealthy, and logs recovery.
func (h *HealthMonitor) alert(ctx context.Context, report Report) {
	h.mu.Lock()
	wasAlerted := h.alerted
	h.alerted = !report.Healthy
	h.mu.Unlock()

	if report.Healthy {
		if wasAlerted {
			h.logger.Info("health check recovered", logging.String(logging.FieldEventType, "health_recovered"))
		}
		return
	}
	summary := strings.Join(report.Problems, "; ")
	logging.WarnWithContext(h.logger, "health check found problems", "health_degraded",
		logging.String("problems", summary),
		logging.Alert("health"),
		logging.String(logging.FieldErrorHint, "run stride queue health for details"),
		logging.String(logging.FieldImpact, "session processing may fail"),
	)
	if wasAlerted || h.notifier == nil {
		return
	}
	if err := h.notifier.Publish(ctx, notifications.EventMaintenance, notifications.Payload{
		"task":    TaskHealth,
		"message": summary,
	}); err != nil {
		h.logger.Debug("health notification failed", logging.Error(err))
	}
}

func statfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
