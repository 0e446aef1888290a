package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stride/internal/logging"
	"stride/internal/store"
)

// heartbeatMonitor refreshes in-flight entries and reclaims stale ones.
type heartbeatMonitor struct {
	queue    *store.QueueStore
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func newHeartbeatMonitor(queue *store.QueueStore, logger *slog.Logger, interval, timeout time.Duration, now func() time.Time) *heartbeatMonitor {
	return &heartbeatMonitor{
		queue:    queue,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		now:      now,
	}
}

// reclaimStale resets processing entries whose heartbeat is older than the
// configured timeout.
func (h *heartbeatMonitor) reclaimStale(ctx context.Context) (int64, error) {
	if h.timeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.timeout)
	reclaimed, err := h.queue.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed stale entries",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldEventType, "heartbeat_reclaim"),
		)
	}
	return reclaimed, nil
}

// startLoop runs a heartbeat updater for entryID until ctx is cancelled.
func (h *heartbeatMonitor) startLoop(ctx context.Context, wg *sync.WaitGroup, entryID int64) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.queue.UpdateHeartbeat(ctx, entryID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed",
						logging.Error(err),
						logging.String(logging.FieldEventType, "heartbeat_failed"),
						logging.String(logging.FieldErrorHint, "check queue database access"),
						logging.String(logging.FieldImpact, "entry may be reclaimed by another dispatcher"),
					)
				}
			}
		}
	}
}
