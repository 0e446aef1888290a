package dispatch

import (
	"context"

	"stride/internal/logging"
	"stride/internal/store"
)

// StatusSummary represents lightweight dispatcher diagnostics.
type StatusSummary struct {
	Running    bool              `json:"running"`
	LastError  string            `json:"lastError,omitempty"`
	LastEntry  *store.QueueEntry `json:"lastEntry,omitempty"`
	QueueStats store.QueueStats  `json:"queueStats"`
	Completed  int               `json:"completed"`
	Retried    int               `json:"retried"`
	Failed     int               `json:"failed"`
}

// Status returns the latest dispatcher information.
func (d *Dispatcher) Status(ctx context.Context) StatusSummary {
	d.mu.RLock()
	summary := StatusSummary{
		Running:   d.running,
		Completed: d.counts.completed,
		Retried:   d.counts.retried,
		Failed:    d.counts.failed,
	}
	if d.lastErr != nil {
		summary.LastError = d.lastErr.Error()
	}
	if d.lastEntry != nil {
		copy := *d.lastEntry
		summary.LastEntry = &copy
	}
	d.mu.RUnlock()

	stats, err := d.store.Queue().Stats(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Dispatcher) setLastEntry(entry *store.QueueEntry) {
	d.mu.Lock()
	d.lastEntry = entry
	d.mu.Unlock()
}

func (d *Dispatcher) bump(fn func(*outcomeCounts)) {
	d.mu.Lock()
	fn(&d.counts)
	d.mu.Unlock()
}
