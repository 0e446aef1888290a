package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stride/internal/logging"
	"stride/internal/metrics"
	"stride/internal/notifications"
	"stride/internal/pipeline"
	"stride/internal/services"
	"stride/internal/store"
)

const releaseTimeout = 5 * time.Second

// Enqueue schedules an uploaded session for analysis. An empty kind selects
// the default job kind and a negative priority selects
// dispatcher.default_priority.
func (d *Dispatcher) Enqueue(ctx context.Context, sessionID, kind string, priority int) (*store.QueueEntry, error) {
	if priority < 0 {
		priority = d.defaultPriority
	}
	entry, err := d.store.Queue().Enqueue(ctx, store.EnqueueRequest{
		SessionID:  sessionID,
		Kind:       kind,
		Priority:   priority,
		MaxRetries: d.maxRetries,
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithSessionID(ctx, sessionID), d.logger).Info("session enqueued",
		logging.String(logging.FieldEventType, "session_enqueued"),
		logging.Int64(logging.FieldEntryID, entry.ID),
		logging.Int("priority", entry.Priority),
		logging.Int("max_retries", entry.MaxRetries),
	)
	return entry, nil
}

// RunOnce reclaims stale entries, then claims and processes at most one
// entry. It reports whether an entry was claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	reclaimed, err := d.heartbeat.reclaimStale(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "reclaim stale entries failed; stuck entries may remain", "heartbeat_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	}
	d.metrics.AddReclaimed(reclaimed)

	entry, err := d.store.Queue().ClaimNext(ctx, d.now())
	if err != nil {
		return false, fmt.Errorf("claim next entry: %w", err)
	}
	if entry == nil {
		return false, nil
	}
	d.metrics.IncClaims()
	d.setLastEntry(entry)

	ctx = services.WithEntryID(services.WithSessionID(ctx, entry.SessionID), entry.ID)
	logger := logging.WithContext(ctx, d.logger)
	return true, d.process(ctx, logger, entry)
}

func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, entry *store.QueueEntry) error {
	sess, err := d.store.Sessions().Get(ctx, entry.SessionID)
	if err != nil {
		d.release(ctx, logger, entry)
		return fmt.Errorf("load session %s: %w", entry.SessionID, err)
	}

	switch sess.State {
	case store.StateCompleted:
		logger.Info("session already completed; closing entry",
			logging.String(logging.FieldEventType, "entry_closed"))
		return d.store.Queue().Complete(ctx, entry.ID)
	case store.StateFailed:
		logger.Info("session already failed; abandoning entry",
			logging.String(logging.FieldEventType, "entry_abandoned"))
		_, err := d.store.Queue().Abandon(ctx, entry.ID, "session already failed")
		d.metrics.IncAttempt(metrics.OutcomeSkipped)
		return err
	case store.StateProcessing:
		// Left over from an interrupted run; the claim is ours now.
	default:
		if err := d.store.Sessions().UpdateState(ctx, sess.ID, store.StateProcessing); err != nil {
			d.release(ctx, logger, entry)
			return fmt.Errorf("mark session processing: %w", err)
		}
		sess.State = store.StateProcessing
	}

	logger.Info("session processing started",
		logging.String(logging.FieldEventType, "session_start"),
		logging.Int("attempt", entry.RetryCount+1),
		logging.Int("max_retries", entry.MaxRetries),
	)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go d.heartbeat.startLoop(hbCtx, &wg, entry.ID)

	outcome := d.runner.Run(ctx, sess)

	stopHeartbeat()
	wg.Wait()

	return d.record(ctx, logger, entry, sess, outcome)
}

func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, entry *store.QueueEntry, sess *store.Session, outcome pipeline.Outcome) error {
	if outcome.Succeeded() {
		if err := d.store.Queue().Complete(ctx, entry.ID); err != nil {
			return fmt.Errorf("complete entry: %w", err)
		}
		d.metrics.IncAttempt(metrics.OutcomeCompleted)
		d.bump(func(c *outcomeCounts) { c.completed++ })
		d.notify(ctx, logger, notifications.EventSessionCompleted, notifications.Payload{
			"subject":  sess.Subject,
			"category": sess.Category,
			"metrics":  len(outcome.Result.Measurements.Metrics),
		})
		return nil
	}

	if errors.Is(outcome.Err, context.Canceled) && ctx.Err() != nil {
		d.release(ctx, logger, entry)
		d.metrics.IncAttempt(metrics.OutcomeSkipped)
		return ctx.Err()
	}

	message := failureMessage(outcome)
	details := services.Details(outcome.Err)
	attempt := entry.RetryCount + 1

	if outcome.Retryable && attempt < entry.MaxRetries {
		delay := d.backoff.delay(attempt)
		notBefore := d.now().Add(delay)
		if _, err := d.store.Queue().Reschedule(ctx, entry.ID, message, notBefore); err != nil {
			return fmt.Errorf("reschedule entry: %w", err)
		}
		d.metrics.IncAttempt(metrics.OutcomeRetried)
		d.bump(func(c *outcomeCounts) { c.retried++ })
		logging.WarnWithContext(logger, "stage failed; retry scheduled", "retry_scheduled",
			logging.String(logging.FieldStage, string(outcome.Stage)),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Int("attempt", attempt),
			logging.Int("max_retries", entry.MaxRetries),
			logging.Duration("backoff", delay),
			logging.Error(outcome.Err),
			logging.String(logging.FieldErrorHint, "no action needed unless retries keep failing"),
			logging.String(logging.FieldImpact, "session analysis delayed"),
		)
		return nil
	}

	if _, err := d.store.Queue().Fail(ctx, entry.ID, message); err != nil {
		return fmt.Errorf("fail entry: %w", err)
	}
	d.metrics.IncAttempt(metrics.OutcomeFailed)
	d.bump(func(c *outcomeCounts) { c.failed++ })
	logging.ErrorWithContext(logger, "session failed", "session_failed",
		logging.String(logging.FieldStage, string(outcome.Stage)),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.Int("attempt", attempt),
		logging.Bool("retryable", outcome.Retryable),
		logging.Alert("session_failure"),
		logging.Error(outcome.Err),
		logging.String(logging.FieldErrorHint, failureHint(outcome)),
	)
	d.notify(ctx, logger, notifications.EventSessionFailed, notifications.Payload{
		"subject":  sess.Subject,
		"category": sess.Category,
		"error":    message,
	})
	return nil
}

// release hands an interrupted entry back to the queue without counting the
// attempt. It uses a detached context so shutdown cannot skip it.
func (d *Dispatcher) release(ctx context.Context, logger *slog.Logger, entry *store.QueueEntry) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := d.store.Queue().Release(releaseCtx, entry.ID); err != nil {
		logging.WarnWithContext(logger, "release of interrupted entry failed", "entry_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "entry will be reclaimed after the heartbeat timeout"),
			logging.String(logging.FieldImpact, "session analysis delayed"),
		)
		return
	}
	logger.Info("entry released",
		logging.String(logging.FieldEventType, "entry_released"))
}

func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, notification not sent")
		} else {
			logger.Debug("notification failed", logging.Error(err), logging.String("event", string(event)))
		}
	}
}

func failureMessage(outcome pipeline.Outcome) string {
	if outcome.Err == nil {
		return fmt.Sprintf("%s failed without error detail", outcome.Stage)
	}
	message := strings.TrimSpace(outcome.Err.Error())
	if message == "" {
		message = fmt.Sprintf("%s failed", outcome.Stage)
	}
	return message
}

func failureHint(outcome pipeline.Outcome) string {
	if !outcome.Retryable {
		return "fix the session input and submit a new session"
	}
	return "retry budget exhausted; inspect the error and submit a new session"
}
