// Package dispatch drains the queue: it claims the next eligible entry, runs
// the pipeline for its session, and records the outcome.
//
// One entry is in flight at a time. While a run is active the dispatcher
// refreshes the entry heartbeat so a second process sharing the database
// does not reclaim it; entries whose heartbeat goes stale (a crashed
// process) are returned to pending at the start of each poll. Retryable
// failures are rescheduled with capped exponential backoff until the entry's
// retry budget runs out.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stride/internal/config"
	"stride/internal/logging"
	"stride/internal/metrics"
	"stride/internal/notifications"
	"stride/internal/pipeline"
	"stride/internal/store"
)

// Runner executes the pipeline for one session.
type Runner interface {
	Run(ctx context.Context, sess *store.Session) pipeline.Outcome
}

// Dispatcher coordinates claiming and running queue entries.
type Dispatcher struct {
	store    *store.Store
	runner   Runner
	notifier notifications.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	maxRetries         int
	defaultPriority    int
	backoff            backoffPolicy
	heartbeat          *heartbeatMonitor

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error
	lastEntry *store.QueueEntry
	counts    outcomeCounts
}

type outcomeCounts struct {
	completed int
	retried   int
	failed    int
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithNotifier sets the notification service used for completion and
// failure events.
func WithNotifier(n notifications.Service) Option {
	return func(d *Dispatcher) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithMetrics records claims and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides the wall clock used for eligibility, backoff, and
// stale heartbeat cutoffs.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New constructs a dispatcher.
func New(cfg *config.Config, st *store.Store, runner Runner, logger *slog.Logger, opts ...Option) *Dispatcher {
	logger = logging.NewComponentLogger(logger, "dispatcher")
	d := &Dispatcher{
		store:              st,
		runner:             runner,
		notifier:           notifications.NewService(cfg),
		logger:             logger,
		now:                time.Now,
		pollInterval:       cfg.PollInterval(),
		errorRetryInterval: time.Duration(cfg.Dispatcher.ErrorRetryInterval) * time.Second,
		maxRetries:         cfg.Dispatcher.MaxRetries,
		defaultPriority:    cfg.Dispatcher.DefaultPriority,
		backoff: backoffPolicy{
			base:   time.Duration(cfg.Dispatcher.BackoffBase) * time.Second,
			max:    time.Duration(cfg.Dispatcher.BackoffMax) * time.Second,
			jitter: cfg.Dispatcher.BackoffJitter,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.heartbeat = newHeartbeatMonitor(
		st.Queue(),
		logger,
		time.Duration(cfg.Dispatcher.HeartbeatInterval)*time.Second,
		time.Duration(cfg.Dispatcher.HeartbeatTimeout)*time.Second,
		d.now,
	)
	return d
}

// Start begins background polling.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	if d.runner == nil {
		d.mu.Unlock()
		return errors.New("dispatcher has no pipeline runner")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go d.loop(runCtx, done)
	return nil
}

// Stop terminates polling and waits for the in-flight run to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	<-done
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	d.logger.Info("dispatcher started",
		logging.String(logging.FieldEventType, "dispatcher_start"),
		logging.Duration("poll_interval", d.pollInterval),
	)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped", logging.String(logging.FieldEventType, "dispatcher_stop"))
			return
		default:
		}

		worked, err := d.RunOnce(ctx)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			continue
		case err != nil:
			d.setLastError(err)
			d.logger.Error("dispatch iteration failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			d.wait(ctx, d.errorRetryInterval)
		case !worked:
			d.wait(ctx, d.pollInterval)
		}
	}
}

func (d *Dispatcher) wait(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
