// Package maintenance runs the daemon's recurring housekeeping: the
// retention sweep, the health self-check, the aggregate refresh, and log
// pruning.
//
// Every registered task runs on its own ticker in its own goroutine. A task
// error or panic is logged and recorded in its status; it never stops the
// other tasks or the dispatcher.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stride/internal/logging"
	"stride/internal/metrics"
	"stride/internal/services"
)

// Task is one recurring maintenance job.
type Task struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// TaskStatus reports the history of one task.
type TaskStatus struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         int           `json:"runs"`
	Failures     int           `json:"failures"`
	LastRun      time.Time     `json:"lastRun,omitzero"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
}

type taskState struct {
	task   Task
	runMu  sync.Mutex
	status TaskStatus
}

// Scheduler owns the registered tasks.
type Scheduler struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	tasks   map[string]*taskState
	order   []string
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewScheduler returns an empty scheduler.
func NewScheduler(logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		logger:  logging.NewComponentLogger(logger, "maintenance"),
		metrics: m,
		tasks:   make(map[string]*taskState),
	}
}

// Register adds a task. Tasks must be registered before Start.
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" {
		return errors.New("maintenance task requires a name")
	}
	if task.Run == nil {
		return fmt.Errorf("maintenance task %q has no run function", task.Name)
	}
	if task.Interval <= 0 {
		return fmt.Errorf("maintenance task %q requires a positive interval", task.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("register %q: scheduler already running", task.Name)
	}
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("maintenance task %q already registered", task.Name)
	}
	s.tasks[task.Name] = &taskState{
		task:   task,
		status: TaskStatus{Name: task.Name, Interval: task.Interval},
	}
	s.order = append(s.order, task.Name)
	return nil
}

// Start launches one goroutine per task.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("maintenance scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, name := range s.order {
		state := s.tasks[name]
		group.Go(func() error {
			s.loop(groupCtx, state)
			return nil
		})
	}
	s.cancel = cancel
	s.group = group
	s.running = true
	s.logger.Info("maintenance scheduler started",
		logging.String(logging.FieldEventType, "maintenance_start"),
		logging.Int("tasks", len(s.order)),
	)
	return nil
}

// Stop cancels all task loops and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	group := s.group
	s.running = false
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// RunNow executes the named task immediately and returns its error. It waits
// for a scheduled run of the same task to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	state, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "maintenance", "run task", fmt.Sprintf("unknown task %q", name), nil)
	}
	return s.execute(ctx, state)
}

// Status returns every task's status in name order.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, state := range s.tasks {
		out = append(out, state.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tasks lists registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Scheduler) loop(ctx context.Context, state *taskState) {
	if state.task.RunOnStart {
		_ = s.execute(ctx, state)
	}
	ticker := time.NewTicker(state.task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.execute(ctx, state)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, state *taskState) error {
	state.runMu.Lock()
	defer state.runMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	name := state.task.Name
	logger := s.logger.With(logging.String(logging.FieldTask, name))
	s.update(state, func(st *TaskStatus) { st.Running = true })

	started := time.Now()
	err := runGuarded(ctx, state.task.Run)
	elapsed := time.Since(started)
	s.metrics.ObserveMaintenance(name, elapsed, err)

	s.update(state, func(st *TaskStatus) {
		st.Running = false
		st.Runs++
		st.LastRun = started
		st.LastDuration = elapsed
		st.LastError = ""
		if err != nil {
			st.Failures++
			st.LastError = err.Error()
		}
	})

	switch {
	case err == nil:
		logger.Debug("maintenance task completed",
			logging.String(logging.FieldEventType, "maintenance_task_complete"),
			logging.Duration("duration", elapsed),
		)
	case errors.Is(err, context.Canceled):
		logger.Debug("maintenance task cancelled")
	default:
		logging.WarnWithContext(logger, "maintenance task failed", "maintenance_task_failed",
			logging.Error(err),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldErrorHint, "task will run again on its next interval"),
			logging.String(logging.FieldImpact, "housekeeping delayed"),
		)
	}
	return err
}

func (s *Scheduler) update(state *taskState, fn func(*TaskStatus)) {
	s.mu.Lock()
	fn(&state.status)
	s.mu.Unlock()
}

// runGuarded converts a panic in fn into an error.
func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
