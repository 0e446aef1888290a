package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stride/internal/config"
	"stride/internal/dispatch"
	"stride/internal/logging"
	"stride/internal/notifications"
	"stride/internal/pipeline"
	"stride/internal/services"
	"stride/internal/store"
	"stride/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// newFakeClock starts slightly ahead of the store clock so entries enqueued
// after construction are immediately eligible.
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Add(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type harness struct {
	cfg      *config.Config
	store    *store.Store
	engine   *testsupport.FakeEngine
	clock    *fakeClock
	notifier *recordingNotifier
	disp     *dispatch.Dispatcher
}

func newHarness(t *testing.T, opts ...testsupport.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Dispatcher.PollInterval = 1
	cfg.Dispatcher.HeartbeatInterval = 1
	cfg.Dispatcher.HeartbeatTimeout = 60
	st := testsupport.MustOpenStore(t, cfg)
	engine := testsupport.NewFakeEngine()
	orch := pipeline.New(cfg, st.Sessions(), engine, testsupport.NewFakeGateway(), logging.NewNop())
	clock := newFakeClock()
	notifier := &recordingNotifier{}
	disp := dispatch.New(cfg, st, orch, logging.NewNop(),
		dispatch.WithClock(clock.Now),
		dispatch.WithNotifier(notifier),
	)
	return &harness{cfg: cfg, store: st, engine: engine, clock: clock, notifier: notifier, disp: disp}
}

func (h *harness) submit(t *testing.T, subject string) (*store.Session, *store.QueueEntry) {
	t.Helper()
	sess := testsupport.MustCreateSession(t, h.store, testsupport.SessionSpec(subject))
	entry, err := h.disp.Enqueue(context.Background(), sess.ID, "", -1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return sess, entry
}

func (h *harness) runOnce(t *testing.T) bool {
	t.Helper()
	worked, err := h.disp.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	return worked
}

func (h *harness) entry(t *testing.T, id int64) *store.QueueEntry {
	t.Helper()
	entry, err := h.store.Queue().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	return entry
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	h := newHarness(t)
	_, entry := h.submit(t, "defaults")
	if entry.Priority != 5 || entry.MaxRetries != 3 || entry.Kind != store.DefaultEntryKind {
		t.Fatalf("unexpected defaults: %+v", entry)
	}
}

func TestRunOnceCompletesSession(t *testing.T) {
	h := newHarness(t)
	sess, entry := h.submit(t, "alice")

	if !h.runOnce(t) {
		t.Fatal("expected an entry to be processed")
	}
	if got := h.entry(t, entry.ID); got.Status != store.EntryCompleted || got.RetryCount != 0 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got := testsupport.MustGetSession(t, h.store, sess.ID); got.State != store.StateCompleted {
		t.Fatalf("expected completed session, got %s", got.State)
	}
	if h.runOnce(t) {
		t.Fatal("expected an empty queue")
	}
	if events := h.notifier.Events(); len(events) != 1 || events[0] != notifications.EventSessionCompleted {
		t.Fatalf("unexpected notifications: %v", events)
	}
	status := h.disp.Status(context.Background())
	if status.Completed != 1 || status.QueueStats.Completed != 1 || status.LastEntry == nil {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestTimeoutsRetriedUntilSuccess(t *testing.T) {
	h := newHarness(t)
	h.engine.FailNext(context.DeadlineExceeded, context.DeadlineExceeded)
	sess, entry := h.submit(t, "bob")

	for attempt := 1; attempt <= 2; attempt++ {
		if !h.runOnce(t) {
			t.Fatalf("attempt %d: expected a claim", attempt)
		}
		got := h.entry(t, entry.ID)
		if got.Status != store.EntryPending || got.RetryCount != attempt {
			t.Fatalf("attempt %d: unexpected entry %+v", attempt, got)
		}
		if s := testsupport.MustGetSession(t, h.store, sess.ID); s.State != store.StateQueued {
			t.Fatalf("attempt %d: expected queued session, got %s", attempt, s.State)
		}
		if h.runOnce(t) {
			t.Fatalf("attempt %d: entry claimed before its backoff elapsed", attempt)
		}
		h.clock.Advance(10 * time.Second)
	}

	if !h.runOnce(t) {
		t.Fatal("expected the final attempt to run")
	}
	got := h.entry(t, entry.ID)
	if got.Status != store.EntryCompleted || got.RetryCount != 2 {
		t.Fatalf("expected completed entry with retry count 2, got %+v", got)
	}
	if s := testsupport.MustGetSession(t, h.store, sess.ID); s.State != store.StateCompleted {
		t.Fatalf("expected completed session, got %s", s.State)
	}
	if h.engine.Calls() != 3 {
		t.Fatalf("expected 3 engine calls, got %d", h.engine.Calls())
	}
}

func TestRetryBudgetExhaustionFailsSession(t *testing.T) {
	h := newHarness(t)
	h.engine.FailNext(
		errors.New("engine unavailable"),
		errors.New("engine unavailable"),
		errors.New("engine unavailable"),
	)
	sess, entry := h.submit(t, "carol")

	for i := 0; i < 3; i++ {
		if !h.runOnce(t) {
			t.Fatalf("attempt %d: expected a claim", i+1)
		}
		h.clock.Advance(time.Minute)
	}

	got := h.entry(t, entry.ID)
	if got.Status != store.EntryFailed || got.RetryCount != got.MaxRetries || got.LastError == "" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	s := testsupport.MustGetSession(t, h.store, sess.ID)
	if s.State != store.StateFailed || s.ErrorMessage == "" || s.ProcessingCompletedAt == nil {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.ErrorMessage != got.LastError {
		t.Fatalf("session and entry errors differ: %q vs %q", s.ErrorMessage, got.LastError)
	}
	metrics, err := h.store.Metrics().ListBySession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(metrics) != 0 {
		t.Fatalf("expected no metric rows, got %d", len(metrics))
	}
	if h.runOnce(t) {
		t.Fatal("failed entry must not be claimed again")
	}
	events := h.notifier.Events()
	if len(events) != 1 || events[0] != notifications.EventSessionFailed {
		t.Fatalf("unexpected notifications: %v", events)
	}
}

func TestNonRetryableFailureFailsImmediately(t *testing.T) {
	h := newHarness(t)
	h.engine.FailNext(services.Wrap(services.ErrValidation, "analysis", "analyze", "unsupported category", nil))
	sess, entry := h.submit(t, "dave")

	h.runOnce(t)
	got := h.entry(t, entry.ID)
	if got.Status != store.EntryFailed || got.RetryCount != 1 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if s := testsupport.MustGetSession(t, h.store, sess.ID); s.State != store.StateFailed {
		t.Fatalf("expected failed session, got %s", s.State)
	}
}

func TestStaleEntryIsReclaimed(t *testing.T) {
	h := newHarness(t)
	sess, entry := h.submit(t, "erin")
	ctx := context.Background()

	// Simulate a dispatcher that claimed the entry and crashed.
	if _, err := h.store.Queue().Claim(ctx, entry.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := h.store.Sessions().UpdateState(ctx, sess.ID, store.StateProcessing); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if h.runOnce(t) {
		t.Fatal("fresh claim must not be reclaimed")
	}

	h.clock.Advance(2 * time.Minute)
	if !h.runOnce(t) {
		t.Fatal("expected the stale entry to be reclaimed and processed")
	}
	got := h.entry(t, entry.ID)
	if got.Status != store.EntryCompleted || got.RetryCount != 0 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestEntryForFailedSessionIsAbandoned(t *testing.T) {
	h := newHarness(t)
	sess, entry := h.submit(t, "frank")
	if err := h.store.Sessions().RecordError(context.Background(), sess.ID, "cancelled by operator"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}

	h.runOnce(t)
	got := h.entry(t, entry.ID)
	if got.Status != store.EntryFailed || got.RetryCount != 0 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if h.engine.Calls() != 0 {
		t.Fatal("engine must not run for a failed session")
	}
	if s := testsupport.MustGetSession(t, h.store, sess.ID); s.ErrorMessage != "cancelled by operator" {
		t.Fatalf("session error overwritten: %q", s.ErrorMessage)
	}
}

func TestShutdownReleasesEntry(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)
	h.engine.BlockUntil(release)
	sess, entry := h.submit(t, "gina")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.disp.RunOnce(ctx)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.engine.Calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("engine was never called")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	got := h.entry(t, entry.ID)
	if got.Status != store.EntryPending || got.RetryCount != 0 {
		t.Fatalf("expected released entry, got %+v", got)
	}
	if s := testsupport.MustGetSession(t, h.store, sess.ID); s.State != store.StateQueued {
		t.Fatalf("expected queued session, got %s", s.State)
	}
}

func TestStartProcessesQueue(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.submit(t, "hank")

	if err := h.disp.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.disp.Stop()
	if err := h.disp.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if s := testsupport.MustGetSession(t, h.store, sess.ID); s.State == store.StateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not processed")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !h.disp.Status(context.Background()).Running {
		t.Fatal("expected running status")
	}
	h.disp.Stop()
	if h.disp.Status(context.Background()).Running {
		t.Fatal("expected stopped status")
	}
}

func TestConfiguredRetryBudgetOfOneFailsOnFirstError(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxRetries(1))
	h.engine.FailNext(errors.New("engine unavailable"))
	sess, entry := h.submit(t, "dora")
	if entry.MaxRetries != 1 {
		t.Fatalf("expected budget 1, got %d", entry.MaxRetries)
	}

	if !h.runOnce(t) {
		t.Fatal("expected a claim")
	}
	got := h.entry(t, entry.ID)
	if got.Status != store.EntryFailed || got.RetryCount != 1 {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if s := testsupport.MustGetSession(t, h.store, sess.ID); s.State != store.StateFailed {
		t.Fatalf("expected failed session, got %s", s.State)
	}
}
