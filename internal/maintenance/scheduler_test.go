package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stride/internal/logging"
	"stride/internal/services"
)

func TestRegisterValidatesTasks(t *testing.T) {
	s := NewScheduler(logging.NewNop(), nil)
	noop := func(context.Context) error { return nil }
	cases := []Task{
		{Interval: time.Second, Run: noop},
		{Name: "no-run", Interval: time.Second},
		{Name: "no-interval", Run: noop},
	}
	for _, task := range cases {
		if err := s.Register(task); err == nil {
			t.Fatalf("expected error for %+v", task)
		}
	}
	if err := s.Register(Task{Name: "ok", Interval: time.Second, Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(Task{Name: "ok", Interval: time.Second, Run: noop}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRunNowRecordsStatus(t *testing.T) {
	s := NewScheduler(logging.NewNop(), nil)
	calls := 0
	if err := s.Register(Task{Name: "count", Interval: time.Hour, Run: func(context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("boom")
		}
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.RunNow(context.Background(), "count"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow(context.Background(), "count"); err == nil {
		t.Fatal("expected second run to fail")
	}
	status := s.Status()
	if len(status) != 1 || status[0].Runs != 2 || status[0].Failures != 1 || status[0].LastError != "boom" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	s := NewScheduler(logging.NewNop(), nil)
	if err := s.Register(Task{Name: "panics", Interval: time.Hour, Run: func(context.Context) error {
		panic("corrupt state")
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := s.RunNow(context.Background(), "panics")
	if err == nil || !strings.Contains(err.Error(), "corrupt state") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestStartRunsTasksIndependently(t *testing.T) {
	s := NewScheduler(logging.NewNop(), nil)
	var healthy, broken atomic.Int32
	if err := s.Register(Task{Name: "healthy", Interval: 10 * time.Millisecond, RunOnStart: true, Run: func(context.Context) error {
		healthy.Add(1)
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(Task{Name: "broken", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		broken.Add(1)
		panic("always")
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Register(Task{Name: "late", Interval: time.Second, Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected registration after start to fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for healthy.Load() < 3 || broken.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("tasks did not keep running: healthy=%d broken=%d", healthy.Load(), broken.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	after := healthy.Load()
	time.Sleep(50 * time.Millisecond)
	if healthy.Load() != after {
		t.Fatal("task kept running after Stop")
	}
}
