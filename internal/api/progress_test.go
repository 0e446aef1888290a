package api

import (
	"testing"
	"time"

	"stride/internal/store"
)

func TestEstimatedProcessingTime(t *testing.T) {
	tests := []struct {
		fps  float64
		want time.Duration
	}{
		{fps: 60, want: 30 * time.Second},
		{fps: 240, want: 120 * time.Second},
		{fps: 30, want: 15 * time.Second},
		{fps: 0, want: 60 * time.Second},
		{fps: -5, want: 60 * time.Second},
	}
	for _, tt := range tests {
		if got := EstimatedProcessingTime(tt.fps); got != tt.want {
			t.Fatalf("fps %v: got %v want %v", tt.fps, got, tt.want)
		}
	}
}

func TestEstimatedRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Second)

	queued := &store.Session{State: store.StateQueued, FrameRate: 240}
	if got := EstimatedRemaining(queued, now); got != 120*time.Second {
		t.Fatalf("queued remaining = %v, want 120s", got)
	}

	processing := &store.Session{State: store.StateProcessing, FrameRate: 240, ProcessingStartedAt: &started}
	if got := EstimatedRemaining(processing, now); got != 30*time.Second {
		t.Fatalf("processing remaining = %v, want 30s", got)
	}

	overdue := &store.Session{State: store.StateProcessing, FrameRate: 60, ProcessingStartedAt: &started}
	if got := EstimatedRemaining(overdue, now); got != 0 {
		t.Fatalf("overdue remaining = %v, want 0", got)
	}

	for _, state := range []store.SessionState{store.StateCompleted, store.StateFailed} {
		if got := EstimatedRemaining(&store.Session{State: state, FrameRate: 240}, now); got != 0 {
			t.Fatalf("%s remaining = %v, want 0", state, got)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	want := map[store.SessionState]int{
		store.StateUploaded:   10,
		store.StateQueued:     20,
		store.StateProcessing: 60,
		store.StateCompleted:  100,
		store.StateFailed:     0,
	}
	for state, pct := range want {
		if got := ProgressPercent(state); got != pct {
			t.Fatalf("%s: got %d want %d", state, got, pct)
		}
	}
}
