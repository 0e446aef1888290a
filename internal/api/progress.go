package api

import (
	"math"
	"time"

	"stride/internal/store"
)

const (
	// baseProcessingSeconds is the estimate for a 60 fps artifact.
	baseProcessingSeconds = 30.0
	defaultFrameRate      = 120.0
)

var stateProgress = map[store.SessionState]int{
	store.StateUploaded:   10,
	store.StateQueued:     20,
	store.StateProcessing: 60,
	store.StateCompleted:  100,
	store.StateFailed:     0,
}

// ProgressPercent maps a session state to its coarse progress value.
func ProgressPercent(state store.SessionState) int {
	return stateProgress[state]
}

// EstimatedProcessingTime scales the base estimate by frame rate. Unknown
// frame rates assume a high-speed capture.
func EstimatedProcessingTime(frameRate float64) time.Duration {
	if frameRate <= 0 || math.IsNaN(frameRate) || math.IsInf(frameRate, 0) {
		frameRate = defaultFrameRate
	}
	seconds := baseProcessingSeconds * frameRate / 60
	return time.Duration(seconds * float64(time.Second))
}

// EstimatedRemaining returns the full estimate before processing, the
// estimate minus elapsed processing time (never negative) while processing,
// and zero for terminal sessions.
func EstimatedRemaining(s *store.Session, now time.Time) time.Duration {
	if s == nil || s.State.IsTerminal() {
		return 0
	}
	total := EstimatedProcessingTime(s.FrameRate)
	if s.State != store.StateProcessing || s.ProcessingStartedAt == nil {
		return total
	}
	remaining := total - now.Sub(*s.ProcessingStartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
