package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"stride/internal/services"
)

func TestClassifyCallError(t *testing.T) {
	tagged := services.Wrap(services.ErrValidation, "analysis", "call", "bad input", nil)
	tests := []struct {
		name   string
		err    error
		marker error
	}{
		{"deadline", context.DeadlineExceeded, services.ErrTimeout},
		{"wrapped deadline", errors.Join(errors.New("dial"), context.DeadlineExceeded), services.ErrTimeout},
		{"already classified", tagged, services.ErrValidation},
		{"plain", errors.New("connection reset"), services.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyCallError(tt.err, services.ErrNetwork, Gateway, "register")
			if !errors.Is(got, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, got)
			}
		})
	}
	if ClassifyCallError(nil, services.ErrNetwork, Gateway, "register") != nil {
		t.Fatal("nil error should stay nil")
	}
	if got := ClassifyCallError(context.Canceled, services.ErrNetwork, Gateway, "register"); !errors.Is(got, context.Canceled) || services.Retryable(got) {
		t.Fatalf("cancellation should pass through as non-retryable, got %v", got)
	}
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 0)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("zero timeout should not set a deadline")
	}
	ctx2, cancel2 := WithTimeout(context.Background(), Seconds(5))
	defer cancel2()
	deadline, ok := ctx2.Deadline()
	if !ok || time.Until(deadline) > 5*time.Second {
		t.Fatalf("unexpected deadline %v", deadline)
	}
}

func TestOrderedStages(t *testing.T) {
	got := Ordered()
	if len(got) != 5 || got[0] != Metadata || got[4] != Persist {
		t.Fatalf("unexpected order: %v", got)
	}
}
