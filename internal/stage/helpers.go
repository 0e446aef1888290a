package stage

import (
	"context"
	"errors"
	"time"

	"stride/internal/services"
)

// WithTimeout bounds a collaborator call. A non-positive timeout leaves ctx
// unbounded.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Seconds converts a configured seconds value to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ClassifyCallError maps a collaborator failure to a services error. A
// deadline becomes ErrTimeout, an already-classified error is returned as is,
// and anything else is tagged with fallback.
func ClassifyCallError(err error, fallback error, name Name, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, string(name), operation, "call exceeded its deadline", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	return services.Wrap(fallback, string(name), operation, "", err)
}
