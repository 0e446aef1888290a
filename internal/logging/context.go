package logging

import (
	"context"
	"log/slog"

	"stride/internal/services"
)

// Structured logging keys shared by every component.
const (
	FieldComponent     = "component"
	FieldSessionID     = "session_id"
	FieldEntryID       = "entry_id"
	FieldStage         = "stage"
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. stage_start, retry_scheduled).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the services error classification.
	FieldErrorKind = "error_kind"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldTask is the standardized key for maintenance task names.
	FieldTask = "task"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields converts the job scope carried on ctx into slog attributes,
// omitting identifiers that are not set.
func ContextFields(ctx context.Context) []slog.Attr {
	scope := services.ScopeFrom(ctx)
	var fields []slog.Attr
	if scope.SessionID != "" {
		fields = append(fields, slog.String(FieldSessionID, scope.SessionID))
	}
	if scope.EntryID != 0 {
		fields = append(fields, slog.Int64(FieldEntryID, scope.EntryID))
	}
	if scope.Stage != "" {
		fields = append(fields, slog.String(FieldStage, scope.Stage))
	}
	if scope.RequestID != "" {
		fields = append(fields, slog.String(FieldCorrelationID, scope.RequestID))
	}
	return fields
}

// WithContext returns logger annotated with the job scope carried on ctx. A
// nil logger is replaced by a discarding one.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(attrsToArgs(fields)...)
	}
	return logger
}
