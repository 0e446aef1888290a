package services

import "context"

type ctxKey uint8

const (
	sessionIDKey ctxKey = iota + 1
	entryIDKey
	stageKey
	requestIDKey
)

// Scope is the set of job identifiers carried on a context.
type Scope struct {
	SessionID string
	EntryID   int64
	Stage     string
	RequestID string
}

// ScopeFrom collects every identifier present on ctx. Missing values are zero.
func ScopeFrom(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	var s Scope
	s.SessionID, _ = lookup[string](ctx, sessionIDKey)
	s.EntryID, _ = lookup[int64](ctx, entryIDKey)
	s.Stage, _ = lookup[string](ctx, stageKey)
	s.RequestID, _ = lookup[string](ctx, requestIDKey)
	return s
}

// WithSessionID annotates ctx with the analysis session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	return attach(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	return lookup[string](ctx, sessionIDKey)
}

// WithEntryID annotates ctx with the queue entry identifier.
func WithEntryID(ctx context.Context, id int64) context.Context {
	return attach(ctx, entryIDKey, id)
}

// EntryIDFromContext extracts the queue entry identifier if present.
func EntryIDFromContext(ctx context.Context) (int64, bool) {
	return lookup[int64](ctx, entryIDKey)
}

// WithStage annotates ctx with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return attach(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return lookup[string](ctx, stageKey)
}

// WithRequestID annotates ctx with an API request correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return attach(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return lookup[string](ctx, requestIDKey)
}

// attach leaves ctx untouched for zero values so blank identifiers never
// shadow a value set further up.
func attach[T comparable](ctx context.Context, key ctxKey, value T) context.Context {
	var zero T
	if value == zero {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup[T comparable](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	value, ok := ctx.Value(key).(T)
	if !ok || value == zero {
		return zero, false
	}
	return value, true
}
