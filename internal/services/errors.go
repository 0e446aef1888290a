package services

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrArtifact      = errors.New("artifact error")
	ErrNetwork       = errors.New("network error")
	ErrTimeout       = errors.New("timeout")
	ErrAnalysis      = errors.New("analysis error")
	ErrStorage       = errors.New("storage error")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
)

// Kind names the error class carried by a marker.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindArtifact      Kind = "artifact"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindAnalysis      Kind = "analysis"
	KindStorage       Kind = "storage"
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// Error is the structured failure produced by Wrap.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Marker.Error())
	b.WriteString(": ")
	b.WriteString(buildDetail(e.Stage, e.Operation, e.Message))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrStorage
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// Retryable reports whether the dispatcher may schedule another attempt after
// err. Validation, configuration, and not-found failures are terminal; a
// cancelled context is never retried because the run was interrupted rather
// than failed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}

// KindOf classifies err by its marker.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrArtifact):
		return KindArtifact
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrAnalysis):
		return KindAnalysis
	case errors.Is(err, ErrStorage):
		return KindStorage
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindUnknown
	}
}

// ErrorDetails is a flattened view of a service error for logging and
// operator-facing messages.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details extracts structured fields from err. Errors not produced by Wrap
// yield their text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindOf(err)}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		details.Stage = svcErr.Stage
		details.Operation = svcErr.Operation
		details.Message = svcErr.Message
		details.Cause = svcErr.Cause
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
