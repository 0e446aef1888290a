package api

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"stride/internal/metrics"
	"stride/internal/services"
	"stride/internal/store"
)

// SessionCreator persists new sessions.
type SessionCreator interface {
	Create(ctx context.Context, spec store.SessionSpec) (*store.Session, error)
}

// Enqueuer schedules a session for dispatch. A negative priority selects the
// configured default.
type Enqueuer interface {
	Enqueue(ctx context.Context, sessionID, kind string, priority int) (*store.QueueEntry, error)
}

// SubmitRequest is the intake payload accepted by POST /api/sessions.
type SubmitRequest struct {
	store.SessionSpec
	Enqueue  bool   `json:"enqueue"`
	Priority *int   `json:"priority,omitempty" validate:"omitnil,gte=0"`
	Kind     string `json:"kind,omitempty" validate:"omitempty,max=64,alphanum"`
}

// IntakeService accepts new sessions.
type IntakeService struct {
	sessions SessionCreator
	queue    Enqueuer
	metrics  *metrics.Metrics
}

// NewIntakeService wires intake. queue may be nil, in which case enqueue
// requests are rejected.
func NewIntakeService(sessions SessionCreator, queue Enqueuer, m *metrics.Metrics) *IntakeService {
	if sessions == nil {
		return nil
	}
	return &IntakeService{sessions: sessions, queue: queue, metrics: m}
}

// Submit validates req, creates the session and, when requested, enqueues it.
func (s *IntakeService) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if s == nil || s.sessions == nil {
		return SubmitResponse{}, services.Wrap(services.ErrConfiguration, "intake", "submit", "intake is not configured", nil)
	}
	req.Kind = strings.TrimSpace(req.Kind)
	if err := requestValidator.Struct(req); err != nil {
		return SubmitResponse{}, services.Wrap(services.ErrValidation, "intake", "submit", validationMessage(err), nil)
	}
	if req.Enqueue && s.queue == nil {
		return SubmitResponse{}, services.Wrap(services.ErrConfiguration, "intake", "submit", "dispatcher unavailable; cannot enqueue", nil)
	}

	sess, err := s.sessions.Create(ctx, req.SessionSpec)
	if err != nil {
		return SubmitResponse{}, err
	}
	s.metrics.IncSubmitted()

	resp := SubmitResponse{SessionID: sess.ID, State: string(sess.State)}
	if !req.Enqueue {
		return resp, nil
	}
	priority := -1
	if req.Priority != nil {
		priority = *req.Priority
	}
	entry, err := s.queue.Enqueue(ctx, sess.ID, req.Kind, priority)
	if err != nil {
		return resp, fmt.Errorf("enqueue session %s: %w", sess.ID, err)
	}
	dto := FromQueueEntry(entry)
	resp.Entry = &dto
	resp.State = string(store.StateQueued)
	return resp, nil
}

// EnqueueSession schedules an existing session.
func (s *IntakeService) EnqueueSession(ctx context.Context, sessionID, kind string, priority int) (*QueueEntry, error) {
	if s == nil || s.queue == nil {
		return nil, services.Wrap(services.ErrConfiguration, "intake", "enqueue", "dispatcher unavailable; cannot enqueue", nil)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, services.Wrap(services.ErrValidation, "intake", "enqueue", "sessionId is required", nil)
	}
	entry, err := s.queue.Enqueue(ctx, sessionID, strings.TrimSpace(kind), priority)
	if err != nil {
		return nil, err
	}
	dto := FromQueueEntry(entry)
	return &dto, nil
}

var requestValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}()

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "gte":
			parts = append(parts, fmt.Sprintf("%s must not be negative", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s is too long", fe.Field()))
		case "alphanum":
			parts = append(parts, fmt.Sprintf("%s must be alphanumeric", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
