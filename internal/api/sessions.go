package api

import (
	"context"
	"strings"
	"time"

	"stride/internal/services"
	"stride/internal/store"
)

// SessionReader abstracts session persistence needed for API queries and
// the retention flag.
type SessionReader interface {
	Get(ctx context.Context, id string) (*store.Session, error)
	List(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error)
	SetRetain(ctx context.Context, id string, retain bool) error
}

// MetricReader returns stored metric rows.
type MetricReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]*store.Metric, error)
}

// AggregateReader returns stored per-subject aggregates.
type AggregateReader interface {
	List(ctx context.Context, subject, category string) ([]store.Aggregate, error)
}

// SessionService exposes session views and the retention flag.
type SessionService struct {
	sessions   SessionReader
	metrics    MetricReader
	aggregates AggregateReader
	now        func() time.Time
}

// NewSessionService constructs a SessionService. metrics and aggregates may
// be nil.
func NewSessionService(sessions SessionReader, metrics MetricReader, aggregates AggregateReader) *SessionService {
	if sessions == nil {
		return nil
	}
	return &SessionService{sessions: sessions, metrics: metrics, aggregates: aggregates, now: time.Now}
}

// Describe returns one session.
func (s *SessionService) Describe(ctx context.Context, id string) (*Session, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromSession(sess)
	return &dto, nil
}

// SetRetention flags or unflags a session for the retention sweep and
// returns the updated session.
func (s *SessionService) SetRetention(ctx context.Context, id string, retain bool) (*Session, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SetRetain(ctx, sess.ID, retain); err != nil {
		return nil, err
	}
	return s.Describe(ctx, sess.ID)
}

// Status returns the polling view with progress and remaining time.
func (s *SessionService) Status(ctx context.Context, id string) (StatusView, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	remaining := EstimatedRemaining(sess, s.now())
	return StatusView{
		SessionID:                     sess.ID,
		State:                         string(sess.State),
		ProgressPercent:               ProgressPercent(sess.State),
		EstimatedTimeRemainingSeconds: int(remaining.Round(time.Second) / time.Second),
	}, nil
}

// Results returns the stored outcome. Results are only present once the
// session completed; failed sessions carry the error message instead.
func (s *SessionService) Results(ctx context.Context, id string) (ResultsView, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return ResultsView{}, err
	}
	view := ResultsView{
		SessionID:            sess.ID,
		State:                string(sess.State),
		ErrorMessage:         sess.ErrorMessage,
		ProcessingDurationMs: sess.ProcessingDuration().Milliseconds(),
	}
	if sess.State == store.StateCompleted {
		view.Result = rawJSON(sess.ResultJSON)
		view.RawMeasurements = rawJSON(sess.RawMeasurementsJSON)
	}
	return view, nil
}

// Metrics returns the metric rows of a session.
func (s *SessionService) Metrics(ctx context.Context, id string) ([]Metric, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.metrics == nil {
		return []Metric{}, nil
	}
	rows, err := s.metrics.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return FromMetrics(rows), nil
}

// List returns sessions matching filter.
func (s *SessionService) List(ctx context.Context, filter store.SessionFilter) ([]Session, error) {
	if s == nil || s.sessions == nil {
		return nil, nil
	}
	sessions, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromSessions(sessions), nil
}

// Trends returns the stored aggregates of a subject, optionally narrowed to
// one category.
func (s *SessionService) Trends(ctx context.Context, subject, category string) ([]Trend, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "trends", "subject is required", nil)
	}
	if s == nil || s.aggregates == nil {
		return []Trend{}, nil
	}
	aggregates, err := s.aggregates.List(ctx, subject, strings.TrimSpace(category))
	if err != nil {
		return nil, err
	}
	return FromAggregates(aggregates), nil
}

func (s *SessionService) get(ctx context.Context, id string) (*store.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "lookup", "session id is required", nil)
	}
	if s == nil || s.sessions == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "lookup", "session store unavailable", nil)
	}
	return s.sessions.Get(ctx, id)
}
