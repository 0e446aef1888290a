package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stride/internal/services"
)

// ErrStateConflict marks a transition attempted from a state that does not
// allow it.
var ErrStateConflict = errors.New("session state conflict")

// allowedPredecessors lists, per target state, the states UpdateState may
// leave. Failed is reachable only through RecordError.
var allowedPredecessors = map[SessionState][]SessionState{
	StateQueued:     {StateUploaded, StateProcessing},
	StateProcessing: {StateQueued},
	StateCompleted:  {StateProcessing},
}

var nonTerminalStates = []SessionState{StateUploaded, StateQueued, StateProcessing}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SessionStore persists analysis sessions.
type SessionStore struct {
	store *Store
}

// Create validates spec and inserts a new session in the uploaded state.
func (s *SessionStore) Create(ctx context.Context, spec SessionSpec) (*Session, error) {
	spec.Subject = strings.TrimSpace(spec.Subject)
	spec.Category = strings.TrimSpace(spec.Category)
	spec.ArtifactRef = strings.TrimSpace(spec.ArtifactRef)
	if err := specValidator.Struct(spec); err != nil {
		return nil, services.Wrap(services.ErrValidation, "intake", "create session", validationMessage(err), nil)
	}

	var metadata any
	if len(spec.Metadata) > 0 {
		encoded, err := json.Marshal(spec.Metadata)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "intake", "encode metadata", "metadata is not JSON encodable", err)
		}
		metadata = string(encoded)
	}

	id := uuid.NewString()
	now := formatTime(s.store.clock())
	if _, err := s.store.execWithRetry(ctx,
		`INSERT INTO sessions (id, subject, category, artifact_ref, artifact_size, duration_seconds, frame_rate,
            width, height, retain, submit_metadata_json, state, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, spec.Subject, spec.Category, spec.ArtifactRef, spec.ArtifactSize, spec.DurationSeconds, spec.FrameRate,
		spec.Width, spec.Height, boolToInt(spec.Retain), metadata, StateUploaded, now, now,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns the session with id or a not-found error.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	return getSession(ensureContext(ctx), s.store.db, id)
}

func getSession(ctx context.Context, q execer, id string) (*Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpdateState moves the session to newState when its current state is an
// allowed predecessor. Entering processing stamps ProcessingStartedAt and
// entering completed stamps ProcessingCompletedAt.
func (s *SessionStore) UpdateState(ctx context.Context, id string, newState SessionState) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return transition(ctx, s.store.db, s.store.clock(), id, newState)
	})
}

func transition(ctx context.Context, q execer, now time.Time, id string, to SessionState) error {
	if to == StateFailed {
		return invalid("update state", "failed is recorded through RecordError")
	}
	from, ok := allowedPredecessors[to]
	if !ok {
		return invalid("update state", fmt.Sprintf("state %q cannot be entered", to))
	}
	stamp := formatTime(now)
	set := "state = ?, updated_at = ?"
	args := []any{to, stamp}
	switch to {
	case StateProcessing:
		set += ", processing_started_at = ?"
		args = append(args, stamp)
	case StateCompleted:
		set += ", processing_completed_at = ?"
		args = append(args, stamp)
	}
	return conditionalUpdate(ctx, q, id, set, args, from, string(to))
}

// conditionalUpdate applies set to the session only when its state is in
// from, distinguishing a missing session from a state conflict.
func conditionalUpdate(ctx context.Context, q execer, id, set string, args []any, from []SessionState, target string) error {
	query := `UPDATE sessions SET ` + set + ` WHERE id = ? AND state IN (` + makePlaceholders(len(from)) + `)`
	args = append(args, id)
	for _, state := range from {
		args = append(args, state)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if affected == 1 {
		return nil
	}
	var current string
	err = q.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("session", id)
	}
	if err != nil {
		return fmt.Errorf("read session %s state: %w", id, err)
	}
	return fmt.Errorf("%w: session %s is %s, cannot move to %s", ErrStateConflict, id, current, target)
}

// UpdateResults stores the result payload without changing state.
func (s *SessionStore) UpdateResults(ctx context.Context, id, result, rawMeasurements string) error {
	res, err := s.store.execWithRetry(ctx,
		`UPDATE sessions SET result_json = ?, raw_measurements_json = ?, updated_at = ? WHERE id = ?`,
		nullableString(result), nullableString(rawMeasurements), formatTime(s.store.clock()), id,
	)
	if err != nil {
		return fmt.Errorf("update results: %w", err)
	}
	return requireRow(res, "session", id)
}

// RecordError marks a non-terminal session failed with message.
func (s *SessionStore) RecordError(ctx context.Context, id, message string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return recordError(ctx, s.store.db, s.store.clock(), id, message)
	})
}

func recordError(ctx context.Context, q execer, now time.Time, id, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	stamp := formatTime(now)
	return conditionalUpdate(ctx, q, id,
		"state = ?, error_message = ?, processing_completed_at = ?, updated_at = ?",
		[]any{StateFailed, message, stamp, stamp},
		nonTerminalStates, string(StateFailed),
	)
}

// UpdateArtifact records the artifact metadata extracted by the pipeline.
func (s *SessionStore) UpdateArtifact(ctx context.Context, id string, meta ArtifactMetadata) error {
	res, err := s.store.execWithRetry(ctx,
		`UPDATE sessions SET artifact_size = ?, duration_seconds = ?, frame_rate = ?, width = ?, height = ?, updated_at = ?
         WHERE id = ?`,
		meta.SizeBytes, meta.DurationSeconds, meta.FrameRate, meta.Width, meta.Height, formatTime(s.store.clock()), id,
	)
	if err != nil {
		return fmt.Errorf("update artifact metadata: %w", err)
	}
	return requireRow(res, "session", id)
}

// SetGatewaySession persists the external gateway handle.
func (s *SessionStore) SetGatewaySession(ctx context.Context, id, externalID string) error {
	res, err := s.store.execWithRetry(ctx,
		`UPDATE sessions SET gateway_session_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(externalID), formatTime(s.store.clock()), id,
	)
	if err != nil {
		return fmt.Errorf("set gateway session: %w", err)
	}
	return requireRow(res, "session", id)
}

// SetRetain flags a session so the retention sweep keeps it.
func (s *SessionStore) SetRetain(ctx context.Context, id string, retain bool) error {
	res, err := s.store.execWithRetry(ctx,
		`UPDATE sessions SET retain = ?, updated_at = ? WHERE id = ?`,
		boolToInt(retain), formatTime(s.store.clock()), id,
	)
	if err != nil {
		return fmt.Errorf("set retain: %w", err)
	}
	return requireRow(res, "session", id)
}

// CommitResults writes the result payload, one metric row per measurement,
// and the processing to completed transition in one transaction.
func (s *SessionStore) CommitResults(ctx context.Context, id, result, rawMeasurements string, metrics []Metric) error {
	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		now := s.store.clock()
		stamp := formatTime(now)
		if err := conditionalUpdate(ctx, tx, id,
			"state = ?, result_json = ?, raw_measurements_json = ?, processing_completed_at = ?, updated_at = ?",
			[]any{StateCompleted, nullableString(result), nullableString(rawMeasurements), stamp, stamp},
			allowedPredecessors[StateCompleted], string(StateCompleted),
		); err != nil {
			return err
		}
		for i := range metrics {
			metrics[i].SessionID = id
			if metrics[i].RecordedAt.IsZero() {
				metrics[i].RecordedAt = now
			}
		}
		return insertMetrics(ctx, tx, metrics)
	})
}

// List returns sessions matching filter, newest first.
func (s *SessionStore) List(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if len(filter.States) > 0 {
		clauses = append(clauses, "state IN ("+makePlaceholders(len(filter.States))+")")
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if subject := strings.TrimSpace(filter.Subject); subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, subject)
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, category)
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteExpired hard-deletes terminal, non-retained sessions that finished
// before cutoff. Queue entries and metrics go with them through the foreign
// key cascade.
func (s *SessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]ExpiredSession, error) {
	var expired []ExpiredSession
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		expired = expired[:0]
		const where = ` WHERE state IN (?, ?) AND retain = 0 AND processing_completed_at < ?`
		args := []any{StateCompleted, StateFailed, formatTime(cutoff)}

		rows, err := tx.QueryContext(ctx, `SELECT id, artifact_ref FROM sessions`+where, args...)
		if err != nil {
			return fmt.Errorf("select expired sessions: %w", err)
		}
		for rows.Next() {
			var item ExpiredSession
			if err := rows.Scan(&item.ID, &item.ArtifactRef); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired session: %w", err)
			}
			expired = append(expired, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(expired) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`+where, args...); err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func requireRow(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound(kind, id)
	}
	return nil
}
