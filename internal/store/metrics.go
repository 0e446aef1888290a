package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// MetricStore reads and appends metric rows.
type MetricStore struct {
	store *Store
}

// InsertBatch appends metrics in one transaction. Every parent session must
// already be completed; otherwise nothing is written and the error wraps
// ErrStateConflict.
func (m *MetricStore) InsertBatch(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	now := m.store.clock()
	for i := range metrics {
		if metrics[i].RecordedAt.IsZero() {
			metrics[i].RecordedAt = now
		}
	}
	return m.store.withTx(ctx, func(tx *sql.Tx) error {
		checked := make(map[string]struct{}, 1)
		for _, metric := range metrics {
			if _, ok := checked[metric.SessionID]; ok || metric.SessionID == "" {
				continue
			}
			if err := requireCompleted(ctx, tx, metric.SessionID); err != nil {
				return err
			}
			checked[metric.SessionID] = struct{}{}
		}
		return insertMetrics(ctx, tx, metrics)
	})
}

func requireCompleted(ctx context.Context, q execer, id string) error {
	var state string
	err := q.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("session", id)
	}
	if err != nil {
		return fmt.Errorf("read session %s state: %w", id, err)
	}
	if SessionState(state) != StateCompleted {
		return fmt.Errorf("%w: session %s is %s, metrics need a completed session", ErrStateConflict, id, state)
	}
	return nil
}

func insertMetrics(ctx context.Context, tx *sql.Tx, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (session_id, name, value, unit, confidence, region, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare metric insert: %w", err)
	}
	defer stmt.Close()
	for _, metric := range metrics {
		name := strings.TrimSpace(metric.Name)
		if metric.SessionID == "" || name == "" {
			return invalid("insert metrics", "metric rows need a session id and a name")
		}
		if _, err := stmt.ExecContext(ctx,
			metric.SessionID, name, metric.Value, nullableString(metric.Unit), metric.Confidence,
			nullableString(metric.Region), formatTime(metric.RecordedAt),
		); err != nil {
			return fmt.Errorf("insert metric %s: %w", name, err)
		}
	}
	return nil
}

// ListBySession returns the metric rows of a session ordered by name.
func (m *MetricStore) ListBySession(ctx context.Context, sessionID string) ([]*Metric, error) {
	rows, err := m.store.db.QueryContext(ensureContext(ctx),
		`SELECT `+metricColumns+` FROM metrics WHERE session_id = ? ORDER BY name ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*Metric
	for rows.Next() {
		metric, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// Samples returns every metric of completed sessions joined with the
// session subject, grouped by subject, category, and metric, oldest first.
func (m *MetricStore) Samples(ctx context.Context) ([]Sample, error) {
	rows, err := m.store.db.QueryContext(ensureContext(ctx),
		`SELECT s.subject, s.category, m.name, m.value, COALESCE(s.processing_completed_at, m.recorded_at)
         FROM metrics m JOIN sessions s ON s.id = m.session_id
         WHERE s.state = ?
         ORDER BY s.subject, s.category, m.name, COALESCE(s.processing_completed_at, m.recorded_at), m.id`,
		StateCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("load metric samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			sample Sample
			raw    string
		)
		if err := rows.Scan(&sample.Subject, &sample.Category, &sample.Metric, &sample.Value, &raw); err != nil {
			return nil, fmt.Errorf("scan metric sample: %w", err)
		}
		if t, err := parseTimeString(raw); err == nil {
			sample.RecordedAt = t
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
