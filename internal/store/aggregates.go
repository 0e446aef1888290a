package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AggregateStore persists per-subject metric summaries.
type AggregateStore struct {
	store *Store
}

// Replace swaps the full aggregate table for aggregates in one transaction.
func (a *AggregateStore) Replace(ctx context.Context, aggregates []Aggregate) error {
	return a.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subject_aggregates`); err != nil {
			return fmt.Errorf("clear aggregates: %w", err)
		}
		if len(aggregates) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO subject_aggregates (subject, category, metric, sample_count, mean, min, max, latest,
                latest_at, trend, refreshed_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare aggregate insert: %w", err)
		}
		defer stmt.Close()
		for _, agg := range aggregates {
			if _, err := stmt.ExecContext(ctx,
				agg.Subject, agg.Category, agg.Metric, agg.SampleCount, agg.Mean, agg.Min, agg.Max, agg.Latest,
				formatTime(agg.LatestAt), string(agg.Trend), formatTime(agg.RefreshedAt),
			); err != nil {
				return fmt.Errorf("insert aggregate %s/%s/%s: %w", agg.Subject, agg.Category, agg.Metric, err)
			}
		}
		return nil
	})
}

// List returns aggregates for subject, optionally narrowed to category.
func (a *AggregateStore) List(ctx context.Context, subject, category string) ([]Aggregate, error) {
	query := `SELECT subject, category, metric, sample_count, mean, min, max, latest, latest_at, trend, refreshed_at
              FROM subject_aggregates WHERE subject = ?`
	args := []any{strings.TrimSpace(subject)}
	if category = strings.TrimSpace(category); category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, metric`

	rows, err := a.store.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var (
			agg          Aggregate
			trend        string
			latestRaw    string
			refreshedRaw string
		)
		if err := rows.Scan(&agg.Subject, &agg.Category, &agg.Metric, &agg.SampleCount, &agg.Mean, &agg.Min,
			&agg.Max, &agg.Latest, &latestRaw, &trend, &refreshedRaw); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		agg.Trend = Trend(trend)
		if t, err := parseTimeString(latestRaw); err == nil {
			agg.LatestAt = t
		}
		if t, err := parseTimeString(refreshedRaw); err == nil {
			agg.RefreshedAt = t
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
