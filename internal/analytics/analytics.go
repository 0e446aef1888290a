// Package analytics derives per-subject summaries from stored metrics.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"stride/internal/config"
	"stride/internal/store"
)

// trendThreshold is the relative change between the older and newer halves
// of the trend window below which a metric counts as stable.
const trendThreshold = 0.05

// Refresher recomputes stored aggregates.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// SQLiteRefresher reads samples from and writes aggregates to the store.
type SQLiteRefresher struct {
	store        *store.Store
	trendSamples int
	now          func() time.Time
}

// NewSQLiteRefresher builds the default refresher.
func NewSQLiteRefresher(cfg *config.Config, st *store.Store) *SQLiteRefresher {
	n := 10
	if cfg != nil && cfg.Maintenance.AggregateTrendSamples >= 2 {
		n = cfg.Maintenance.AggregateTrendSamples
	}
	return &SQLiteRefresher{store: st, trendSamples: n, now: time.Now}
}

// Refresh replaces every aggregate and returns how many were written.
func (r *SQLiteRefresher) Refresh(ctx context.Context) (int, error) {
	samples, err := r.store.Metrics().Samples(ctx)
	if err != nil {
		return 0, err
	}
	aggregates := Compute(samples, r.trendSamples, r.now().UTC())
	if err := r.store.Aggregates().Replace(ctx, aggregates); err != nil {
		return 0, fmt.Errorf("replace aggregates: %w", err)
	}
	return len(aggregates), nil
}

type seriesKey struct {
	subject, category, metric string
}

// Compute groups samples by subject, category, and metric. Samples must be
// ordered oldest first within each group, as MetricStore.Samples returns them.
func Compute(samples []store.Sample, trendSamples int, refreshedAt time.Time) []store.Aggregate {
	var (
		order  []seriesKey
		series = make(map[seriesKey][]store.Sample)
	)
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		key := seriesKey{s.Subject, s.Category, s.Metric}
		if _, ok := series[key]; !ok {
			order = append(order, key)
		}
		series[key] = append(series[key], s)
	}

	out := make([]store.Aggregate, 0, len(order))
	for _, key := range order {
		values := series[key]
		agg := store.Aggregate{
			Subject:     key.subject,
			Category:    key.category,
			Metric:      key.metric,
			SampleCount: len(values),
			Min:         values[0].Value,
			Max:         values[0].Value,
			RefreshedAt: refreshedAt,
		}
		sum := 0.0
		for _, v := range values {
			sum += v.Value
			agg.Min = math.Min(agg.Min, v.Value)
			agg.Max = math.Max(agg.Max, v.Value)
		}
		last := values[len(values)-1]
		agg.Mean = sum / float64(len(values))
		agg.Latest = last.Value
		agg.LatestAt = last.RecordedAt
		agg.Trend = Trend(values, trendSamples)
		out = append(out, agg)
	}
	return out
}

// Trend compares the mean of the newer half of the last n samples with the
// older half. Fewer than two samples are stable.
func Trend(values []store.Sample, n int) store.Trend {
	if n < 2 {
		n = 2
	}
	if len(values) > n {
		values = values[len(values)-n:]
	}
	if len(values) < 2 {
		return store.TrendStable
	}
	half := len(values) / 2
	older := mean(values[:half])
	newer := mean(values[len(values)-half:])

	scale := math.Abs(older)
	if scale == 0 {
		scale = 1
	}
	change := (newer - older) / scale
	switch {
	case change > trendThreshold:
		return store.TrendImproving
	case change < -trendThreshold:
		return store.TrendDeclining
	default:
		return store.TrendStable
	}
}

func mean(values []store.Sample) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v.Value
	}
	return sum / float64(len(values))
}
