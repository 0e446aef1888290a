package api

import (
	"encoding/json"
	"strings"
	"time"

	"stride/internal/dispatch"
	"stride/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func rawJSON(value string) json.RawMessage {
	value = strings.TrimSpace(value)
	if value == "" || !json.Valid([]byte(value)) {
		return nil
	}
	return json.RawMessage(value)
}

// FromSession converts a store session to its DTO.
func FromSession(s *store.Session) Session {
	if s == nil {
		return Session{}
	}
	return Session{
		ID:                    s.ID,
		GatewaySessionID:      s.GatewaySessionID,
		Subject:               s.Subject,
		Category:              s.Category,
		ArtifactRef:           s.ArtifactRef,
		ArtifactSize:          s.ArtifactSize,
		DurationSeconds:       s.DurationSeconds,
		FrameRate:             s.FrameRate,
		Width:                 s.Width,
		Height:                s.Height,
		Retain:                s.Retain,
		State:                 string(s.State),
		ErrorMessage:          s.ErrorMessage,
		Metadata:              rawJSON(s.SubmitMetadata),
		CreatedAt:             formatTime(s.CreatedAt),
		UpdatedAt:             formatTime(s.UpdatedAt),
		ProcessingStartedAt:   formatTimePtr(s.ProcessingStartedAt),
		ProcessingCompletedAt: formatTimePtr(s.ProcessingCompletedAt),
	}
}

// FromSessions converts a slice of sessions.
func FromSessions(sessions []*store.Session) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s == nil {
			continue
		}
		out = append(out, FromSession(s))
	}
	return out
}

// FromQueueEntry converts a store queue entry to its DTO.
func FromQueueEntry(e *store.QueueEntry) QueueEntry {
	if e == nil {
		return QueueEntry{}
	}
	return QueueEntry{
		ID:            e.ID,
		SessionID:     e.SessionID,
		Kind:          e.Kind,
		Priority:      e.Priority,
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		NotBefore:     formatTime(e.NotBefore),
		LastError:     e.LastError,
		CreatedAt:     formatTime(e.CreatedAt),
		UpdatedAt:     formatTime(e.UpdatedAt),
		ClaimedAt:     formatTimePtr(e.ClaimedAt),
		LastHeartbeat: formatTimePtr(e.LastHeartbeat),
		CompletedAt:   formatTimePtr(e.CompletedAt),
	}
}

// FromQueueEntries converts a slice of queue entries.
func FromQueueEntries(entries []*store.QueueEntry) []QueueEntry {
	out := make([]QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		out = append(out, FromQueueEntry(e))
	}
	return out
}

// FromMetrics converts metric rows.
func FromMetrics(metrics []*store.Metric) []Metric {
	out := make([]Metric, 0, len(metrics))
	for _, m := range metrics {
		if m == nil {
			continue
		}
		out = append(out, Metric{
			Name:       m.Name,
			Value:      m.Value,
			Unit:       m.Unit,
			Confidence: m.Confidence,
			Region:     m.Region,
			RecordedAt: formatTime(m.RecordedAt),
		})
	}
	return out
}

// FromAggregates converts stored aggregates.
func FromAggregates(aggregates []store.Aggregate) []Trend {
	out := make([]Trend, 0, len(aggregates))
	for _, a := range aggregates {
		out = append(out, Trend{
			Subject:     a.Subject,
			Category:    a.Category,
			Metric:      a.Metric,
			SampleCount: a.SampleCount,
			Mean:        a.Mean,
			Min:         a.Min,
			Max:         a.Max,
			Latest:      a.Latest,
			LatestAt:    formatTime(a.LatestAt),
			Trend:       string(a.Trend),
			RefreshedAt: formatTime(a.RefreshedAt),
		})
	}
	return out
}

// QueueStatsMap flattens queue stats into status-keyed counts plus "total".
func QueueStatsMap(stats store.QueueStats) map[string]int {
	return map[string]int{
		string(store.EntryPending):    stats.Pending,
		string(store.EntryProcessing): stats.Processing,
		string(store.EntryCompleted):  stats.Completed,
		string(store.EntryFailed):     stats.Failed,
		"total":                       stats.Total,
	}
}

// FromStatusSummary converts dispatcher diagnostics.
func FromStatusSummary(summary dispatch.StatusSummary) DispatcherStatus {
	status := DispatcherStatus{
		Running:    summary.Running,
		QueueStats: QueueStatsMap(summary.QueueStats),
		LastError:  summary.LastError,
		Completed:  summary.Completed,
		Retried:    summary.Retried,
		Failed:     summary.Failed,
	}
	if summary.LastEntry != nil {
		entry := FromQueueEntry(summary.LastEntry)
		status.LastEntry = &entry
	}
	return status
}
