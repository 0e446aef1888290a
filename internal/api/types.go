package api

import (
	"encoding/json"

	"stride/internal/deps"
	"stride/internal/maintenance"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Session describes an analysis session in a transport-friendly format.
type Session struct {
	ID                    string          `json:"id"`
	GatewaySessionID      string          `json:"gatewaySessionId,omitempty"`
	Subject               string          `json:"subject"`
	Category              string          `json:"category"`
	ArtifactRef           string          `json:"artifactRef"`
	ArtifactSize          int64           `json:"artifactSize"`
	DurationSeconds       float64         `json:"durationSeconds"`
	FrameRate             float64         `json:"frameRate"`
	Width                 int             `json:"width"`
	Height                int             `json:"height"`
	Retain                bool            `json:"retain"`
	State                 string          `json:"state"`
	ErrorMessage          string          `json:"errorMessage,omitempty"`
	Metadata              json.RawMessage `json:"metadata,omitempty"`
	CreatedAt             string          `json:"createdAt,omitempty"`
	UpdatedAt             string          `json:"updatedAt,omitempty"`
	ProcessingStartedAt   string          `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt string          `json:"processingCompletedAt,omitempty"`
}

// QueueEntry describes a queue entry in a transport-friendly format.
type QueueEntry struct {
	ID            int64  `json:"id"`
	SessionID     string `json:"sessionId"`
	Kind          string `json:"kind"`
	Priority      int    `json:"priority"`
	Status        string `json:"status"`
	RetryCount    int    `json:"retryCount"`
	MaxRetries    int    `json:"maxRetries"`
	NotBefore     string `json:"notBefore,omitempty"`
	LastError     string `json:"lastError,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
	ClaimedAt     string `json:"claimedAt,omitempty"`
	LastHeartbeat string `json:"lastHeartbeat,omitempty"`
	CompletedAt   string `json:"completedAt,omitempty"`
}

// Metric is one stored measurement.
type Metric struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Confidence float64 `json:"confidence"`
	Region     string  `json:"region,omitempty"`
	RecordedAt string  `json:"recordedAt,omitempty"`
}

// StatusView is the polling view of a session.
type StatusView struct {
	SessionID                     string `json:"sessionId"`
	State                         string `json:"state"`
	ProgressPercent               int    `json:"progressPercent"`
	EstimatedTimeRemainingSeconds int    `json:"estimatedTimeRemainingSeconds"`
}

// ResultsView carries a session's outcome.
type ResultsView struct {
	SessionID            string          `json:"sessionId"`
	State                string          `json:"state"`
	Result               json.RawMessage `json:"result,omitempty"`
	RawMeasurements      json.RawMessage `json:"rawMeasurements,omitempty"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	ProcessingDurationMs int64           `json:"processingDurationMs"`
}

// Trend is a stored per-subject metric aggregate.
type Trend struct {
	Subject     string  `json:"subject"`
	Category    string  `json:"category"`
	Metric      string  `json:"metric"`
	SampleCount int     `json:"sampleCount"`
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Latest      float64 `json:"latest"`
	LatestAt    string  `json:"latestAt,omitempty"`
	Trend       string  `json:"trend"`
	RefreshedAt string  `json:"refreshedAt,omitempty"`
}

// DispatcherStatus summarizes dispatcher execution state.
type DispatcherStatus struct {
	Running    bool           `json:"running"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastEntry  *QueueEntry    `json:"lastEntry,omitempty"`
	Completed  int            `json:"completed"`
	Retried    int            `json:"retried"`
	Failed     int            `json:"failed"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool                     `json:"running"`
	PID          int                      `json:"pid"`
	DatabasePath string                   `json:"databasePath"`
	LockFilePath string                   `json:"lockFilePath"`
	Dispatcher   DispatcherStatus         `json:"dispatcher"`
	Maintenance  []maintenance.TaskStatus `json:"maintenance"`
	Dependencies []deps.Status            `json:"dependencies"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session Session `json:"session"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// MetricListResponse wraps a session's metrics.
type MetricListResponse struct {
	SessionID string   `json:"sessionId"`
	Metrics   []Metric `json:"metrics"`
}

// QueueListResponse wraps a collection of queue entries.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueEntryResponse wraps a single queue entry.
type QueueEntryResponse struct {
	Entry QueueEntry `json:"entry"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// TrendListResponse wraps a subject's aggregates.
type TrendListResponse struct {
	Subject string  `json:"subject"`
	Trends  []Trend `json:"trends"`
}

// SubmitResponse is returned by POST /api/sessions.
type SubmitResponse struct {
	SessionID string      `json:"sessionId"`
	State     string      `json:"state"`
	Entry     *QueueEntry `json:"entry,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
