package store

import (
	"encoding/json"
	"time"
)

// SessionState is the lifecycle position of an analysis session.
type SessionState string

const (
	StateUploaded   SessionState = "uploaded"
	StateQueued     SessionState = "queued"
	StateProcessing SessionState = "processing"
	StateCompleted  SessionState = "completed"
	StateFailed     SessionState = "failed"
)

// IsTerminal reports whether no further automatic transition leaves the state.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SessionStates lists every state in lifecycle order.
func SessionStates() []SessionState {
	return []SessionState{StateUploaded, StateQueued, StateProcessing, StateCompleted, StateFailed}
}

// ParseSessionState converts a user-supplied string to a SessionState.
func ParseSessionState(raw string) (SessionState, bool) {
	for _, state := range SessionStates() {
		if string(state) == raw {
			return state, true
		}
	}
	return "", false
}

// ArtifactMetadata describes the uploaded media artifact. Ref is the
// artifact location and is not changed by UpdateArtifact.
type ArtifactMetadata struct {
	Ref             string  `json:"ref,omitempty"`
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
	FrameRate       float64 `json:"frameRate"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// SessionSpec is the intake payload for a new session.
type SessionSpec struct {
	Subject         string         `json:"subject" validate:"required"`
	Category        string         `json:"category" validate:"required"`
	ArtifactRef     string         `json:"artifactRef" validate:"required"`
	ArtifactSize    int64          `json:"artifactSize" validate:"gte=0"`
	DurationSeconds float64        `json:"durationSeconds" validate:"gte=0"`
	FrameRate       float64        `json:"frameRate" validate:"gte=0"`
	Width           int            `json:"width" validate:"gte=0"`
	Height          int            `json:"height" validate:"gte=0"`
	Retain          bool           `json:"retain"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Session is one end-to-end analysis request.
type Session struct {
	ID                    string
	GatewaySessionID      string
	Subject               string
	Category              string
	ArtifactRef           string
	ArtifactSize          int64
	DurationSeconds       float64
	FrameRate             float64
	Width                 int
	Height                int
	Retain                bool
	SubmitMetadata        string
	State                 SessionState
	ResultJSON            string
	RawMeasurementsJSON   string
	ErrorMessage          string
	CreatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	UpdatedAt             time.Time
}

// Artifact returns the artifact metadata recorded on the session.
func (s *Session) Artifact() ArtifactMetadata {
	return ArtifactMetadata{
		Ref:             s.ArtifactRef,
		SizeBytes:       s.ArtifactSize,
		DurationSeconds: s.DurationSeconds,
		FrameRate:       s.FrameRate,
		Width:           s.Width,
		Height:          s.Height,
	}
}

// ProcessingDuration returns the time between processing start and
// completion, or zero when either is unknown.
func (s *Session) ProcessingDuration() time.Duration {
	if s.ProcessingStartedAt == nil || s.ProcessingCompletedAt == nil {
		return 0
	}
	d := s.ProcessingCompletedAt.Sub(*s.ProcessingStartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// SessionFilter narrows List results. Zero values match everything.
type SessionFilter struct {
	States   []SessionState
	Subject  string
	Category string
	Limit    int
}

// ExpiredSession identifies a session removed by the retention sweep.
type ExpiredSession struct {
	ID          string
	ArtifactRef string
}

// EntryStatus is the dispatcher-facing status of a queue entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryProcessing EntryStatus = "processing"
	EntryCompleted  EntryStatus = "completed"
	EntryFailed     EntryStatus = "failed"
)

// EntryStatuses lists every queue entry status.
func EntryStatuses() []EntryStatus {
	return []EntryStatus{EntryPending, EntryProcessing, EntryCompleted, EntryFailed}
}

// ParseEntryStatus converts a user-supplied string to an EntryStatus.
func ParseEntryStatus(raw string) (EntryStatus, bool) {
	for _, status := range EntryStatuses() {
		if string(status) == raw {
			return status, true
		}
	}
	return "", false
}

// DefaultEntryKind is used when an enqueue request leaves Kind empty.
const DefaultEntryKind = "analyze"

// QueueEntry is one durable work item driving a session through the dispatcher.
type QueueEntry struct {
	ID            int64
	SessionID     string
	Kind          string
	Priority      int
	Payload       string
	Status        EntryStatus
	RetryCount    int
	MaxRetries    int
	NotBefore     time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClaimedAt     *time.Time
	LastHeartbeat *time.Time
	CompletedAt   *time.Time
}

// EnqueueRequest describes a new queue entry.
type EnqueueRequest struct {
	SessionID  string
	Kind       string
	Priority   int
	MaxRetries int
	Payload    json.RawMessage
	NotBefore  time.Time
}

// Metric is one named measurement persisted for a completed session.
type Metric struct {
	ID         int64
	SessionID  string
	Name       string
	Value      float64
	Unit       string
	Confidence float64
	Region     string
	RecordedAt time.Time
}

// Sample is one metric value joined with its session's subject and completion time.
type Sample struct {
	Subject    string
	Category   string
	Metric     string
	Value      float64
	RecordedAt time.Time
}

// Trend classifies the direction of a subject's recent samples.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Aggregate summarizes one metric across a subject's completed sessions.
type Aggregate struct {
	Subject     string
	Category    string
	Metric      string
	SampleCount int
	Mean        float64
	Min         float64
	Max         float64
	Latest      float64
	LatestAt    time.Time
	Trend       Trend
	RefreshedAt time.Time
}

// QueueStats counts entries by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// DatabaseHealth describes the database diagnostics collected by CheckHealth.
type DatabaseHealth struct {
	DBPath           string   `json:"dbPath"`
	DatabaseExists   bool     `json:"databaseExists"`
	DatabaseReadable bool     `json:"databaseReadable"`
	SchemaVersion    int      `json:"schemaVersion"`
	MissingTables    []string `json:"missingTables,omitempty"`
	IntegrityCheck   bool     `json:"integrityCheck"`
	TotalSessions    int      `json:"totalSessions"`
	Error            string   `json:"error,omitempty"`
}
