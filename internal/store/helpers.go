package store

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"stride/internal/services"
)

// timeLayout is fixed width so lexical comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = "id, gateway_session_id, subject, category, artifact_ref, artifact_size, duration_seconds, frame_rate, width, height, retain, submit_metadata_json, state, result_json, raw_measurements_json, error_message, created_at, processing_started_at, processing_completed_at, updated_at"

func scanSession(scanner rowScanner) (*Session, error) {
	var (
		sess         Session
		gatewayID    sql.NullString
		retain       int
		submitMeta   sql.NullString
		state        string
		result       sql.NullString
		raw          sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(
		&sess.ID,
		&gatewayID,
		&sess.Subject,
		&sess.Category,
		&sess.ArtifactRef,
		&sess.ArtifactSize,
		&sess.DurationSeconds,
		&sess.FrameRate,
		&sess.Width,
		&sess.Height,
		&retain,
		&submitMeta,
		&state,
		&result,
		&raw,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	sess.GatewaySessionID = gatewayID.String
	sess.Retain = retain != 0
	sess.SubmitMetadata = submitMeta.String
	sess.State = SessionState(state)
	sess.ResultJSON = result.String
	sess.RawMeasurementsJSON = raw.String
	sess.ErrorMessage = errorMessage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		sess.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		sess.UpdatedAt = updated
	}
	sess.ProcessingStartedAt = parseNullTime(startedRaw)
	sess.ProcessingCompletedAt = parseNullTime(completedRaw)
	return &sess, nil
}

const entryColumns = "id, session_id, kind, priority, payload_json, status, retry_count, max_retries, not_before, last_error, created_at, updated_at, claimed_at, last_heartbeat, completed_at"

func scanEntry(scanner rowScanner) (*QueueEntry, error) {
	var (
		entry        QueueEntry
		payload      sql.NullString
		status       string
		notBeforeRaw string
		lastError    sql.NullString
		createdRaw   string
		updatedRaw   string
		claimedRaw   sql.NullString
		heartbeatRaw sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.Kind,
		&entry.Priority,
		&payload,
		&status,
		&entry.RetryCount,
		&entry.MaxRetries,
		&notBeforeRaw,
		&lastError,
		&createdRaw,
		&updatedRaw,
		&claimedRaw,
		&heartbeatRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	entry.Payload = payload.String
	entry.Status = EntryStatus(status)
	entry.LastError = lastError.String
	if t, err := parseTimeString(notBeforeRaw); err == nil {
		entry.NotBefore = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		entry.UpdatedAt = t
	}
	entry.ClaimedAt = parseNullTime(claimedRaw)
	entry.LastHeartbeat = parseNullTime(heartbeatRaw)
	entry.CompletedAt = parseNullTime(completedRaw)
	return &entry, nil
}

const metricColumns = "id, session_id, name, value, unit, confidence, region, recorded_at"

func scanMetric(scanner rowScanner) (*Metric, error) {
	var (
		m           Metric
		unit        sql.NullString
		region      sql.NullString
		recordedRaw string
	)
	if err := scanner.Scan(&m.ID, &m.SessionID, &m.Name, &m.Value, &unit, &m.Confidence, &region, &recordedRaw); err != nil {
		return nil, err
	}
	m.Unit = unit.String
	m.Region = region.String
	if t, err := parseTimeString(recordedRaw); err == nil {
		m.RecordedAt = t
	}
	return &m, nil
}

var specValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// validationMessage renders validator failures as one operator-readable line.
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
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func notFound(kind, id string) error {
	return services.Wrap(services.ErrNotFound, "store", "lookup", fmt.Sprintf("%s %s not found", kind, id), nil)
}

func invalid(operation, message string) error {
	return services.Wrap(services.ErrValidation, "store", operation, message, nil)
}
