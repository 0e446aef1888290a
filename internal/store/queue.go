package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stride/internal/services"
)

// claimAttempts bounds how often ClaimNext re-selects after losing a race.
const claimAttempts = 5

// QueueStore persists dispatcher work items.
type QueueStore struct {
	store *Store
}

// Enqueue inserts a pending entry for an uploaded session and moves the
// session to queued in the same transaction.
func (q *QueueStore) Enqueue(ctx context.Context, req EnqueueRequest) (*QueueEntry, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, invalid("enqueue", "session id is required")
	}
	if req.MaxRetries < 1 {
		return nil, invalid("enqueue", "max retries must be at least 1")
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		kind = DefaultEntryKind
	}
	now := q.store.clock()
	notBefore := req.NotBefore
	if notBefore.IsZero() {
		notBefore = now
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = string(req.Payload)
	}

	var entry *QueueEntry
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		stamp := formatTime(now)
		if err := conditionalUpdate(ctx, tx, req.SessionID, "state = ?, updated_at = ?",
			[]any{StateQueued, stamp}, []SessionState{StateUploaded}, string(StateQueued),
		); err != nil {
			if errors.Is(err, ErrStateConflict) {
				return services.Wrap(services.ErrValidation, "queue", "enqueue", "only uploaded sessions can be enqueued", err)
			}
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO queue_entries (session_id, kind, priority, payload_json, status, retry_count, max_retries,
                not_before, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			req.SessionID, kind, req.Priority, payload, EntryPending, req.MaxRetries,
			formatTime(notBefore), stamp, stamp,
		)
		if err != nil {
			return fmt.Errorf("insert queue entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("queue entry id: %w", err)
		}
		entry, err = getEntry(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get returns the entry with id or a not-found error.
func (q *QueueStore) Get(ctx context.Context, id int64) (*QueueEntry, error) {
	return getEntry(ensureContext(ctx), q.store.db, id)
}

func getEntry(ctx context.Context, ex execer, id int64) (*QueueEntry, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("queue entry", fmt.Sprint(id))
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

// Claim moves a pending entry to processing. It returns nil when the entry
// is no longer pending, so a second claim on the same entry is a no-op.
func (q *QueueStore) Claim(ctx context.Context, id int64) (*QueueEntry, error) {
	stamp := formatTime(q.store.clock())
	res, err := q.store.execWithRetry(ctx,
		`UPDATE queue_entries SET status = ?, claimed_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		EntryProcessing, stamp, stamp, stamp, id, EntryPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return q.Get(ctx, id)
}

// ClaimNext claims the most urgent eligible entry: pending with NotBefore at
// or before now, ordered by priority, then NotBefore, then creation time.
// It returns nil when nothing is eligible.
func (q *QueueStore) ClaimNext(ctx context.Context, now time.Time) (*QueueEntry, error) {
	ctx = ensureContext(ctx)
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id int64
		err := q.store.db.QueryRowContext(ctx,
			`SELECT id FROM queue_entries
             WHERE status = ? AND not_before <= ?
             ORDER BY priority ASC, not_before ASC, created_at ASC, id ASC
             LIMIT 1`,
			EntryPending, formatTime(now),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select next queue entry: %w", err)
		}
		entry, err := q.Claim(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// UpdateHeartbeat refreshes the liveness timestamp of an in-flight entry.
func (q *QueueStore) UpdateHeartbeat(ctx context.Context, id int64) error {
	stamp := formatTime(q.store.clock())
	if _, err := q.store.execWithRetry(ctx,
		`UPDATE queue_entries SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		stamp, stamp, id, EntryProcessing,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// Complete marks a processing entry completed.
func (q *QueueStore) Complete(ctx context.Context, id int64) error {
	stamp := formatTime(q.store.clock())
	res, err := q.store.execWithRetry(ctx,
		`UPDATE queue_entries SET status = ?, completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		EntryCompleted, stamp, stamp, id, EntryProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("complete queue entry %d: %w", id, errEntryNotProcessing)
	}
	return nil
}

var errEntryNotProcessing = errors.New("entry is not processing")

// Reschedule records a failed attempt that still has budget: the entry goes
// back to pending with notBefore and the session back to queued.
func (q *QueueStore) Reschedule(ctx context.Context, id int64, lastErr string, notBefore time.Time) (*QueueEntry, error) {
	var updated *QueueEntry
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.Status != EntryProcessing {
			return fmt.Errorf("reschedule queue entry %d: %w", id, errEntryNotProcessing)
		}
		if entry.RetryCount+1 >= entry.MaxRetries {
			return invalid("reschedule", fmt.Sprintf("entry %d has no retries left", id))
		}
		now := q.store.clock()
		stamp := formatTime(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries
             SET status = ?, retry_count = retry_count + 1, last_error = ?, not_before = ?,
                 claimed_at = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			EntryPending, nullableString(lastErr), formatTime(notBefore), stamp, id,
		); err != nil {
			return fmt.Errorf("reschedule queue entry: %w", err)
		}
		if err := transition(ctx, tx, now, entry.SessionID, StateQueued); err != nil {
			return err
		}
		updated, err = getEntry(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Fail records a terminal failed attempt: the entry becomes failed and a
// non-terminal session is marked failed with the same message.
func (q *QueueStore) Fail(ctx context.Context, id int64, lastErr string) (*QueueEntry, error) {
	return q.fail(ctx, id, lastErr, true)
}

// Abandon marks an entry failed without counting an attempt or touching its
// session. The dispatcher uses it for entries whose session already failed.
func (q *QueueStore) Abandon(ctx context.Context, id int64, reason string) (*QueueEntry, error) {
	return q.fail(ctx, id, reason, false)
}

func (q *QueueStore) fail(ctx context.Context, id int64, lastErr string, attempt bool) (*QueueEntry, error) {
	var updated *QueueEntry
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.Status == EntryCompleted || entry.Status == EntryFailed {
			return fmt.Errorf("fail queue entry %d: entry already %s", id, entry.Status)
		}
		retries := entry.RetryCount
		if attempt && retries < entry.MaxRetries {
			retries++
		}
		now := q.store.clock()
		stamp := formatTime(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries
             SET status = ?, retry_count = ?, last_error = ?, completed_at = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			EntryFailed, retries, nullableString(lastErr), stamp, stamp, id,
		); err != nil {
			return fmt.Errorf("fail queue entry: %w", err)
		}
		if attempt {
			if err := recordError(ctx, tx, now, entry.SessionID, lastErr); err != nil && !errors.Is(err, ErrStateConflict) {
				return err
			}
		}
		updated, err = getEntry(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReclaimStale returns processing entries whose heartbeat is older than
// cutoff to pending and their sessions to queued. Retry counts are kept.
func (q *QueueStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var reclaimed int64
	err := q.store.withTx(ctx, func(tx *sql.Tx) error {
		reclaimed = 0
		rows, err := tx.QueryContext(ctx,
			`SELECT id, session_id FROM queue_entries
             WHERE status = ? AND COALESCE(last_heartbeat, claimed_at, updated_at) < ?`,
			EntryProcessing, formatTime(cutoff),
		)
		if err != nil {
			return fmt.Errorf("select stale entries: %w", err)
		}
		type stale struct {
			id        int64
			sessionID string
		}
		var items []stale
		for rows.Next() {
			var item stale
			if err := rows.Scan(&item.id, &item.sessionID); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale entry: %w", err)
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := q.store.clock()
		stamp := formatTime(now)
		for _, item := range items {
			res, err := tx.ExecContext(ctx,
				`UPDATE queue_entries SET status = ?, claimed_at = NULL, last_heartbeat = NULL, updated_at = ?
                 WHERE id = ? AND status = ?`,
				EntryPending, stamp, item.id, EntryProcessing,
			)
			if err != nil {
				return fmt.Errorf("reclaim entry %d: %w", item.id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			reclaimed++
			if err := transition(ctx, tx, now, item.sessionID, StateQueued); err != nil && !errors.Is(err, ErrStateConflict) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim stale entries: %w", err)
	}
	return reclaimed, nil
}

// Release returns an interrupted processing entry to pending without
// counting an attempt, and its session to queued.
func (q *QueueStore) Release(ctx context.Context, id int64) error {
	return q.store.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if entry.Status != EntryProcessing {
			return fmt.Errorf("release queue entry %d: %w", id, errEntryNotProcessing)
		}
		now := q.store.clock()
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET status = ?, claimed_at = NULL, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			EntryPending, formatTime(now), id,
		); err != nil {
			return fmt.Errorf("release queue entry: %w", err)
		}
		if err := transition(ctx, tx, now, entry.SessionID, StateQueued); err != nil && !errors.Is(err, ErrStateConflict) {
			return err
		}
		return nil
	})
}

// List returns entries in the given statuses (all when none), in claim order.
func (q *QueueStore) List(ctx context.Context, statuses ...EntryStatus) ([]*QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY priority ASC, not_before ASC, created_at ASC, id ASC`
	return q.queryEntries(ctx, query, args...)
}

// ForSession returns every entry created for sessionID, oldest first.
func (q *QueueStore) ForSession(ctx context.Context, sessionID string) ([]*QueueEntry, error) {
	return q.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
}

func (q *QueueStore) queryEntries(ctx context.Context, query string, args ...any) ([]*QueueEntry, error) {
	rows, err := q.store.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats counts entries by status.
func (q *QueueStore) Stats(ctx context.Context) (QueueStats, error) {
	rows, err := q.store.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM queue_entries GROUP BY status`)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return QueueStats{}, err
		}
		stats.Total += count
		switch EntryStatus(status) {
		case EntryPending:
			stats.Pending = count
		case EntryProcessing:
			stats.Processing = count
		case EntryCompleted:
			stats.Completed = count
		case EntryFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
