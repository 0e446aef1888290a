package api

import (
	"context"
	"fmt"
	"strings"

	"stride/internal/services"
	"stride/internal/store"
)

// QueueReader is the read side of the queue store.
type QueueReader interface {
	List(ctx context.Context, statuses ...store.EntryStatus) ([]*store.QueueEntry, error)
	ForSession(ctx context.Context, sessionID string) ([]*store.QueueEntry, error)
	Stats(ctx context.Context) (store.QueueStats, error)
	Get(ctx context.Context, id int64) (*store.QueueEntry, error)
}

// QueueService answers queue queries with transport DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService returns nil when reader is nil; every method is safe on a
// nil service.
func NewQueueService(reader QueueReader) *QueueService {
	if reader == nil {
		return nil
	}
	return &QueueService{store: reader}
}

// ParseStatuses converts raw status filters, skipping blanks. Unknown values
// are validation errors.
func ParseStatuses(raw []string) ([]store.EntryStatus, error) {
	var out []store.EntryStatus
	for _, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		status, ok := store.ParseEntryStatus(value)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "list queue", fmt.Sprintf("unknown status %q", value), nil)
		}
		out = append(out, status)
	}
	return out, nil
}

// List returns entries in dispatch order, optionally filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...string) ([]QueueEntry, error) {
	if s == nil {
		return nil, nil
	}
	parsed, err := ParseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.List(ctx, parsed...)
	if err != nil {
		return nil, err
	}
	return FromQueueEntries(entries), nil
}

// History returns every entry created for a session, oldest first.
func (s *QueueService) History(ctx context.Context, sessionID string) ([]QueueEntry, error) {
	if s == nil {
		return nil, nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "queue history", "session id is required", nil)
	}
	entries, err := s.store.ForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return FromQueueEntries(entries), nil
}

// Stats returns counts keyed by status plus "total".
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return QueueStatsMap(stats), nil
}

// Describe fetches one entry.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueEntry, error) {
	if s == nil {
		return nil, nil
	}
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "describe entry", fmt.Sprintf("queue entry %d not found", id), nil)
	}
	dto := FromQueueEntry(entry)
	return &dto, nil
}
