package testsupport

import (
	"context"
	"testing"

	"stride/internal/config"
	"stride/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// SessionSpec returns a valid remote-artifact spec matching a 10 second
// 1280x720 clip at 30 fps.
func SessionSpec(subject string) store.SessionSpec {
	return store.SessionSpec{
		Subject:         subject,
		Category:        "golf",
		ArtifactRef:     "https://uploads.example.test/" + subject + ".mp4",
		ArtifactSize:    4 << 20,
		DurationSeconds: 10,
		FrameRate:       30,
		Width:           1280,
		Height:          720,
	}
}

// MustCreateSession creates an uploaded session from spec.
func MustCreateSession(t testing.TB, st *store.Store, spec store.SessionSpec) *store.Session {
	t.Helper()

	sess, err := st.Sessions().Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

// MustEnqueue enqueues sess with the given priority and retry budget.
func MustEnqueue(t testing.TB, st *store.Store, sessionID string, priority, maxRetries int) *store.QueueEntry {
	t.Helper()

	entry, err := st.Queue().Enqueue(context.Background(), store.EnqueueRequest{
		SessionID:  sessionID,
		Priority:   priority,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", sessionID, err)
	}
	return entry
}

// MustGetSession reloads a session by id.
func MustGetSession(t testing.TB, st *store.Store, id string) *store.Session {
	t.Helper()

	sess, err := st.Sessions().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return sess
}
