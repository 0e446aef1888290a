package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"stride/internal/services"
	"stride/internal/store"
	"stride/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.Healthy() {
		t.Fatalf("expected healthy database, got %+v", health)
	}
	if health.DBPath != cfg.DatabasePath() {
		t.Fatalf("unexpected db path %q", health.DBPath)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestCreateSessionPersistsSpec(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	spec := testsupport.SessionSpec("ava")
	spec.Metadata = map[string]any{"club": "driver"}
	sess := testsupport.MustCreateSession(t, st, spec)

	if sess.ID == "" {
		t.Fatal("expected session id")
	}
	if sess.State != store.StateUploaded {
		t.Fatalf("expected uploaded, got %s", sess.State)
	}
	if sess.Width != 1280 || sess.Height != 720 || sess.FrameRate != 30 {
		t.Fatalf("unexpected artifact metadata: %+v", sess.Artifact())
	}
	if sess.SubmitMetadata != `{"club":"driver"}` {
		t.Fatalf("unexpected submit metadata %q", sess.SubmitMetadata)
	}
	if sess.ProcessingCompletedAt != nil || sess.ErrorMessage != "" {
		t.Fatalf("new session should have no completion data: %+v", sess)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	tests := []struct {
		name   string
		mutate func(*store.SessionSpec)
	}{
		{"missing subject", func(s *store.SessionSpec) { s.Subject = "  " }},
		{"missing category", func(s *store.SessionSpec) { s.Category = "" }},
		{"missing artifact", func(s *store.SessionSpec) { s.ArtifactRef = "" }},
		{"negative duration", func(s *store.SessionSpec) { s.DurationSeconds = -1 }},
		{"negative frame rate", func(s *store.SessionSpec) { s.FrameRate = -30 }},
		{"negative size", func(s *store.SessionSpec) { s.ArtifactSize = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testsupport.SessionSpec("val")
			tt.mutate(&spec)
			_, err := st.Sessions().Create(context.Background(), spec)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGetUnknownSessionIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, err := st.Sessions().Get(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateStateEnforcesPredecessors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	sessions := st.Sessions()

	sess := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("sm"))

	if err := sessions.UpdateState(ctx, sess.ID, store.StateProcessing); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("uploaded -> processing should conflict, got %v", err)
	}
	if err := sessions.UpdateState(ctx, sess.ID, store.StateFailed); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("failed via UpdateState should be rejected, got %v", err)
	}
	if err := sessions.UpdateState(ctx, sess.ID, store.StateQueued); err != nil {
		t.Fatalf("uploaded -> queued: %v", err)
	}
	if err := sessions.UpdateState(ctx, sess.ID, store.StateProcessing); err != nil {
		t.Fatalf("queued -> processing: %v", err)
	}
	got := testsupport.MustGetSession(t, st, sess.ID)
	if got.ProcessingStartedAt == nil {
		t.Fatal("expected processing start timestamp")
	}
	if got.ProcessingCompletedAt != nil {
		t.Fatal("completion timestamp must stay unset while processing")
	}

	if err := sessions.UpdateState(ctx, sess.ID, store.StateCompleted); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
	got = testsupport.MustGetSession(t, st, sess.ID)
	if got.ProcessingCompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if err := sessions.UpdateState(ctx, sess.ID, store.StateQueued); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("completed is terminal, got %v", err)
	}
	if err := sessions.RecordError(ctx, sess.ID, "late"); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("RecordError on completed should conflict, got %v", err)
	}
	if err := sessions.UpdateState(ctx, "nope", store.StateQueued); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
}

func TestRecordErrorSetsTerminalFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sess := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("err"))
	if err := st.Sessions().RecordError(ctx, sess.ID, "engine exploded"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	got := testsupport.MustGetSession(t, st, sess.ID)
	if got.State != store.StateFailed || got.ErrorMessage != "engine exploded" || got.ProcessingCompletedAt == nil {
		t.Fatalf("unexpected failed session: %+v", got)
	}
}

func TestSessionMetadataUpdates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	sessions := st.Sessions()

	sess := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("meta"))
	meta := store.ArtifactMetadata{Ref: sess.ArtifactRef, SizeBytes: 99, DurationSeconds: 12.5, FrameRate: 240, Width: 1920, Height: 1080}
	if err := sessions.UpdateArtifact(ctx, sess.ID, meta); err != nil {
		t.Fatalf("UpdateArtifact: %v", err)
	}
	if err := sessions.SetGatewaySession(ctx, sess.ID, "gw-1"); err != nil {
		t.Fatalf("SetGatewaySession: %v", err)
	}
	if err := sessions.UpdateResults(ctx, sess.ID, `{"a":1}`, `{"a":1}`); err != nil {
		t.Fatalf("UpdateResults: %v", err)
	}
	if err := sessions.SetRetain(ctx, sess.ID, true); err != nil {
		t.Fatalf("SetRetain: %v", err)
	}
	got := testsupport.MustGetSession(t, st, sess.ID)
	if got.Artifact() != meta {
		t.Fatalf("artifact mismatch: %+v", got.Artifact())
	}
	if got.GatewaySessionID != "gw-1" || got.ResultJSON != `{"a":1}` || !got.Retain {
		t.Fatalf("unexpected session: %+v", got)
	}
	if err := sessions.SetGatewaySession(ctx, "unknown", "x"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFiltersSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("ava"))
	testsupport.MustCreateSession(t, st, testsupport.SessionSpec("ben"))
	testsupport.MustEnqueue(t, st, a.ID, 5, 3)

	queued, err := st.Sessions().List(ctx, store.SessionFilter{States: []store.SessionState{store.StateQueued}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != a.ID {
		t.Fatalf("expected only queued session, got %d", len(queued))
	}
	bySubject, err := st.Sessions().List(ctx, store.SessionFilter{Subject: "ben"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(bySubject) != 1 || bySubject[0].Subject != "ben" {
		t.Fatalf("unexpected subject filter result: %+v", bySubject)
	}
	all, err := st.Sessions().List(ctx, store.SessionFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}
}

func TestCommitResultsIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sess := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("commit"))
	metrics := []store.Metric{{Name: "swingSpeed", Value: 92.1, Unit: "mph", Confidence: 0.91}}

	// Not processing yet: nothing may be written.
	if err := st.Sessions().CommitResults(ctx, sess.ID, `{}`, `{}`, metrics); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	rows, err := st.Metrics().ListBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no metric rows after failed commit, got %d", len(rows))
	}

	testsupport.MustEnqueue(t, st, sess.ID, 5, 3)
	if err := st.Sessions().UpdateState(ctx, sess.ID, store.StateProcessing); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := st.Sessions().CommitResults(ctx, sess.ID, `{"swingSpeed":92.1}`, `{"swingSpeed":92.1}`, metrics); err != nil {
		t.Fatalf("CommitResults: %v", err)
	}
	got := testsupport.MustGetSession(t, st, sess.ID)
	if got.State != store.StateCompleted || got.ProcessingCompletedAt == nil {
		t.Fatalf("expected completed session, got %+v", got)
	}
	rows, err = st.Metrics().ListBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "swingSpeed" || rows[0].Value != 92.1 || rows[0].Unit != "mph" {
		t.Fatalf("unexpected metric rows: %+v", rows)
	}
}

func TestDeleteExpiredCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	sessions := st.Sessions()

	done := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("old"))
	testsupport.MustEnqueue(t, st, done.ID, 5, 3)
	if err := sessions.UpdateState(ctx, done.ID, store.StateProcessing); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := sessions.CommitResults(ctx, done.ID, `{}`, `{}`, []store.Metric{{Name: "m", Value: 1, Confidence: 1}}); err != nil {
		t.Fatalf("CommitResults: %v", err)
	}

	kept := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("kept"))
	if err := sessions.RecordError(ctx, kept.ID, "boom"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if err := sessions.SetRetain(ctx, kept.ID, true); err != nil {
		t.Fatalf("SetRetain: %v", err)
	}
	active := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("active"))

	expired, err := sessions.DeleteExpired(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != done.ID {
		t.Fatalf("expected only the completed session to expire, got %+v", expired)
	}
	if _, err := sessions.Get(ctx, done.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected deleted session, got %v", err)
	}
	entries, err := st.Queue().ForSession(ctx, done.ID)
	if err != nil {
		t.Fatalf("ForSession: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected cascaded queue entries, got %d", len(entries))
	}
	metrics, err := st.Metrics().ListBySession(ctx, done.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(metrics) != 0 {
		t.Fatalf("expected cascaded metrics, got %d", len(metrics))
	}
	for _, id := range []string{kept.ID, active.ID} {
		if _, err := sessions.Get(ctx, id); err != nil {
			t.Fatalf("session %s should survive: %v", id, err)
		}
	}
}

func TestAggregatesReplaceAndList(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	aggs := []store.Aggregate{
		{Subject: "ava", Category: "golf", Metric: "swingSpeed", SampleCount: 3, Mean: 90, Min: 88, Max: 92,
			Latest: 92, LatestAt: now, Trend: store.TrendImproving, RefreshedAt: now},
		{Subject: "ava", Category: "tennis", Metric: "serveSpeed", SampleCount: 1, Mean: 100, Min: 100, Max: 100,
			Latest: 100, LatestAt: now, Trend: store.TrendStable, RefreshedAt: now},
	}
	if err := st.Aggregates().Replace(ctx, aggs); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	golf, err := st.Aggregates().List(ctx, "ava", "golf")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(golf) != 1 || golf[0].Trend != store.TrendImproving || !golf[0].LatestAt.Equal(now) {
		t.Fatalf("unexpected golf aggregates: %+v", golf)
	}
	all, err := st.Aggregates().List(ctx, "ava", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both categories, got %d", len(all))
	}
	if err := st.Aggregates().Replace(ctx, nil); err != nil {
		t.Fatalf("Replace empty: %v", err)
	}
	all, err = st.Aggregates().List(ctx, "ava", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected table cleared, got %d", len(all))
	}
}

func TestSamplesOnlyIncludeCompletedSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sess := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("ava"))
	other := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("ben"))
	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(
		`INSERT INTO metrics (session_id, name, value, confidence, recorded_at) VALUES (?, 'm', 3, 1, ?)`,
		other.ID, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		t.Fatalf("plant stray metric: %v", err)
	}
	testsupport.MustEnqueue(t, st, sess.ID, 5, 3)
	if err := st.Sessions().UpdateState(ctx, sess.ID, store.StateProcessing); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := st.Sessions().CommitResults(ctx, sess.ID, `{}`, `{}`, []store.Metric{{Name: "m", Value: 7, Confidence: 0.5}}); err != nil {
		t.Fatalf("CommitResults: %v", err)
	}

	samples, err := st.Metrics().Samples(ctx)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 1 || samples[0].Subject != "ava" || samples[0].Value != 7 {
		t.Fatalf("unexpected samples: %+v", samples)
	}
}

func TestInsertBatchRequiresCompletedSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	pending := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("ava"))
	err := st.Metrics().InsertBatch(ctx, []store.Metric{{SessionID: pending.ID, Name: "m", Value: 3, Confidence: 1}})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for an uploaded session, got %v", err)
	}
	if err := st.Metrics().InsertBatch(ctx, []store.Metric{{SessionID: "missing", Name: "m", Value: 1}}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}

	done := testsupport.MustCreateSession(t, st, testsupport.SessionSpec("ben"))
	testsupport.MustEnqueue(t, st, done.ID, 5, 3)
	if err := st.Sessions().UpdateState(ctx, done.ID, store.StateProcessing); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := st.Sessions().CommitResults(ctx, done.ID, `{}`, `{}`, nil); err != nil {
		t.Fatalf("CommitResults: %v", err)
	}

	mixed := []store.Metric{
		{SessionID: done.ID, Name: "late", Value: 1, Confidence: 1},
		{SessionID: pending.ID, Name: "m", Value: 2, Confidence: 1},
	}
	if err := st.Metrics().InsertBatch(ctx, mixed); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected mixed batch to be rejected, got %v", err)
	}
	rows, err := st.Metrics().ListBySession(ctx, done.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rejected batch must not write rows, got %d", len(rows))
	}

	if err := st.Metrics().InsertBatch(ctx, mixed[:1]); err != nil {
		t.Fatalf("InsertBatch for completed session: %v", err)
	}
	rows, err = st.Metrics().ListBySession(ctx, done.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "late" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	rows, err = st.Metrics().ListBySession(ctx, pending.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("uploaded session must have no metrics, got %d", len(rows))
	}
}

func TestConcurrentStoresShareDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	second := testsupport.MustOpenStore(t, cfg)

	sess := testsupport.MustCreateSession(t, first, testsupport.SessionSpec("shared"))
	entry := testsupport.MustEnqueue(t, first, sess.ID, 5, 3)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, st := range []*store.Store{first, second} {
		wg.Add(1)
		go func(st *store.Store) {
			defer wg.Done()
			claimed, err := st.Queue().Claim(context.Background(), entry.ID)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if claimed != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner across processes, got %d", winners)
	}
}
