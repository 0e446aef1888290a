package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"stride/internal/api"
)

func TestSubmitSendsSpecAndPrintsEntry(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"POST /api/sessions": api.SubmitResponse{
			SessionID: "sess-1",
			State:     "queued",
			Entry:     &api.QueueEntry{ID: 4, SessionID: "sess-1", Priority: 3},
		},
	})

	out, _, err := runCLI(t, fd.server.URL, "submit",
		"--subject", "alex", "--category", "golf", "--artifact", "swing.mp4",
		"--fps", "240", "--metadata", "club=driver", "--enqueue", "--priority", "3")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "Session sess-1 created (Queued)")
	requireContains(t, out, "Queued as entry 4 with priority 3")

	var req api.SubmitRequest
	if err := json.Unmarshal(fd.lastBody(t), &req); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if req.Subject != "alex" || req.FrameRate != 240 || !req.Enqueue {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Priority == nil || *req.Priority != 3 {
		t.Fatalf("expected priority 3, got %v", req.Priority)
	}
	if req.Metadata["club"] != "driver" {
		t.Fatalf("expected metadata to round-trip, got %v", req.Metadata)
	}
}

func TestSubmitOmitsUnsetPriority(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"POST /api/sessions": api.SubmitResponse{SessionID: "sess-2", State: "uploaded"},
	})
	if _, _, err := runCLI(t, fd.server.URL, "submit", "--subject", "a", "--category", "b", "--artifact", "c"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var req api.SubmitRequest
	if err := json.Unmarshal(fd.lastBody(t), &req); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if req.Priority != nil {
		t.Fatalf("expected nil priority, got %d", *req.Priority)
	}
}

func TestSubmitRejectsBadMetadata(t *testing.T) {
	_, _, err := runCLI(t, "127.0.0.1:1", "submit", "--subject", "a", "--category", "b", "--artifact", "c", "--metadata", "novalue")
	if err == nil || !strings.Contains(err.Error(), "invalid metadata") {
		t.Fatalf("expected metadata error, got %v", err)
	}
}

func TestSubmitSurfacesValidationError(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"POST /api/sessions": api.ErrorResponse{Error: "subject is required", Kind: "validation"},
	})
	_, _, err := runCLI(t, fd.server.URL, "submit", "--subject", " ", "--category", "b", "--artifact", "c")
	if err == nil || !strings.Contains(err.Error(), "subject is required") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusRendersProgress(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"GET /api/sessions/{id}/status": api.StatusView{
			SessionID:                     "sess-1",
			State:                         "processing",
			ProgressPercent:               50,
			EstimatedTimeRemainingSeconds: 20,
		},
	})
	out, _, err := runCLI(t, fd.server.URL, "status", "sess-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "[WARN] Processing 50%, ~20s remaining")
}

func TestStatusWaitStopsAtTerminalState(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"GET /api/sessions/{id}/status": api.StatusView{SessionID: "sess-1", State: "completed", ProgressPercent: 100},
	})
	out, _, err := runCLI(t, fd.server.URL, "status", "sess-1", "--wait", "--interval", "10ms")
	if err != nil {
		t.Fatalf("status --wait: %v", err)
	}
	if strings.Count(out, "Completed") != 1 {
		t.Fatalf("expected a single poll, got:\n%s", out)
	}
}

func TestEnqueueSendsPriority(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"POST /api/sessions/{id}/enqueue": api.QueueEntryResponse{
			Entry: api.QueueEntry{ID: 9, SessionID: "sess-1", Kind: "analyze", Priority: 5},
		},
	})
	out, _, err := runCLI(t, fd.server.URL, "enqueue", "sess-1", "--priority", "5")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	requireContains(t, out, "Session sess-1 queued as entry 9 (analyze, priority 5)")
	if !strings.Contains(string(fd.lastBody(t)), `"priority":5`) {
		t.Fatalf("expected priority in body, got %s", fd.lastBody(t))
	}
}

func TestSessionsListFiltersAndRenders(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"GET /api/sessions": api.SessionListResponse{Sessions: []api.Session{
			{ID: "sess-1", Subject: "alex", Category: "golf", State: "completed"},
		}},
	})
	out, _, err := runCLI(t, fd.server.URL, "sessions", "list", "--state", "completed", "--subject", "alex")
	if err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	requireContains(t, out, "sess-1")
	requireContains(t, out, "Completed")
	query := fd.lastRequest(t).URL.Query()
	if query.Get("state") != "completed" || query.Get("subject") != "alex" {
		t.Fatalf("unexpected query %v", query)
	}
}

func TestSessionsListRejectsUnknownState(t *testing.T) {
	_, _, err := runCLI(t, "127.0.0.1:1", "sessions", "list", "--state", "bogus")
	if err == nil || !strings.Contains(err.Error(), "unknown session state") {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestMetricsTable(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"GET /api/sessions/{id}/metrics": api.MetricListResponse{SessionID: "sess-1", Metrics: []api.Metric{
			{Name: "swingSpeed", Value: 92.5, Unit: "mph", Confidence: 0.87},
		}},
	})
	out, _, err := runCLI(t, fd.server.URL, "metrics", "sess-1")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	requireContains(t, out, "swingSpeed")
	requireContains(t, out, "92.50")
	requireContains(t, out, "mph")
}

func TestUnavailableDaemonHint(t *testing.T) {
	_, _, err := runCLI(t, "127.0.0.1:1", "status", "sess-1")
	if err == nil || !strings.Contains(err.Error(), "start it with `strided`") {
		t.Fatalf("expected daemon hint, got %v", err)
	}
}

func TestSessionsShowIncludesQueueHistory(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"GET /api/sessions/{id}": api.SessionResponse{Session: api.Session{
			ID: "sess-1", Subject: "alex", Category: "golf", State: "failed",
			ArtifactRef: "swing.mp4", Width: 1280, Height: 720, FrameRate: 30, DurationSeconds: 10,
			ErrorMessage: "engine unavailable",
		}},
		"GET /api/sessions/{id}/queue": api.QueueListResponse{Entries: []api.QueueEntry{
			{ID: 5, SessionID: "sess-1", Kind: "analyze", Status: "failed", RetryCount: 3, MaxRetries: 3, LastError: "engine unavailable"},
		}},
	})
	out, _, err := runCLI(t, fd.server.URL, "sessions", "show", "sess-1")
	if err != nil {
		t.Fatalf("sessions show: %v", err)
	}
	requireContains(t, out, "[ERROR] Failed")
	requireContains(t, out, "1280x720 @ 30.00 fps, 10.00s")
	requireContains(t, out, "3/3")

	out, _, err = runCLI(t, fd.server.URL, "sessions", "show", "sess-1", "--json")
	if err != nil {
		t.Fatalf("sessions show --json: %v", err)
	}
	var payload struct {
		Session api.Session      `json:"session"`
		Queue   []api.QueueEntry `json:"queue"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Session.ID != "sess-1" || len(payload.Queue) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSessionsRetainSendsFlag(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"PATCH /api/sessions/{id}": api.SessionResponse{Session: api.Session{ID: "sess-9", Retain: true}},
	})
	out, _, err := runCLI(t, fd.server.URL, "sessions", "retain", "sess-9")
	if err != nil {
		t.Fatalf("sessions retain: %v", err)
	}
	requireContains(t, out, "Session sess-9 will be kept indefinitely")
	if req := fd.lastRequest(t); req.Method != http.MethodPatch || req.URL.Path != "/api/sessions/sess-9" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	var body map[string]bool
	if err := json.Unmarshal(fd.lastBody(t), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body["retain"] {
		t.Fatalf("expected retain=true, got %v", body)
	}
}

func TestSessionsRetainRelease(t *testing.T) {
	fd := newFakeDaemon(t, map[string]any{
		"PATCH /api/sessions/{id}": api.SessionResponse{Session: api.Session{ID: "sess-9"}},
	})
	out, _, err := runCLI(t, fd.server.URL, "sessions", "retain", "sess-9", "--release")
	if err != nil {
		t.Fatalf("sessions retain --release: %v", err)
	}
	requireContains(t, out, "subject to retention again")
	var body map[string]bool
	if err := json.Unmarshal(fd.lastBody(t), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if v, ok := body["retain"]; !ok || v {
		t.Fatalf("expected retain=false, got %v", body)
	}
}
