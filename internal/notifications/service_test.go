package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"stride/internal/config"
	"stride/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventSessionCompleted, notifications.Payload{"subject": "alice"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "session completed",
			event: notifications.EventSessionCompleted,
			payload: notifications.Payload{
				"subject":  "alice",
				"category": "golf",
				"metrics":  3,
			},
			expectTitle:   "Stride - Session Complete",
			expectMessage: "Analysis complete: alice (golf)\n3 metrics recorded",
			expectTags:    "stride,session,completed",
		},
		{
			name:  "session failed",
			event: notifications.EventSessionFailed,
			payload: notifications.Payload{
				"subject":  "bob",
				"category": "tennis",
				"error":    errors.New("analysis error: engine unavailable"),
			},
			expectTitle:    "Stride - Session Failed",
			expectMessage:  "Analysis failed: bob (tennis)\nanalysis error: engine unavailable",
			expectTags:     "stride,session,failed",
			expectPriority: "high",
		},
		{
			name:  "maintenance alert",
			event: notifications.EventMaintenance,
			payload: notifications.Payload{
				"task":    "health",
				"message": "free disk below threshold",
			},
			expectTitle:   "Stride - health",
			expectMessage: "free disk below threshold",
			expectTags:    "stride,maintenance,alert",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Stride - Test",
			expectMessage:  "Notification system test",
			expectTags:     "stride,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.Maintenance = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false
	cfg.Notifications.Maintenance = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventSessionCompleted,
		notifications.EventMaintenance,
		notifications.Event("unknown"),
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
