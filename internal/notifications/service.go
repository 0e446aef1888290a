package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stride/internal/config"
)

// Event identifies a notification type.
type Event string

const (
	EventSessionCompleted Event = "session_completed"
	EventSessionFailed    Event = "session_failed"
	EventMaintenance      Event = "maintenance"
	EventTest             Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventSessionCompleted: cfg.Notifications.Completed,
			EventSessionFailed:    cfg.Notifications.Failed,
			EventMaintenance:      cfg.Notifications.Maintenance,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventSessionCompleted:
		body := fmt.Sprintf("Analysis complete: %s (%s)", payload.text("subject"), payload.text("category"))
		if count, ok := payload["metrics"].(int); ok {
			body = fmt.Sprintf("%s\n%d metrics recorded", body, count)
		}
		return message{
			title: "Stride - Session Complete",
			body:  body,
			tags:  []string{"stride", "session", "completed"},
		}, true
	case EventSessionFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "Analysis failed: %s (%s)", payload.text("subject"), payload.text("category"))
		if reason := payload.text("error"); reason != "" {
			b.WriteString("\n")
			b.WriteString(reason)
		}
		return message{
			title:    "Stride - Session Failed",
			body:     b.String(),
			tags:     []string{"stride", "session", "failed"},
			priority: "high",
		}, true
	case EventMaintenance:
		return message{
			title: "Stride - " + orDefault(payload.text("task"), "Maintenance"),
			body:  orDefault(payload.text("message"), "maintenance alert"),
			tags:  []string{"stride", "maintenance", "alert"},
		}, true
	case EventTest:
		return message{
			title:    "Stride - Test",
			body:     "Notification system test",
			tags:     []string{"stride", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", config.UserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
