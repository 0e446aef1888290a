// Package apiclient is the HTTP client for the daemon API used by the CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stride/internal/api"
	"stride/internal/config"
	"stride/internal/maintenance"
)

// ErrAPIUnavailable is returned when no API address is configured.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Status)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.Status, e.Message)
}

// Client talks to a running strided.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New builds a client for bind, which may be host:port or a URL. An empty
// bind yields a nil client.
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 60 * time.Second},
		token: strings.TrimSpace(token),
	}, nil
}

// SessionQuery narrows ListSessions.
type SessionQuery struct {
	States   []string
	Subject  string
	Category string
	Limit    int
}

// Submit creates a session.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.SubmitResponse, error) {
	var resp api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/sessions", nil, req, &resp)
	return resp, err
}

// Enqueue schedules an uploaded session. A nil priority selects the daemon
// default.
func (c *Client) Enqueue(ctx context.Context, sessionID, kind string, priority *int) (api.QueueEntry, error) {
	body := map[string]any{}
	if kind != "" {
		body["kind"] = kind
	}
	if priority != nil {
		body["priority"] = *priority
	}
	var resp api.QueueEntryResponse
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/enqueue", nil, body, &resp)
	return resp.Entry, err
}

// Session returns one session.
func (c *Client) Session(ctx context.Context, id string) (api.Session, error) {
	var resp api.SessionResponse
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, nil, &resp)
	return resp.Session, err
}

// SetRetain flags or unflags a session for the retention sweep.
func (c *Client) SetRetain(ctx context.Context, id string, retain bool) (api.Session, error) {
	var resp api.SessionResponse
	err := c.do(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(id), nil, map[string]bool{"retain": retain}, &resp)
	return resp.Session, err
}

// Status returns the polling view of a session.
func (c *Client) Status(ctx context.Context, id string) (api.StatusView, error) {
	var resp api.StatusView
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id)+"/status", nil, nil, &resp)
	return resp, err
}

// Results returns a session's outcome.
func (c *Client) Results(ctx context.Context, id string) (api.ResultsView, error) {
	var resp api.ResultsView
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id)+"/results", nil, nil, &resp)
	return resp, err
}

// Metrics returns a session's metric rows.
func (c *Client) Metrics(ctx context.Context, id string) ([]api.Metric, error) {
	var resp api.MetricListResponse
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id)+"/metrics", nil, nil, &resp)
	return resp.Metrics, err
}

// ListSessions returns sessions matching q.
func (c *Client) ListSessions(ctx context.Context, q SessionQuery) ([]api.Session, error) {
	values := url.Values{}
	for _, state := range q.States {
		if strings.TrimSpace(state) != "" {
			values.Add("state", state)
		}
	}
	if strings.TrimSpace(q.Subject) != "" {
		values.Set("subject", q.Subject)
	}
	if strings.TrimSpace(q.Category) != "" {
		values.Set("category", q.Category)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp api.SessionListResponse
	err := c.do(ctx, http.MethodGet, "/api/sessions", values, nil, &resp)
	return resp.Sessions, err
}

// Queue lists queue entries, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, statuses ...string) ([]api.QueueEntry, error) {
	values := url.Values{}
	for _, status := range statuses {
		if strings.TrimSpace(status) != "" {
			values.Add("status", status)
		}
	}
	var resp api.QueueListResponse
	err := c.do(ctx, http.MethodGet, "/api/queue", values, nil, &resp)
	return resp.Entries, err
}

// SessionQueue returns every queue entry created for a session.
func (c *Client) SessionQueue(ctx context.Context, sessionID string) ([]api.QueueEntry, error) {
	var resp api.QueueListResponse
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/queue", nil, nil, &resp)
	return resp.Entries, err
}

// QueueEntry returns one queue entry by id.
func (c *Client) QueueEntry(ctx context.Context, id string) (api.QueueEntry, error) {
	var resp api.QueueEntryResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/"+url.PathEscape(id), nil, nil, &resp)
	return resp.Entry, err
}

// QueueStats returns entry counts keyed by status.
func (c *Client) QueueStats(ctx context.Context) (map[string]int, error) {
	var resp api.QueueStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/queue/stats", nil, nil, &resp)
	return resp.Counts, err
}

// Health returns the latest maintenance health report. An unhealthy report
// is returned without error.
func (c *Client) Health(ctx context.Context) (maintenance.Report, error) {
	var report maintenance.Report
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &report)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && !report.CheckedAt.IsZero() {
		return report, nil
	}
	return report, err
}

// DaemonStatus returns runtime information about the daemon.
func (c *Client) DaemonStatus(ctx context.Context) (api.DaemonStatus, error) {
	var resp api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp)
	return resp, err
}

// Trends returns a subject's aggregates.
func (c *Client) Trends(ctx context.Context, subject, category string) ([]api.Trend, error) {
	values := url.Values{}
	if strings.TrimSpace(category) != "" {
		values.Set("category", category)
	}
	var resp api.TrendListResponse
	err := c.do(ctx, http.MethodGet, "/api/subjects/"+url.PathEscape(subject)+"/trends", values, nil, &resp)
	return resp.Trends, err
}

// RunMaintenance runs a maintenance task immediately.
func (c *Client) RunMaintenance(ctx context.Context, task string) error {
	return c.do(ctx, http.MethodPost, "/api/maintenance/"+url.PathEscape(task), nil, nil, nil)
}

// TestNotification asks the daemon to send a test notification.
func (c *Client) TestNotification(ctx context.Context) (bool, string, error) {
	var resp struct {
		Sent    bool   `json:"sent"`
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, &resp)
	return resp.Sent, resp.Message, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var payload api.ErrorResponse
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		} else if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
