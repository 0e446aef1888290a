package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"stride/internal/analysis"
	"stride/internal/config"
	"stride/internal/services"
	"stride/internal/stage"
)

// HTTPOptions configures the HTTP gateway client.
type HTTPOptions struct {
	BaseURL   string
	APIKey    string
	RateLimit float64
	Burst     int
	Client    *http.Client
}

// HTTPClient talks to the gateway's JSON API:
//
//	POST {base}/sessions                 {"subject","category"} → {"sessionId"}
//	POST {base}/sessions/{id}/telemetry  {"metrics","confidence","units","regions"}
type HTTPClient struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	client  *http.Client
}

// NewHTTPClient validates opts and builds the client. A non-positive rate
// limit disables throttling.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "gateway", "configure client",
			fmt.Sprintf("gateway.url %q is not an absolute URL", opts.BaseURL), err)
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey), limiter: limiter, client: client}, nil
}

type registerRequest struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
}

type registerResponse struct {
	SessionID string `json:"sessionId"`
}

// RegisterSession creates a gateway session and returns its handle.
func (c *HTTPClient) RegisterSession(ctx context.Context, subject, category string) (string, error) {
	var resp registerResponse
	if err := c.post(ctx, stage.Gateway, "register session", "/sessions",
		registerRequest{Subject: subject, Category: category}, &resp); err != nil {
		return "", err
	}
	id := strings.TrimSpace(resp.SessionID)
	if id == "" {
		return "", services.Wrap(services.ErrNetwork, string(stage.Gateway), "register session",
			"gateway response carried no sessionId", nil)
	}
	return id, nil
}

// SendTelemetry forwards measurements for a registered session.
func (c *HTTPClient) SendTelemetry(ctx context.Context, externalID string, m analysis.Measurements) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return services.Wrap(services.ErrValidation, string(stage.Telemetry), "send telemetry", "gateway session id is empty", nil)
	}
	return c.post(ctx, stage.Telemetry, "send telemetry", "/sessions/"+url.PathEscape(externalID)+"/telemetry", m, nil)
}

// HealthCheck probes {base}/health.
func (c *HTTPClient) HealthCheck(ctx context.Context) stage.Health {
	return stage.ProbeHTTP(ctx, c.client, "gateway:http", c.baseURL+"/health", c.decorate)
}

func (c *HTTPClient) post(ctx context.Context, name stage.Name, operation, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return stage.ClassifyCallError(err, services.ErrNetwork, name, operation)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return services.Wrap(services.ErrValidation, string(name), operation, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, string(name), operation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return stage.ClassifyCallError(err, services.ErrNetwork, name, operation)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stage.ClassifyCallError(err, services.ErrNetwork, name, operation)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(data))
		if len(detail) > 256 {
			detail = detail[:256]
		}
		// Rejections are never terminal here; the entry's retry budget bounds them.
		marker := services.ErrNetwork
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, string(name), operation,
			fmt.Sprintf("gateway returned HTTP %d %s", resp.StatusCode, detail), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return services.Wrap(services.ErrNetwork, string(name), operation, "decode response", err)
	}
	return nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.UserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
