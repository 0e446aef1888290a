package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"stride/internal/config"
	"stride/internal/services"
	"stride/internal/stage"
	"stride/internal/store"
)

// maxResponseBytes caps how much of a remote engine response is read.
const maxResponseBytes = 4 << 20

// HTTPEngine calls a remote model service:
//
//	POST {base}/analyze  {"artifact": {...}, "category": "golf"}
//	→ 200 {"metrics": {...}, "confidence": 0.91, "units": {...}, "regions": {...}}
type HTTPEngine struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPEngine validates baseURL and returns an engine that posts to it.
func NewHTTPEngine(baseURL, apiKey string) (*HTTPEngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "configure http engine",
			fmt.Sprintf("analysis.url %q is not an absolute URL", baseURL), err)
	}
	return &HTTPEngine{baseURL: baseURL, apiKey: strings.TrimSpace(apiKey), client: &http.Client{}}, nil
}

// WithClient replaces the HTTP client. Tests use it with httptest servers.
func (e *HTTPEngine) WithClient(client *http.Client) *HTTPEngine {
	if client != nil {
		e.client = client
	}
	return e
}

type analyzeRequest struct {
	Artifact store.ArtifactMetadata `json:"artifact"`
	Category string                 `json:"category"`
}

// Analyze implements Engine.
func (e *HTTPEngine) Analyze(ctx context.Context, meta store.ArtifactMetadata, category string) (Measurements, error) {
	body, err := json.Marshal(analyzeRequest{Artifact: meta, Category: category})
	if err != nil {
		return Measurements{}, services.Wrap(services.ErrValidation, string(stage.Analysis), "encode request", "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return Measurements{}, services.Wrap(services.ErrConfiguration, string(stage.Analysis), "build request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", config.UserAgent)
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Measurements{}, stage.ClassifyCallError(err, services.ErrNetwork, stage.Analysis, "call engine")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Measurements{}, stage.ClassifyCallError(err, services.ErrNetwork, stage.Analysis, "read response")
	}
	if err := statusError(resp.StatusCode, payload); err != nil {
		return Measurements{}, err
	}

	var out Measurements
	if err := json.Unmarshal(payload, &out); err != nil {
		return Measurements{}, services.Wrap(services.ErrAnalysis, string(stage.Analysis), "decode response",
			"engine returned malformed JSON", err)
	}
	return out, nil
}

// HealthCheck probes {base}/health.
func (e *HTTPEngine) HealthCheck(ctx context.Context) stage.Health {
	return stage.ProbeHTTP(ctx, e.client, "analysis:http", e.baseURL+"/health", func(req *http.Request) {
		req.Header.Set("User-Agent", config.UserAgent)
	})
}

// statusError maps a non-2xx response to a classified error. Only a
// rejected credential is terminal; a 400 or 422 is an engine-side analysis
// failure and stays retryable.
func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}
	message := fmt.Sprintf("engine returned HTTP %d", code)
	if detail != "" {
		message += ": " + detail
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, string(stage.Analysis), "call engine", message, nil)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return services.Wrap(services.ErrTimeout, string(stage.Analysis), "call engine", message, nil)
	case code == http.StatusTooManyRequests || code >= 500:
		return services.Wrap(services.ErrNetwork, string(stage.Analysis), "call engine", message, nil)
	default:
		return services.Wrap(services.ErrAnalysis, string(stage.Analysis), "call engine", message, nil)
	}
}
