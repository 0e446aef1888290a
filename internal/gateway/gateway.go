// Package gateway registers analysis sessions with the external telemetry
// gateway and forwards their measurements.
//
// The HTTP client authenticates with a bearer key and throttles itself with
// a token bucket so a burst of completions cannot overrun the gateway. When
// no gateway URL is configured the local client issues "local-" handles and
// drops telemetry, which keeps the pipeline runnable offline.
package gateway

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"stride/internal/analysis"
	"stride/internal/config"
	"stride/internal/stage"
)

// Client is the gateway capability the pipeline depends on.
type Client interface {
	RegisterSession(ctx context.Context, subject, category string) (string, error)
	SendTelemetry(ctx context.Context, externalID string, m analysis.Measurements) error
}

// New returns the HTTP client when gateway.url is set and the local client
// otherwise.
func New(cfg *config.Config) (Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.Gateway.URL) == "" {
		return NewLocal(), nil
	}
	return NewHTTPClient(HTTPOptions{
		BaseURL:   cfg.Gateway.URL,
		APIKey:    cfg.Gateway.APIKey,
		RateLimit: cfg.Gateway.RateLimit,
		Burst:     cfg.Gateway.Burst,
	})
}

// LocalPrefix marks handles issued without a remote gateway.
const LocalPrefix = "local-"

// Local is the in-process gateway.
type Local struct{}

// NewLocal returns the in-process gateway.
func NewLocal() *Local {
	return &Local{}
}

// RegisterSession issues a fresh local handle.
func (l *Local) RegisterSession(ctx context.Context, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return LocalPrefix + uuid.NewString(), nil
}

// SendTelemetry drops the measurements.
func (l *Local) SendTelemetry(ctx context.Context, _ string, _ analysis.Measurements) error {
	return ctx.Err()
}

// HealthCheck reports the local gateway as always ready.
func (l *Local) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("gateway:local")
}
