package testsupport

import (
	"context"
	"fmt"
	"sync"

	"stride/internal/analysis"
	"stride/internal/stage"
	"stride/internal/store"
)

// FakeEngine is a scripted analysis engine. Errors queued with FailNext are
// returned first; afterwards every call yields Result.
type FakeEngine struct {
	mu      sync.Mutex
	Result  analysis.Measurements
	errs    []error
	calls   int
	block   chan struct{}
	healthy bool
}

// NewFakeEngine returns an engine that reports two golf metrics.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Result: analysis.Measurements{
			Metrics:    map[string]float64{"swingSpeed": 92.5, "tempoRatio": 3.1},
			Confidence: 0.87,
			Units:      map[string]string{"swingSpeed": "mph", "tempoRatio": "ratio"},
		},
		healthy: true,
	}
}

// FailNext queues errors returned by the next calls, in order.
func (f *FakeEngine) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

// BlockUntil makes Analyze wait for release or context cancellation.
func (f *FakeEngine) BlockUntil(release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = release
}

// SetHealthy controls the HealthCheck result.
func (f *FakeEngine) SetHealthy(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = ok
}

// Calls returns how many times Analyze ran.
func (f *FakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Analyze implements analysis.Engine.
func (f *FakeEngine) Analyze(ctx context.Context, _ store.ArtifactMetadata, _ string) (analysis.Measurements, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	result := f.Result
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return analysis.Measurements{}, ctx.Err()
		}
	}
	if err != nil {
		return analysis.Measurements{}, err
	}
	return result, nil
}

// HealthCheck implements analysis.HealthChecker.
func (f *FakeEngine) HealthCheck(context.Context) stage.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.healthy {
		return stage.Healthy("analysis:fake")
	}
	return stage.Unhealthy("analysis:fake", "scripted failure")
}

// FakeGateway records registrations and telemetry.
type FakeGateway struct {
	mu           sync.Mutex
	registerErrs []error
	TelemetryErr error
	registered   int
	telemetry    map[string]analysis.Measurements
}

// NewFakeGateway returns an empty fake gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{telemetry: make(map[string]analysis.Measurements)}
}

// FailRegister queues errors returned by the next RegisterSession calls.
func (g *FakeGateway) FailRegister(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerErrs = append(g.registerErrs, errs...)
}

// RegisterSession implements gateway.Client.
func (g *FakeGateway) RegisterSession(ctx context.Context, subject, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.registerErrs) > 0 {
		err := g.registerErrs[0]
		g.registerErrs = g.registerErrs[1:]
		return "", err
	}
	g.registered++
	return fmt.Sprintf("gw-%s-%d", subject, g.registered), nil
}

// SendTelemetry implements gateway.Client.
func (g *FakeGateway) SendTelemetry(ctx context.Context, externalID string, m analysis.Measurements) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.TelemetryErr != nil {
		return g.TelemetryErr
	}
	g.telemetry[externalID] = m
	return nil
}

// Registered returns the number of successful registrations.
func (g *FakeGateway) Registered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registered
}

// Telemetry returns the measurements delivered for externalID.
func (g *FakeGateway) Telemetry(externalID string) (analysis.Measurements, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.telemetry[externalID]
	return m, ok
}
