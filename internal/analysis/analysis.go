// Package analysis defines the Analysis Engine capability the pipeline calls
// to turn an artifact into named measurements, and provides two engines: an
// HTTP client for a remote model service and a deterministic heuristic engine
// for local runs and tests.
package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"stride/internal/config"
	"stride/internal/services"
	"stride/internal/stage"
	"stride/internal/store"
)

// Measurements is the output of one analysis run.
type Measurements struct {
	Metrics    map[string]float64 `json:"metrics"`
	Confidence float64            `json:"confidence"`
	Units      map[string]string  `json:"units,omitempty"`
	Regions    map[string]string  `json:"regions,omitempty"`
}

// Engine computes measurements for an artifact.
type Engine interface {
	Analyze(ctx context.Context, meta store.ArtifactMetadata, category string) (Measurements, error)
}

// HealthChecker is implemented by engines that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) stage.Health
}

// Names returns the metric names in sorted order.
func (m Measurements) Names() []string {
	names := make([]string, 0, len(m.Metrics))
	for name := range m.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sanitized returns a copy without unnamed or non-finite metrics. Units and
// regions for dropped metrics are dropped as well.
func (m Measurements) Sanitized() Measurements {
	out := Measurements{
		Metrics:    make(map[string]float64, len(m.Metrics)),
		Confidence: m.Confidence,
	}
	for name, value := range m.Metrics {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		out.Metrics[trimmed] = value
		if unit, ok := m.Units[name]; ok && unit != "" {
			if out.Units == nil {
				out.Units = make(map[string]string)
			}
			out.Units[trimmed] = unit
		}
		if region, ok := m.Regions[name]; ok && region != "" {
			if out.Regions == nil {
				out.Regions = make(map[string]string)
			}
			out.Regions[trimmed] = region
		}
	}
	return out
}

// Validate checks that confidence lies in [0,1] and at least one finite,
// named metric is present. Failures carry services.ErrAnalysis.
func (m Measurements) Validate() error {
	if math.IsNaN(m.Confidence) || m.Confidence < 0 || m.Confidence > 1 {
		return services.Wrap(services.ErrAnalysis, string(stage.Analysis), "validate output",
			fmt.Sprintf("confidence %v outside [0,1]", m.Confidence), nil)
	}
	if len(m.Sanitized().Metrics) == 0 {
		return services.Wrap(services.ErrAnalysis, string(stage.Analysis), "validate output",
			"engine returned no finite metrics", nil)
	}
	return nil
}

// New builds the engine selected by analysis.engine.
func New(cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return NewHeuristic(), nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Analysis.Engine)) {
	case "", config.EngineHeuristic:
		return NewHeuristic(), nil
	case config.EngineHTTP:
		return NewHTTPEngine(cfg.Analysis.URL, cfg.Analysis.APIKey)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "select engine",
			fmt.Sprintf("unknown analysis engine %q", cfg.Analysis.Engine), nil)
	}
}
