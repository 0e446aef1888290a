package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stride/internal/config"
	"stride/internal/services"
	"stride/internal/store"
)

var clip = store.ArtifactMetadata{DurationSeconds: 10, FrameRate: 30, Width: 1280, Height: 720}

func TestMeasurementsValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       Measurements
		wantErr bool
	}{
		{"ok", Measurements{Metrics: map[string]float64{"swingSpeed": 92.1}, Confidence: 0.91}, false},
		{"confidence high", Measurements{Metrics: map[string]float64{"a": 1}, Confidence: 1.2}, true},
		{"confidence negative", Measurements{Metrics: map[string]float64{"a": 1}, Confidence: -0.1}, true},
		{"confidence nan", Measurements{Metrics: map[string]float64{"a": 1}, Confidence: math.NaN()}, true},
		{"no metrics", Measurements{Confidence: 0.5}, true},
		{"only non-finite", Measurements{Metrics: map[string]float64{"a": math.Inf(1), "b": math.NaN()}, Confidence: 0.5}, true},
		{"unnamed", Measurements{Metrics: map[string]float64{" ": 3}, Confidence: 0.5}, true},
		{"mixed", Measurements{Metrics: map[string]float64{"a": math.NaN(), "b": 2}, Confidence: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				if !errors.Is(err, services.ErrAnalysis) {
					t.Fatalf("expected analysis error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSanitizedDropsNonFinite(t *testing.T) {
	m := Measurements{
		Metrics:    map[string]float64{"a": 1, "b": math.Inf(-1)},
		Units:      map[string]string{"a": "mph", "b": "deg"},
		Regions:    map[string]string{"b": "arm"},
		Confidence: 0.7,
	}
	got := m.Sanitized()
	if len(got.Metrics) != 1 || got.Units["a"] != "mph" || got.Units["b"] != "" || got.Regions != nil {
		t.Fatalf("unexpected sanitized measurements: %+v", got)
	}
	if names := got.Names(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestHeuristicIsDeterministic(t *testing.T) {
	engine := NewHeuristic()
	first, err := engine.Analyze(context.Background(), clip, "golf")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := engine.Analyze(context.Background(), clip, "golf")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(first.Metrics) != 3 {
		t.Fatalf("expected golf metrics, got %v", first.Metrics)
	}
	for name, value := range first.Metrics {
		if second.Metrics[name] != value {
			t.Fatalf("metric %s changed between runs: %v vs %v", name, value, second.Metrics[name])
		}
	}
	if err := first.Validate(); err != nil {
		t.Fatalf("heuristic output should validate: %v", err)
	}
	if first.Units["swingSpeed"] != "mph" {
		t.Fatalf("expected mph unit, got %q", first.Units["swingSpeed"])
	}

	other, err := engine.Analyze(context.Background(), clip, "curling")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := other.Metrics["motionScore"]; !ok {
		t.Fatalf("unknown category should use default metrics, got %v", other.Metrics)
	}
}

func TestHeuristicRejectsMissingMetadata(t *testing.T) {
	_, err := NewHeuristic().Analyze(context.Background(), store.ArtifactMetadata{}, "golf")
	if !errors.Is(err, services.ErrAnalysis) {
		t.Fatalf("expected analysis error, got %v", err)
	}
}

func TestHTTPEngineAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Category != "golf" || req.Artifact.FrameRate != 30 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(Measurements{
			Metrics:    map[string]float64{"swingSpeed": 92.1},
			Confidence: 0.91,
		})
	}))
	defer srv.Close()

	engine, err := NewHTTPEngine(srv.URL+"/", "secret")
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	got, err := engine.Analyze(context.Background(), clip, "golf")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Metrics["swingSpeed"] != 92.1 || got.Confidence != 0.91 {
		t.Fatalf("unexpected measurements: %+v", got)
	}
}

func TestHTTPEngineClassifiesFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		marker    error
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, services.ErrAnalysis, true},
		{"unprocessable", http.StatusUnprocessableEntity, services.ErrAnalysis, true},
		{"unauthorized", http.StatusUnauthorized, services.ErrConfiguration, false},
		{"server error", http.StatusInternalServerError, services.ErrNetwork, true},
		{"throttled", http.StatusTooManyRequests, services.ErrNetwork, true},
		{"gateway timeout", http.StatusGatewayTimeout, services.ErrTimeout, true},
		{"teapot", http.StatusTeapot, services.ErrAnalysis, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()
			engine, err := NewHTTPEngine(srv.URL, "")
			if err != nil {
				t.Fatalf("NewHTTPEngine: %v", err)
			}
			_, err = engine.Analyze(context.Background(), clip, "golf")
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
			if errors.Is(err, services.ErrValidation) {
				t.Fatalf("engine rejection must not be reported as submitter validation: %v", err)
			}
			if got := services.Retryable(err); got != tt.retryable {
				t.Fatalf("Retryable = %v, want %v for %v", got, tt.retryable, err)
			}
		})
	}
}

func TestHTTPEngineDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	engine, err := NewHTTPEngine(srv.URL, "")
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = engine.Analyze(ctx, clip, "golf")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestNewSelectsEngine(t *testing.T) {
	cfg := config.Default()
	engine, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := engine.(*Heuristic); !ok {
		t.Fatalf("expected heuristic default, got %T", engine)
	}

	cfg.Analysis.Engine = config.EngineHTTP
	cfg.Analysis.URL = "http://models.internal:9000"
	engine, err = New(&cfg)
	if err != nil {
		t.Fatalf("New http: %v", err)
	}
	if _, ok := engine.(*HTTPEngine); !ok {
		t.Fatalf("expected http engine, got %T", engine)
	}

	cfg.Analysis.Engine = "quantum"
	if _, err := New(&cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
