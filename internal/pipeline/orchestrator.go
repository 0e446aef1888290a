// Package pipeline runs one analysis session through its five stages:
// artifact metadata, gateway registration, analysis, telemetry, and result
// persistence.
//
// The Orchestrator does not own session state transitions other than the
// final completion, which it commits together with the results. Failures are
// returned as an Outcome so the dispatcher can decide between retrying and
// failing the queue entry.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stride/internal/analysis"
	"stride/internal/config"
	"stride/internal/gateway"
	"stride/internal/logging"
	"stride/internal/metrics"
	"stride/internal/services"
	"stride/internal/stage"
	"stride/internal/store"
)

const tracerName = "stride/internal/pipeline"

// SessionWriter is the subset of the session store the pipeline writes to.
type SessionWriter interface {
	UpdateArtifact(ctx context.Context, id string, meta store.ArtifactMetadata) error
	SetGatewaySession(ctx context.Context, id, externalID string) error
	CommitResults(ctx context.Context, id, result, rawMeasurements string, metrics []store.Metric) error
}

// Orchestrator executes the stage sequence for a session.
type Orchestrator struct {
	sessions SessionWriter
	engine   analysis.Engine
	gateway  gateway.Client
	prober   Prober
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	artifactDir     string
	probeArtifacts  bool
	probeTimeout    time.Duration
	gatewayTimeout  time.Duration
	analysisTimeout time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithProber overrides the ffprobe-backed prober.
func WithProber(p Prober) Option {
	return func(o *Orchestrator) {
		o.prober = p
	}
}

// WithMetrics records stage durations and telemetry failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New constructs an Orchestrator from configuration and collaborators.
func New(cfg *config.Config, sessions SessionWriter, engine analysis.Engine, gw gateway.Client, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions: sessions,
		engine:   engine,
		gateway:  gw,
		tracer:   otel.Tracer(tracerName),
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}
	if cfg != nil {
		o.artifactDir = cfg.Paths.ArtifactDir
		o.probeArtifacts = cfg.Media.ProbeArtifacts
		o.probeTimeout = stage.Seconds(cfg.Media.ProbeTimeout)
		o.gatewayTimeout = stage.Seconds(cfg.Gateway.TimeoutSeconds)
		o.analysisTimeout = stage.Seconds(cfg.Analysis.TimeoutSeconds)
		o.prober = FFprobe{Binary: cfg.FFprobeBinary()}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every stage for sess. The session must already be in the
// processing state. sess is updated in place with the artifact metadata and
// gateway handle recorded along the way.
func (o *Orchestrator) Run(ctx context.Context, sess *store.Session) Outcome {
	ctx = services.WithSessionID(ctx, sess.ID)
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("session.subject", sess.Subject),
		attribute.String("session.category", sess.Category),
	))
	defer span.End()

	logger := logging.WithContext(ctx, o.logger)
	started := time.Now()
	result := &Result{}

	var err error
	if err = o.runStage(ctx, stage.Metadata, func(ctx context.Context) error {
		meta, err := o.extractMetadata(ctx, sess)
		if err != nil {
			return err
		}
		result.Artifact = meta
		return nil
	}); err != nil {
		return o.fail(span, logger, stage.Metadata, err)
	}

	if err = o.runStage(ctx, stage.Gateway, func(ctx context.Context) error {
		id, err := o.registerGateway(ctx, sess)
		if err != nil {
			return err
		}
		result.GatewaySessionID = id
		return nil
	}); err != nil {
		return o.fail(span, logger, stage.Gateway, err)
	}

	if err = o.runStage(ctx, stage.Analysis, func(ctx context.Context) error {
		m, err := o.analyze(ctx, sess, result.Artifact)
		if err != nil {
			return err
		}
		result.Measurements = m
		return nil
	}); err != nil {
		return o.fail(span, logger, stage.Analysis, err)
	}

	// Telemetry is best effort; a failed send never fails the session.
	if err = o.runStage(ctx, stage.Telemetry, func(ctx context.Context) error {
		return o.sendTelemetry(ctx, result.GatewaySessionID, result.Measurements)
	}); err != nil {
		o.metrics.IncTelemetryFailure()
		logging.WarnWithContext(logger, "telemetry delivery failed", "telemetry_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
			logging.String(logging.FieldErrorHint, "check gateway connectivity"),
			logging.String(logging.FieldImpact, "gateway missing measurements for this session"),
		)
	} else {
		result.TelemetryDelivered = true
	}

	if err = o.runStage(ctx, stage.Persist, func(ctx context.Context) error {
		return o.persist(ctx, sess, result)
	}); err != nil {
		return o.fail(span, logger, stage.Persist, err)
	}

	span.SetStatus(codes.Ok, "")
	logger.Info(
		"session analyzed",
		logging.String(logging.FieldEventType, "session_complete"),
		logging.Int("metric_count", len(result.Measurements.Metrics)),
		logging.Float64("confidence", result.Measurements.Confidence),
		logging.Bool("telemetry_delivered", result.TelemetryDelivered),
		logging.Duration("duration", time.Since(started)),
	)
	return StageSuccess(result)
}

func (o *Orchestrator) fail(span trace.Span, logger *slog.Logger, name stage.Name, err error) Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	outcome := StageFailure(name, err)
	logger.Info(
		"session run stopped",
		logging.String(logging.FieldEventType, "session_stage_failed"),
		logging.String(logging.FieldStage, string(name)),
		logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
		logging.Bool("retryable", outcome.Retryable),
		logging.Error(err),
	)
	return outcome
}

func (o *Orchestrator) runStage(ctx context.Context, name stage.Name, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, string(name))
	ctx, span := o.tracer.Start(ctx, "stage."+string(name))
	defer span.End()

	logger := logging.WithContext(ctx, o.logger)
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)
	o.metrics.ObserveStage(string(name), elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	logger.Debug(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
	)
	return nil
}

// probeUnavailable reports whether a probe failed only because the binary is
// missing.
func probeUnavailable(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
