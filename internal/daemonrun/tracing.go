package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"stride/internal/config"
	"stride/internal/logging"
)

// TraceFile receives exported spans, one JSON document per span.
const TraceFile = "traces.jsonl"

// setupTracing installs a tracer provider exporting to the log directory.
// With tracing disabled the global no-op provider stays in place.
func setupTracing(cfg *config.Config, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	path := filepath.Join(cfg.Paths.LogDir, TraceFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(file))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Tracing.ServiceName),
		attribute.String("service.version", config.UserAgent),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled",
		logging.String(logging.FieldEventType, "tracing_enabled"),
		logging.String("trace_file", path),
	)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		return err
	}, nil
}
