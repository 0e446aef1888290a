package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stride/internal/config"
)

// DaemonLogFile is the file name the daemon writes under the log directory.
const DaemonLogFile = "strided.log"

// Options describes logger construction parameters.
type Options struct {
	Level       string
	Format      string // "console" (default) or "json"
	Development bool   // adds source locations
	// Console receives every line; nil means stdout.
	Console io.Writer
	// Files are appended to in addition to Console.
	Files []string
}

// New constructs a slog logger from opts.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))
	addSource := opts.Development || levelVar.Level() <= slog.LevelDebug

	build, err := handlerFor(opts.Format)
	if err != nil {
		return nil, err
	}
	out, err := destination(opts.Console, opts.Files)
	if err != nil {
		return nil, err
	}
	return slog.New(build(out, levelVar, addSource)), nil
}

// NewFromConfig builds the daemon logger: console output plus strided.log in
// the configured log directory. A non-empty level overrides logging.level.
func NewFromConfig(cfg *config.Config, level string, development bool) (*slog.Logger, error) {
	opts := Options{Level: "info", Development: development}
	if cfg != nil {
		opts.Level = cfg.Logging.Level
		opts.Format = cfg.Logging.Format
		if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
			opts.Files = []string{filepath.Join(dir, DaemonLogFile)}
		}
	}
	if strings.TrimSpace(level) != "" {
		opts.Level = level
	}
	return New(opts)
}

type handlerBuilder func(io.Writer, *slog.LevelVar, bool) slog.Handler

func handlerFor(format string) (handlerBuilder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return newPrettyHandler, nil
	case "json":
		return newJSONHandler, nil
	}
	return nil, fmt.Errorf("log format: unsupported value %q", format)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// destination fans console output out to every log file, creating parent
// directories as needed. Duplicate file paths are opened once.
func destination(console io.Writer, files []string) (io.Writer, error) {
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{console}
	opened := make(map[string]bool, len(files))
	for _, path := range files {
		path = filepath.Clean(strings.TrimSpace(path))
		if path == "." || opened[path] {
			continue
		}
		opened[path] = true
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir for %s: %w", path, err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		writers = append(writers, file)
	}
	if len(writers) == 1 {
		return console, nil
	}
	return io.MultiWriter(writers...), nil
}
