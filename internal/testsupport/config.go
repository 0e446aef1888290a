package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"stride/internal/config"
)

// Option adjusts a generated test configuration. dir is the per-test root
// that holds the data, artifact and log directories.
type Option func(t testing.TB, dir string, cfg *config.Config)

// NewConfig returns a default configuration rooted in a fresh temp directory.
// Backoff is shortened to one second so retry tests can advance a fake clock
// in small steps, and artifact probing is off unless WithFFprobeStub is used.
func NewConfig(t testing.TB, opts ...Option) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.ArtifactDir = filepath.Join(dir, "artifacts")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Dispatcher.BackoffBase = 1
	cfg.Dispatcher.BackoffMax = 4
	cfg.Media.ProbeArtifacts = false

	for _, opt := range opts {
		opt(t, dir, &cfg)
	}
	return &cfg
}

// WithMaxRetries overrides the dispatcher retry budget.
func WithMaxRetries(n int) Option {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Dispatcher.MaxRetries = n
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) Option {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}

// WithFFprobeStub installs a shell script that prints output in place of
// ffprobe and turns artifact probing on.
func WithFFprobeStub(output string) Option {
	return func(t testing.TB, dir string, cfg *config.Config) {
		binDir := filepath.Join(dir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", binDir, err)
		}
		payload := filepath.Join(binDir, "ffprobe.json")
		if err := os.WriteFile(payload, []byte(output), 0o644); err != nil {
			t.Fatalf("write ffprobe payload: %v", err)
		}
		script := filepath.Join(binDir, "ffprobe")
		body := "#!/bin/sh\ncat '" + payload + "'\n"
		if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
			t.Fatalf("write ffprobe stub: %v", err)
		}
		cfg.Media.FFprobeBinary = script
		cfg.Media.ProbeArtifacts = true
	}
}
