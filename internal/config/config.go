package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Dispatcher contains poll loop timing and retry policy.
type Dispatcher struct {
	PollInterval       int     `toml:"poll_interval_seconds"`
	ErrorRetryInterval int     `toml:"error_retry_interval_seconds"`
	MaxRetries         int     `toml:"max_retries"`
	DefaultPriority    int     `toml:"default_priority"`
	BackoffBase        int     `toml:"backoff_base_seconds"`
	BackoffMax         int     `toml:"backoff_max_seconds"`
	BackoffJitter      float64 `toml:"backoff_jitter"`
	HeartbeatInterval  int     `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeout   int     `toml:"heartbeat_timeout_seconds"`
}

// Gateway contains settings for the external telemetry gateway. An empty URL
// selects the in-process gateway, which issues local session handles and
// drops telemetry.
type Gateway struct {
	URL            string  `toml:"url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimit      float64 `toml:"rate_limit"`
	Burst          int     `toml:"burst"`
}

// Analysis selects and configures the analysis engine.
type Analysis struct {
	Engine         string `toml:"engine"`
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Media contains artifact inspection settings.
type Media struct {
	FFprobeBinary  string `toml:"ffprobe_binary"`
	ProbeArtifacts bool   `toml:"probe_artifacts"`
	ProbeTimeout   int    `toml:"probe_timeout_seconds"`
}

// Maintenance contains schedules for the recurring housekeeping tasks.
type Maintenance struct {
	RetentionDays         int  `toml:"retention_days"`
	DeleteArtifacts       bool `toml:"delete_artifacts"`
	RetentionInterval     int  `toml:"retention_interval_minutes"`
	HealthInterval        int  `toml:"health_interval_minutes"`
	AggregateInterval     int  `toml:"aggregate_interval_minutes"`
	LogRetentionInterval  int  `toml:"log_retention_interval_minutes"`
	MinFreeDiskMiB        int  `toml:"min_free_disk_mib"`
	AggregateTrendSamples int  `toml:"aggregate_trend_samples"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
	Maintenance    bool   `toml:"maintenance"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics controls the Prometheus endpoint on the API server.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Tracing controls OpenTelemetry span export.
type Tracing struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Config encapsulates all configuration values for Stride.
//
// Configuration sections by subsystem:
//   - Paths: database, artifact, and log directories plus the API bind address
//   - Dispatcher: poll interval, retry budget, backoff curve, heartbeats
//   - Gateway: external telemetry gateway connection and rate limit
//   - Analysis: analysis engine selection
//   - Media: ffprobe inspection of local artifacts
//   - Maintenance: retention, health, and aggregate schedules
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
//   - Metrics: Prometheus endpoint
//   - Tracing: OpenTelemetry span export
type Config struct {
	Paths         Paths         `toml:"paths"`
	Dispatcher    Dispatcher    `toml:"dispatcher"`
	Gateway       Gateway       `toml:"gateway"`
	Analysis      Analysis      `toml:"analysis"`
	Media         Media         `toml:"media"`
	Maintenance   Maintenance   `toml:"maintenance"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Tracing       Tracing       `toml:"tracing"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stride/config.toml")
}

// Load reads the configuration at path, or searches the per-user location and
// then ./stride.toml when path is empty. A missing file yields defaults. The
// returned path is the file that was read, or the one that would have been.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return fmt.Errorf("parse config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// locate returns the first existing candidate, or the preferred candidate
// with exists=false.
func locate(explicit string) (string, bool, error) {
	var candidates []string
	if explicit != "" {
		expanded, err := expandPath(explicit)
		if err != nil {
			return "", false, err
		}
		candidates = []string{expanded}
	} else {
		userPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		projectPath, err := filepath.Abs("stride.toml")
		if err != nil {
			return "", false, err
		}
		candidates = []string{userPath, projectPath}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, true, nil
		case err == nil && explicit != "":
			return "", false, fmt.Errorf("config path %s is a directory", candidate)
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	return candidates[0], false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) != "" {
		if err := os.MkdirAll(c.Paths.ArtifactDir, 0o755); err != nil {
			return fmt.Errorf("create artifact directory %q: %w", c.Paths.ArtifactDir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "stride.db")
}

// FFprobeBinary returns the ffprobe executable name used for artifact inspection.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Media.FFprobeBinary); bin != "" {
		return bin
	}
	return defaultFFprobeBinary
}

// PollInterval returns the dispatcher poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatcher.PollInterval) * time.Second
}

// RetentionWindow returns the age after which terminal sessions are swept.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.Maintenance.RetentionDays) * 24 * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
