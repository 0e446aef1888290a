package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGateway()
	c.normalizeAnalysis()
	c.normalizeMedia()
	c.normalizeMetrics()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ArtifactDir, err = expandPath(strings.TrimSpace(c.Paths.ArtifactDir)); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = envOverride(c.Paths.APIToken, "STRIDE_API_TOKEN")
	return nil
}

func (c *Config) normalizeGateway() {
	c.Gateway.URL = strings.TrimRight(strings.TrimSpace(c.Gateway.URL), "/")
	c.Gateway.APIKey = envOverride(c.Gateway.APIKey, "STRIDE_GATEWAY_API_KEY")
	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = defaultGatewayTimeout
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = defaultGatewayBurst
	}
}

func (c *Config) normalizeAnalysis() {
	c.Analysis.Engine = strings.ToLower(strings.TrimSpace(c.Analysis.Engine))
	if c.Analysis.Engine == "" {
		c.Analysis.Engine = defaultAnalysisEngine
	}
	c.Analysis.URL = strings.TrimRight(strings.TrimSpace(c.Analysis.URL), "/")
	c.Analysis.APIKey = envOverride(c.Analysis.APIKey, "STRIDE_ANALYSIS_API_KEY")
	if c.Analysis.TimeoutSeconds <= 0 {
		c.Analysis.TimeoutSeconds = defaultAnalysisTimeout
	}
}

func (c *Config) normalizeMedia() {
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	if c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = defaultFFprobeBinary
	}
	if c.Media.ProbeTimeout <= 0 {
		c.Media.ProbeTimeout = defaultProbeTimeout
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
	c.Tracing.ServiceName = strings.TrimSpace(c.Tracing.ServiceName)
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultTracingServiceName
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// envOverride returns the trimmed environment value for key when set,
// otherwise the trimmed current value.
func envOverride(current, key string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(current)
}
