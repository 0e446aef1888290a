package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDispatcher(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateMaintenance(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDispatcher() error {
	if err := ensurePositive(
		entry{"dispatcher.poll_interval_seconds", c.Dispatcher.PollInterval},
		entry{"dispatcher.error_retry_interval_seconds", c.Dispatcher.ErrorRetryInterval},
		entry{"dispatcher.max_retries", c.Dispatcher.MaxRetries},
		entry{"dispatcher.backoff_base_seconds", c.Dispatcher.BackoffBase},
		entry{"dispatcher.backoff_max_seconds", c.Dispatcher.BackoffMax},
		entry{"dispatcher.heartbeat_interval_seconds", c.Dispatcher.HeartbeatInterval},
		entry{"dispatcher.heartbeat_timeout_seconds", c.Dispatcher.HeartbeatTimeout},
	); err != nil {
		return err
	}
	if c.Dispatcher.DefaultPriority < 0 {
		return errors.New("dispatcher.default_priority must be >= 0")
	}
	if c.Dispatcher.BackoffMax < c.Dispatcher.BackoffBase {
		return errors.New("dispatcher.backoff_max_seconds must be >= dispatcher.backoff_base_seconds")
	}
	if c.Dispatcher.BackoffJitter < 0 || c.Dispatcher.BackoffJitter >= 1 {
		return errors.New("dispatcher.backoff_jitter must be in [0, 1)")
	}
	if c.Dispatcher.HeartbeatTimeout <= c.Dispatcher.HeartbeatInterval {
		return errors.New("dispatcher.heartbeat_timeout_seconds must be greater than dispatcher.heartbeat_interval_seconds")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if c.Gateway.URL != "" {
		if err := validateURL("gateway.url", c.Gateway.URL); err != nil {
			return err
		}
	}
	if c.Gateway.RateLimit < 0 {
		return errors.New("gateway.rate_limit must be >= 0 (0 disables limiting)")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	if !slices.Contains([]string{EngineHeuristic, EngineHTTP}, c.Analysis.Engine) {
		return fmt.Errorf("analysis.engine must be %q or %q, got %q", EngineHeuristic, EngineHTTP, c.Analysis.Engine)
	}
	if c.Analysis.Engine == EngineHTTP {
		if c.Analysis.URL == "" {
			return errors.New("analysis.url must be set when analysis.engine is \"http\"")
		}
		if err := validateURL("analysis.url", c.Analysis.URL); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateMaintenance() error {
	if err := ensurePositive(
		entry{"maintenance.retention_interval_minutes", c.Maintenance.RetentionInterval},
		entry{"maintenance.health_interval_minutes", c.Maintenance.HealthInterval},
		entry{"maintenance.aggregate_interval_minutes", c.Maintenance.AggregateInterval},
		entry{"maintenance.log_retention_interval_minutes", c.Maintenance.LogRetentionInterval},
	); err != nil {
		return err
	}
	if c.Maintenance.RetentionDays < 0 {
		return errors.New("maintenance.retention_days must be >= 0 (0 disables the sweep)")
	}
	if c.Maintenance.MinFreeDiskMiB < 0 {
		return errors.New("maintenance.min_free_disk_mib must be >= 0")
	}
	if c.Maintenance.AggregateTrendSamples < 2 {
		return errors.New("maintenance.aggregate_trend_samples must be >= 2")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

type entry struct {
	key   string
	value int
}

func ensurePositive(values ...entry) error {
	for _, v := range values {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.key)
		}
	}
	return nil
}

func validateURL(key, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", key, raw)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s is missing a host", key)
	}
	return nil
}
