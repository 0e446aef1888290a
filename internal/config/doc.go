// Package config loads, normalizes, and validates Stride configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// STRIDE_GATEWAY_API_KEY. The Config type centralizes every knob the daemon and
// CLI need, so the dispatcher, pipeline, and maintenance scheduler read their
// timing and retry policy from one place.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
