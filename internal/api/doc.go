// Package api defines the transport types and services behind the daemon's
// HTTP API and the CLI. It translates store models into transport-friendly
// DTOs so clients never couple to internal types.
//
// # Services
//
// IntakeService: validates submissions, creates sessions, and optionally
// enqueues them in the same call.
//
// SessionService: status with progress and time estimates, results, metric
// rows, session listings, and subject trends.
//
// QueueService: read-only queue listings and counts.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are exposed as lowercase strings and
// timestamps as RFC3339 with milliseconds. Result payloads are passed through
// as json.RawMessage to avoid double encoding.
package api
