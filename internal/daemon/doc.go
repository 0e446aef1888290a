// Package daemon coordinates the long-running Stride process.
//
// It wires configuration, the SQLite store, the dispatcher, and the
// maintenance scheduler into a single lifecycle with flock-based locking to
// prevent multiple instances, and serves the HTTP API that the CLI and other
// clients use to submit sessions and read results.
//
// Keep orchestration logic here: pipeline stages live in internal/pipeline,
// retry policy in internal/dispatch, and housekeeping in internal/maintenance.
// The daemon focuses on startup, shutdown, and request routing.
package daemon
