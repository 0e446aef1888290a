// Package services defines shared error and context plumbing consumed by the
// pipeline stages, the dispatcher, and the external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, queue entry IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the dispatcher
//     decide between a retry and a terminal failure.
//
// Use these helpers when wiring new stage logic so retries and log fields stay
// uniform across the pipeline.
package services
