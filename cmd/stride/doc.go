// Package main hosts the Stride CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon API: session intake and enqueueing, status
// polling, results and metrics, queue inspection, subject trends, and manual
// maintenance runs. Configuration scaffolding works without a daemon.
//
// Keep this package lean: add functionality to the internal packages and
// the daemon API first, then surface it through a command here.
package main
