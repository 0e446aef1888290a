package pipeline

import (
	"stride/internal/analysis"
	"stride/internal/services"
	"stride/internal/stage"
	"stride/internal/store"
)

// Result is what a successful run produced.
type Result struct {
	Artifact           store.ArtifactMetadata `json:"artifact"`
	GatewaySessionID   string                 `json:"gatewaySessionId"`
	Measurements       analysis.Measurements  `json:"measurements"`
	TelemetryDelivered bool                   `json:"telemetryDelivered"`
}

// Outcome reports how a run ended. Exactly one of Result and Err is set.
type Outcome struct {
	Result    *Result
	Stage     stage.Name
	Err       error
	Retryable bool
}

// StageSuccess wraps a completed run.
func StageSuccess(result *Result) Outcome {
	return Outcome{Result: result}
}

// StageFailure wraps a failed stage; retryability follows the error class.
func StageFailure(name stage.Name, err error) Outcome {
	return Outcome{Stage: name, Err: err, Retryable: services.Retryable(err)}
}

// Succeeded reports whether every mandatory stage passed.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
