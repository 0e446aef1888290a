// Package stage names the pipeline stages and holds the helpers every stage
// shares: collaborator timeouts and health records.
package stage

// Name identifies one pipeline stage.
type Name string

const (
	Metadata  Name = "metadata"
	Gateway   Name = "gateway"
	Analysis  Name = "analysis"
	Telemetry Name = "telemetry"
	Persist   Name = "persist"
)

// Ordered lists the stages in execution order.
func Ordered() []Name {
	return []Name{Metadata, Gateway, Analysis, Telemetry, Persist}
}

// String implements fmt.Stringer.
func (n Name) String() string {
	return string(n)
}
