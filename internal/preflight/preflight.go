package preflight

import (
	"strings"

	"stride/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Directories checks every directory the daemon reads and writes. The
// artifact directory is skipped when unset.
func Directories(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if strings.TrimSpace(cfg.Paths.ArtifactDir) != "" {
		results = append(results, CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
