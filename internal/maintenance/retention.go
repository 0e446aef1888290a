package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"stride/internal/fileutil"
	"stride/internal/logging"
	"stride/internal/store"
)

// Retention hard-deletes expired terminal sessions.
type Retention struct {
	store           *store.Store
	logger          *slog.Logger
	window          time.Duration
	artifactDir     string
	deleteArtifacts bool
	now             func() time.Time
}

// RetentionResult summarizes one sweep.
type RetentionResult struct {
	Sessions  int
	Artifacts int
}

// Sweep deletes terminal, non-retained sessions finished before the
// retention window, with their entries and metrics, and optionally their
// local artifact files.
func (r *Retention) Sweep(ctx context.Context) (RetentionResult, error) {
	var result RetentionResult
	if r.window <= 0 {
		return result, nil
	}
	cutoff := r.now().Add(-r.window)
	expired, err := r.store.Sessions().DeleteExpired(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("delete expired sessions: %w", err)
	}
	result.Sessions = len(expired)

	if r.deleteArtifacts {
		for _, sess := range expired {
			path, ok := fileutil.ContainedArtifact(r.artifactDir, sess.ArtifactRef)
			if !ok {
				continue
			}
			if err := os.Remove(path); err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					r.logger.Warn("artifact removal failed",
						logging.String(logging.FieldSessionID, sess.ID),
						logging.String("path", path),
						logging.Error(err),
						logging.String(logging.FieldEventType, "retention_artifact_failed"),
					)
				}
				continue
			}
			result.Artifacts++
		}
	}

	if result.Sessions > 0 {
		r.logger.Info("retention sweep removed sessions",
			logging.String(logging.FieldEventType, "retention_sweep"),
			logging.Int("sessions", result.Sessions),
			logging.Int("artifacts", result.Artifacts),
			logging.Time("cutoff", cutoff),
		)
	}
	return result, nil
}
