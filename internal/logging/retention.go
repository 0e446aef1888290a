package logging

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RetentionTarget selects files in Dir whose names match Pattern. Paths in
// Exclude are never removed, which keeps the active log file safe.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

func (t RetentionTarget) matches(name string) bool {
	pattern := strings.TrimSpace(t.Pattern)
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// CleanupOldLogs removes matching files last modified more than
// retentionDays ago and returns how many were deleted. Zero or negative
// retentionDays keeps everything.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) int {
	if retentionDays <= 0 {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	excluded := excludedPaths(targets)

	removed := 0
	for _, target := range targets {
		dir := strings.TrimSpace(target.Dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !target.matches(entry.Name()) {
				continue
			}
			path := absolute(filepath.Join(dir, entry.Name()))
			if _, skip := excluded[path]; skip || !expired(entry, cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_dir ownership"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			removed++
			logger.Debug("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	if removed > 0 {
		logger.Info("log retention pruned files",
			Int("removed", removed),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_retention"),
		)
	}
	return removed
}

func excludedPaths(targets []RetentionTarget) map[string]struct{} {
	out := make(map[string]struct{})
	for _, target := range targets {
		for _, path := range target.Exclude {
			if path = strings.TrimSpace(path); path != "" {
				out[absolute(path)] = struct{}{}
			}
		}
	}
	return out
}

func expired(entry fs.DirEntry, cutoff time.Time) bool {
	info, err := entry.Info()
	return err == nil && info.ModTime().Before(cutoff)
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
