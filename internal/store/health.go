package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// CheckHealth returns diagnostic information about the database. It only
// reads.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	rows, err := s.db.QueryContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("list tables: %w", err)
	}
	present := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			health.Error = err.Error()
			return health, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = struct{}{}
	}
	rows.Close()
	for _, table := range expectedTables {
		if _, ok := present[table]; !ok {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	if _, ok := present["schema_version"]; ok {
		if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("read schema version: %w", err)
		}
	}
	if _, ok := present["sessions"]; ok {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM sessions").Scan(&health.TotalSessions); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count sessions: %w", err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// Healthy reports whether the diagnostics show a usable database.
func (h DatabaseHealth) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && len(h.MissingTables) == 0 &&
		h.SchemaVersion == schemaVersion && h.IntegrityCheck
}
