package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is written to schema_version on creation. There are no
// migrations: a database at any other version is refused.
const schemaVersion = 1

// ErrSchemaMismatch is returned by Open when the database was created by a
// different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// expectedTables lists the tables CheckHealth requires.
var expectedTables = []string{"sessions", "queue_entries", "metrics", "subject_aggregates", "schema_version"}

func (s *Store) initSchema(ctx context.Context) error {
	version, err := s.storedSchemaVersion(ctx)
	switch {
	case err != nil:
		return err
	case version == 0:
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			return nil
		})
	case version != schemaVersion:
		return fmt.Errorf("%w: %s is at version %d, this build needs %d (move the file aside to start fresh)",
			ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

// storedSchemaVersion returns 0 for a database that has never been
// initialized.
func (s *Store) storedSchemaVersion(ctx context.Context) (int, error) {
	var tables int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&tables); err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: schema_version table is empty", ErrSchemaMismatch)
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
