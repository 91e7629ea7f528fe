package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// sqliteSchema carries only the URL-store tables: the auth subsystem
// requires PostgreSQL.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS urls (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		original_url TEXT NOT NULL,
		url_hash TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS aliases (
		alias TEXT PRIMARY KEY,
		target_id TEXT NOT NULL REFERENCES urls(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS bloom_snapshots (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// MigrateSqlite creates the URL-store schema.
func MigrateSqlite(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrMigration, err)
		}
	}
	return nil
}
