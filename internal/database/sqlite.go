// ===========================================
// Package database - SQLite Connection
// ===========================================
// SQLite backs the URL store for single-node and test deployments.
// modernc.org/sqlite is a pure-Go driver, so the binary stays
// CGO-free. The auth subsystem is PostgreSQL-only; SQLite carries
// only the urls / aliases / bloom_snapshots tables.
// ===========================================

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/shortlink/internal/config"
)

// SqliteDB wraps the database/sql handle.
type SqliteDB struct {
	DB *sql.DB
}

// NewSqliteDB opens (and optionally creates) the SQLite database file.
// ":memory:" is accepted for tests.
func NewSqliteDB(ctx context.Context, cfg config.DatabaseConfig) (*SqliteDB, error) {
	path := cfg.ConnectionString()
	if path == "" {
		return nil, fmt.Errorf("database.database_path must be set for sqlite")
	}

	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if !cfg.CreateIfMissing {
				return nil, fmt.Errorf("database file %s does not exist and create_if_missing is false", path)
			}
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("failed to create database directory: %w", err)
				}
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY under concurrent writes through database/sql.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}

	return &SqliteDB{DB: db}, nil
}

// Close shuts down the database handle.
func (s *SqliteDB) Close() error {
	return s.DB.Close()
}

// Health checks if the database is responsive.
func (s *SqliteDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}
