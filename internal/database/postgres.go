// ===========================================
// Package database - Storage Connections
// ===========================================
// This package owns the raw connections: a pgx pool for PostgreSQL,
// a modernc driver handle for SQLite, and an optional Redis client
// for the hot-URL cache. Repositories sit on top of these.
//
// WHY pgxpool (not database/sql) for PostgreSQL?
// - Native support for PostgreSQL types (UUID, bytea)
// - Connection pooling built-in
// - Typed errors (pgconn.PgError) for constraint classification
// ===========================================

package database

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/shortlink/internal/config"
)

// Pool size bounds. Defaults derive from the logical CPU count and are
// clamped so a small container still gets a working pool and a large
// host does not exhaust the server's connection slots.
const (
	minPoolConns = 2
	maxPoolConns = 96
)

// PostgresDB wraps the connection pool with helper methods.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB creates a PostgreSQL connection pool and validates it.
//
// PATTERN: "Fail fast at startup" - if the database is unreachable we
// crash during deployment instead of serving broken requests.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MinConns = int32(poolMin(cfg.MinConnections))
	poolConfig.MaxConns = int32(poolMax(cfg.MaxConnections))
	poolConfig.HealthCheckPeriod = 1 * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// poolMin resolves the configured minimum, defaulting to 2.
func poolMin(configured int) int {
	if configured > 0 {
		return configured
	}
	return minPoolConns
}

// poolMax resolves the configured maximum, defaulting to 4x the
// logical CPU count clamped to [2, 96].
func poolMax(configured int) int {
	if configured > 0 {
		return configured
	}
	n := 4 * runtime.NumCPU()
	if n < minPoolConns {
		n = minPoolConns
	}
	if n > maxPoolConns {
		n = maxPoolConns
	}
	return n
}

// Close gracefully shuts down the connection pool. In-flight queries
// finish; connections are released properly so restarts don't trip
// "too many connections".
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks if the database is responsive. Short timeout: we want
// fast failure detection, not a hung health endpoint.
func (db *PostgresDB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics for debugging. If
// AcquiredConns sits at MaxConns, raise database.max_connections.
func (db *PostgresDB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}
