package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema is applied idempotently at every startup. Statements
// use IF NOT EXISTS so a restart against a migrated database is a
// no-op; there is no down path.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS urls (
		id UUID PRIMARY KEY,
		code TEXT NOT NULL,
		original_url TEXT NOT NULL,
		url_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT urls_code_key UNIQUE (code),
		CONSTRAINT urls_url_hash_key UNIQUE (url_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS aliases (
		alias TEXT PRIMARY KEY,
		target_id UUID NOT NULL REFERENCES urls(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS bloom_snapshots (
		name TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		display_name TEXT,
		is_email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		jwt_version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_token_devices (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL DEFAULT 'default',
		current_hash BYTEA NOT NULL,
		previous_hash BYTEA,
		absolute_expires TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		last_rotated_at TIMESTAMPTZ,
		user_agent TEXT,
		ip TEXT,
		UNIQUE (user_id, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS authentication_challenges (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		target TEXT,
		code_hash TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at TIMESTAMPTZ NOT NULL,
		confirmed_at TIMESTAMPTZ
	)`,
	// At most one unconfirmed challenge per (user, action).
	`CREATE UNIQUE INDEX IF NOT EXISTS authentication_challenges_unconfirmed_key
		ON authentication_challenges (user_id, action)
		WHERE confirmed_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS sign_in_attempts (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID,
		ip TEXT NOT NULL,
		identifier TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		user_agent TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS sign_in_attempts_ip_idx
		ON sign_in_attempts (ip, created_at)`,
	`CREATE INDEX IF NOT EXISTS sign_in_attempts_user_idx
		ON sign_in_attempts (user_id, created_at)`,
}

// MigratePostgres creates the schema.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrMigration, err)
		}
	}
	return nil
}
