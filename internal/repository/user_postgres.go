package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/shortlink/internal/models"
)

// PostgresUserStore implements UserStore. The auth subsystem is
// PostgreSQL-only; there is no SQLite counterpart.
type PostgresUserStore struct {
	db *pgxpool.Pool
}

func NewPostgresUserStore(db *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = `id, email, password_hash, display_name, is_email_verified, jwt_version, created_at, last_login_at`

// CreateUser inserts a new account row.
func (r *PostgresUserStore) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING jwt_version, created_at
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	err := r.db.QueryRow(ctx, query, user.ID, user.Email, user.PasswordHash, user.DisplayName).
		Scan(&user.JWTVersion, &user.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err, "") {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresUserStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.scanUser(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns), id)
}

func (r *PostgresUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.scanUser(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns), email)
}

func (r *PostgresUserStore) scanUser(ctx context.Context, query string, arg any) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName,
		&u.IsEmailVerified, &u.JWTVersion, &u.CreatedAt, &u.LastLoginAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// UpdatePassword writes a new hash.
func (r *PostgresUserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.execOne(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
}

// TouchLastLogin stamps a successful sign-in.
func (r *PostgresUserStore) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.execOne(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

// SetEmailVerified marks the account's address as verified.
func (r *PostgresUserStore) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.execOne(ctx, `UPDATE users SET is_email_verified = TRUE WHERE id = $1`, id)
}

// UpdateEmail rewrites the address; the account drops back to
// unverified until the next verify-email flow completes.
func (r *PostgresUserStore) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	err := r.execOne(ctx, `UPDATE users SET email = $2, is_email_verified = FALSE WHERE id = $1`, id, email)
	if isPgUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}

// BumpJWTVersion increments jwt_version, invalidating every
// outstanding access token, and returns the new value.
func (r *PostgresUserStore) BumpJWTVersion(ctx context.Context, id uuid.UUID) (int, error) {
	var version int
	err := r.db.QueryRow(ctx,
		`UPDATE users SET jwt_version = jwt_version + 1 WHERE id = $1 RETURNING jwt_version`, id).
		Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump jwt version: %w", err)
	}
	return version, nil
}

func (r *PostgresUserStore) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		// %w keeps the pgconn error visible to errors.As in callers.
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
