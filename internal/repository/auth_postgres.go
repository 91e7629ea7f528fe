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

// PostgresAuthStore implements AuthStore: refresh devices, one-time
// challenges, and the sign-in audit trail.
type PostgresAuthStore struct {
	db *pgxpool.Pool
}

func NewPostgresAuthStore(db *pgxpool.Pool) *PostgresAuthStore {
	return &PostgresAuthStore{db: db}
}

const deviceColumns = `id, user_id, device_id, current_hash, previous_hash, absolute_expires, revoked_at, last_rotated_at, user_agent, ip`

// UpsertDevice creates or replaces the (user, device) slot. On
// conflict the old current hash slides into previous_hash, the expiry
// is pushed out, and any revocation is cleared - signing in again
// un-revokes the device.
func (r *PostgresAuthStore) UpsertDevice(ctx context.Context, userID uuid.UUID, deviceID string, currentHash []byte, absoluteExpires time.Time, meta models.ClientMeta) error {
	query := `
		INSERT INTO refresh_token_devices
			(user_id, device_id, current_hash, absolute_expires, last_rotated_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, now(), NULLIF($5, ''), NULLIF($6, ''))
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			previous_hash    = refresh_token_devices.current_hash,
			current_hash     = EXCLUDED.current_hash,
			absolute_expires = EXCLUDED.absolute_expires,
			last_rotated_at  = now(),
			revoked_at       = NULL,
			user_agent       = EXCLUDED.user_agent,
			ip               = EXCLUDED.ip
	`

	_, err := r.db.Exec(ctx, query, userID, deviceID, currentHash, absoluteExpires, meta.UserAgent, meta.IP)
	if err != nil {
		return fmt.Errorf("failed to upsert refresh device: %w", err)
	}
	return nil
}

func (r *PostgresAuthStore) GetDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*models.RefreshDevice, error) {
	query := fmt.Sprintf(`SELECT %s FROM refresh_token_devices WHERE user_id = $1 AND device_id = $2`, deviceColumns)
	return r.scanDevice(r.db.QueryRow(ctx, query, userID, deviceID))
}

// GetDeviceByHash looks a device up by its label and token hash; the
// refresh path uses it so the plaintext token itself selects the row.
// Previous hashes match too - the service decides whether the grace
// window still covers them.
func (r *PostgresAuthStore) GetDeviceByHash(ctx context.Context, deviceID string, hash []byte) (*models.RefreshDevice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM refresh_token_devices
		WHERE device_id = $1 AND (current_hash = $2 OR previous_hash = $2)
	`, deviceColumns)
	return r.scanDevice(r.db.QueryRow(ctx, query, deviceID, hash))
}

func (r *PostgresAuthStore) scanDevice(row pgx.Row) (*models.RefreshDevice, error) {
	d := &models.RefreshDevice{}
	err := row.Scan(
		&d.ID, &d.UserID, &d.DeviceID, &d.CurrentHash, &d.PreviousHash,
		&d.AbsoluteExpires, &d.RevokedAt, &d.LastRotatedAt, &d.UserAgent, &d.IP,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh device: %w", err)
	}
	return d, nil
}

// RotateDevice shifts current into previous and installs the new
// hash. The oldCurrent guard in the WHERE clause makes rotation
// linearizable: if another request rotated first, zero rows match and
// the caller sees ErrNotFound.
func (r *PostgresAuthStore) RotateDevice(ctx context.Context, id int64, oldCurrent, newCurrent []byte, at time.Time) error {
	query := `
		UPDATE refresh_token_devices
		SET previous_hash = current_hash, current_hash = $3, last_rotated_at = $4
		WHERE id = $1 AND current_hash = $2
	`

	tag, err := r.db.Exec(ctx, query, id, oldCurrent, newCurrent, at)
	if err != nil {
		return fmt.Errorf("failed to rotate refresh device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresAuthStore) RevokeDevice(ctx context.Context, userID uuid.UUID, deviceID string, at time.Time) error {
	query := `UPDATE refresh_token_devices SET revoked_at = $3 WHERE user_id = $1 AND device_id = $2 AND revoked_at IS NULL`
	tag, err := r.db.Exec(ctx, query, userID, deviceID, at)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllDevices revokes every live device the user has. Revoking
// zero devices is not an error.
func (r *PostgresAuthStore) RevokeAllDevices(ctx context.Context, userID uuid.UUID, at time.Time) error {
	query := `UPDATE refresh_token_devices SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	if _, err := r.db.Exec(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to revoke refresh devices: %w", err)
	}
	return nil
}

const challengeColumns = `id, user_id, action, target, code_hash, attempts, created_at, expires_at, confirmed_at`

// GetChallenge returns the unconfirmed (user, action) row.
func (r *PostgresAuthStore) GetChallenge(ctx context.Context, userID uuid.UUID, action string) (*models.AuthChallenge, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM authentication_challenges
		WHERE user_id = $1 AND action = $2 AND confirmed_at IS NULL
	`, challengeColumns)

	ch := &models.AuthChallenge{}
	err := r.db.QueryRow(ctx, query, userID, action).Scan(
		&ch.ID, &ch.UserID, &ch.Action, &ch.Target, &ch.CodeHash,
		&ch.Attempts, &ch.CreatedAt, &ch.ExpiresAt, &ch.ConfirmedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query challenge: %w", err)
	}
	return ch, nil
}

// UpsertChallenge replaces the unconfirmed (user, action) row with a
// fresh code, expiry, and zeroed attempts. The partial unique index on
// unconfirmed rows makes this a single-statement upsert.
func (r *PostgresAuthStore) UpsertChallenge(ctx context.Context, ch *models.AuthChallenge) error {
	query := `
		INSERT INTO authentication_challenges (user_id, action, target, code_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, action) WHERE confirmed_at IS NULL DO UPDATE SET
			target     = EXCLUDED.target,
			code_hash  = EXCLUDED.code_hash,
			attempts   = 0,
			created_at = now(),
			expires_at = EXCLUDED.expires_at
		RETURNING id, attempts, created_at
	`

	err := r.db.QueryRow(ctx, query, ch.UserID, ch.Action, ch.Target, ch.CodeHash, ch.ExpiresAt).
		Scan(&ch.ID, &ch.Attempts, &ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert challenge: %w", err)
	}
	return nil
}

// IncrementChallengeAttempts bumps the failed-attempt counter.
func (r *PostgresAuthStore) IncrementChallengeAttempts(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE authentication_challenges SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment challenge attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmChallenge marks the row confirmed; only unconfirmed rows are
// eligible, so a double confirm surfaces as ErrNotFound.
func (r *PostgresAuthStore) ConfirmChallenge(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE authentication_challenges SET confirmed_at = $2 WHERE id = $1 AND confirmed_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to confirm challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSignInAttempt appends one audit row. Append-only: nothing
// updates or deletes these.
func (r *PostgresAuthStore) RecordSignInAttempt(ctx context.Context, attempt *models.SignInAttempt) error {
	query := `
		INSERT INTO sign_in_attempts (user_id, ip, identifier, success, user_agent)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, attempt.UserID, attempt.IP, attempt.Identifier, attempt.Success, attempt.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to record sign-in attempt: %w", err)
	}
	return nil
}

// CountUserFailures counts failed attempts for a user since the given
// instant; the lockout policy consumes it.
func (r *PostgresAuthStore) CountUserFailures(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	return r.countFailures(ctx,
		`SELECT count(*) FROM sign_in_attempts WHERE user_id = $1 AND success = FALSE AND created_at >= $2`,
		userID, since)
}

// CountIPFailures counts failed attempts from an IP since the given
// instant.
func (r *PostgresAuthStore) CountIPFailures(ctx context.Context, ip string, since time.Time) (int, error) {
	return r.countFailures(ctx,
		`SELECT count(*) FROM sign_in_attempts WHERE ip = $1 AND success = FALSE AND created_at >= $2`,
		ip, since)
}

func (r *PostgresAuthStore) countFailures(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sign-in failures: %w", err)
	}
	return n, nil
}
