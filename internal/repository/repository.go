package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/user/shortlink/internal/models"
)

// URLStore is the persistence contract for short URLs. It has a
// PostgreSQL and a SQLite implementation, selected by database.type.
type URLStore interface {
	// InsertURL writes (code, url) idempotently on the URL's content
	// hash. If a row with the same hash already exists, that row is
	// returned with Created=false and the candidate code is discarded.
	// ErrDuplicate means the code collides with a different URL.
	InsertURL(ctx context.Context, code, originalURL, urlHash string) (*models.UpsertResult, error)

	// GetURL resolves a generated code, falling back to the aliases
	// table. Returns ErrNotFound when neither matches.
	GetURL(ctx context.Context, code string) (*models.URL, error)

	// GetByURLHash returns the row holding a URL with this content
	// hash, or ErrNotFound.
	GetByURLHash(ctx context.Context, urlHash string) (*models.URL, error)

	// ListShortCodes pages through every code (generated and alias)
	// for filter rebuilds.
	ListShortCodes(ctx context.Context, offset, limit int) ([]string, error)

	// InsertAlias attaches an additional identifier to an existing
	// row. ErrDuplicate when the alias is taken (as a code or alias),
	// ErrNotFound when the target does not exist.
	InsertAlias(ctx context.Context, alias string, targetID uuid.UUID) error

	// LoadBloomSnapshot returns (nil, nil) when no snapshot exists.
	LoadBloomSnapshot(ctx context.Context, name string) ([]byte, error)
	SaveBloomSnapshot(ctx context.Context, name string, data []byte) error
}

// UserStore handles account rows.
type UserStore interface {
	// CreateUser inserts a new account. ErrDuplicate when the email
	// is taken.
	CreateUser(ctx context.Context, user *models.User) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// UpdatePassword writes a new hash; TouchLastLogin stamps a
	// successful sign-in.
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	SetEmailVerified(ctx context.Context, id uuid.UUID) error

	// UpdateEmail rewrites the address. ErrDuplicate when taken.
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error

	// BumpJWTVersion increments jwt_version and returns the new value,
	// invalidating every outstanding access token.
	BumpJWTVersion(ctx context.Context, id uuid.UUID) (int, error)
}

// AuthStore handles refresh devices, challenges, and the sign-in audit.
type AuthStore interface {
	// UpsertDevice creates or replaces the (user, device) slot per the
	// issue-bundle semantics: previous := old current, current := new,
	// expiry pushed out, revocation cleared.
	UpsertDevice(ctx context.Context, userID uuid.UUID, deviceID string, currentHash []byte, absoluteExpires time.Time, meta models.ClientMeta) error

	GetDevice(ctx context.Context, userID uuid.UUID, deviceID string) (*models.RefreshDevice, error)

	// GetDeviceByHash finds the device whose current OR previous hash
	// matches; the caller distinguishes the two for the grace window.
	GetDeviceByHash(ctx context.Context, deviceID string, hash []byte) (*models.RefreshDevice, error)

	// RotateDevice atomically shifts current to previous and installs
	// the new hash. The oldCurrent guard makes rotation linearizable:
	// ErrNotFound when another rotation won the race.
	RotateDevice(ctx context.Context, id int64, oldCurrent, newCurrent []byte, at time.Time) error

	RevokeDevice(ctx context.Context, userID uuid.UUID, deviceID string, at time.Time) error
	RevokeAllDevices(ctx context.Context, userID uuid.UUID, at time.Time) error

	// GetChallenge returns the unconfirmed challenge for (user, action)
	// or ErrNotFound.
	GetChallenge(ctx context.Context, userID uuid.UUID, action string) (*models.AuthChallenge, error)

	// UpsertChallenge replaces any unconfirmed (user, action) row with
	// a fresh code, expiry, and zeroed attempt counter.
	UpsertChallenge(ctx context.Context, ch *models.AuthChallenge) error

	IncrementChallengeAttempts(ctx context.Context, id int64) error
	ConfirmChallenge(ctx context.Context, id int64, at time.Time) error

	// RecordSignInAttempt appends one audit row.
	RecordSignInAttempt(ctx context.Context, attempt *models.SignInAttempt) error

	// CountFailures supports the lockout policy over a rolling window.
	CountUserFailures(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	CountIPFailures(ctx context.Context, ip string, since time.Time) (int, error)
}
