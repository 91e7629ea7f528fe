package models

import (
	"time"

	"github.com/google/uuid"
)

// Challenge actions. At most one unconfirmed challenge exists per
// (user, action) pair.
const (
	ChallengeVerifyEmail   = "verify_email"
	ChallengeResetPassword = "reset_password"
	ChallengeChangeEmail   = "change_email"
)

// User is an account row. PasswordHash is an Argon2id PHC string and is
// never serialized. JWTVersion strictly increases; bumping it invalidates
// every outstanding access token.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	DisplayName     *string    `json:"display_name,omitempty"`
	IsEmailVerified bool       `json:"is_email_verified"`
	JWTVersion      int        `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

// RefreshDevice is one (user, device) refresh-token slot. Only HMACs of
// refresh tokens are stored; the plaintext never touches the database.
// A device is valid iff RevokedAt is nil and now <= AbsoluteExpires.
type RefreshDevice struct {
	ID              int64
	UserID          uuid.UUID
	DeviceID        string
	CurrentHash     []byte
	PreviousHash    []byte // nil until the first rotation
	AbsoluteExpires time.Time
	RevokedAt       *time.Time
	LastRotatedAt   *time.Time
	UserAgent       *string
	IP              *string
}

// Revoked reports whether the device has been explicitly revoked.
func (d *RefreshDevice) Revoked() bool { return d.RevokedAt != nil }

// Expired reports whether the absolute expiry wall has passed.
func (d *RefreshDevice) Expired(now time.Time) bool { return now.After(d.AbsoluteExpires) }

// AuthChallenge is an unconfirmed one-time-code row for the verify-email,
// reset-password, and change-email flows. CodeHash is an Argon2id PHC
// string of the 8-character code. Target carries flow-specific payload
// (the new address for change-email).
type AuthChallenge struct {
	ID          int64
	UserID      uuid.UUID
	Action      string
	Target      *string
	CodeHash    string
	Attempts    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
}

// SignInAttempt is one append-only audit row. UserID is nil when the
// submitted email did not match an account.
type SignInAttempt struct {
	ID         int64
	UserID     *uuid.UUID
	IP         string
	Identifier string // the email the caller signed in with
	Success    bool
	UserAgent  *string
	CreatedAt  time.Time
}

// ClientMeta is request-scoped client information captured by middleware
// and consumed by the auth handlers for auditing and device rows.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// ===========================================
// Auth DTOs
// ===========================================

// AuthBundle is the access/refresh token pair returned by sign-up,
// sign-in, and refresh.
type AuthBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type SignUpRequest struct {
	Email       string  `json:"email" binding:"required"`
	Password    string  `json:"password" binding:"required"`
	DisplayName *string `json:"display_name"`
	DeviceID    string  `json:"device_id"`
}

type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"device_id"`
}

type RefreshRequest struct {
	DeviceID string `json:"device_id"`
}

type SignOutRequest struct {
	DeviceID string `json:"device_id"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type ConfirmCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

type PasswordResetConfirmRequest struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type ChangeEmailRequest struct {
	NewEmail        string `json:"new_email" binding:"required"`
	CurrentPassword string `json:"current_password" binding:"required"`
}

// MeResponse is the data payload of GET /api/v1/user/me.
type MeResponse struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	DisplayName     *string    `json:"display_name,omitempty"`
	IsEmailVerified bool       `json:"is_email_verified"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}
