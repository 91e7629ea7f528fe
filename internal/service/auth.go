package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/user/shortlink/internal/config"
	"github.com/user/shortlink/internal/mailer"
	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/repository"
	"github.com/user/shortlink/internal/security"
)

const (
	defaultDeviceID    = "default"
	refreshGraceWindow = 120 * time.Second
	maxDisplayName     = 30
)

// AuthService implements registration, sign-in, token rotation, and
// the three challenge flows. State lives entirely in the repositories;
// the service is logic-only and safe for concurrent use.
type AuthService struct {
	users  repository.UserStore
	auth   repository.AuthStore
	hasher *security.Hasher
	keys   *security.TokenKeys
	mail   mailer.Mailer
	cfg    config.AuthConfig
	log    zerolog.Logger
}

func NewAuthService(
	users repository.UserStore,
	auth repository.AuthStore,
	mail mailer.Mailer,
	cfg config.AuthConfig,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		auth:   auth,
		hasher: security.NewHasher(cfg.Pepper),
		keys:   security.NewTokenKeys(cfg.JWTSecret),
		mail:   mail,
		cfg:    cfg,
		log:    log,
	}
}

// ===========================================
// Registration & sign-in
// ===========================================

// SignUp creates an account, kicks off email verification, and signs
// the new user in. The verification email is sent concurrently with
// token issuance; a mailer failure never fails the sign-up.
func (s *AuthService) SignUp(ctx context.Context, req *models.SignUpRequest, meta models.ClientMeta) (*models.AuthBundle, *models.User, *Error) {
	email, verr := normalizeEmail(req.Email)
	if verr != nil {
		return nil, nil, verr
	}
	if req.DisplayName != nil && utf8.RuneCountInString(*req.DisplayName) > maxDisplayName {
		return nil, nil, Unprocessable("Display name exceeds maximum allowed length of 30 characters")
	}

	if verr := s.checkNewPassword(req.Password, email, req.DisplayName); verr != nil {
		return nil, nil, verr
	}
	hash, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to hash password")
		return nil, nil, Internal("Failed to create account")
	}

	user := &models.User{Email: email, PasswordHash: hash, DisplayName: req.DisplayName}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, EmailTaken("Email is already taken")
		}
		s.log.Error().Err(err).Msg("Failed to create user")
		return nil, nil, Internal("Failed to create account")
	}

	// Fire the verification email while the token bundle is built.
	go s.startChallenge(user, models.ChallengeVerifyEmail, nil, user.Email)

	bundle, verr := s.issueBundle(ctx, user, req.DeviceID, meta)
	if verr != nil {
		return nil, nil, verr
	}
	s.log.Info().Str("user_id", user.ID.String()).Msg("User signed up")
	return bundle, user, nil
}

// SignIn verifies credentials and issues a token bundle. Every
// outcome is recorded in the sign-in audit; the lockout thresholds
// consult that audit over a rolling window and win over a correct
// password.
func (s *AuthService) SignIn(ctx context.Context, req *models.SignInRequest, meta models.ClientMeta) (*models.AuthBundle, *Error) {
	email, verr := normalizeEmail(req.Email)
	if verr != nil {
		return nil, Unauthorized("invalid credentials")
	}

	if s.ipBlocked(ctx, meta.IP) {
		s.recordAttempt(ctx, nil, email, meta, false)
		return nil, Unauthorized("invalid credentials")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Msg("Failed to load user")
		}
		s.recordAttempt(ctx, nil, email, meta, false)
		return nil, Unauthorized("invalid credentials")
	}

	if s.userLocked(ctx, user.ID) {
		s.recordAttempt(ctx, &user.ID, email, meta, false)
		return nil, Unauthorized("invalid credentials")
	}

	ok, err := s.hasher.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to verify password")
		return nil, Internal("Failed to sign in")
	}
	if !ok {
		s.recordAttempt(ctx, &user.ID, email, meta, false)
		return nil, Unauthorized("invalid credentials")
	}

	s.recordAttempt(ctx, &user.ID, email, meta, true)
	if err := s.users.TouchLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stamp last login")
	}

	bundle, verr := s.issueBundle(ctx, user, req.DeviceID, meta)
	if verr != nil {
		return nil, verr
	}
	s.log.Info().Str("user_id", user.ID.String()).Msg("User signed in")
	return bundle, nil
}

// issueBundle mints an access token and installs a fresh refresh
// token in the (user, device) slot.
func (s *AuthService) issueBundle(ctx context.Context, user *models.User, deviceID string, meta models.ClientMeta) (*models.AuthBundle, *Error) {
	if deviceID == "" {
		deviceID = defaultDeviceID
	}

	access, err := s.keys.Sign(user.ID, user.JWTVersion, s.cfg.AccessTTL)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to sign access token")
		return nil, Internal("Failed to issue tokens")
	}

	refresh, err := security.GenerateRefreshToken()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to generate refresh token")
		return nil, Internal("Failed to issue tokens")
	}

	hash := security.HashRefreshToken(refresh, s.cfg.Pepper)
	expires := time.Now().UTC().Add(s.cfg.RefreshTTL)
	if err := s.auth.UpsertDevice(ctx, user.ID, deviceID, hash, expires, meta); err != nil {
		s.log.Error().Err(err).Msg("Failed to upsert refresh device")
		return nil, Internal("Failed to issue tokens")
	}

	return &models.AuthBundle{AccessToken: access, RefreshToken: refresh}, nil
}

// ===========================================
// Token rotation & revocation
// ===========================================

// Refresh rotates a refresh token. A token whose hash slid into
// previous_hash is accepted exactly once inside the 120 s grace
// window (the client raced its own rotation); outside it the device
// is revoked outright, since a stale token surfacing late looks like
// theft.
func (s *AuthService) Refresh(ctx context.Context, refreshPlain, deviceID string) (*models.AuthBundle, *Error) {
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	now := time.Now().UTC()
	hash := security.HashRefreshToken(refreshPlain, s.cfg.Pepper)

	device, err := s.auth.GetDeviceByHash(ctx, deviceID, hash)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Msg("Failed to load refresh device")
			return nil, Internal("Failed to refresh tokens")
		}
		return nil, Unauthorized("invalid refresh token")
	}

	if device.Revoked() {
		return nil, Unauthorized("device revoked")
	}
	if device.Expired(now) {
		return nil, Unauthorized("refresh expired")
	}

	if !security.RefreshHashEqual(device.CurrentHash, hash) {
		// Hash matches previous_hash only.
		if device.LastRotatedAt == nil || now.Sub(*device.LastRotatedAt) > refreshGraceWindow {
			if err := s.auth.RevokeDevice(ctx, device.UserID, device.DeviceID, now); err != nil {
				s.log.Error().Err(err).Msg("Failed to revoke refresh device")
			}
			return nil, Unauthorized("stale refresh token")
		}
	}

	user, err := s.users.GetUserByID(ctx, device.UserID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load user for refresh")
		return nil, Unauthorized("invalid refresh token")
	}

	access, err := s.keys.Sign(user.ID, user.JWTVersion, s.cfg.AccessTTL)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to sign access token")
		return nil, Internal("Failed to refresh tokens")
	}

	newRefresh, err := security.GenerateRefreshToken()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to generate refresh token")
		return nil, Internal("Failed to refresh tokens")
	}

	// The current-hash guard makes the rotation linearizable: both the
	// normal path and the grace path shift the live current hash into
	// previous, so a grace token is unusable after its single win.
	newHash := security.HashRefreshToken(newRefresh, s.cfg.Pepper)
	err = s.auth.RotateDevice(ctx, device.ID, device.CurrentHash, newHash, now)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, Unauthorized("invalid refresh token")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to rotate refresh device")
		return nil, Internal("Failed to refresh tokens")
	}

	return &models.AuthBundle{AccessToken: access, RefreshToken: newRefresh}, nil
}

// SignOut revokes one device.
func (s *AuthService) SignOut(ctx context.Context, userID uuid.UUID, deviceID string) *Error {
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	err := s.auth.RevokeDevice(ctx, userID, deviceID, time.Now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return NotFound("Device not found")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to revoke device")
		return Internal("Failed to sign out")
	}
	return nil
}

// SignOutAll revokes every device and bumps jwt_version so existing
// access tokens die with the refresh tokens.
func (s *AuthService) SignOutAll(ctx context.Context, userID uuid.UUID) *Error {
	now := time.Now().UTC()
	if err := s.auth.RevokeAllDevices(ctx, userID, now); err != nil {
		s.log.Error().Err(err).Msg("Failed to revoke devices")
		return Internal("Failed to sign out")
	}
	if _, err := s.users.BumpJWTVersion(ctx, userID); err != nil {
		s.log.Error().Err(err).Msg("Failed to bump token version")
		return Internal("Failed to sign out")
	}
	return nil
}

// VerifyAccessToken validates a token and re-reads the user: a token
// carrying an old jwt_version is dead no matter how fresh its exp is.
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (*models.User, *Error) {
	claims, err := s.keys.Verify(token)
	if err != nil {
		return nil, Unauthorized("invalid token")
	}

	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return nil, Unauthorized("invalid token")
	}
	if claims.Ver != user.JWTVersion {
		return nil, Unauthorized("token revoked")
	}
	return user, nil
}

// ===========================================
// Password management
// ===========================================

// ChangePassword rotates the credential and kills every session.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) *Error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Unauthorized("invalid credentials")
	}

	ok, err := s.hasher.VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to verify password")
		return Internal("Failed to change password")
	}
	if !ok {
		return Unauthorized("invalid credentials")
	}

	return s.writeNewPassword(ctx, user, newPassword)
}

// writeNewPassword is the shared change-password write path: pipeline,
// hash, persist, sign-out-all.
func (s *AuthService) writeNewPassword(ctx context.Context, user *models.User, newPassword string) *Error {
	if verr := s.checkNewPassword(newPassword, user.Email, user.DisplayName); verr != nil {
		return verr
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to hash password")
		return Internal("Failed to change password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.log.Error().Err(err).Msg("Failed to write password")
		return Internal("Failed to change password")
	}

	s.log.Info().Str("user_id", user.ID.String()).Msg("Password changed")
	return s.SignOutAll(ctx, user.ID)
}

// checkNewPassword runs the normalization and strength pipeline,
// translating the security sentinels into client-presentable errors.
func (s *AuthService) checkNewPassword(password, email string, displayName *string) *Error {
	if _, err := security.NormalizePassword(password); err != nil {
		return Unprocessable(err.Error())
	}
	inputs := []string{email}
	if displayName != nil {
		inputs = append(inputs, *displayName)
	}
	if err := security.CheckPasswordStrength(password, inputs); err != nil {
		return Unprocessable(err.Error())
	}
	return nil
}

// ===========================================
// Challenge flows
// ===========================================

// RequestEmailVerification (re)sends the verify-email code.
func (s *AuthService) RequestEmailVerification(ctx context.Context, userID uuid.UUID) *Error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Unauthorized("invalid token")
	}
	if user.IsEmailVerified {
		return AlreadyActive("Email is already verified")
	}
	return s.createOrRefreshChallenge(ctx, user, models.ChallengeVerifyEmail, nil, user.Email)
}

// ConfirmEmailVerification checks the code and marks the address
// verified.
func (s *AuthService) ConfirmEmailVerification(ctx context.Context, userID uuid.UUID, code string) *Error {
	if _, verr := s.verifyChallenge(ctx, userID, models.ChallengeVerifyEmail, code); verr != nil {
		return verr
	}
	if err := s.users.SetEmailVerified(ctx, userID); err != nil {
		s.log.Error().Err(err).Msg("Failed to mark email verified")
		return Internal("Failed to verify email")
	}
	s.log.Info().Str("user_id", userID.String()).Msg("Email verified")
	return nil
}

// RequestPasswordReset starts the reset flow. The response never
// reveals whether the address has an account.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) *Error {
	addr, verr := normalizeEmail(email)
	if verr != nil {
		return nil
	}
	user, err := s.users.GetUserByEmail(ctx, addr)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Msg("Failed to load user")
		}
		return nil
	}
	if verr := s.createOrRefreshChallenge(ctx, user, models.ChallengeResetPassword, nil, user.Email); verr != nil {
		// Cooldown is the one signal worth surfacing: without it a
		// client cannot tell why no new email arrives.
		if verr.Kind == KindCooldown {
			return verr
		}
		s.log.Error().Str("reason", verr.Message).Msg("Failed to start password reset")
	}
	return nil
}

// ConfirmPasswordReset checks the code and runs the change-password
// write path without the old-password step.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) *Error {
	addr, verr := normalizeEmail(email)
	if verr != nil {
		return InvalidOrExpired("Code is invalid or expired")
	}
	user, err := s.users.GetUserByEmail(ctx, addr)
	if err != nil {
		return InvalidOrExpired("Code is invalid or expired")
	}

	if _, verr := s.verifyChallenge(ctx, user.ID, models.ChallengeResetPassword, code); verr != nil {
		return verr
	}
	return s.writeNewPassword(ctx, user, newPassword)
}

// RequestEmailChange starts the change-email flow: the code goes to
// the NEW address, proving the caller controls it.
func (s *AuthService) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail, currentPassword string) *Error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Unauthorized("invalid token")
	}

	ok, err := s.hasher.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to verify password")
		return Internal("Failed to change email")
	}
	if !ok {
		return Unauthorized("invalid credentials")
	}

	addr, verr := normalizeEmail(newEmail)
	if verr != nil {
		return verr
	}
	if addr == user.Email {
		return AlreadyActive("Email is already active on this account")
	}
	if _, err := s.users.GetUserByEmail(ctx, addr); err == nil {
		return EmailTaken("Email is already taken")
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.log.Error().Err(err).Msg("Failed to check email availability")
		return Internal("Failed to change email")
	}

	return s.createOrRefreshChallenge(ctx, user, models.ChallengeChangeEmail, &addr, addr)
}

// ConfirmEmailChange checks the code and rewrites the address from
// the challenge's target. Sessions survive an email change.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, userID uuid.UUID, code string) *Error {
	ch, verr := s.verifyChallenge(ctx, userID, models.ChallengeChangeEmail, code)
	if verr != nil {
		return verr
	}
	if ch.Target == nil {
		s.log.Error().Int64("challenge_id", ch.ID).Msg("Change-email challenge has no target")
		return Internal("Failed to change email")
	}

	err := s.users.UpdateEmail(ctx, userID, *ch.Target)
	if errors.Is(err, repository.ErrDuplicate) {
		return EmailTaken("Email is already taken")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to update email")
		return Internal("Failed to change email")
	}

	s.log.Info().Str("user_id", userID.String()).Msg("Email changed")
	return nil
}

// createOrRefreshChallenge enforces the resend cooldown, installs a
// fresh code, and emails it.
func (s *AuthService) createOrRefreshChallenge(ctx context.Context, user *models.User, action string, target *string, recipient string) *Error {
	existing, err := s.auth.GetChallenge(ctx, user.ID, action)
	if err == nil {
		if time.Since(existing.CreatedAt) < s.cfg.ChallengeCooldown {
			return Cooldown("Please wait before requesting another code")
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.log.Error().Err(err).Msg("Failed to load challenge")
		return Internal("Failed to send code")
	}

	return s.startChallengeCtx(ctx, user, action, target, recipient)
}

// startChallenge is the goroutine entry used at sign-up; it carries
// its own deadline because the request context ends with the response.
func (s *AuthService) startChallenge(user *models.User, action string, target *string, recipient string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if verr := s.startChallengeCtx(ctx, user, action, target, recipient); verr != nil {
		s.log.Error().Str("reason", verr.Message).Str("action", action).Msg("Failed to start challenge")
	}
}

func (s *AuthService) startChallengeCtx(ctx context.Context, user *models.User, action string, target *string, recipient string) *Error {
	code, err := security.GenerateChallengeCode()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to generate challenge code")
		return Internal("Failed to send code")
	}
	codeHash, err := s.hasher.HashChallengeCode(code)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to hash challenge code")
		return Internal("Failed to send code")
	}

	ch := &models.AuthChallenge{
		UserID:    user.ID,
		Action:    action,
		Target:    target,
		CodeHash:  codeHash,
		ExpiresAt: time.Now().UTC().Add(s.cfg.ChallengeTTL),
	}
	if err := s.auth.UpsertChallenge(ctx, ch); err != nil {
		s.log.Error().Err(err).Msg("Failed to store challenge")
		return Internal("Failed to send code")
	}

	subject, body := challengeEmail(action, code)
	if err := s.mail.Send(ctx, recipient, subject, body); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("Failed to send challenge email")
	}
	return nil
}

// verifyChallenge validates a submitted code against the unconfirmed
// (user, action) row: attempt ceiling first, then expiry, then the
// hash. A wrong code burns an attempt; once the ceiling is hit even
// the right code is refused.
func (s *AuthService) verifyChallenge(ctx context.Context, userID uuid.UUID, action, code string) (*models.AuthChallenge, *Error) {
	ch, err := s.auth.GetChallenge(ctx, userID, action)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Msg("Failed to load challenge")
			return nil, Internal("Failed to verify code")
		}
		return nil, InvalidOrExpired("Code is invalid or expired")
	}

	if ch.Attempts >= s.cfg.MaxCodeAttempts {
		return nil, Unprocessable("Too many attempts")
	}
	if time.Now().UTC().After(ch.ExpiresAt) {
		return nil, InvalidOrExpired("Code is invalid or expired")
	}

	ok, err := s.hasher.VerifyChallengeCode(code, ch.CodeHash)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to verify challenge code")
		return nil, Internal("Failed to verify code")
	}
	if !ok {
		if err := s.auth.IncrementChallengeAttempts(ctx, ch.ID); err != nil {
			s.log.Error().Err(err).Msg("Failed to record challenge attempt")
		}
		return nil, Unprocessable("Invalid verification code")
	}

	if err := s.auth.ConfirmChallenge(ctx, ch.ID, time.Now().UTC()); err != nil {
		s.log.Error().Err(err).Msg("Failed to confirm challenge")
		return nil, Internal("Failed to verify code")
	}
	return ch, nil
}

// ===========================================
// Lockout & audit helpers
// ===========================================

func (s *AuthService) ipBlocked(ctx context.Context, ip string) bool {
	if s.cfg.Lockout.IPMaxFailures <= 0 || ip == "" {
		return false
	}
	n, err := s.auth.CountIPFailures(ctx, ip, time.Now().UTC().Add(-s.cfg.Lockout.Window))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count IP failures")
		return false
	}
	return n >= s.cfg.Lockout.IPMaxFailures
}

func (s *AuthService) userLocked(ctx context.Context, userID uuid.UUID) bool {
	if s.cfg.Lockout.UserMaxFailures <= 0 {
		return false
	}
	n, err := s.auth.CountUserFailures(ctx, userID, time.Now().UTC().Add(-s.cfg.Lockout.Window))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to count user failures")
		return false
	}
	return n >= s.cfg.Lockout.UserMaxFailures
}

func (s *AuthService) recordAttempt(ctx context.Context, userID *uuid.UUID, email string, meta models.ClientMeta, success bool) {
	attempt := &models.SignInAttempt{
		UserID:     userID,
		IP:         meta.IP,
		Identifier: email,
		Success:    success,
	}
	if meta.UserAgent != "" {
		attempt.UserAgent = &meta.UserAgent
	}
	if err := s.auth.RecordSignInAttempt(ctx, attempt); err != nil {
		s.log.Error().Err(err).Msg("Failed to record sign-in attempt")
	}
}

// ===========================================
// Small helpers
// ===========================================

func normalizeEmail(email string) (string, *Error) {
	addr := strings.ToLower(strings.TrimSpace(email))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", Unprocessable("Invalid email address")
	}
	return addr, nil
}

func challengeEmail(action, code string) (subject, body string) {
	switch action {
	case models.ChallengeVerifyEmail:
		subject = "Verify your email"
	case models.ChallengeResetPassword:
		subject = "Reset your password"
	case models.ChallengeChangeEmail:
		subject = "Confirm your new email"
	default:
		subject = "Your verification code"
	}
	body = fmt.Sprintf("Your verification code is %s. It expires in one hour.", code)
	return subject, body
}
