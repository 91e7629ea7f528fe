package service

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shortlink/internal/config"
	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/repository"
	"github.com/user/shortlink/internal/security"
)

// ===========================================
// In-memory store fakes
// ===========================================

type memUserStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.User
	byEmail map[string]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byID:    make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (m *memUserStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	user.ID = uuid.New()
	user.JWTVersion = 1
	user.CreatedAt = time.Now().UTC()
	cp := *user
	m.byID[user.ID] = &cp
	m.byEmail[user.Email] = &cp
	return nil
}

func (m *memUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUserStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUserStore) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (m *memUserStore) SetEmailVerified(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsEmailVerified = true
	return nil
}

func (m *memUserStore) UpdateEmail(_ context.Context, id uuid.UUID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if other, taken := m.byEmail[email]; taken && other.ID != id {
		return repository.ErrDuplicate
	}
	delete(m.byEmail, u.Email)
	u.Email = email
	u.IsEmailVerified = false
	m.byEmail[email] = u
	return nil
}

func (m *memUserStore) BumpJWTVersion(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.JWTVersion++
	return u.JWTVersion, nil
}

type memAuthStore struct {
	mu         sync.Mutex
	nextID     int64
	devices    map[string]*models.RefreshDevice // userID/deviceID
	challenges map[string]*models.AuthChallenge // userID/action, unconfirmed only
	attempts   []*models.SignInAttempt
}

func newMemAuthStore() *memAuthStore {
	return &memAuthStore{
		devices:    make(map[string]*models.RefreshDevice),
		challenges: make(map[string]*models.AuthChallenge),
	}
}

func deviceKey(userID uuid.UUID, deviceID string) string { return userID.String() + "/" + deviceID }

func (m *memAuthStore) UpsertDevice(_ context.Context, userID uuid.UUID, deviceID string, currentHash []byte, absoluteExpires time.Time, meta models.ClientMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deviceKey(userID, deviceID)
	if d, ok := m.devices[key]; ok {
		d.PreviousHash = d.CurrentHash
		d.CurrentHash = currentHash
		d.AbsoluteExpires = absoluteExpires
		d.RevokedAt = nil
		return nil
	}
	m.nextID++
	m.devices[key] = &models.RefreshDevice{
		ID:              m.nextID,
		UserID:          userID,
		DeviceID:        deviceID,
		CurrentHash:     currentHash,
		AbsoluteExpires: absoluteExpires,
	}
	return nil
}

func (m *memAuthStore) GetDevice(_ context.Context, userID uuid.UUID, deviceID string) (*models.RefreshDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceKey(userID, deviceID)]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memAuthStore) GetDeviceByHash(_ context.Context, deviceID string, hash []byte) (*models.RefreshDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.DeviceID != deviceID {
			continue
		}
		if security.RefreshHashEqual(d.CurrentHash, hash) || security.RefreshHashEqual(d.PreviousHash, hash) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAuthStore) RotateDevice(_ context.Context, id int64, oldCurrent, newCurrent []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.ID != id {
			continue
		}
		if !security.RefreshHashEqual(d.CurrentHash, oldCurrent) {
			return repository.ErrNotFound
		}
		d.PreviousHash = d.CurrentHash
		d.CurrentHash = newCurrent
		rotated := at
		d.LastRotatedAt = &rotated
		return nil
	}
	return repository.ErrNotFound
}

func (m *memAuthStore) RevokeDevice(_ context.Context, userID uuid.UUID, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceKey(userID, deviceID)]
	if !ok {
		return repository.ErrNotFound
	}
	revoked := at
	d.RevokedAt = &revoked
	return nil
}

func (m *memAuthStore) RevokeAllDevices(_ context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.UserID == userID && d.RevokedAt == nil {
			revoked := at
			d.RevokedAt = &revoked
		}
	}
	return nil
}

func challengeKey(userID uuid.UUID, action string) string { return userID.String() + "/" + action }

func (m *memAuthStore) GetChallenge(_ context.Context, userID uuid.UUID, action string) (*models.AuthChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.challenges[challengeKey(userID, action)]; ok {
		cp := *ch
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memAuthStore) UpsertChallenge(_ context.Context, ch *models.AuthChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cp := *ch
	cp.ID = m.nextID
	cp.Attempts = 0
	cp.CreatedAt = time.Now().UTC()
	m.challenges[challengeKey(ch.UserID, ch.Action)] = &cp
	ch.ID = cp.ID
	ch.CreatedAt = cp.CreatedAt
	return nil
}

func (m *memAuthStore) IncrementChallengeAttempts(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.challenges {
		if ch.ID == id {
			ch.Attempts++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memAuthStore) ConfirmChallenge(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ch := range m.challenges {
		if ch.ID == id {
			delete(m.challenges, key)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memAuthStore) RecordSignInAttempt(_ context.Context, attempt *models.SignInAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *attempt
	cp.CreatedAt = time.Now().UTC()
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *memAuthStore) CountUserFailures(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.UserID != nil && *a.UserID == userID && !a.Success && a.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *memAuthStore) CountIPFailures(_ context.Context, ip string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.IP == ip && !a.Success && a.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// captureMailer records sent mail and exposes the one-time code from
// the most recent body.
type captureMailer struct {
	mu   sync.Mutex
	sent []struct{ to, subject, body string }
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, struct{ to, subject, body string }{to, subject, body})
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	body := m.sent[len(m.sent)-1].body
	const prefix = "Your verification code is "
	i := strings.Index(body, prefix)
	require.GreaterOrEqual(t, i, 0)
	return body[i+len(prefix) : i+len(prefix)+8]
}

func (m *captureMailer) lastTo(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1].to
}

// ===========================================
// Harness
// ===========================================

type authFixture struct {
	svc   *AuthService
	users *memUserStore
	auth  *memAuthStore
	mail  *captureMailer
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	users := newMemUserStore()
	auth := newMemAuthStore()
	mail := &captureMailer{}
	cfg := config.AuthConfig{
		JWTSecret:         "test-jwt-secret",
		Pepper:            "test-pepper",
		AccessTTL:         15 * time.Minute,
		RefreshTTL:        720 * time.Hour,
		ChallengeTTL:      time.Hour,
		ChallengeCooldown: time.Minute,
		MaxCodeAttempts:   5,
		Lockout: config.LockoutConfig{
			UserMaxFailures: 3,
			IPMaxFailures:   6,
			Window:          15 * time.Minute,
		},
	}
	return &authFixture{
		svc:   NewAuthService(users, auth, mail, cfg, zerolog.Nop()),
		users: users,
		auth:  auth,
		mail:  mail,
	}
}

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery staple"
)

var testMeta = models.ClientMeta{IP: "203.0.113.7", UserAgent: "test-agent"}

func (f *authFixture) signUp(t *testing.T) (*models.AuthBundle, *models.User) {
	t.Helper()
	bundle, user, verr := f.svc.SignUp(context.Background(), &models.SignUpRequest{
		Email:    testEmail,
		Password: testPassword,
	}, testMeta)
	require.Nil(t, verr)
	return bundle, user
}

// ===========================================
// Registration & sign-in
// ===========================================

func TestSignUpIssuesTokensAndSendsVerification(t *testing.T) {
	f := newAuthFixture(t)

	bundle, user := f.signUp(t)
	assert.NotEmpty(t, bundle.AccessToken)
	assert.NotEmpty(t, bundle.RefreshToken)
	assert.Equal(t, testEmail, user.Email)
	assert.False(t, user.IsEmailVerified)

	// The access token is immediately usable.
	got, verr := f.svc.VerifyAccessToken(context.Background(), bundle.AccessToken)
	require.Nil(t, verr)
	assert.Equal(t, user.ID, got.ID)

	// The verification email is sent from a goroutine.
	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, testEmail, f.mail.lastTo(t))
}

func TestSignUpValidation(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	longName := strings.Repeat("x", 31)

	tests := []struct {
		name    string
		req     models.SignUpRequest
		status  int
		message string
	}{
		{
			name:    "invalid email",
			req:     models.SignUpRequest{Email: "not-an-email", Password: testPassword},
			status:  http.StatusUnprocessableEntity,
			message: "Invalid email address",
		},
		{
			name:    "weak password",
			req:     models.SignUpRequest{Email: testEmail, Password: "password12"},
			status:  http.StatusUnprocessableEntity,
			message: "password is too weak",
		},
		{
			name:    "short password",
			req:     models.SignUpRequest{Email: testEmail, Password: "short"},
			status:  http.StatusUnprocessableEntity,
			message: "password must be at least 10 characters",
		},
		{
			name:    "password built from email",
			req:     models.SignUpRequest{Email: testEmail, Password: "alice@example.com1"},
			status:  http.StatusUnprocessableEntity,
			message: "password is too weak",
		},
		{
			name:    "display name too long",
			req:     models.SignUpRequest{Email: testEmail, Password: testPassword, DisplayName: &longName},
			status:  http.StatusUnprocessableEntity,
			message: "Display name exceeds maximum allowed length of 30 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, verr := f.svc.SignUp(ctx, &tt.req, testMeta)
			require.NotNil(t, verr)
			assert.Equal(t, tt.status, verr.Status())
			assert.Equal(t, tt.message, verr.Message)
		})
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)

	_, _, verr := f.svc.SignUp(context.Background(), &models.SignUpRequest{
		Email:    "Alice@Example.com ", // normalizes to the taken address
		Password: testPassword,
	}, testMeta)
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusConflict, verr.Status())
	assert.Equal(t, "Email is already taken", verr.Message)
}

func TestSignInSuccess(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)

	bundle, verr := f.svc.SignIn(context.Background(), &models.SignInRequest{
		Email:    "ALICE@example.com",
		Password: testPassword,
	}, testMeta)
	require.Nil(t, verr)
	assert.NotEmpty(t, bundle.AccessToken)

	stored, err := f.users.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestSignInWrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)

	_, verr := f.svc.SignIn(context.Background(), &models.SignInRequest{
		Email:    testEmail,
		Password: "wrong horse battery staple",
	}, testMeta)
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusUnauthorized, verr.Status())
	assert.Equal(t, "invalid credentials", verr.Message)
}

func TestSignInUnknownEmailSameError(t *testing.T) {
	// Unknown address and wrong password must be indistinguishable.
	f := newAuthFixture(t)
	_, verr := f.svc.SignIn(context.Background(), &models.SignInRequest{
		Email:    "nobody@example.com",
		Password: testPassword,
	}, testMeta)
	require.NotNil(t, verr)
	assert.Equal(t, "invalid credentials", verr.Message)
}

func TestSignInUserLockout(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)
	ctx := context.Background()

	bad := &models.SignInRequest{Email: testEmail, Password: "wrong horse battery staple"}
	for i := 0; i < 3; i++ {
		_, verr := f.svc.SignIn(ctx, bad, testMeta)
		require.NotNil(t, verr)
	}

	// The correct password is refused while the account is locked.
	_, verr := f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: testPassword}, testMeta)
	require.NotNil(t, verr)
	assert.Equal(t, "invalid credentials", verr.Message)
}

func TestSignInIPLockoutBlocksBeforeUserLookup(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)
	ctx := context.Background()

	// Six failures from one IP against a nonexistent account.
	for i := 0; i < 6; i++ {
		_, verr := f.svc.SignIn(ctx, &models.SignInRequest{
			Email:    "nobody@example.com",
			Password: "wrong horse battery staple",
		}, testMeta)
		require.NotNil(t, verr)
	}

	// The real account is now unreachable from that IP...
	_, verr := f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: testPassword}, testMeta)
	require.NotNil(t, verr)

	// ...but fine from another.
	otherIP := models.ClientMeta{IP: "198.51.100.9"}
	_, verr = f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: testPassword}, otherIP)
	assert.Nil(t, verr)
}

// ===========================================
// Refresh rotation
// ===========================================

func TestRefreshRotatesToken(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)
	ctx := context.Background()

	next, verr := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.Nil(t, verr)
	assert.NotEqual(t, bundle.RefreshToken, next.RefreshToken)

	got, verr := f.svc.VerifyAccessToken(ctx, next.AccessToken)
	require.Nil(t, verr)
	assert.Equal(t, user.ID, got.ID)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)

	_, verr := f.svc.Refresh(context.Background(), "no-such-token", "")
	require.NotNil(t, verr)
	assert.Equal(t, "invalid refresh token", verr.Message)
}

func TestRefreshGraceWindowAcceptsOldTokenOnce(t *testing.T) {
	f := newAuthFixture(t)
	bundle, _ := f.signUp(t)
	ctx := context.Background()

	// Rotate: bundle's token slides into previous_hash.
	_, verr := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.Nil(t, verr)

	// Inside the grace window the old token wins exactly once...
	again, verr := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.Nil(t, verr)
	require.NotEmpty(t, again.RefreshToken)

	// ...and is dead afterwards: the grace rotation shifted the live
	// current hash, not the grace token's own.
	_, verr = f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.NotNil(t, verr)
}

func TestRefreshStaleTokenOutsideGraceRevokesDevice(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)
	ctx := context.Background()

	fresh, verr := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.Nil(t, verr)

	// Age the rotation stamp past the 120 s grace window.
	f.auth.mu.Lock()
	d := f.auth.devices[deviceKey(user.ID, "default")]
	old := time.Now().UTC().Add(-3 * time.Minute)
	d.LastRotatedAt = &old
	f.auth.mu.Unlock()

	_, verr = f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.NotNil(t, verr)
	assert.Equal(t, "stale refresh token", verr.Message)

	// The replay revoked the whole device, killing the fresh token too.
	_, verr = f.svc.Refresh(ctx, fresh.RefreshToken, "")
	require.NotNil(t, verr)
	assert.Equal(t, "device revoked", verr.Message)
}

func TestRefreshExpiredDevice(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)

	f.auth.mu.Lock()
	f.auth.devices[deviceKey(user.ID, "default")].AbsoluteExpires = time.Now().UTC().Add(-time.Hour)
	f.auth.mu.Unlock()

	_, verr := f.svc.Refresh(context.Background(), bundle.RefreshToken, "")
	require.NotNil(t, verr)
	assert.Equal(t, "refresh expired", verr.Message)
}

func TestSignOutRevokesDevice(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)
	ctx := context.Background()

	require.Nil(t, f.svc.SignOut(ctx, user.ID, ""))

	_, verr := f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.NotNil(t, verr)
	assert.Equal(t, "device revoked", verr.Message)
}

func TestSignOutAllInvalidatesAccessTokens(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)
	ctx := context.Background()

	require.Nil(t, f.svc.SignOutAll(ctx, user.ID))

	// The still-unexpired access token now fails the version check.
	_, verr := f.svc.VerifyAccessToken(ctx, bundle.AccessToken)
	require.NotNil(t, verr)
	assert.Equal(t, "token revoked", verr.Message)

	_, verr = f.svc.Refresh(ctx, bundle.RefreshToken, "")
	require.NotNil(t, verr)
}

// ===========================================
// Password management
// ===========================================

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)
	ctx := context.Background()

	const newPassword = "an entirely different phrase"
	require.Nil(t, f.svc.ChangePassword(ctx, user.ID, testPassword, newPassword))

	// Every session died with the change.
	_, verr := f.svc.VerifyAccessToken(ctx, bundle.AccessToken)
	require.NotNil(t, verr)

	// Old credential gone, new one works.
	_, verr = f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: testPassword}, testMeta)
	require.NotNil(t, verr)
	_, verr = f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: newPassword}, testMeta)
	assert.Nil(t, verr)
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)

	verr := f.svc.ChangePassword(context.Background(), user.ID, "not the password", "an entirely different phrase")
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusUnauthorized, verr.Status())
}

func TestChangePasswordRejectsWeakReplacement(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)

	verr := f.svc.ChangePassword(context.Background(), user.ID, testPassword, "password12")
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusUnprocessableEntity, verr.Status())
}

// ===========================================
// Challenge flows
// ===========================================

func TestEmailVerificationFlow(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	code := f.mail.lastCode(t)

	require.Nil(t, f.svc.ConfirmEmailVerification(ctx, user.ID, code))

	stored, err := f.users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEmailVerified)

	// The challenge is consumed: the same code is spent.
	verr := f.svc.ConfirmEmailVerification(ctx, user.ID, code)
	require.NotNil(t, verr)
	assert.Equal(t, "Code is invalid or expired", verr.Message)
}

func TestRequestEmailVerificationAlreadyVerified(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)
	ctx := context.Background()

	require.NoError(t, f.users.SetEmailVerified(ctx, user.ID))

	verr := f.svc.RequestEmailVerification(ctx, user.ID)
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusBadRequest, verr.Status())
	assert.Equal(t, "Email is already verified", verr.Message)
}

func TestChallengeWrongCodeBurnsAttempts(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	code := f.mail.lastCode(t)

	wrong := "AAAAAAAA"
	if wrong == code {
		wrong = "BBBBBBBB"
	}

	// Five wrong submissions reach the attempt ceiling.
	for i := 0; i < 5; i++ {
		verr := f.svc.ConfirmEmailVerification(ctx, user.ID, wrong)
		require.NotNil(t, verr)
		assert.Equal(t, "Invalid verification code", verr.Message)
	}

	// Now even the correct code is refused.
	verr := f.svc.ConfirmEmailVerification(ctx, user.ID, code)
	require.NotNil(t, verr)
	assert.Equal(t, "Too many attempts", verr.Message)
	assert.Equal(t, http.StatusUnprocessableEntity, verr.Status())
}

func TestChallengeExpiry(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	code := f.mail.lastCode(t)

	f.auth.mu.Lock()
	f.auth.challenges[challengeKey(user.ID, models.ChallengeVerifyEmail)].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	f.auth.mu.Unlock()

	verr := f.svc.ConfirmEmailVerification(ctx, user.ID, code)
	require.NotNil(t, verr)
	assert.Equal(t, "Code is invalid or expired", verr.Message)
	assert.Equal(t, http.StatusBadRequest, verr.Status())
}

func TestChallengeResendCooldown(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	verr := f.svc.RequestEmailVerification(ctx, user.ID)
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusTooManyRequests, verr.Status())
	assert.Equal(t, "Please wait before requesting another code", verr.Message)

	// Ageing the challenge past the cooldown allows a resend, which
	// replaces the code.
	f.auth.mu.Lock()
	f.auth.challenges[challengeKey(user.ID, models.ChallengeVerifyEmail)].CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	f.auth.mu.Unlock()

	require.Nil(t, f.svc.RequestEmailVerification(ctx, user.ID))
	assert.Equal(t, 2, f.mail.count())
}

func TestPasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Nil(t, f.svc.RequestPasswordReset(ctx, testEmail))
	require.Equal(t, 2, f.mail.count())
	code := f.mail.lastCode(t)

	const newPassword = "an entirely different phrase"
	require.Nil(t, f.svc.ConfirmPasswordReset(ctx, testEmail, code, newPassword))

	_, verr := f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: newPassword}, testMeta)
	assert.Nil(t, verr)
	_, verr = f.svc.SignIn(ctx, &models.SignInRequest{Email: testEmail, Password: testPassword}, testMeta)
	assert.NotNil(t, verr)
}

func TestPasswordResetNeverRevealsAccounts(t *testing.T) {
	f := newAuthFixture(t)
	f.signUp(t)
	ctx := context.Background()

	// Unknown address and malformed address both succeed silently.
	assert.Nil(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Nil(t, f.svc.RequestPasswordReset(ctx, "not-an-email"))

	verr := f.svc.ConfirmPasswordReset(ctx, "nobody@example.com", "AAAAAAAA", "an entirely different phrase")
	require.NotNil(t, verr)
	assert.Equal(t, "Code is invalid or expired", verr.Message)
}

func TestEmailChangeFlow(t *testing.T) {
	f := newAuthFixture(t)
	bundle, user := f.signUp(t)
	ctx := context.Background()

	require.Eventually(t, func() bool { return f.mail.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	const newEmail = "alice.new@example.com"
	require.Nil(t, f.svc.RequestEmailChange(ctx, user.ID, newEmail, testPassword))

	// The code goes to the NEW address.
	require.Equal(t, 2, f.mail.count())
	assert.Equal(t, newEmail, f.mail.lastTo(t))
	code := f.mail.lastCode(t)

	require.Nil(t, f.svc.ConfirmEmailChange(ctx, user.ID, code))

	stored, err := f.users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, newEmail, stored.Email)
	assert.False(t, stored.IsEmailVerified, "a changed address starts unverified")

	// Sessions survive an email change.
	_, verr := f.svc.VerifyAccessToken(ctx, bundle.AccessToken)
	assert.Nil(t, verr)
}

func TestRequestEmailChangeGuards(t *testing.T) {
	f := newAuthFixture(t)
	_, user := f.signUp(t)
	ctx := context.Background()

	// Second account occupying the target address.
	_, _, verr := f.svc.SignUp(ctx, &models.SignUpRequest{
		Email:    "bob@example.com",
		Password: testPassword,
	}, testMeta)
	require.Nil(t, verr)

	verr = f.svc.RequestEmailChange(ctx, user.ID, "bob@example.com", testPassword)
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusConflict, verr.Status())
	assert.Equal(t, "Email is already taken", verr.Message)

	verr = f.svc.RequestEmailChange(ctx, user.ID, testEmail, testPassword)
	require.NotNil(t, verr)
	assert.Equal(t, "Email is already active on this account", verr.Message)

	verr = f.svc.RequestEmailChange(ctx, user.ID, "new@example.com", "wrong password entirely")
	require.NotNil(t, verr)
	assert.Equal(t, http.StatusUnauthorized, verr.Status())
}
