package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/user/shortlink/internal/models"
	"github.com/user/shortlink/internal/repository"
	"github.com/user/shortlink/internal/security"
)

// In-memory stores mirroring the SQL implementations' conflict
// semantics, so the full router can be exercised without a database.

type fakeURLStore struct {
	mu      sync.Mutex
	byCode  map[string]*models.URL
	byHash  map[string]*models.URL
	aliases map[string]uuid.UUID
}

func newFakeURLStore() *fakeURLStore {
	return &fakeURLStore{
		byCode:  make(map[string]*models.URL),
		byHash:  make(map[string]*models.URL),
		aliases: make(map[string]uuid.UUID),
	}
}

func (f *fakeURLStore) InsertURL(_ context.Context, code, originalURL, urlHash string) (*models.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byHash[urlHash]; ok {
		return &models.UpsertResult{ID: existing.ID, Code: existing.Code}, nil
	}
	if _, ok := f.byCode[code]; ok {
		return nil, repository.ErrDuplicate
	}
	u := &models.URL{ID: uuid.New(), Code: code, OriginalURL: originalURL, URLHash: urlHash}
	f.byCode[code] = u
	f.byHash[urlHash] = u
	return &models.UpsertResult{ID: u.ID, Code: u.Code, Created: true}, nil
}

func (f *fakeURLStore) GetURL(_ context.Context, code string) (*models.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byCode[code]; ok {
		return u, nil
	}
	if id, ok := f.aliases[code]; ok {
		for _, u := range f.byCode {
			if u.ID == id {
				return u, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeURLStore) GetByURLHash(_ context.Context, urlHash string) (*models.URL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byHash[urlHash]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeURLStore) ListShortCodes(context.Context, int, int) ([]string, error) { return nil, nil }

func (f *fakeURLStore) InsertAlias(_ context.Context, alias string, targetID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byCode[alias]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := f.aliases[alias]; ok {
		return repository.ErrDuplicate
	}
	f.aliases[alias] = targetID
	return nil
}

func (f *fakeURLStore) LoadBloomSnapshot(context.Context, string) ([]byte, error) { return nil, nil }
func (f *fakeURLStore) SaveBloomSnapshot(context.Context, string, []byte) error  { return nil }

type fakeUserStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.User
	byEmail map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byID:    make(map[uuid.UUID]*models.User),
		byEmail: make(map[string]*models.User),
	}
}

func (f *fakeUserStore) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[user.Email]; ok {
		return repository.ErrDuplicate
	}
	user.ID = uuid.New()
	user.JWTVersion = 1
	user.CreatedAt = time.Now().UTC()
	cp := *user
	f.byID[user.ID] = &cp
	f.byEmail[user.Email] = &cp
	return nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUserStore) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (f *fakeUserStore) SetEmailVerified(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsEmailVerified = true
	return nil
}

func (f *fakeUserStore) UpdateEmail(_ context.Context, id uuid.UUID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if other, taken := f.byEmail[email]; taken && other.ID != id {
		return repository.ErrDuplicate
	}
	delete(f.byEmail, u.Email)
	u.Email = email
	u.IsEmailVerified = false
	f.byEmail[email] = u
	return nil
}

func (f *fakeUserStore) BumpJWTVersion(_ context.Context, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.JWTVersion++
	return u.JWTVersion, nil
}

type fakeAuthStore struct {
	mu         sync.Mutex
	nextID     int64
	devices    map[string]*models.RefreshDevice
	challenges map[string]*models.AuthChallenge
	attempts   []*models.SignInAttempt
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{
		devices:    make(map[string]*models.RefreshDevice),
		challenges: make(map[string]*models.AuthChallenge),
	}
}

func (f *fakeAuthStore) key(userID uuid.UUID, s string) string { return userID.String() + "/" + s }

func (f *fakeAuthStore) UpsertDevice(_ context.Context, userID uuid.UUID, deviceID string, currentHash []byte, absoluteExpires time.Time, _ models.ClientMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(userID, deviceID)
	if d, ok := f.devices[k]; ok {
		d.PreviousHash = d.CurrentHash
		d.CurrentHash = currentHash
		d.AbsoluteExpires = absoluteExpires
		d.RevokedAt = nil
		return nil
	}
	f.nextID++
	f.devices[k] = &models.RefreshDevice{
		ID:              f.nextID,
		UserID:          userID,
		DeviceID:        deviceID,
		CurrentHash:     currentHash,
		AbsoluteExpires: absoluteExpires,
	}
	return nil
}

func (f *fakeAuthStore) GetDevice(_ context.Context, userID uuid.UUID, deviceID string) (*models.RefreshDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.devices[f.key(userID, deviceID)]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAuthStore) GetDeviceByHash(_ context.Context, deviceID string, hash []byte) (*models.RefreshDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
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

func (f *fakeAuthStore) RotateDevice(_ context.Context, id int64, oldCurrent, newCurrent []byte, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
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

func (f *fakeAuthStore) RevokeDevice(_ context.Context, userID uuid.UUID, deviceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[f.key(userID, deviceID)]
	if !ok {
		return repository.ErrNotFound
	}
	revoked := at
	d.RevokedAt = &revoked
	return nil
}

func (f *fakeAuthStore) RevokeAllDevices(_ context.Context, userID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.UserID == userID && d.RevokedAt == nil {
			revoked := at
			d.RevokedAt = &revoked
		}
	}
	return nil
}

func (f *fakeAuthStore) GetChallenge(_ context.Context, userID uuid.UUID, action string) (*models.AuthChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.challenges[f.key(userID, action)]; ok {
		cp := *ch
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAuthStore) UpsertChallenge(_ context.Context, ch *models.AuthChallenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *ch
	cp.ID = f.nextID
	cp.CreatedAt = time.Now().UTC()
	f.challenges[f.key(ch.UserID, ch.Action)] = &cp
	ch.ID = cp.ID
	return nil
}

func (f *fakeAuthStore) IncrementChallengeAttempts(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.challenges {
		if ch.ID == id {
			ch.Attempts++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeAuthStore) ConfirmChallenge(_ context.Context, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, ch := range f.challenges {
		if ch.ID == id {
			delete(f.challenges, k)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeAuthStore) RecordSignInAttempt(_ context.Context, attempt *models.SignInAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *attempt
	cp.CreatedAt = time.Now().UTC()
	f.attempts = append(f.attempts, &cp)
	return nil
}

func (f *fakeAuthStore) CountUserFailures(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.UserID != nil && *a.UserID == userID && !a.Success && a.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeAuthStore) CountIPFailures(_ context.Context, ip string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		if a.IP == ip && !a.Success && a.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// fakeMailer records challenge emails and exposes the one-time code.
type fakeMailer struct {
	mu     sync.Mutex
	bodies []string
}

func (m *fakeMailer) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bodies)
}

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.bodies)
	body := m.bodies[len(m.bodies)-1]
	const prefix = "Your verification code is "
	i := strings.Index(body, prefix)
	require.GreaterOrEqual(t, i, 0)
	return body[i+len(prefix) : i+len(prefix)+8]
}
