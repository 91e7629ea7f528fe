package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	refreshTokenBytes = 48
	jwtLeeway         = 60 * time.Second
)

var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are the signed access-token claims. ver is checked
// against the user's live jwt_version at verification time, so bumping
// the version invalidates every outstanding token at once.
type AccessClaims struct {
	Sub uuid.UUID `json:"sub"`
	Ver int       `json:"ver"`
	Exp int64     `json:"exp"`
}

func (c AccessClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}
func (c AccessClaims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c AccessClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c AccessClaims) GetIssuer() (string, error)              { return "", nil }
func (c AccessClaims) GetSubject() (string, error)             { return c.Sub.String(), nil }
func (c AccessClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// TokenKeys signs and verifies access tokens.
type TokenKeys struct {
	secret []byte
	parser *jwt.Parser
}

// NewTokenKeys builds HS256 keys with a 60 s clock-skew allowance.
func NewTokenKeys(secret string) *TokenKeys {
	return &TokenKeys{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(jwtLeeway),
			jwt.WithExpirationRequired(),
		),
	}
}

// Sign issues an access token for the given user and token version.
func (k *TokenKeys) Sign(sub uuid.UUID, ver int, ttl time.Duration) (string, error) {
	claims := AccessClaims{Sub: sub, Ver: ver, Exp: time.Now().Add(ttl).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token string, returning its claims.
func (k *TokenKeys) Verify(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	_, err := k.parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return k.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

// GenerateRefreshToken returns 48 random bytes as URL-safe base64
// without padding.
func GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken returns the HMAC-SHA256 of the plaintext under the
// pepper. Only this digest is ever persisted.
func HashRefreshToken(token, pepper string) []byte {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// RefreshHashEqual compares two refresh-token digests in constant time.
func RefreshHashEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
