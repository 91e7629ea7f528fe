// ===========================================
// Package security - Credential Primitives
// ===========================================
// Everything secret-shaped lives here: Argon2id password hashing,
// challenge codes, JWT access tokens, and refresh-token HMACs. The
// pepper is a process-wide secret mixed into every hash so a stolen
// database alone is not enough to run an offline attack.
//
// Go's argon2 package has no secret parameter, so the pepper is folded
// in by HMAC-SHA256ing the material before the Argon2id pass.
// ===========================================

package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/trustelem/zxcvbn"
	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"
)

// Argon2id parameters. Changing them invalidates no stored hash: the
// PHC string carries the parameters each hash was produced with.
const (
	argonMemoryKiB = 16 * 1024
	argonTime      = 3
	argonThreads   = 1
	argonKeyLen    = 32
	argonSaltLen   = 16
)

const (
	minPasswordRunes = 10
	maxPasswordBytes = 128
	minZxcvbnScore   = 3
)

var (
	ErrPasswordTooShort   = errors.New("password must be at least 10 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 128 bytes")
	ErrPasswordBadChars   = errors.New("password contains disallowed control characters")
	ErrPasswordTooWeak    = errors.New("password is too weak")
	ErrMalformedHash      = errors.New("stored password hash is malformed")
	ErrUnsupportedVariant = errors.New("stored password hash uses an unsupported variant")
)

// Invisible format and bidirectional-override code points that make a
// password visually ambiguous. Rejected outright rather than stripped.
func forbiddenFormatRune(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F: // zero-width + directional marks
		return true
	case r >= 0x202A && r <= 0x202E: // bidi embedding/override
		return true
	case r >= 0x2060 && r <= 0x2064: // word joiner + invisible operators
		return true
	case r == 0xFEFF: // byte order mark
		return true
	}
	return false
}

// NormalizePassword applies NFC and enforces the character and length
// rules. Both hashing and verification go through it, so two visually
// identical inputs in different Unicode forms produce the same hash.
func NormalizePassword(pw string) ([]byte, error) {
	n := norm.NFC.String(pw)

	for _, r := range n {
		if r == 0 || (unicode.IsControl(r) && r != ' ') || forbiddenFormatRune(r) {
			return nil, ErrPasswordBadChars
		}
	}
	if utf8.RuneCountInString(n) < minPasswordRunes {
		return nil, ErrPasswordTooShort
	}
	if len(n) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	return []byte(n), nil
}

// CheckPasswordStrength rejects passwords a cracker would guess
// quickly. userInputs (email, display name) are treated as known
// context so "alice@example.com1" scores near zero.
func CheckPasswordStrength(pw string, userInputs []string) error {
	if zxcvbn.PasswordStrength(pw, userInputs).Score < minZxcvbnScore {
		return ErrPasswordTooWeak
	}
	return nil
}

// Hasher produces and verifies peppered Argon2id hashes.
type Hasher struct {
	pepper []byte
}

func NewHasher(pepper string) *Hasher {
	return &Hasher{pepper: []byte(pepper)}
}

// HashPassword normalizes, peppers, and Argon2id-hashes a password.
// The result is a PHC-style string safe to store as-is.
func (h *Hasher) HashPassword(pw string) (string, error) {
	material, err := NormalizePassword(pw)
	if err != nil {
		return "", err
	}
	return h.hash(material)
}

// VerifyPassword reports whether pw matches the stored PHC string.
// A malformed stored hash is an error, not a mismatch.
func (h *Hasher) VerifyPassword(pw, storedPHC string) (bool, error) {
	material, err := NormalizePassword(pw)
	if err != nil {
		// A password that fails normalization can never have produced
		// a stored hash, so it simply does not match.
		return false, nil
	}
	return h.verify(material, storedPHC)
}

// hash peppers the material and runs Argon2id with a fresh salt.
func (h *Hasher) hash(material []byte) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(h.pepperize(material), salt, argonTime, argonMemoryKiB, argonThreads, argonKeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemoryKiB, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

func (h *Hasher) verify(material []byte, storedPHC string) (bool, error) {
	variant, version, m, t, p, salt, want, err := parsePHC(storedPHC)
	if err != nil {
		return false, err
	}
	if variant != "argon2id" {
		return false, ErrUnsupportedVariant
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: version %d", ErrUnsupportedVariant, version)
	}

	got := argon2.IDKey(h.pepperize(material), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// pepperize folds the process pepper into the material.
func (h *Hasher) pepperize(material []byte) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write(material)
	return mac.Sum(nil)
}

// parsePHC splits $argon2id$v=19$m=16384,t=3,p=1$<salt>$<hash>.
func parsePHC(phc string) (variant string, version int, m uint32, t uint32, p uint8, salt, hash []byte, err error) {
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[0] != "" {
		err = ErrMalformedHash
		return
	}
	variant = parts[1]

	if _, e := fmt.Sscanf(parts[2], "v=%d", &version); e != nil {
		err = ErrMalformedHash
		return
	}
	if _, e := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); e != nil {
		err = ErrMalformedHash
		return
	}

	b64 := base64.RawStdEncoding
	if salt, err = b64.DecodeString(parts[4]); err != nil {
		err = ErrMalformedHash
		return
	}
	if hash, err = b64.DecodeString(parts[5]); err != nil {
		err = ErrMalformedHash
		return
	}
	return
}
