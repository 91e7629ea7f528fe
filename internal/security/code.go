package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	codeLength  = 8
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var ErrInvalidCode = errors.New("code must be 8 letters or digits")

// GenerateChallengeCode returns an 8-character alphanumeric one-time
// code, drawn from the OS entropy source.
func GenerateChallengeCode() (string, error) {
	n := big.NewInt(int64(len(codeCharset)))
	buf := make([]byte, codeLength)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = codeCharset[idx.Int64()]
	}
	return string(buf), nil
}

func validateChallengeCode(code string) error {
	if len(code) != codeLength {
		return ErrInvalidCode
	}
	for _, c := range []byte(code) {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		default:
			return ErrInvalidCode
		}
	}
	return nil
}

// HashChallengeCode Argon2id-hashes a one-time code under the pepper,
// the same pipeline passwords use. Codes are short-lived but emailed
// in the clear, so the stored form gets the full treatment.
func (h *Hasher) HashChallengeCode(code string) (string, error) {
	if err := validateChallengeCode(code); err != nil {
		return "", err
	}
	return h.hash([]byte(code))
}

// VerifyChallengeCode reports whether code matches the stored PHC
// string. A malformed submitted code is a mismatch, not an error.
func (h *Hasher) VerifyChallengeCode(code, storedPHC string) (bool, error) {
	if err := validateChallengeCode(code); err != nil {
		return false, nil
	}
	return h.verify([]byte(code), storedPHC)
}
