package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "plain ascii", input: "correct horse battery"},
		{name: "spaces allowed", input: "pass with spaces ok"},
		{name: "exactly ten runes", input: "abcdefghij"},
		{name: "nine runes rejected", input: "abcdefghi", wantErr: ErrPasswordTooShort},
		{name: "over 128 bytes rejected", input: strings.Repeat("a", 129), wantErr: ErrPasswordTooLong},
		{name: "exactly 128 bytes", input: strings.Repeat("a", 128)},
		{name: "tab rejected", input: "password\twith tab", wantErr: ErrPasswordBadChars},
		{name: "newline rejected", input: "password\nnewline!", wantErr: ErrPasswordBadChars},
		{name: "nul rejected", input: "password\x00embedded", wantErr: ErrPasswordBadChars},
		{name: "zero width space rejected", input: "pass\u200bword12345", wantErr: ErrPasswordBadChars},
		{name: "rtl override rejected", input: "pass\u202eword12345", wantErr: ErrPasswordBadChars},
		{name: "bom rejected", input: "pass\ufeffword12345", wantErr: ErrPasswordBadChars},
		{name: "ten runes multibyte", input: "päßwörtchen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePassword(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got)
		})
	}
}

func TestNormalizePasswordUnifiesUnicodeForms(t *testing.T) {
	// U+00E9 (precomposed) vs e + U+0301 (combining acute) are the same
	// text to the user; NFC must map them to identical bytes.
	nfc, err := NormalizePassword("caf\u00e9 con leche")
	require.NoError(t, err)
	nfd, err := NormalizePassword("cafe\u0301 con leche")
	require.NoError(t, err)
	assert.Equal(t, nfc, nfd)
}

func TestNormalizePasswordLengthCountsRunesNotBytes(t *testing.T) {
	// 10 two-byte runes: over 10 bytes would pass either way, but a
	// byte-counting bug at the low bound shows up with 9 runes of 2 bytes.
	_, err := NormalizePassword("ééééééééé") // 9 runes, 18 bytes
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = NormalizePassword("éééééééééé") // 10 runes
	assert.NoError(t, err)
}

func TestCheckPasswordStrength(t *testing.T) {
	assert.ErrorIs(t, CheckPasswordStrength("password123", nil), ErrPasswordTooWeak)
	assert.ErrorIs(t, CheckPasswordStrength("qwertyuiop", nil), ErrPasswordTooWeak)
	assert.NoError(t, CheckPasswordStrength("correct horse battery staple", nil))
}

func TestCheckPasswordStrengthUsesUserInputs(t *testing.T) {
	// A password built from the account email must not pass, even
	// though the same string with no context might.
	err := CheckPasswordStrength("alice.wonderland99", []string{"alice.wonderland@example.com", "Alice Wonderland"})
	assert.ErrorIs(t, err, ErrPasswordTooWeak)
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := NewHasher("test-pepper")

	phc, err := h.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(phc, "$argon2id$v=19$m=16384,t=3,p=1$"))

	ok, err := h.VerifyPassword("correct horse battery staple", phc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("incorrect horse battery staple", phc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordAcceptsEitherUnicodeForm(t *testing.T) {
	h := NewHasher("test-pepper")

	phc, err := h.HashPassword("cafe\u0301 con leche mucho")
	require.NoError(t, err)

	ok, err := h.VerifyPassword("caf\u00e9 con leche mucho", phc)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	h := NewHasher("test-pepper")

	a, err := h.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	b, err := h.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPasswordPepperMismatch(t *testing.T) {
	phc, err := NewHasher("pepper-one").HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := NewHasher("pepper-two").VerifyPassword("correct horse battery staple", phc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPasswordMalformedStoredHash(t *testing.T) {
	h := NewHasher("test-pepper")

	tests := []struct {
		name   string
		stored string
	}{
		{name: "empty", stored: ""},
		{name: "not phc", stored: "plainly-not-a-hash"},
		{name: "missing sections", stored: "$argon2id$v=19$m=16384,t=3,p=1"},
		{name: "bad base64", stored: "$argon2id$v=19$m=16384,t=3,p=1$!!!$!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.VerifyPassword("correct horse battery staple", tt.stored)
			assert.ErrorIs(t, err, ErrMalformedHash)
		})
	}

	_, err := h.VerifyPassword("correct horse battery staple",
		"$argon2i$v=19$m=16384,t=3,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA")
	assert.ErrorIs(t, err, ErrUnsupportedVariant)
}

func TestVerifyPasswordUnnormalizableInputIsMismatch(t *testing.T) {
	h := NewHasher("test-pepper")
	phc, err := h.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := h.VerifyPassword("has\x00embedded nul", phc)
	require.NoError(t, err)
	assert.False(t, ok)
}
