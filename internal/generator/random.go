package generator

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomEngine draws each character independently and uniformly from
// the alphabet using the OS entropy source. It is stateless and never
// exhausts the code space.
//
// SECURITY NOTE: math/rand is not suitable here - predictable codes
// would let an attacker enumerate the namespace. crypto/rand with
// rejection-free modular sampling via big.Int keeps the draw uniform.
type RandomEngine struct {
	length   int
	alphabet []rune
}

// NewRandomEngine creates a random engine over the given alphabet.
func NewRandomEngine(length int, alphabet []rune) *RandomEngine {
	return &RandomEngine{length: length, alphabet: alphabet}
}

// Generate returns a fresh random code of the configured length.
func (e *RandomEngine) Generate() (string, error) {
	n := big.NewInt(int64(len(e.alphabet)))
	buf := make([]rune, e.length)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = e.alphabet[idx.Int64()]
	}
	return string(buf), nil
}

func (e *RandomEngine) Name() string { return "random" }
