// ===========================================
// Package generator - Short Code Generation
// ===========================================
// A generator is only responsible for producing candidate short codes.
// It does NOT handle deduplication, database writes, or caching - the
// shorten service owns those concerns and retries on collision.
//
// Two engines exist:
// - random:   L characters drawn uniformly from the alphabet (crypto RNG)
// - sequence: monotonic block-allocating counter, base-N encoded
// ===========================================

package generator

import (
	"errors"
	"fmt"

	"github.com/user/shortlink/internal/config"
)

// ErrExhaustedSpace is returned when an ordinal no longer fits in the
// configured code length. Increasing shortener.length resolves it.
var ErrExhaustedSpace = errors.New("short code space exhausted")

// PersistError wraps a state-file write failure from the sequence
// engine. The issuing call still produced a valid code; callers should
// log the error and use the code.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist sequence state: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Generator produces candidate short codes.
type Generator interface {
	// Generate returns a new candidate code. A non-nil *PersistError
	// may accompany a usable code; every other error means no code
	// was produced.
	Generate() (string, error)

	// Name identifies the engine for logging.
	Name() string
}

// Build constructs the engine selected by the configuration.
// The configuration must already be validated.
func Build(cfg config.ShortenerConfig) (Generator, error) {
	alphabet := []rune(cfg.Alphabet)

	switch cfg.Engine.Kind {
	case "random":
		return NewRandomEngine(cfg.Length, alphabet), nil
	case "sequence":
		seq := cfg.Engine.Sequence
		return NewSequenceEngine(cfg.Length, alphabet, seq.BlockSize, seq.PersistInterval, seq.StatePath)
	default:
		return nil, fmt.Errorf("unknown generator engine %q", cfg.Engine.Kind)
	}
}
