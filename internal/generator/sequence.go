package generator

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// SequenceEngine issues codes from a process-wide monotonic counter.
// Ordinals are served from a local window [current, end); when the
// window is exhausted the engine claims a fresh block of blockSize
// ordinals by fetch-adding the global cursor. Each ordinal is encoded
// as a fixed-width base-|alphabet| numeral, left-padded with the
// alphabet's zero symbol.
//
// Durability: when a state path is configured the engine persists the
// NEXT global cursor every persistInterval ordinals, so a replay after
// a crash never reissues an ordinal. Recovery skips at most one full
// block - density is sacrificed for monotonicity.
type SequenceEngine struct {
	length   int
	alphabet []rune

	blockSize       uint64
	persistInterval uint64
	statePath       string // empty = no persistence

	nextGlobal atomic.Uint64 // next refill start

	mu  sync.Mutex
	win window
}

type window struct {
	current            uint64
	end                uint64
	issuedSincePersist uint64
}

// NewSequenceEngine creates a sequence engine, loading the persisted
// cursor from statePath when the file exists.
func NewSequenceEngine(length int, alphabet []rune, blockSize, persistInterval uint64, statePath string) (*SequenceEngine, error) {
	e := &SequenceEngine{
		length:          length,
		alphabet:        alphabet,
		blockSize:       blockSize,
		persistInterval: persistInterval,
		statePath:       statePath,
	}

	if statePath != "" {
		next, err := loadState(statePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load sequence state: %w", err)
		}
		e.nextGlobal.Store(next)
	}
	return e, nil
}

// Generate issues the next ordinal and encodes it. It returns
// ErrExhaustedSpace once the ordinal exceeds |alphabet|^length.
// A *PersistError accompanies a valid code when the state file could
// not be written; issuance itself is never blocked by persistence.
func (e *SequenceEngine) Generate() (string, error) {
	n, persistErr := e.nextOrdinal()

	code, ok := encodeFixed(n, e.length, e.alphabet)
	if !ok {
		return "", ErrExhaustedSpace
	}
	if persistErr != nil {
		return code, &PersistError{Err: persistErr}
	}
	return code, nil
}

func (e *SequenceEngine) Name() string { return "sequence" }

// nextOrdinal serves one ordinal from the window, refilling when
// empty. The window is mutex-guarded; the global cursor is atomic, so
// concurrent issuers are linearizable with respect to it.
func (e *SequenceEngine) nextOrdinal() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.win.current >= e.win.end {
		start := e.nextGlobal.Add(e.blockSize) - e.blockSize
		e.win.current = start
		e.win.end = start + e.blockSize
	}

	n := e.win.current
	e.win.current++

	return n, e.maybePersistLocked()
}

// maybePersistLocked writes the global cursor to the state file every
// persistInterval ordinals. The persisted value is the next cursor:
// replay after a crash skips forward, never backward.
func (e *SequenceEngine) maybePersistLocked() error {
	if e.statePath == "" {
		return nil
	}
	e.win.issuedSincePersist++
	if e.win.issuedSincePersist < e.persistInterval {
		return nil
	}
	e.win.issuedSincePersist = 0
	return storeState(e.statePath, e.nextGlobal.Load())
}

// Flush forces a state write, used on graceful shutdown.
func (e *SequenceEngine) Flush() error {
	if e.statePath == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.win.issuedSincePersist = 0
	return storeState(e.statePath, e.nextGlobal.Load())
}

// encodeFixed encodes v as a fixed-width base-|alphabet| numeral.
// Returns ok=false when v does not fit in length digits.
func encodeFixed(v uint64, length int, alphabet []rune) (string, bool) {
	base := uint64(len(alphabet))
	buf := make([]rune, length)
	for i := range buf {
		buf[i] = alphabet[0]
	}
	for i := length - 1; i >= 0; i-- {
		buf[i] = alphabet[v%base]
		v /= base
		if v == 0 {
			break
		}
	}
	if v != 0 {
		return "", false
	}
	return string(buf), true
}

// State file layout: a single little-endian uint64 holding the next
// global cursor.

func loadState(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("sequence state file %s is truncated", path)
	}
	return binary.LittleEndian.Uint64(data[:8]), nil
}

func storeState(path string, next uint64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], next)
	return os.WriteFile(path, buf[:], 0o644)
}
