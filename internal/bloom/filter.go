// ===========================================
// Package bloom - Short Code Membership Filter
// ===========================================
// The redirect path checks the filter BEFORE touching the database:
// an unknown code is rejected without a query. False positives cost
// one wasted lookup; false negatives must never happen, so every
// insert updates the filter before the shorten call returns.
// ===========================================

package bloom

import (
	"encoding/binary"
	"fmt"
	"sync"

	bloomv3 "github.com/bits-and-blooms/bloom/v3"
)

const (
	// DefaultName keys the persisted snapshot row.
	DefaultName = "short_to_long"

	// DefaultExpectedItems and DefaultFalsePositiveRate size the filter
	// when no snapshot exists.
	DefaultExpectedItems     = 10_000_000
	DefaultFalsePositiveRate = 0.01

	// RebuildPageSize bounds each key-scan query during a cold rebuild.
	RebuildPageSize = 50_000
)

// Filter is a concurrency-safe Bloom filter over short codes.
// Reads take a shared lock so redirects never serialize on each other.
type Filter struct {
	mu sync.RWMutex
	f  *bloomv3.BloomFilter
}

// New creates an empty filter sized for the default capacity.
func New() *Filter {
	return &Filter{f: bloomv3.NewWithEstimates(DefaultExpectedItems, DefaultFalsePositiveRate)}
}

// MayContain reports whether code is possibly present. A false result
// is definitive: the code was never inserted.
func (fl *Filter) MayContain(code string) bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.f.TestString(code)
}

// Insert adds code to the filter.
func (fl *Filter) Insert(code string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.f.AddString(code)
}

// InsertAll adds a batch of codes under a single lock acquisition.
func (fl *Filter) InsertAll(codes []string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for _, c := range codes {
		fl.f.AddString(c)
	}
}

// ApproxItems estimates how many codes the filter holds.
func (fl *Filter) ApproxItems() uint32 {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.f.ApproximatedSize()
}

// Snapshot serializes the filter state:
//
//	[0:4]  big-endian uint32 hash-function count
//	[4:]   bit array as big-endian uint64 words
//
// The returned buffer is detached from the live filter.
func (fl *Filter) Snapshot() []byte {
	fl.mu.RLock()
	defer fl.mu.RUnlock()

	words := fl.f.BitSet().Bytes()
	out := make([]byte, 4+8*len(words))
	binary.BigEndian.PutUint32(out[:4], uint32(fl.f.K()))
	for i, w := range words {
		binary.BigEndian.PutUint64(out[4+8*i:], w)
	}
	return out
}

// FromSnapshot reconstructs a filter from Snapshot output.
func FromSnapshot(data []byte) (*Filter, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("bloom snapshot too short: %d bytes", len(data))
	}
	body := data[4:]
	if len(body)%8 != 0 {
		return nil, fmt.Errorf("bloom snapshot body is %d bytes, not a multiple of 8", len(body))
	}

	k := binary.BigEndian.Uint32(data[:4])
	if k == 0 {
		return nil, fmt.Errorf("bloom snapshot declares zero hash functions")
	}

	words := make([]uint64, len(body)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(body[8*i:])
	}

	m := uint(64 * len(words))
	return &Filter{f: bloomv3.FromWithM(words, m, uint(k))}, nil
}
