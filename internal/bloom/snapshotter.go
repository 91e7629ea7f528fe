package bloom

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotStore persists and restores serialized filter state.
// Load returns (nil, nil) when no snapshot has been written yet.
type SnapshotStore interface {
	LoadBloomSnapshot(ctx context.Context, name string) ([]byte, error)
	SaveBloomSnapshot(ctx context.Context, name string, data []byte) error
}

// CodeLister pages through every short code in the store.
type CodeLister interface {
	ListShortCodes(ctx context.Context, offset, limit int) ([]string, error)
}

// Snapshotter periodically writes the filter state to the store and
// writes one final snapshot on shutdown.
type Snapshotter struct {
	filter   *Filter
	store    SnapshotStore
	name     string
	interval time.Duration
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewSnapshotter builds a snapshotter; call Run in a goroutine and
// Close during shutdown.
func NewSnapshotter(filter *Filter, store SnapshotStore, interval time.Duration, log zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		filter:   filter,
		store:    store,
		name:     DefaultName,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run writes a snapshot every interval until Close is called.
// Write failures are logged and do not stop the loop.
func (s *Snapshotter) Run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot()
		case <-s.stop:
			// Final snapshot so a restart does not rescan the table.
			s.snapshot()
			return
		}
	}
}

// Close stops the loop and blocks until the final snapshot attempt
// has completed.
func (s *Snapshotter) Close() {
	close(s.stop)
	<-s.done
}

func (s *Snapshotter) snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := s.filter.Snapshot()
	if err := s.store.SaveBloomSnapshot(ctx, s.name, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist bloom snapshot")
		return
	}
	s.log.Debug().Int("bytes", len(data)).Msg("Persisted bloom snapshot")
}
