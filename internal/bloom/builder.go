package bloom

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Build restores the filter from the latest persisted snapshot, or
// rebuilds it by paging through every short code when no snapshot
// exists (or the snapshot is corrupt). When persist is set, a
// successful rebuild is written back right away so the next restart
// restores instead of rescanning the table. Startup blocks on this:
// the redirect path must never see a filter missing live codes.
func Build(ctx context.Context, store SnapshotStore, lister CodeLister, persist bool, log zerolog.Logger) (*Filter, error) {
	data, err := store.LoadBloomSnapshot(ctx, DefaultName)
	if err != nil {
		return nil, fmt.Errorf("failed to load bloom snapshot: %w", err)
	}

	if data != nil {
		f, err := FromSnapshot(data)
		if err == nil {
			log.Info().Int("bytes", len(data)).Msg("Restored bloom filter from snapshot")
			return f, nil
		}
		log.Warn().Err(err).Msg("Discarding corrupt bloom snapshot, rebuilding from store")
	}

	f, err := rebuild(ctx, lister, log)
	if err != nil {
		return nil, err
	}
	if persist {
		// Failure is not fatal; the periodic snapshotter retries.
		if serr := store.SaveBloomSnapshot(ctx, DefaultName, f.Snapshot()); serr != nil {
			log.Error().Err(serr).Msg("Failed to persist rebuilt bloom snapshot")
		}
	}
	return f, nil
}

func rebuild(ctx context.Context, lister CodeLister, log zerolog.Logger) (*Filter, error) {
	start := time.Now()
	f := New()

	var total int
	for offset := 0; ; offset += RebuildPageSize {
		codes, err := lister.ListShortCodes(ctx, offset, RebuildPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to scan short codes: %w", err)
		}
		f.InsertAll(codes)
		total += len(codes)
		if len(codes) < RebuildPageSize {
			break
		}
	}

	log.Info().
		Int("codes", total).
		Dur("elapsed", time.Since(start)).
		Msg("Rebuilt bloom filter from store")
	return f, nil
}
