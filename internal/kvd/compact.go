package kvd

import (
	"os"
	"strconv"

	"go.uber.org/zap"

	"kvd/internal/config"
	"kvd/internal/kvderr"
	"kvd/internal/segment"
)

// Compact rewrites every live key into a fresh segment and deletes every
// segment with an epoch strictly less than the new compaction epoch
// (rm_until). It is safe to call directly, and is invoked automatically
// by Set/Remove once the mutation counter exceeds the compact threshold.
func (s *Store) Compact() error {
	sealed := s.current
	s.epoch++
	rmUntil := s.epoch

	newSeg, err := segment.Open(s.dir, s.epoch)
	if err != nil {
		return &kvderr.CompactError{Err: err}
	}
	s.current = newSeg
	_ = sealed.Close()

	liveKeys := s.dirIndex.Keys()
	for _, key := range liveKeys {
		val, found, err := s.Get(key)
		if err != nil {
			return &kvderr.CompactError{Err: err}
		}
		if !found {
			// Single-writer model: a key snapshotted as live cannot have
			// vanished by the time we read it back.
			continue
		}

		// Suppress recursive compaction: these internal Sets must not
		// themselves trigger another Compact call.
		s.mutationCounter = 0
		if err := s.Set(key, val); err != nil {
			return &kvderr.CompactError{Err: err}
		}
	}

	s.cache.InvalidateBelow(rmUntil)
	if err := s.deleteSegmentsBelow(rmUntil); err != nil {
		return &kvderr.CompactError{Err: err}
	}
	s.mutationCounter = 0

	s.log.Info("compacted store",
		zap.Uint64("rm_until", rmUntil),
		zap.Int("live_keys", len(liveKeys)),
	)
	return nil
}

func (s *Store) deleteSegmentsBelow(rmUntil uint64) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return &kvderr.ListDirError{Path: s.dir, Err: err}
	}

	for _, e := range entries {
		name := e.Name()
		if name == config.ManifestFileName {
			continue
		}
		epoch, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			// Open() already rejected unparseable entries at startup; a
			// file appearing later with a bad name is left alone rather
			// than guessed at.
			continue
		}
		if epoch >= rmUntil {
			continue
		}

		stale, err := segment.OpenReadOnly(s.dir, epoch)
		if err != nil {
			return err
		}
		if err := stale.Remove(); err != nil {
			return err
		}
	}
	return nil
}
