// Package kvd implements the storage engine: a segmented append-only log
// with an in-memory key directory, as described for the Store component.
// A Store is single-writer and single-threaded — callers must serialize
// their own access; nothing here takes an internal lock.
package kvd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"kvd/internal/config"
	"kvd/internal/index"
	"kvd/internal/kvderr"
	"kvd/internal/logging"
	"kvd/internal/record"
	"kvd/internal/segment"
)

// handleCacheSize bounds how many historical segment read handles Store
// keeps open at once. A miss just reopens the file.
const handleCacheSize = 8

// Store orchestrates open/replay, mutation, lookup and compaction over a
// segmented log rooted at a single directory.
//
// Store is NOT safe for concurrent use. The spec mandates a
// single-writer, single-process model; a caller that needs concurrent
// access (e.g. behind an RPC server) must add its own mutex around every
// call, the way this repository's ancestors wrap earlier store versions
// in sync.RWMutex one layer up.
type Store struct {
	dir string

	dirIndex *index.Directory
	current  *segment.Segment
	epoch    uint64
	cache    *segment.Cache

	maxSegmentSize   int64
	compactThreshold uint64
	mutationCounter  uint64

	log *zap.Logger
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithMaxSegmentSize overrides the size at which the active segment
// rotates. The override is persisted to the store's manifest.
func WithMaxSegmentSize(n int64) Option {
	return func(s *Store) { s.maxSegmentSize = n }
}

// WithCompactThreshold overrides the mutation count that triggers
// compaction. The override is persisted to the store's manifest.
func WithCompactThreshold(n uint64) Option {
	return func(s *Store) { s.compactThreshold = n }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens the store rooted at path, creating the directory if it does
// not exist, discovering and replaying any existing segments, and
// selecting (or creating) the writable current segment.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, &kvderr.MkDirError{Path: path, Err: err}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &kvderr.ListDirError{Path: path, Err: err}
	}

	manifest, hasManifest, err := config.Load(path)
	if err != nil {
		return nil, kvderr.Wrap(err, "open store: load manifest")
	}
	if !hasManifest {
		manifest = config.Default()
	}

	epochs, err := parseEpochs(path, entries)
	if err != nil {
		return nil, err
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	dir := index.New()
	var opened []*segment.Segment
	for i, epoch := range epochs {
		// Every epoch but the last was sealed (and chmod'd read-only) by
		// a previous rotation or compaction; only the highest epoch is
		// ever the writable current segment.
		var seg *segment.Segment
		var err error
		if i == len(epochs)-1 {
			seg, err = segment.Open(path, epoch)
		} else {
			seg, err = segment.OpenReadOnly(path, epoch)
		}
		if err != nil {
			return nil, err
		}
		opened = append(opened, seg)

		if err := seg.Replay(func(rec record.Record, offset int64) error {
			switch rec.Kind {
			case record.KindSet:
				dir.Insert(rec.Key, index.Location{Epoch: epoch, Offset: offset})
			case record.KindRemove:
				dir.Remove(rec.Key)
			}
			return nil
		}); err != nil {
			return nil, &kvderr.ReplayError{Epoch: epoch, Err: err}
		}
	}

	var current *segment.Segment
	var curEpoch uint64
	if len(opened) > 0 {
		current = opened[len(opened)-1]
		curEpoch = current.Epoch
		for _, seg := range opened[:len(opened)-1] {
			_ = seg.Close()
		}
	} else {
		current, err = segment.Open(path, 0)
		if err != nil {
			return nil, err
		}
		curEpoch = 0
	}

	s := &Store{
		dir:              path,
		dirIndex:         dir,
		current:          current,
		epoch:            curEpoch,
		cache:            segment.NewCache(path, handleCacheSize),
		maxSegmentSize:   manifest.MaxSegmentSize,
		compactThreshold: manifest.CompactThreshold,
		log:              logging.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := (config.Manifest{
		MaxSegmentSize:   s.maxSegmentSize,
		CompactThreshold: s.compactThreshold,
	}).Save(path); err != nil {
		return nil, kvderr.Wrap(err, "open store: save manifest")
	}

	return s, nil
}

func parseEpochs(dir string, entries []os.DirEntry) ([]uint64, error) {
	var epochs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == config.ManifestFileName {
			continue
		}
		epoch, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			return nil, &kvderr.ListDirError{
				Path: filepath.Join(dir, name),
				Err:  errors.Errorf("entry %q is not a valid epoch", name),
			}
		}
		epochs = append(epochs, epoch)
	}
	return epochs, nil
}

// Get looks up key, returning (value, true, nil) if present, or
// ("", false, nil) if absent. A missing key is never an error.
func (s *Store) Get(key string) (string, bool, error) {
	loc, ok := s.dirIndex.Get(key)
	if !ok {
		return "", false, nil
	}

	seg, err := s.segmentFor(loc.Epoch)
	if err != nil {
		return "", false, err
	}

	rec, err := seg.ReadAt(loc.Offset)
	if err != nil {
		return "", false, err
	}

	if rec.Kind != record.KindSet || rec.Key != key {
		return "", false, &kvderr.BadIndexError{
			Cmd:    "Set",
			Offset: loc.Offset,
			Found:  describeRecord(rec),
		}
	}

	return rec.Val, true, nil
}

func (s *Store) segmentFor(epoch uint64) (*segment.Segment, error) {
	if epoch == s.epoch {
		return s.current, nil
	}
	return s.cache.Get(epoch)
}

func describeRecord(rec record.Record) string {
	if rec.Kind == record.KindRemove {
		return fmt.Sprintf("Remove(%s)", rec.Key)
	}
	return fmt.Sprintf("Set{key=%s}", rec.Key)
}

// Set writes key=value. The record is appended to the log before the
// index is updated, so a crash between the two leaves the write
// recoverable by replay on the next Open.
func (s *Store) Set(key, value string) error {
	offset, err := s.current.Append(record.Set(key, value))
	if err != nil {
		return err
	}

	_, hadPrevious := s.dirIndex.Insert(key, index.Location{Epoch: s.epoch, Offset: offset})

	if hadPrevious {
		s.mutationCounter++
		if s.shouldCompact() {
			// Compaction subsumes rotation: it already opens a fresh
			// current segment for the rewritten live set.
			return s.Compact()
		}
	}

	if s.current.Size() >= s.maxSegmentSize {
		return s.rotate()
	}
	return nil
}

// Remove deletes key, appending a tombstone. Removing an absent key is
// an error (kvderr.ErrNotFound), unlike Get's silent miss.
func (s *Store) Remove(key string) error {
	if !s.dirIndex.Contains(key) {
		return kvderr.ErrNotFound
	}

	if _, err := s.current.Append(record.Remove(key)); err != nil {
		return err
	}
	s.dirIndex.Remove(key)

	s.mutationCounter++
	if s.shouldCompact() {
		return s.Compact()
	}
	return nil
}

func (s *Store) shouldCompact() bool {
	return s.mutationCounter > s.compactThreshold
}

// rotate advances to a fresh writable segment, sealing the current one.
func (s *Store) rotate() error {
	old := s.current
	s.epoch++

	newSeg, err := segment.Open(s.dir, s.epoch)
	if err != nil {
		return err
	}

	if err := old.SetReadOnly(); err != nil {
		s.log.Warn("failed to mark segment read-only", zap.String("path", old.Path), zap.Error(err))
	}
	_ = old.Close()

	s.current = newSeg
	return nil
}

// Close flushes and releases every open file handle. Durability is
// per-operation, not per-close: Close does not need to fsync anything
// that Set/Remove haven't already synced.
func (s *Store) Close() error {
	var firstErr error
	if err := s.current.Close(); err != nil {
		firstErr = err
	}
	if err := s.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
