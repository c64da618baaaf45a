package kvd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kvd/internal/kvderr"
)

func TestEmptyOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "t1")

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, found, err := s.Get("x")
	require.NoError(t, err)
	require.False(t, found)
}

func TestBasicRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v"))

	val, found, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", val)

	require.NoError(t, s.Remove("k"))

	_, found, err = s.Get("k")
	require.NoError(t, err)
	require.False(t, found)

	err = s.Remove("k")
	require.ErrorIs(t, err, kvderr.ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, a.Set("a", "1"))
	require.NoError(t, a.Set("b", "2"))
	require.NoError(t, a.Set("a", "3"))
	require.NoError(t, a.Close())

	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	val, found, err := b.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "3", val)

	val, found, err = b.Get("b")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", val)
}

func TestLastWriterWins(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v1"))
	require.NoError(t, s.Set("k", "v2"))

	val, found, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", val)
}

func TestRotationAcrossManySegments(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, WithMaxSegmentSize(1024))
	require.NoError(t, err)
	defer s.Close()

	const n = 1000
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		val := fmt.Sprintf("value-%04d-padding-padding", i)
		require.NoError(t, s.Set(key, val))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	segmentFiles := 0
	for _, e := range entries {
		if e.Name() != "MANIFEST" {
			segmentFiles++
		}
	}
	require.Greater(t, segmentFiles, 1, "expected rotation to produce multiple segment files")

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		want := fmt.Sprintf("value-%04d-padding-padding", i)
		val, found, err := s.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, want, val)
	}
}

func TestRotatedSegmentsAreReadableAfterReopen(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, WithMaxSegmentSize(1024))
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		val := fmt.Sprintf("value-%04d-padding-padding", i)
		require.NoError(t, a.Set(key, val))
	}
	require.NoError(t, a.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	segmentFiles := 0
	for _, e := range entries {
		if e.Name() != "MANIFEST" {
			segmentFiles++
		}
	}
	require.Greater(t, segmentFiles, 1, "expected rotation to produce multiple sealed segment files")

	// A fresh Open must replay the sealed (0444, chmod'd by SetReadOnly)
	// segments via a read-only path, and later cross-epoch Gets must
	// reopen them read-only too — an O_RDWR reopen of a 0444 file fails
	// for any non-root process.
	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%04d", i)
		want := fmt.Sprintf("value-%04d-padding-padding", i)
		val, found, err := b.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, want, val)
	}
}

func TestCompactionRotatesMidRewriteWhenLiveSetExceedsMaxSegmentSize(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, WithMaxSegmentSize(100), WithCompactThreshold(3))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(fmt.Sprintf("k%d", i), fmt.Sprintf("value-%d", i)))
	}

	// Push the mutation counter past the threshold via overwrites; the
	// live set (10 keys) serializes to well over 100 bytes, so the
	// internal Set calls compaction makes while rewriting it must
	// themselves rotate past the compaction epoch.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set("k0", fmt.Sprintf("v%d", i)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	segmentFiles := 0
	for _, e := range entries {
		if e.Name() != "MANIFEST" {
			segmentFiles++
		}
	}
	require.Greater(t, segmentFiles, 1,
		"compaction's rewrite should rotate once the live set exceeds max_segment_size")

	for i := 1; i < 10; i++ {
		key := fmt.Sprintf("k%d", i)
		want := fmt.Sprintf("value-%d", i)
		val, found, err := s.Get(key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, want, val)
	}
	val, found, err := s.Get("k0")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v4", val)
}

func TestCompactionReducesFilesAndPreservesValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, WithMaxSegmentSize(1<<30), WithCompactThreshold(1000))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("k", "v0"))
	for i := 0; i < 1001; i++ {
		require.NoError(t, s.Set("k", fmt.Sprintf("v%d", i)))
	}

	val, found, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1000", val)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	segmentFiles := 0
	for _, e := range entries {
		if e.Name() != "MANIFEST" {
			segmentFiles++
		}
	}
	require.Equal(t, 1, segmentFiles)
}

func TestCompactionPreservesAllLiveKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, WithCompactThreshold(5))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set("keep-1", "a"))
	require.NoError(t, s.Set("keep-2", "b"))
	require.NoError(t, s.Set("deleted", "c"))
	require.NoError(t, s.Remove("deleted"))

	// Push the mutation counter over the threshold via overwrites.
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set("keep-1", fmt.Sprintf("a%d", i)))
	}

	val, found, err := s.Get("keep-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a9", val)

	val, found, err = s.Get("keep-2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "b", val)

	_, found, err = s.Get("deleted")
	require.NoError(t, err)
	require.False(t, found)
}

func TestManifestPersistsMaxSegmentSizeAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir, WithMaxSegmentSize(2048))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(dir)
	require.NoError(t, err)
	defer b.Close()

	require.EqualValues(t, 2048, b.maxSegmentSize)
}

func TestOpenRejectsUnparseableDirectoryEntry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-an-epoch"), []byte("junk"), 0o644))

	_, err := Open(dir)
	require.Error(t, err)
	var listDirErr *kvderr.ListDirError
	require.ErrorAs(t, err, &listDirErr)
}

func TestOpenSurfacesReplayErrorOnCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "some longer value"))
	require.NoError(t, s.Close())

	segPath := filepath.Join(dir, "0")
	info, err := os.Stat(segPath)
	require.NoError(t, err)

	f, err := os.OpenFile(segPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()-4))
	require.NoError(t, f.Close())

	_, err = Open(dir)
	require.Error(t, err)
	var replayErr *kvderr.ReplayError
	require.ErrorAs(t, err, &replayErr)
}
