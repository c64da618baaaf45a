// Package segment implements a single append-only log segment: a file
// named for its epoch, holding a contiguous run of encoded records.
package segment

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"kvd/internal/kvderr"
	"kvd/internal/record"
)

// Segment is one append-only log file identified by its epoch. The
// current (highest-epoch) segment in a store is writable; all others are
// treated as read-only by convention, though nothing in this package
// enforces that beyond SetReadOnly and the O_RDONLY handles returned by
// OpenReadOnly.
type Segment struct {
	Epoch uint64
	Path  string

	file *os.File
	pos  int64
}

// Open opens (creating if absent) the segment file for epoch inside dir
// for read-write access. The write cursor is positioned at end-of-file;
// pos tracks that logical position so Append never needs to stat the
// file. Use this only for the store's current, writable segment: a
// sealed segment is chmod'd read-only by SetReadOnly, and a non-root
// O_RDWR open of a 0444 file fails with EACCES.
func Open(dir string, epoch uint64) (*Segment, error) {
	return open(dir, epoch, os.O_RDWR|os.O_CREATE)
}

// OpenReadOnly opens an existing segment file for read-only access. Use
// this for every historical (non-current) segment: SetReadOnly has
// already chmod'd it to 0444, and only a read-only open can succeed
// against that mode as a non-root user.
func OpenReadOnly(dir string, epoch uint64) (*Segment, error) {
	return open(dir, epoch, os.O_RDONLY)
}

func open(dir string, epoch uint64, flag int) (*Segment, error) {
	path := filepath.Join(dir, strconv.FormatUint(epoch, 10))

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, &kvderr.OpenError{Path: path, Err: err}
	}

	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, &kvderr.LogSeekError{Path: path, Offset: 0, Err: err}
	}

	return &Segment{Epoch: epoch, Path: path, file: f, pos: pos}, nil
}

// Size returns the segment's current logical length.
func (s *Segment) Size() int64 { return s.pos }

// Append encodes rec, writes it to the end of the segment, fsyncs it,
// and returns the offset the record started at.
func (s *Segment) Append(rec record.Record) (int64, error) {
	offset := s.pos

	data, err := record.EncodeBytes(rec)
	if err != nil {
		return 0, &kvderr.SerError{Cmd: rec.Kind.String(), Err: err}
	}

	n, err := s.file.Write(data)
	if err != nil {
		return 0, &kvderr.LogWriteError{Offset: offset, Err: err}
	}

	if err := s.file.Sync(); err != nil {
		return 0, &kvderr.IoError{Action: "sync", Offset: offset, Err: err}
	}

	s.pos += int64(n)
	return offset, nil
}

// ReadAt decodes a single record starting at offset.
func (s *Segment) ReadAt(offset int64) (record.Record, error) {
	if offset < 0 || offset >= s.pos {
		return record.Record{}, &kvderr.LogSeekError{Path: s.Path, Offset: offset, Err: io.EOF}
	}

	sr := io.NewSectionReader(s.file, offset, s.pos-offset)
	rec, _, err := record.Decode(sr)
	if err != nil {
		return record.Record{}, &kvderr.DeserError{Offset: offset, Err: err}
	}
	return rec, nil
}

// Replay decodes every record in the segment from offset 0, invoking cb
// with each record and the offset it was read from, until a clean EOF. A
// truncated trailing record surfaces as a *kvderr.DeserError.
func (s *Segment) Replay(cb func(rec record.Record, offset int64) error) error {
	sr := io.NewSectionReader(s.file, 0, s.pos)

	var offset int64
	for {
		rec, n, err := record.Decode(sr)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &kvderr.DeserError{Offset: offset, Err: err}
		}
		if err := cb(rec, offset); err != nil {
			return err
		}
		offset += n
	}
}

// SetReadOnly marks the underlying file read-only. Best-effort: a failure
// here does not affect correctness, only the filesystem-visible hint that
// the segment is sealed.
func (s *Segment) SetReadOnly() error {
	return os.Chmod(s.Path, 0o444)
}

// Close closes the underlying file handle.
func (s *Segment) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Remove closes and deletes the segment file from disk.
func (s *Segment) Remove() error {
	_ = s.Close()
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return &kvderr.RemoveLogError{Path: s.Path, Err: err}
	}
	return nil
}
