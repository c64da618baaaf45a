// Package kvderr defines the store's error taxonomy. Every failure the
// storage engine can produce is one of these types so callers can branch
// on cause with errors.As without string matching.
package kvderr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Remove when the key does not exist. Get
// never returns it: a missing key on Get is a (value, false, nil) result.
var ErrNotFound = errors.New("kvd: key not found")

// MkDirError wraps a failure to create the store directory.
type MkDirError struct {
	Path string
	Err  error
}

func (e *MkDirError) Error() string { return fmt.Sprintf("kvd: mkdir %q: %v", e.Path, e.Err) }
func (e *MkDirError) Unwrap() error { return e.Err }

// ListDirError wraps a failure to enumerate the store directory, or a
// directory entry that is not a valid epoch.
type ListDirError struct {
	Path string
	Err  error
}

func (e *ListDirError) Error() string { return fmt.Sprintf("kvd: list dir %q: %v", e.Path, e.Err) }
func (e *ListDirError) Unwrap() error { return e.Err }

// OpenError wraps a failure to open a segment file.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("kvd: open %q: %v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// RemoveLogError wraps a failure to delete an obsolete segment file
// during compaction.
type RemoveLogError struct {
	Path string
	Err  error
}

func (e *RemoveLogError) Error() string { return fmt.Sprintf("kvd: remove log %q: %v", e.Path, e.Err) }
func (e *RemoveLogError) Unwrap() error { return e.Err }

// LogSeekError wraps a failure to seek within a segment file.
type LogSeekError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *LogSeekError) Error() string {
	return fmt.Sprintf("kvd: seek %q at offset %d: %v", e.Path, e.Offset, e.Err)
}
func (e *LogSeekError) Unwrap() error { return e.Err }

// IoError wraps a low-level I/O failure during a log operation other than
// seek, write, or decode (e.g. sync, stat).
type IoError struct {
	Action string
	Offset int64
	Err    error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("kvd: io %s at offset %d: %v", e.Action, e.Offset, e.Err)
}
func (e *IoError) Unwrap() error { return e.Err }

// SerError wraps a failure to encode a record.
type SerError struct {
	Cmd string
	Err error
}

func (e *SerError) Error() string { return fmt.Sprintf("kvd: serialize %s: %v", e.Cmd, e.Err) }
func (e *SerError) Unwrap() error { return e.Err }

// LogWriteError wraps a failure to write an encoded record to a segment.
type LogWriteError struct {
	Offset int64
	Err    error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("kvd: write at offset %d: %v", e.Offset, e.Err)
}
func (e *LogWriteError) Unwrap() error { return e.Err }

// DeserError wraps a failure to decode a record read from a given offset.
type DeserError struct {
	Offset int64
	Err    error
}

func (e *DeserError) Error() string {
	return fmt.Sprintf("kvd: deserialize at offset %d: %v", e.Offset, e.Err)
}
func (e *DeserError) Unwrap() error { return e.Err }

// ReplayError wraps a failure that occurred while replaying a specific
// segment's records during open. The wrapped error is itself one of this
// package's types (typically *DeserError), but is stored behind the
// plain error interface: Go's interfaces already give the indirection a
// value-typed recursive field would need boxed in other languages.
type ReplayError struct {
	Epoch uint64
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("kvd: replay segment %d: %v", e.Epoch, e.Err)
}
func (e *ReplayError) Unwrap() error { return e.Err }

// CompactError wraps a failure that occurred during compaction.
type CompactError struct {
	Err error
}

func (e *CompactError) Error() string { return fmt.Sprintf("kvd: compact: %v", e.Err) }
func (e *CompactError) Unwrap() error { return e.Err }

// BadIndexError reports structural corruption: the key directory points
// at a record of unexpected shape or key.
type BadIndexError struct {
	Cmd    string
	Offset int64
	Found  string
}

func (e *BadIndexError) Error() string {
	return fmt.Sprintf("kvd: bad index: expected %s at offset %d, found %s", e.Cmd, e.Offset, e.Found)
}

// Wrap attaches a stack trace to err for diagnostic %+v formatting at the
// point an I/O failure first crosses into the kvderr taxonomy.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(errors.WithStack(err), msg)
}
