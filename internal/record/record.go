// Package record implements the self-delimiting binary document format
// used to encode individual mutations (Set and Remove) in a log segment.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Kind tags the variant a Record carries.
type Kind byte

const (
	// KindSet carries a key/value pair.
	KindSet Kind = 1
	// KindRemove is a tombstone for a key.
	KindRemove Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "Set"
	case KindRemove:
		return "Remove"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// Record is a tagged mutation as described in the on-disk record format:
// a checksum, a tag byte, a length-prefixed key and, for Set, a
// length-prefixed value.
type Record struct {
	Kind Kind
	Key  string
	Val  string
}

// Set builds a Set record.
func Set(key, val string) Record { return Record{Kind: KindSet, Key: key, Val: val} }

// Remove builds a tombstone record.
func Remove(key string) Record { return Record{Kind: KindRemove, Key: key} }

// maxFieldLen bounds key/value lengths decoded from disk so a corrupted
// length prefix cannot trigger an unbounded allocation.
const maxFieldLen = 64 << 20 // 64 MiB

// ErrCorruptLength is returned when a length prefix read by Decode, or a
// field passed to EncodeBytes, exceeds maxFieldLen. On the read side the
// length is checked before the record's checksum can be verified, so it
// is almost certainly the product of a corrupted length prefix.
var ErrCorruptLength = errors.New("record: field length exceeds maximum")

// ErrUnknownKind is returned when a decoded tag byte is not a recognized
// Kind.
var ErrUnknownKind = errors.New("record: unknown record kind")

// ErrChecksumMismatch is returned when the decoded checksum does not
// match the checksum computed over the decoded body.
var ErrChecksumMismatch = errors.New("record: checksum mismatch")

// EncodeBytes builds rec's on-disk representation in memory without
// writing it anywhere. It fails only if a field exceeds maxFieldLen,
// the same bound Decode enforces on the read side.
func EncodeBytes(rec Record) ([]byte, error) {
	if len(rec.Key) > maxFieldLen {
		return nil, errors.Wrapf(ErrCorruptLength, "key: %d bytes", len(rec.Key))
	}
	if len(rec.Val) > maxFieldLen {
		return nil, errors.Wrapf(ErrCorruptLength, "value: %d bytes", len(rec.Val))
	}

	var body bytes.Buffer
	body.WriteByte(byte(rec.Kind))

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(rec.Key)))
	body.Write(lenBuf[:])
	body.WriteString(rec.Key)

	if rec.Kind == KindSet {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(rec.Val)))
		body.Write(lenBuf[:])
		body.WriteString(rec.Val)
	} else {
		binary.BigEndian.PutUint32(lenBuf[:], 0)
		body.Write(lenBuf[:])
	}

	checksum := crc32.ChecksumIEEE(body.Bytes())

	var out bytes.Buffer
	out.Grow(4 + body.Len())
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], checksum)
	out.Write(crcBuf[:])
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

// Encode writes rec to w in the on-disk format and returns the number of
// bytes written.
func Encode(w io.Writer, rec Record) (int64, error) {
	out, err := EncodeBytes(rec)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(out)
	if err != nil {
		return int64(n), errors.Wrap(err, "record: write")
	}
	return int64(n), nil
}

// Decode reads one record from r, returning the record and the number of
// bytes consumed. A clean end of stream (no bytes read at all) is
// reported as io.EOF; a stream that ends (or fails to read) partway
// through a record is a truncation and is reported as
// io.ErrUnexpectedEOF, wrapped with context. An unrecognized tag, an
// oversized length prefix and a checksum mismatch are reported as
// ErrUnknownKind, ErrCorruptLength and ErrChecksumMismatch.
func Decode(r io.Reader) (Record, int64, error) {
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		if err == io.EOF {
			return Record{}, 0, io.EOF
		}
		return Record{}, 0, errors.Wrap(io.ErrUnexpectedEOF, "record: truncated checksum")
	}
	wantChecksum := binary.BigEndian.Uint32(crcBuf[:])

	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return Record{}, 0, errors.Wrap(io.ErrUnexpectedEOF, "record: truncated tag")
	}
	kind := Kind(tagBuf[0])
	if kind != KindSet && kind != KindRemove {
		return Record{}, 0, errors.Wrapf(ErrUnknownKind, "tag %d", tagBuf[0])
	}

	var body bytes.Buffer
	body.Write(tagBuf[:])

	key, err := readField(r, &body)
	if err != nil {
		return Record{}, 0, err
	}

	val, err := readField(r, &body)
	if err != nil {
		return Record{}, 0, err
	}

	gotChecksum := crc32.ChecksumIEEE(body.Bytes())
	if gotChecksum != wantChecksum {
		return Record{}, 0, errors.Wrapf(ErrChecksumMismatch, "want %d got %d", wantChecksum, gotChecksum)
	}

	rec := Record{Kind: kind, Key: key}
	if kind == KindSet {
		rec.Val = val
	}

	total := int64(4 + body.Len())
	return rec, total, nil
}

// readField reads a length-prefixed byte string from r, mirroring its
// bytes (length prefix and payload) into body for later checksumming.
func readField(r io.Reader, body *bytes.Buffer) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", errors.Wrap(io.ErrUnexpectedEOF, "record: truncated field length")
	}
	body.Write(lenBuf[:])

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFieldLen {
		return "", errors.Wrapf(ErrCorruptLength, "%d bytes", n)
	}

	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", errors.Wrap(io.ErrUnexpectedEOF, "record: truncated field payload")
		}
	}
	body.Write(buf)

	return string(buf), nil
}
