// Package codec encodes and decodes the opaque key/value records and
// StoreUpdate events that make up delta and snapshot files.
//
// The wire format is a simple length-framed stream: each entry is a 1-byte
// tag, a 4-byte big-endian key length, a 4-byte big-endian value length, the
// key bytes, the value bytes, and a trailing CRC32 (IEEE) over all of the
// preceding bytes of the entry — the same big-endian length-prefix-plus-checksum
// shape used by ledger/WAL checkpoint readers elsewhere: cheap to stream,
// cheap to detect truncation or corruption.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"
)

// Record is one opaque key/value pair. Keys are compared by byte-equal
// identity; insertion order is not observable by readers.
type Record struct {
	Key   []byte
	Value []byte
}

// UpdateKind tags a StoreUpdate variant.
type UpdateKind uint8

const (
	ValueUpdated UpdateKind = 1
	KeyRemoved   UpdateKind = 2
)

// StoreUpdate is one tagged event written to a delta log: either a key's
// value was set (Value non-nil) or a key was removed (Value is unused).
type StoreUpdate struct {
	Kind  UpdateKind
	Key   []byte
	Value []byte
}

const (
	tagRecord = 0x52 // 'R'
	tagUpdate = 0x55 // 'U'
)

// WriteRecords streams seq as a framed sequence of Record entries — the
// encoding used for snapshot files. Iteration order of seq is irrelevant to
// the reader.
func WriteRecords(w io.Writer, seq iter.Seq[Record]) error {
	bw := bufio.NewWriter(w)
	var werr error
	seq(func(r Record) bool {
		werr = writeFrame(bw, tagRecord, r.Key, r.Value)
		return werr == nil
	})
	if werr != nil {
		return werr
	}
	return bw.Flush()
}

// WriteEvent appends one StoreUpdate frame — used for delta files, one call
// per update/remove issued during a session.
func WriteEvent(w io.Writer, u StoreUpdate) error {
	value := u.Value
	if u.Kind == KeyRemoved {
		value = nil
	}
	return writeFrame(w, tagUpdate+uint8(u.Kind), u.Key, value)
}

func writeFrame(w io.Writer, tag uint8, key, value []byte) error {
	header := make([]byte, 1+4+4)
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:5], uint32(len(key)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(value)))

	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(key)
	crc.Write(value)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(key) > 0 {
		if _, err := w.Write(key); err != nil {
			return fmt.Errorf("write frame key: %w", err)
		}
	}
	if len(value) > 0 {
		if _, err := w.Write(value); err != nil {
			return fmt.Errorf("write frame value: %w", err)
		}
	}
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	if _, err := w.Write(sum[:]); err != nil {
		return fmt.Errorf("write frame checksum: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (tag uint8, key, value []byte, err error) {
	header := make([]byte, 1+4+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, nil, err // io.EOF on clean end-of-stream
	}
	tag = header[0]
	keyLen := binary.BigEndian.Uint32(header[1:5])
	valueLen := binary.BigEndian.Uint32(header[5:9])

	key = make([]byte, keyLen)
	if keyLen > 0 {
		if _, err := io.ReadFull(r, key); err != nil {
			return 0, nil, nil, fmt.Errorf("read frame key: %w", err)
		}
	}
	value = make([]byte, valueLen)
	if valueLen > 0 {
		if _, err := io.ReadFull(r, value); err != nil {
			return 0, nil, nil, fmt.Errorf("read frame value: %w", err)
		}
	}

	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return 0, nil, nil, fmt.Errorf("read frame checksum: %w", err)
	}
	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(key)
	crc.Write(value)
	if binary.BigEndian.Uint32(sum[:]) != crc.Sum32() {
		return 0, nil, nil, fmt.Errorf("frame checksum mismatch: file is corrupt")
	}
	return tag, key, value, nil
}

// ReadRecords opens path and yields its Record entries in file order. The
// file handle is closed via a defer inside the generator body, so breaking
// out of the range loop early still releases it — Go's range-over-func
// machinery runs the generator's deferred cleanup even on early exit.
func ReadRecords(path string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Record{}, err)
			return
		}
		defer f.Close()

		br := bufio.NewReader(f)
		for {
			tag, key, value, err := readFrame(br)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
			if tag != tagRecord {
				yield(Record{}, fmt.Errorf("%s: unexpected frame tag %#x in snapshot file", path, tag))
				return
			}
			if !yield(Record{Key: key, Value: value}, nil) {
				return
			}
		}
	}
}

// ReadUpdates opens path and yields its StoreUpdate entries in file order,
// the order they were originally issued during the committing session.
func ReadUpdates(path string) iter.Seq2[StoreUpdate, error] {
	return func(yield func(StoreUpdate, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(StoreUpdate{}, err)
			return
		}
		defer f.Close()

		br := bufio.NewReader(f)
		for {
			tag, key, value, err := readFrame(br)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(StoreUpdate{}, err)
				return
			}
			kind := UpdateKind(tag - tagUpdate)
			if kind != ValueUpdated && kind != KeyRemoved {
				yield(StoreUpdate{}, fmt.Errorf("%s: unexpected frame tag %#x in delta file", path, tag))
				return
			}
			if !yield(StoreUpdate{Kind: kind, Key: key, Value: value}, nil) {
				return
			}
		}
	}
}
