package catalog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Log is a generic append-only, crash-safe record log: each record is
// framed as {length u32, crc32 u32, payload}. It underlies both the
// catalog's own event log (database.dat) and internal/replication's cursor
// persistence, so the two share one on-disk framing rather than inventing
// separate formats.
type Log struct {
	f *os.File
}

// OpenLog opens or creates the log at path, truncating any trailing
// partial record left by an unclean shutdown.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("catalog: open log %s: %w", path, err)
	}
	l := &Log{f: f}
	if err := l.truncatePartialTail(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// truncatePartialTail scans the log from the start, stopping at the first
// record whose header claims more bytes than the file has left, and
// truncates there (spec.md invariant 4's log analog).
func (l *Log) truncatePartialTail() error {
	info, err := l.f.Stat()
	if err != nil {
		return fmt.Errorf("catalog: stat log: %w", err)
	}
	size := info.Size()

	var offset int64
	for offset+8 <= size {
		hdr := make([]byte, 8)
		if _, err := l.f.ReadAt(hdr, offset); err != nil {
			break
		}
		length := binary.LittleEndian.Uint32(hdr[0:4])
		end := offset + 8 + int64(length)
		if end > size {
			break
		}
		offset = end
	}
	if offset != size {
		if err := l.f.Truncate(offset); err != nil {
			return fmt.Errorf("catalog: truncate partial log tail: %w", err)
		}
	}
	return nil
}

// Append durably writes one record to the tail of the log.
func (l *Log) Append(payload []byte) error {
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("catalog: seek log tail: %w", err)
	}
	if _, err := l.f.Write(append(hdr, payload...)); err != nil {
		return fmt.Errorf("catalog: append log record: %w", err)
	}
	return l.f.Sync()
}

// Replay calls fn with every record's payload, in append order. A record
// that fails its CRC check is skipped, without being logged, and replay
// continues with the next record (spec.md §7's `corrupt` recovery).
func (l *Log) Replay(fn func(payload []byte) error) error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("catalog: seek log start: %w", err)
	}
	r := l.f
	for {
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(r, hdr); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("catalog: read log header: %w", err)
		}
		length := binary.LittleEndian.Uint32(hdr[0:4])
		wantCRC := binary.LittleEndian.Uint32(hdr[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("catalog: read log record: %w", err)
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			continue
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
}

// Compact rewrites the log from scratch with exactly records, in order,
// discarding history — spec.md §4.5's periodic catalog compaction.
func (l *Log) Compact(records [][]byte) error {
	tmpPath := l.f.Name() + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("catalog: create compaction file: %w", err)
	}
	tmpLog := &Log{f: tmp}
	for _, rec := range records {
		if err := tmpLog.Append(rec); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("catalog: close compaction file: %w", err)
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("catalog: close log before rename: %w", err)
	}
	if err := os.Rename(tmpPath, l.f.Name()); err != nil {
		return fmt.Errorf("catalog: install compacted log: %w", err)
	}
	f, err := os.OpenFile(l.f.Name(), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("catalog: reopen compacted log: %w", err)
	}
	l.f = f
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error { return l.f.Close() }
