package buffer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/siridb/siridb-go/internal/point"
	"github.com/tidwall/wal"
	"github.com/vmihailenco/msgpack/v5"
)

// record is one journaled write: enough to replay it into the right
// series' page after a restart.
type record struct {
	SeriesID uint64
	Point    point.Point
}

// Journal is the write-ahead log every buffer write lands in before the
// in-memory page is updated. tidwall/wal already guarantees no-partial-
// record durability per entry and handles its own segment rotation, so it
// covers spec.md §4.4's crash-safety requirement directly rather than
// reimplementing record framing by hand.
type Journal struct {
	log *wal.Log
	dir string
}

// OpenJournal opens (or creates) the journal at dir (typically
// <dbpath>/buffer).
func OpenJournal(dir string) (*Journal, error) {
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("buffer: open journal %s: %w", dir, err)
	}
	return &Journal{log: log, dir: dir}, nil
}

// Append durably records one point for seriesID.
func (j *Journal) Append(seriesID uint64, pt point.Point) error {
	payload, err := msgpack.Marshal(record{SeriesID: seriesID, Point: pt})
	if err != nil {
		return fmt.Errorf("buffer: encode journal record: %w", err)
	}
	idx, err := j.log.LastIndex()
	if err != nil {
		return fmt.Errorf("buffer: last index: %w", err)
	}
	if err := j.log.Write(idx+1, payload); err != nil {
		return fmt.Errorf("buffer: append journal record: %w", err)
	}
	return nil
}

// Replay walks every record currently in the journal, in write order,
// calling apply for each. Used on restart to repopulate in-memory pages
// before a Syncer pass flushes them (spec.md §4.4's "unflushed buffer
// contents are replayed").
func (j *Journal) Replay(apply func(seriesID uint64, pt point.Point) error) error {
	first, err := j.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("buffer: first index: %w", err)
	}
	last, err := j.log.LastIndex()
	if err != nil {
		return fmt.Errorf("buffer: last index: %w", err)
	}
	if first == 0 {
		return nil
	}
	for idx := first; idx <= last; idx++ {
		data, err := j.log.Read(idx)
		if err != nil {
			return fmt.Errorf("buffer: read journal record %d: %w", idx, err)
		}
		var rec record
		if err := msgpack.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("buffer: decode journal record %d: %w", idx, err)
		}
		if err := apply(rec.SeriesID, rec.Point); err != nil {
			return err
		}
	}
	return nil
}

// TruncateFront discards every record up to and including upTo, called
// after a successful flush frees the corresponding pages.
//
// wal.Log.TruncateFront requires its index to name a surviving entry, so
// it can't drop the last remaining record on its own: when upTo reaches
// the journal's last index, TruncateFront empties the log instead.
func (j *Journal) TruncateFront(upTo uint64) error {
	last, err := j.log.LastIndex()
	if err != nil {
		return fmt.Errorf("buffer: last index: %w", err)
	}
	if last == 0 {
		return nil
	}
	if upTo >= last {
		return j.emptyLog()
	}
	if err := j.log.TruncateFront(upTo + 1); err != nil {
		return fmt.Errorf("buffer: truncate journal front: %w", err)
	}
	return nil
}

// emptyLog discards every record in the journal. wal.Log has no native
// way to truncate to zero entries, so emptying means closing the log,
// clearing its directory, and reopening a fresh one in its place.
func (j *Journal) emptyLog() error {
	if err := j.log.Close(); err != nil {
		return fmt.Errorf("buffer: close journal for empty: %w", err)
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return fmt.Errorf("buffer: read journal dir %s: %w", j.dir, err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil {
			return fmt.Errorf("buffer: remove %s: %w", e.Name(), err)
		}
	}
	log, err := wal.Open(j.dir, nil)
	if err != nil {
		return fmt.Errorf("buffer: reopen journal %s: %w", j.dir, err)
	}
	j.log = log
	return nil
}

// LastIndex returns the journal's current last committed index.
func (j *Journal) LastIndex() (uint64, error) {
	last, err := j.log.LastIndex()
	if err != nil {
		return 0, fmt.Errorf("buffer: last index: %w", err)
	}
	return last, nil
}

// Close closes the underlying WAL.
func (j *Journal) Close() error { return j.log.Close() }
