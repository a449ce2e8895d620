package fifo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/wal"
)

// ErrNoFreeSpace is returned by Append when the FIFO has crossed its soft
// cap: the write still lands, but callers should start treating the peer as backpressured (spec.md §5).
var ErrNoFreeSpace = errors.New("fifo: no free space")

// ErrSaturated is returned by Append when the FIFO has crossed its hard
// cap; the write is refused entirely (spec.md §7's replication-saturated,
// "fail write with retry-after hint").
var ErrSaturated = errors.New("fifo: replication-saturated")

// ErrEmpty is returned by Peek when there is nothing undelivered.
var ErrEmpty = errors.New("fifo: empty")

// FIFO is one peer's durable outbound replication queue: a sequence of
// opaque, length-prefixed records delivered strictly in order. Ordering
// and no-partial-record durability come from the underlying
// github.com/tidwall/wal.Log; FIFO adds the peek/commit cursor and the
// soft/hard size caps spec.md §4.7 and §5 describe.
//
// Single-writer (buffersync or the executor appends), single-reader (the
// replication driver peeks/commits) per spec.md §5 — FIFO itself does not
// enforce that beyond the mutex guarding its own bookkeeping.
type FIFO struct {
	mu      sync.Mutex
	log     *wal.Log
	dir     string
	softCap int64
	hardCap int64

	peeked    bool
	peekIndex uint64
}

// Open opens (or creates) the FIFO directory for one peer. On an unclean
// shutdown, wal.Open itself scans the directory and truncates any partial
// trailing record before returning, satisfying spec.md §4.7's open(path)
// contract.
func Open(dir string, softCap, hardCap int64) (*FIFO, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fifo: create dir %s: %w", dir, err)
	}
	log, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("fifo: open %s: %w", dir, err)
	}
	return &FIFO{log: log, dir: dir, softCap: softCap, hardCap: hardCap}, nil
}

// diskSize sums the size of every file under the FIFO's directory, used to
// evaluate the soft/hard caps. wal.Log doesn't expose this directly, so
// FIFO computes it itself rather than tracking a running total that could
// drift from what's actually on disk.
func (f *FIFO) diskSize() (int64, error) {
	var total int64
	err := filepath.WalkDir(f.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fifo: stat %s: %w", f.dir, err)
	}
	return total, nil
}

// Append durably writes pkg to the tail of the queue. It returns
// ErrSaturated once the directory has grown past hardCap (the write is
// refused, per spec.md §5's backpressure contract); once past softCap it
// still appends but returns ErrNoFreeSpace so the caller can pause
// initsync/reindex progress while continuing to accept writes.
func (f *FIFO) Append(pkg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	size, err := f.diskSize()
	if err != nil {
		return err
	}
	if f.hardCap > 0 && size >= f.hardCap {
		return ErrSaturated
	}

	idx, err := f.log.LastIndex()
	if err != nil {
		return fmt.Errorf("fifo: last index: %w", err)
	}
	if err := f.log.Write(idx+1, pkg); err != nil {
		return fmt.Errorf("fifo: append: %w", err)
	}

	if f.softCap > 0 && size >= f.softCap {
		return ErrNoFreeSpace
	}
	return nil
}

// Peek returns the oldest undelivered record without consuming it. Calling
// Peek again before Commit returns the same record (idempotent, so a
// crashed replication driver can resume without skipping a record).
func (f *FIFO) Peek() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first, err := f.log.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("fifo: first index: %w", err)
	}
	last, err := f.log.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("fifo: last index: %w", err)
	}
	if first == 0 || first > last {
		return nil, ErrEmpty
	}

	data, err := f.log.Read(first)
	if err != nil {
		return nil, fmt.Errorf("fifo: read %d: %w", first, err)
	}
	f.peeked = true
	f.peekIndex = first
	return data, nil
}

// Commit marks the most recently peeked record delivered. Once every
// record in an underlying segment file has been committed, wal.Log unlinks
// it (spec.md §4.7's "when an entire file is delivered, it is unlinked").
//
// wal.Log.TruncateFront requires its index to name a surviving entry, so it
// can't be used to drop the last remaining record: when the peeked record
// is also the last one, Commit empties the log instead of truncating past
// its end.
func (f *FIFO) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.peeked {
		return fmt.Errorf("fifo: commit without a prior peek")
	}

	last, err := f.log.LastIndex()
	if err != nil {
		return fmt.Errorf("fifo: last index: %w", err)
	}
	if f.peekIndex >= last {
		if err := f.emptyLog(); err != nil {
			return err
		}
	} else if err := f.log.TruncateFront(f.peekIndex + 1); err != nil {
		return fmt.Errorf("fifo: truncate front: %w", err)
	}
	f.peeked = false
	return nil
}

// emptyLog discards every record in the queue. wal.Log has no native way
// to truncate to zero entries (TruncateFront always leaves its index
// entry behind), so emptying means closing the log, clearing its
// directory, and reopening a fresh one in its place.
func (f *FIFO) emptyLog() error {
	if err := f.log.Close(); err != nil {
		return fmt.Errorf("fifo: close for empty: %w", err)
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("fifo: read dir %s: %w", f.dir, err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(f.dir, e.Name())); err != nil {
			return fmt.Errorf("fifo: remove %s: %w", e.Name(), err)
		}
	}
	log, err := wal.Open(f.dir, nil)
	if err != nil {
		return fmt.Errorf("fifo: reopen %s: %w", f.dir, err)
	}
	f.log = log
	return nil
}

// Pending reports how many records remain undelivered.
func (f *FIFO) Pending() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first, err := f.log.FirstIndex()
	if err != nil {
		return 0, fmt.Errorf("fifo: first index: %w", err)
	}
	last, err := f.log.LastIndex()
	if err != nil {
		return 0, fmt.Errorf("fifo: last index: %w", err)
	}
	if first == 0 || first > last {
		return 0, nil
	}
	return int(last-first) + 1, nil
}

// Close closes the underlying log.
func (f *FIFO) Close() error { return f.log.Close() }
