package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Store is the directory-level registry of open shards, keyed by ID. It
// lazily opens or creates shards on first write into a window, and
// publishes superseded generations behind an atomic.Pointer so in-flight
// readers finish against the generation they started with (invariant 5),
// matching the teacher's shardRegistry-over-a-map locking idiom.
type Store struct {
	dir string

	mu     sync.RWMutex
	shards map[ID]*atomic.Pointer[Handle]
}

// NewStore opens the shard registry rooted at dir (spec.md §6's
// `<dbpath>/shards/`), creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shard: create shard dir %s: %w", dir, err)
	}
	return &Store{dir: dir, shards: map[ID]*atomic.Pointer[Handle]{}}, nil
}

func (s *Store) path(id ID) string {
	return filepath.Join(s.dir, id.String())
}

// Get returns the current generation's Handle for id, opening it from disk
// if this is the first reference this process has made to it.
func (s *Store) Get(id ID) (*Handle, error) {
	s.mu.RLock()
	ptr, ok := s.shards[id]
	s.mu.RUnlock()
	if ok {
		if h := ptr.Load(); h != nil {
			return h, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ptr, ok := s.shards[id]; ok {
		if h := ptr.Load(); h != nil {
			return h, nil
		}
	}

	h, err := Open(s.path(id), id)
	if err != nil {
		return nil, err
	}
	p := &atomic.Pointer[Handle]{}
	p.Store(h)
	s.shards[id] = p
	return h, nil
}

// ForWrite resolves the shard that owns ts for seriesID's duration class,
// creating it on first write into an empty window (spec.md §4.3).
func (s *Store) ForWrite(class DurationClass, ts int64) (*Handle, error) {
	id := NewID(class, WindowStartFor(class, ts))
	return s.Get(id)
}

// Supersede replaces id's published Handle with next, flips old to
// superseded, and returns once old's writers have observed the flip. Old
// readers that already hold a reference to old keep reading it safely;
// ReadBlocks/ReadPayload never touch a field that Supersede mutates apart
// from the status flag they don't inspect.
//
// next is typically opened under a temporary ".next" path (the optimizer's
// rewrite target) rather than id's canonical path, so this also renames
// next's file onto old's canonical path: a process restart resolves id via
// Store.path(id) alone, and that path must hold the surviving generation,
// not the file old.path pointed at before Supersede.
func (s *Store) Supersede(id ID, next *Handle) error {
	s.mu.Lock()
	ptr, ok := s.shards[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("shard: supersede unknown shard %s", id)
	}
	old := ptr.Load()
	canonical := s.path(id)
	s.mu.Unlock()

	if err := old.Supersede(next); err != nil {
		return err
	}
	if next.path != canonical {
		if err := os.Rename(next.path, canonical); err != nil {
			return fmt.Errorf("shard: publish next generation for %s: %w", id, err)
		}
		next.path = canonical
	}
	ptr.Store(next)
	return nil
}

// List returns every shard ID currently open in this process.
func (s *Store) List() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]ID, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	return ids
}

// Close flushes and closes every open shard.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, ptr := range s.shards {
		if h := ptr.Load(); h != nil {
			if err := h.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
