package replication

import (
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/pool"
)

// State is one of the driver's lifecycle states (spec.md §4.8).
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateDone    State = "done"
	StateError   State = "error"
)

// Cursor is the persisted progress marker both drivers resume from. For
// Initsync, TargetPool is unused (zero); for Reindex it records which new
// owner the migration targets, so a crash mid-reindex resumes against the
// same destination rather than guessing.
type Cursor struct {
	NextSeriesID uint64
	TargetPool   pool.ID
	State        State
}

// cursorStore persists a single Cursor value to a catalog.Log-framed file,
// reusing the catalog's record format (SPEC_FULL.md §4.8) rather than a
// second on-disk layout. Only the most recently appended record matters;
// Load replays the whole log and keeps the last entry.
type cursorStore struct {
	mu  sync.Mutex
	log *catalog.Log
}

func openCursorStore(path string) (*cursorStore, error) {
	log, err := catalog.OpenLog(path)
	if err != nil {
		return nil, fmt.Errorf("replication: open cursor log %s: %w", path, err)
	}
	return &cursorStore{log: log}, nil
}

// Load replays the cursor log and returns the last persisted Cursor, or
// the zero Cursor (IDLE, next_series_id=0) if none was ever written.
func (s *cursorStore) Load() (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cur Cursor
	err := s.log.Replay(func(payload []byte) error {
		var c Cursor
		if err := msgpack.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("replication: decode cursor record: %w", err)
		}
		cur = c
		return nil
	})
	if err != nil {
		return Cursor{}, err
	}
	return cur, nil
}

// Persist durably records cur as the new resume point.
func (s *cursorStore) Persist(cur Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := msgpack.Marshal(cur)
	if err != nil {
		return fmt.Errorf("replication: encode cursor record: %w", err)
	}
	return s.log.Append(payload)
}

func (s *cursorStore) Close() error { return s.log.Close() }
