package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

// ErrPeerUnreachable is returned by a Sender when the target peer cannot
// currently be reached; Initsync.Run treats it as a transition to PAUSED
// rather than ERROR (spec.md §4.8's state machine).
var ErrPeerUnreachable = errors.New("replication: peer unreachable")

// Sender delivers one already-built batch to the replica and returns once
// it's durably accepted there (spec.md §4.8, §6's replication package
// type). Implementations typically wrap an internal/fifo append (primary
// path) or a direct internal/wire round-trip.
type Sender func(ctx context.Context, batch wire.ReplicationBatch) error

// Initsync streams full primary state to a newly joined replica: every
// known series in id order, each as its buffer contents plus every live
// shard block, per spec.md §4.8.
type Initsync struct {
	mu     sync.Mutex
	state  State
	cursor Cursor

	cursors *cursorStore
	cat     *catalog.Catalog
	shards  *shard.Store
	buffer  func(seriesID uint64) []point.Point
	send    Sender
}

// NewInitsync wires an Initsync driver and loads its last persisted cursor
// (spec.md §4.8's "a progress cursor next_series_id is persisted so that
// crashes resume instead of restarting").
func NewInitsync(cursorPath string, cat *catalog.Catalog, shards *shard.Store, bufferPoints func(seriesID uint64) []point.Point, send Sender) (*Initsync, error) {
	store, err := openCursorStore(cursorPath)
	if err != nil {
		return nil, err
	}
	cursor, err := store.Load()
	if err != nil {
		return nil, err
	}
	if cursor.State == "" {
		cursor.State = StateIdle
	}
	return &Initsync{state: cursor.State, cursor: cursor, cursors: store, cat: cat, shards: shards, buffer: bufferPoints, send: send}, nil
}

// State reports the driver's current lifecycle state.
func (i *Initsync) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Run streams every series with id >= the persisted cursor to the replica.
// It returns nil on DONE, and a non-nil error (without entering ERROR) if
// the peer is unreachable mid-stream, having first transitioned to PAUSED
// so a later call resumes at the same series.
func (i *Initsync) Run(ctx context.Context) error {
	i.mu.Lock()
	i.state = StateRunning
	i.mu.Unlock()

	for _, s := range i.cat.Scan(nil) {
		if s.ID < i.cursor.NextSeriesID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		batches, err := seriesBatches(i.shards, i.buffer, s)
		if err != nil {
			i.transition(StateError)
			return fmt.Errorf("replication: initsync build batches for series %d: %w", s.ID, err)
		}
		for _, b := range batches {
			if err := i.send(ctx, b); err != nil {
				if errors.Is(err, ErrPeerUnreachable) {
					i.transition(StatePaused)
					return err
				}
				i.transition(StateError)
				return fmt.Errorf("replication: initsync send series %d: %w", s.ID, err)
			}
		}

		i.cursor.NextSeriesID = s.ID + 1
		i.cursor.State = StateRunning
		if err := i.cursors.Persist(i.cursor); err != nil {
			return fmt.Errorf("replication: initsync persist cursor: %w", err)
		}
	}

	i.transition(StateDone)
	return nil
}

func (i *Initsync) transition(s State) {
	i.mu.Lock()
	i.state = s
	i.cursor.State = s
	i.mu.Unlock()
	_ = i.cursors.Persist(i.cursor)
}

// Close releases the cursor log.
func (i *Initsync) Close() error { return i.cursors.Close() }
