package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/shard"
)

// Acker waits for the new owner to acknowledge a series' migrated data
// before the local copy is safe to drop (spec.md §4.8's "issues a drop for
// the local copy after the remote acknowledges").
type Acker func(ctx context.Context, seriesID uint64, newOwner pool.ID) error

// Reindex migrates every locally-owned series whose new lookup pool
// differs from the local pool, per spec.md §4.8. While RUNNING, callers
// (internal/query) should treat a migrating series as present on both the
// old and new owner and dedupe on series id, which the executor's
// generation/pool tie-break already covers without Reindex needing to
// expose per-series migration state.
type Reindex struct {
	mu     sync.Mutex
	state  State
	cursor Cursor

	cursors   *cursorStore
	localPool pool.ID
	newTable  *pool.Table
	cat       *catalog.Catalog
	shards    *shard.Store
	buffer    func(seriesID uint64) []point.Point
	send      Sender
	ack       Acker
}

// NewReindex wires a Reindex driver against the lookup table that resulted
// from a pool-count change, resuming from the last persisted cursor.
func NewReindex(cursorPath string, localPool pool.ID, newTable *pool.Table, cat *catalog.Catalog, shards *shard.Store, bufferPoints func(seriesID uint64) []point.Point, send Sender, ack Acker) (*Reindex, error) {
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
	return &Reindex{
		state: cursor.State, cursor: cursor, cursors: store,
		localPool: localPool, newTable: newTable, cat: cat, shards: shards,
		buffer: bufferPoints, send: send, ack: ack,
	}, nil
}

// State reports the driver's current lifecycle state.
func (r *Reindex) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Run streams every locally-owned series whose name now hashes to a
// different pool, and drops the local copy once the new owner has
// acknowledged receipt.
func (r *Reindex) Run(ctx context.Context) error {
	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	for _, s := range r.cat.Scan(nil) {
		if s.Pool != r.localPool || s.ID < r.cursor.NextSeriesID {
			continue
		}
		newOwner := r.newTable.Lookup(s.Name)
		if newOwner == r.localPool {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		batches, err := seriesBatches(r.shards, r.buffer, s)
		if err != nil {
			r.transition(StateError)
			return fmt.Errorf("replication: reindex build batches for series %d: %w", s.ID, err)
		}
		for _, b := range batches {
			if err := r.send(ctx, b); err != nil {
				if errors.Is(err, ErrPeerUnreachable) {
					r.transition(StatePaused)
					return err
				}
				r.transition(StateError)
				return fmt.Errorf("replication: reindex send series %d: %w", s.ID, err)
			}
		}

		if err := r.ack(ctx, s.ID, newOwner); err != nil {
			if errors.Is(err, ErrPeerUnreachable) {
				r.transition(StatePaused)
				return err
			}
			r.transition(StateError)
			return fmt.Errorf("replication: reindex await ack for series %d: %w", s.ID, err)
		}
		if err := r.cat.Drop(s.Name); err != nil {
			r.transition(StateError)
			return fmt.Errorf("replication: reindex drop local series %d: %w", s.ID, err)
		}

		r.cursor.NextSeriesID = s.ID + 1
		r.cursor.TargetPool = newOwner
		r.cursor.State = StateRunning
		if err := r.cursors.Persist(r.cursor); err != nil {
			return fmt.Errorf("replication: reindex persist cursor: %w", err)
		}
	}

	r.transition(StateDone)
	return nil
}

func (r *Reindex) transition(s State) {
	r.mu.Lock()
	r.state = s
	r.cursor.State = s
	r.mu.Unlock()
	_ = r.cursors.Persist(r.cursor)
}

// Close releases the cursor log.
func (r *Reindex) Close() error { return r.cursors.Close() }
