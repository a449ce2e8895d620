package buffer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/shard"
)

// DefaultSyncInterval is how often a Manager flushes every non-empty page
// even if none has filled (config `buffer.sync_interval`, spec.md §4.4).
const DefaultSyncInterval = 5 * time.Second

// Manager owns every series' Page plus the Journal and Syncer wiring that
// keeps them crash-safe and eventually resident in shards.
type Manager struct {
	journal *Journal
	shards  *shard.Store
	cat     *catalog.Catalog

	pagesMu sync.RWMutex
	pages   map[uint64]*pageEntry
}

type pageEntry struct {
	page  *Page
	class shard.DurationClass
}

// NewManager wires a Manager around an already-open journal, shard store,
// and catalog.
func NewManager(journal *Journal, shards *shard.Store, cat *catalog.Catalog) *Manager {
	return &Manager{
		journal: journal,
		shards:  shards,
		cat:     cat,
		pages:   map[uint64]*pageEntry{},
	}
}

// Restore replays the journal into fresh in-memory pages, then flushes
// everything — the startup path spec.md §4.4 describes for recovering
// unflushed buffer contents.
func (m *Manager) Restore(classOf func(seriesID uint64) shard.DurationClass) error {
	err := m.journal.Replay(func(seriesID uint64, pt point.Point) error {
		entry := m.entryFor(seriesID, classOf(seriesID))
		_, err := entry.page.Append(pt)
		return err
	})
	if err != nil {
		return fmt.Errorf("buffer: restore from journal: %w", err)
	}
	return m.SyncAll()
}

func (m *Manager) entryFor(seriesID uint64, class shard.DurationClass) *pageEntry {
	m.pagesMu.Lock()
	defer m.pagesMu.Unlock()
	e, ok := m.pages[seriesID]
	if !ok {
		e = &pageEntry{page: NewPage(DefaultPageSize), class: class}
		m.pages[seriesID] = e
	}
	return e
}

// Snapshot returns seriesID's currently buffered points without draining
// them, for a query read that must see unflushed writes (spec.md §4.9 step
// 3). Returns nil if the series has no buffered points.
func (m *Manager) Snapshot(seriesID uint64) []point.Point {
	m.pagesMu.RLock()
	e, ok := m.pages[seriesID]
	m.pagesMu.RUnlock()
	if !ok {
		return nil
	}
	return e.page.Snapshot()
}

// Write journals then buffers one point for seriesID, flushing immediately
// if the page fills.
func (m *Manager) Write(seriesID uint64, class shard.DurationClass, pt point.Point) error {
	if err := m.journal.Append(seriesID, pt); err != nil {
		return err
	}
	entry := m.entryFor(seriesID, class)
	full, err := entry.page.Append(pt)
	if err != nil {
		return err
	}
	if full {
		return m.sync(seriesID, entry)
	}
	return nil
}

// SyncAll flushes every series' page in the order sync describes: drain
// (clear) the page, sort, group by shard window, append blocks, record
// catalog residency.
func (m *Manager) SyncAll() error {
	m.pagesMu.RLock()
	ids := make([]uint64, 0, len(m.pages))
	entries := make([]*pageEntry, 0, len(m.pages))
	for id, e := range m.pages {
		ids = append(ids, id)
		entries = append(entries, e)
	}
	m.pagesMu.RUnlock()

	var lastIdx uint64
	if idx, err := m.journal.LastIndex(); err == nil {
		lastIdx = idx
	}

	for i, id := range ids {
		if err := m.sync(id, entries[i]); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		return m.journal.TruncateFront(lastIdx)
	}
	return nil
}

// sync flushes one series' page: it drains (clears) the page first, then
// sorts by timestamp, groups by shard window, appends one block per window
// and records residency. Points drained by a pass that then fails are no
// longer in the page.
func (m *Manager) sync(seriesID uint64, entry *pageEntry) error {
	pts := entry.page.Drain()
	if len(pts) == 0 {
		return nil
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].TS < pts[j].TS })

	s, ok := m.cat.Get(seriesID)
	if !ok {
		return fmt.Errorf("buffer: sync unknown series %d", seriesID)
	}

	groups := groupByWindow(pts, entry.class)
	for _, g := range groups {
		h, err := m.shards.ForWrite(entry.class, g.windowStart)
		if err != nil {
			return fmt.Errorf("buffer: resolve shard for series %d: %w", seriesID, err)
		}
		payload, hdr, err := point.Encode(s.Type, g.points)
		if err != nil {
			return fmt.Errorf("buffer: encode block for series %d: %w", seriesID, err)
		}
		offset, err := h.AppendBlock(seriesID, payload, hdr)
		if err != nil {
			return fmt.Errorf("buffer: append block for series %d: %w", seriesID, err)
		}
		if err := m.cat.RecordBlock(seriesID, uint64(h.ID()), uint64(hdr.Count), hdr.MinTS, hdr.MaxTS); err != nil {
			return fmt.Errorf("buffer: record residency for series %d at offset %d: %w", seriesID, offset, err)
		}
	}
	return nil
}

type windowGroup struct {
	windowStart int64
	points      []point.Point
}

// groupByWindow splits a sorted point run into per-shard-window batches.
func groupByWindow(pts []point.Point, class shard.DurationClass) []windowGroup {
	var groups []windowGroup
	for _, pt := range pts {
		ws := shard.WindowStartFor(class, pt.TS)
		if len(groups) > 0 && groups[len(groups)-1].windowStart == ws {
			last := &groups[len(groups)-1]
			last.points = append(last.points, pt)
			continue
		}
		groups = append(groups, windowGroup{windowStart: ws, points: []point.Point{pt}})
	}
	return groups
}

// Close flushes every page and closes the underlying journal.
func (m *Manager) Close() error {
	if err := m.SyncAll(); err != nil {
		return err
	}
	return m.journal.Close()
}

// Run starts the periodic sync loop; it returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.SyncAll()
		}
	}
}
