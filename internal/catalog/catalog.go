package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/pool"
	"github.com/vmihailenco/msgpack/v5"
)

// ShardRef is one entry in a series' byte index of shard residencies
// (spec.md §3's data model).
type ShardRef struct {
	ShardID uint64
}

// Series is the catalog's record for one named time series.
type Series struct {
	ID        uint64
	Name      string
	Type      point.Type
	Count     uint64
	FirstTS   int64
	LastTS    int64
	Residency []ShardRef
	Pool      pool.ID
}

// eventKind tags what a persisted catalog record represents.
type eventKind uint8

const (
	eventCreate eventKind = iota
	eventDrop
	eventRetype
	eventResidency
)

// event is the wire shape persisted to the catalog log; msgpack gives it
// the same self-describing body encoding internal/wire uses for network
// packages, so the log and the wire protocol share one codec even though
// they frame records differently.
type event struct {
	Kind    eventKind
	ID      uint64
	Name    string
	Type    point.Type
	Pool    pool.ID
	ShardID uint64
}

// Catalog is the RWMutex-guarded series index plus its durable event log.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[uint64]*Series
	byName map[string]uint64
	log    *Log
}

// Open loads path's event log (creating it if absent) and replays it to
// rebuild the in-memory index.
func Open(path string) (*Catalog, error) {
	log, err := OpenLog(path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		byID:   map[uint64]*Series{},
		byName: map[string]uint64{},
		log:    log,
	}
	if err := log.Replay(c.apply); err != nil {
		return nil, fmt.Errorf("catalog: replay %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) apply(payload []byte) error {
	var e event
	if err := msgpack.Unmarshal(payload, &e); err != nil {
		return fmt.Errorf("catalog: decode event: %w", err)
	}
	switch e.Kind {
	case eventCreate:
		c.byID[e.ID] = &Series{ID: e.ID, Name: e.Name, Type: e.Type, Pool: e.Pool}
		c.byName[e.Name] = e.ID
	case eventDrop:
		if s, ok := c.byID[e.ID]; ok {
			delete(c.byName, s.Name)
			delete(c.byID, e.ID)
		}
	case eventRetype:
		if s, ok := c.byID[e.ID]; ok {
			s.Type = e.Type
		}
	case eventResidency:
		if s, ok := c.byID[e.ID]; ok {
			s.Residency = append(s.Residency, ShardRef{ShardID: e.ShardID})
		}
	}
	return nil
}

func (c *Catalog) persist(e event) error {
	payload, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("catalog: encode event: %w", err)
	}
	return c.log.Append(payload)
}

// seriesID derives a series' 64-bit id from its name via xxhash, resolving
// the vanishingly rare collision with a linear probe rather than silently
// dropping the new series.
func (c *Catalog) seriesID(name string) uint64 {
	id := xxhash.Sum64String(name)
	for {
		existing, ok := c.byID[id]
		if !ok || existing.Name == name {
			return id
		}
		id++
	}
}

// Create registers a new series, or returns the existing one if name is
// already known (create is idempotent from a writer's point of view).
func (c *Catalog) Create(name string, typ point.Type, owner pool.ID) (*Series, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.byName[name]; ok {
		existing := *c.byID[id]
		return &existing, nil
	}

	id := c.seriesID(name)
	if err := c.persist(event{Kind: eventCreate, ID: id, Name: name, Type: typ, Pool: owner}); err != nil {
		return nil, err
	}
	s := &Series{ID: id, Name: name, Type: typ, Pool: owner}
	c.byID[id] = s
	c.byName[name] = id
	created := *s
	return &created, nil
}

// Get returns a copy of the series with id, or false if unknown.
func (c *Catalog) Get(id uint64) (Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	if !ok {
		return Series{}, false
	}
	return *s, true
}

// Lookup resolves a series by name.
func (c *Catalog) Lookup(name string) (Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	if !ok {
		return Series{}, false
	}
	return *c.byID[id], true
}

// Drop removes a series permanently.
func (c *Catalog) Drop(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("catalog: unknown series %q", name)
	}
	if err := c.persist(event{Kind: eventDrop, ID: id, Name: name}); err != nil {
		return err
	}
	delete(c.byName, name)
	delete(c.byID, id)
	return nil
}

// Retype changes a series' declared point type, persisting the change
// before applying it in memory.
func (c *Catalog) Retype(name string, typ point.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byName[name]
	if !ok {
		return fmt.Errorf("catalog: unknown series %q", name)
	}
	if err := c.persist(event{Kind: eventRetype, ID: id, Type: typ}); err != nil {
		return err
	}
	c.byID[id].Type = typ
	return nil
}

// RecordBlock extends id's byte index with a new shard residency and
// widens its timestamp range, called by internal/buffer's Syncer after a
// successful flush.
func (c *Catalog) RecordBlock(id uint64, shardID uint64, count uint64, minTS, maxTS int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("catalog: unknown series id %d", id)
	}
	if err := c.persist(event{Kind: eventResidency, ID: id, ShardID: shardID}); err != nil {
		return err
	}
	wasEmpty := s.Count == 0
	s.Residency = append(s.Residency, ShardRef{ShardID: shardID})
	s.Count += count
	if wasEmpty || minTS < s.FirstTS {
		s.FirstTS = minTS
	}
	if maxTS > s.LastTS {
		s.LastTS = maxTS
	}
	return nil
}

// Compact rewrites the event log from the current in-memory state,
// collapsing every series' history to a single create (+ residency)
// record (spec.md §4.5's periodic compaction).
func (c *Catalog) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint64, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var records [][]byte
	for _, id := range ids {
		s := c.byID[id]
		payload, err := msgpack.Marshal(event{Kind: eventCreate, ID: s.ID, Name: s.Name, Type: s.Type, Pool: s.Pool})
		if err != nil {
			return fmt.Errorf("catalog: encode compacted event: %w", err)
		}
		records = append(records, payload)
		for _, ref := range s.Residency {
			refPayload, err := msgpack.Marshal(event{Kind: eventResidency, ID: s.ID, ShardID: ref.ShardID})
			if err != nil {
				return fmt.Errorf("catalog: encode compacted residency: %w", err)
			}
			records = append(records, refPayload)
		}
	}
	return c.log.Compact(records)
}

// Scan returns every series whose name matches pattern (nil matches all),
// sorted by id, supporting §4.9 step 1's series resolution and the
// explicit "no secondary indexes beyond this" non-goal.
func (c *Catalog) Scan(pattern *regexp.Regexp) []Series {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Series, 0, len(c.byID))
	for _, s := range c.byID {
		if pattern == nil || pattern.MatchString(s.Name) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close closes the underlying event log.
func (c *Catalog) Close() error { return c.log.Close() }
