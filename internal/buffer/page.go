package buffer

import (
	"sync"

	"github.com/siridb/siridb-go/internal/point"
)

// DefaultPageSize is the default point capacity of one series' page
// (config `buffer.page_size`, spec.md §4.4).
const DefaultPageSize = 512

// Page is one series' bounded, unsorted ring of recently-written points.
// Writes append in arrival order; a Syncer pass sorts, flushes, and clears
// it.
type Page struct {
	mu       sync.Mutex
	capacity int
	points   []point.Point
}

// NewPage creates an empty page with the given capacity.
func NewPage(capacity int) *Page {
	if capacity <= 0 {
		capacity = DefaultPageSize
	}
	return &Page{capacity: capacity, points: make([]point.Point, 0, capacity)}
}

// Append adds p to the page. full reports whether the page has reached
// capacity and should be synced immediately.
func (p *Page) Append(pt point.Point) (full bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, pt)
	return len(p.points) >= p.capacity, nil
}

// Drain removes and returns every point currently in the page, leaving it
// empty. The caller owns the returned slice.
func (p *Page) Drain() []point.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.points
	p.points = make([]point.Point, 0, p.capacity)
	return out
}

// Len returns the current point count.
func (p *Page) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.points)
}

// Snapshot returns a copy of the page's current points without draining
// them, for a query read that must see unflushed writes (spec.md §4.9
// step 3) without racing the next Syncer pass.
func (p *Page) Snapshot() []point.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]point.Point, len(p.points))
	copy(out, p.points)
	return out
}
