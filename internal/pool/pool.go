package pool

import "fmt"

// ID identifies a pool within the cluster. Each pool's ID is the `id` key
// of its entry in the server configuration.
type ID uint16

// Server describes one server participating in a pool, either as the
// primary (accepts writes directly) or as a replica (receives writes via
// the FIFO in internal/fifo).
type Server struct {
	Addr      string // "host:port", dialed by internal/wire
	PoolID    ID
	IsPrimary bool
}

// String renders the server for logs, e.g. "pool0/10.0.0.1:9000(primary)".
func (s Server) String() string {
	role := "replica"
	if s.IsPrimary {
		role = "primary"
	}
	return fmt.Sprintf("pool%d/%s(%s)", s.PoolID, s.Addr, role)
}

// Pool is one replication unit: a primary and an optional replica.
type Pool struct {
	ID      ID
	Primary Server
	Replica *Server // nil if the pool has no replica configured
}

// Servers returns every server in the pool, primary first.
func (p Pool) Servers() []Server {
	if p.Replica == nil {
		return []Server{p.Primary}
	}
	return []Server{p.Primary, *p.Replica}
}

// Set is the ordered list of pools that make up a database. Order matters:
// Build derives slot ownership from the position of each pool in the set,
// and growing the set (appending a pool) is what triggers rebalancing.
type Set struct {
	Pools []Pool
}

// ByID returns the pool with the given id, or false if it's not present.
func (s Set) ByID(id ID) (Pool, bool) {
	for _, p := range s.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return Pool{}, false
}

// AllServers returns every server across every pool in the set.
func (s Set) AllServers() []Server {
	out := make([]Server, 0, len(s.Pools)*2)
	for _, p := range s.Pools {
		out = append(out, p.Servers()...)
	}
	return out
}
