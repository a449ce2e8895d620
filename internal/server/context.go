package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/siridb/siridb-go/internal/buffer"
	"github.com/siridb/siridb-go/internal/catalog"
	"github.com/siridb/siridb-go/internal/config"
	"github.com/siridb/siridb-go/internal/fifo"
	"github.com/siridb/siridb-go/internal/optimizer"
	"github.com/siridb/siridb-go/internal/point"
	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/query"
	"github.com/siridb/siridb-go/internal/shard"
	"github.com/siridb/siridb-go/internal/wire"
)

// Context is the per-process state every connection handler and
// background task shares: the teacher wires a comparable struct into its
// HTTP handlers explicitly rather than reaching for globals, and this
// keeps that idiom (SPEC_FULL.md §1.1).
type Context struct {
	Log zerolog.Logger
	Cfg config.Config

	LocalPool   pool.ID
	Pools       pool.Set
	IsPrimary   bool   // whether this process is the primary for LocalPool
	ReplicaAddr string // LocalPool's replica address, "" if none or if this process is the replica

	Catalog    *catalog.Catalog
	Shards     *shard.Store
	Buffer     *buffer.Manager
	Optimizer  *optimizer.Worker
	Monitor    *pool.PeerMonitor
	Workers    *WorkerPool
	ShardClass shard.DurationClass // class every newly written series is pinned to

	table    atomic.Pointer[pool.Table]
	readOnly atomic.Bool
	pids     wire.PIDGenerator

	fifoMu sync.Mutex
	fifos  map[string]*fifo.FIFO // keyed by peer server address

	executor *query.Executor
}

// Open assembles a Context from cfg: it opens (or creates) the catalog,
// shard store, and buffer journal under cfg.Server.DataDir, builds the
// initial pool lookup table, and determines which configured server this
// process is by matching cfg.Server.Listen against the pool servers.
func Open(cfg config.Config, log zerolog.Logger) (*Context, error) {
	set, err := cfg.PoolSet()
	if err != nil {
		return nil, fmt.Errorf("server: derive pool set: %w", err)
	}
	localPool, isPrimary, replicaAddr, err := localRoleFor(set, cfg.Server.Listen)
	if err != nil {
		return nil, err
	}
	shardClass, err := shard.ParseDurationClass(cfg.Server.ShardDuration)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	cat, err := catalog.Open(filepath.Join(cfg.Server.DataDir, "database.dat"))
	if err != nil {
		return nil, fmt.Errorf("server: open catalog: %w", err)
	}
	shards, err := shard.NewStore(filepath.Join(cfg.Server.DataDir, "shards"))
	if err != nil {
		return nil, fmt.Errorf("server: open shard store: %w", err)
	}
	journal, err := buffer.OpenJournal(filepath.Join(cfg.Server.DataDir, "buffer"))
	if err != nil {
		return nil, fmt.Errorf("server: open buffer journal: %w", err)
	}
	mgr := buffer.NewManager(journal, shards, cat)
	if err := mgr.Restore(func(seriesID uint64) shard.DurationClass {
		return seriesDurationClass(cat, seriesID, shardClass)
	}); err != nil {
		return nil, fmt.Errorf("server: restore buffer: %w", err)
	}

	opt := optimizer.NewWorker(optimizer.Config{
		TombstoneRatio: cfg.Optimizer.TombstoneRatio,
		MinAvgBlockLen: cfg.Optimizer.MinAvgBlockLen,
		ScanInterval:   cfg.Optimizer.Interval,
	}, shards, func(seriesID uint64) point.Type {
		s, _ := cat.Get(seriesID)
		return s.Type
	})

	c := &Context{
		Log:         log,
		Cfg:         cfg,
		LocalPool:   localPool,
		Pools:       set,
		IsPrimary:   isPrimary,
		ReplicaAddr: replicaAddr,
		Catalog:     cat,
		Shards:      shards,
		Buffer:      mgr,
		Optimizer:   opt,
		Monitor:     pool.NewPeerMonitor(5 * time.Second),
		Workers:     NewWorkerPool(0),
		ShardClass:  shardClass,
		fifos:       map[string]*fifo.FIFO{},
	}

	table, err := pool.Build(set.Pools)
	if err != nil {
		return nil, fmt.Errorf("server: build lookup table: %w", err)
	}
	c.table.Store(table)

	c.executor = &query.Executor{
		Catalog:   cat,
		Shards:    shards,
		Buffer:    mgr.Snapshot,
		Table:     table,
		LocalPool: localPool,
		AllPools:  poolIDs(set),
		Dispatch:  c.dispatch,
	}

	return c, nil
}

// localRoleFor finds which pool owns a server whose address matches
// listen, so a binary started with only --config knows its own identity
// without a separate --pool-id flag. It also reports whether that server
// is the pool's primary and, if so, its replica's address (empty if the
// pool has no replica, or if this process is itself the replica) — the
// write path uses this to decide whether to enqueue a replication copy.
func localRoleFor(set pool.Set, listen string) (id pool.ID, isPrimary bool, replicaAddr string, err error) {
	for _, p := range set.Pools {
		if p.Primary.Addr == listen {
			if p.Replica != nil {
				replicaAddr = p.Replica.Addr
			}
			return p.ID, true, replicaAddr, nil
		}
		if p.Replica != nil && p.Replica.Addr == listen {
			return p.ID, false, "", nil
		}
	}
	return 0, false, "", fmt.Errorf("server: listen address %q does not match any configured pool server", listen)
}

func poolIDs(set pool.Set) []pool.ID {
	ids := make([]pool.ID, len(set.Pools))
	for i, p := range set.Pools {
		ids[i] = p.ID
	}
	return ids
}

// seriesDurationClass resolves a series' shard duration class for journal
// replay, before any page exists yet to remember it. Every series is
// pinned to cfg.Server.ShardDuration (spec.md §4.3) at creation time, so
// this only needs the configured default rather than a per-series lookup.
func seriesDurationClass(cat *catalog.Catalog, seriesID uint64, defaultClass shard.DurationClass) shard.DurationClass {
	_ = cat
	_ = seriesID
	return defaultClass
}

// Table returns the currently published lookup table.
func (c *Context) Table() *pool.Table { return c.table.Load() }

// SetTable atomically publishes a new lookup table (spec.md §5: readers
// never observe a partially-built table) and updates the executor's view
// of it.
func (c *Context) SetTable(t *pool.Table) {
	c.table.Store(t)
	c.executor.Table = t
}

// ReadOnly reports whether a prior fatal error has flipped this server
// into read-only mode.
func (c *Context) ReadOnly() bool { return c.readOnly.Load() }

// Fail flips the server read-only if err is a `fatal`-kind error,
// logging the transition; non-fatal errors are left to the caller.
func (c *Context) Fail(err error) {
	if err == nil || !isFatal(err) {
		return
	}
	if c.readOnly.CompareAndSwap(false, true) {
		c.Log.Error().Err(err).Msg("server: flipping to read-only after fatal error")
	}
}

// FIFOFor returns (opening if needed) the durable outbound queue for peer.
func (c *Context) FIFOFor(peerAddr string) (*fifo.FIFO, error) {
	c.fifoMu.Lock()
	defer c.fifoMu.Unlock()
	if f, ok := c.fifos[peerAddr]; ok {
		return f, nil
	}
	dir := filepath.Join(c.Cfg.Server.DataDir, "fifo", sanitizePeerDir(peerAddr))
	f, err := fifo.Open(dir, 64<<20, 512<<20)
	if err != nil {
		return nil, fmt.Errorf("server: open fifo for %s: %w", peerAddr, err)
	}
	c.fifos[peerAddr] = f
	return f, nil
}

func sanitizePeerDir(addr string) string {
	out := make([]byte, 0, len(addr))
	for i := 0; i < len(addr); i++ {
		if addr[i] == ':' || addr[i] == '/' {
			out = append(out, '_')
			continue
		}
		out = append(out, addr[i])
	}
	return string(out)
}

// NextPID hands out the next request/response id for an outbound package.
func (c *Context) NextPID() uint16 { return c.pids.Next() }

// Run starts every background task (buffer sync, optimizer sweep, peer
// health monitor) off ctx, returning once ctx is cancelled and every task
// has observed it. This is the "named goroutines off one context.Context
// tree" model SPEC_FULL.md §3 describes in place of the original's timer
// list.
func (c *Context) Run(ctx context.Context) {
	var wg sync.WaitGroup
	tasks := []func(context.Context){
		func(ctx context.Context) { c.Buffer.Run(ctx, c.Cfg.Buffer.SyncInterval) },
		func(ctx context.Context) { c.Optimizer.Run(ctx) },
		func(ctx context.Context) { c.Monitor.Run(ctx, c.Pools) },
	}
	if c.ReplicaAddr != "" {
		tasks = append(tasks, func(ctx context.Context) { c.runReplicationDrain(ctx, c.ReplicaAddr) })
	}
	for _, task := range tasks {
		wg.Add(1)
		go func(task func(context.Context)) {
			defer wg.Done()
			task(ctx)
		}(task)
	}
	wg.Wait()
}

// Close flushes and closes every owned resource.
func (c *Context) Close() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	note(c.Buffer.Close())
	c.fifoMu.Lock()
	for _, f := range c.fifos {
		note(f.Close())
	}
	c.fifoMu.Unlock()
	note(c.Shards.Close())
	note(c.Catalog.Close())
	return firstErr
}
