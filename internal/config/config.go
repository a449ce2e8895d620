package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/siridb/siridb-go/internal/pool"
	"github.com/siridb/siridb-go/internal/shard"
)

// Config is the parsed shape of a siridb-server TOML configuration file
// (SPEC_FULL.md §1.3).
type Config struct {
	Server    Server      `toml:"server"`
	Pools     []PoolEntry `toml:"pools"`
	Buffer    Buffer      `toml:"buffer"`
	Optimizer Optimizer   `toml:"optimizer"`
}

// Server holds the per-process settings: where to listen, where data
// lives, and how verbosely to log.
type Server struct {
	Listen   string `toml:"listen"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	// AuthToken, when non-empty, is the shared secret a client or peer
	// must present in a TypeAuth package before any other package is
	// accepted (spec.md §6/§7's auth package and "bad credentials ->
	// auth-error" handling). Empty disables the check.
	AuthToken string `toml:"auth_token"`
	// ShardDuration is the duration class ("hour", "day", or "week") every
	// newly created series is pinned to (spec.md §4.3). It does not change
	// once series exist, since a running database can't reshuffle already
	// written shards onto a different window width.
	ShardDuration string `toml:"shard_duration"`
}

// PoolEntry is one [[pools]] table entry: an id plus its one or two
// servers, primary first.
type PoolEntry struct {
	ID      uint16   `toml:"id"`
	Servers []string `toml:"servers"`
}

// Buffer tunes internal/buffer's Page/Syncer.
type Buffer struct {
	PageSize     int           `toml:"page_size"`
	SyncInterval time.Duration `toml:"sync_interval"`
}

// Optimizer tunes internal/optimizer's fragmentation thresholds.
type Optimizer struct {
	Interval       time.Duration `toml:"interval"`
	TombstoneRatio float64       `toml:"tombstone_ratio"`
	MinAvgBlockLen float64       `toml:"min_avg_block_len"`
}

// Default returns a Config with the values SPEC_FULL.md §1.3 documents as
// defaults, used when a config file omits a table entirely.
func Default() Config {
	return Config{
		Server: Server{Listen: ":9000", DataDir: "/var/lib/siridb", LogLevel: "info", ShardDuration: "day"},
		Buffer: Buffer{PageSize: 512, SyncInterval: 5 * time.Second},
		Optimizer: Optimizer{
			Interval:       10 * time.Minute,
			TombstoneRatio: 0.3,
			MinAvgBlockLen: 64,
		},
	}
}

// Load reads and parses the TOML file at path, filling any table the file
// omits with Default's values.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(meta); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate(meta toml.MetaData) error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen must not be empty")
	}
	if c.Server.DataDir == "" {
		return fmt.Errorf("config: server.data_dir must not be empty")
	}
	if _, err := shard.ParseDurationClass(c.Server.ShardDuration); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("config: at least one [[pools]] entry is required")
	}
	for _, p := range c.Pools {
		if len(p.Servers) == 0 || len(p.Servers) > 2 {
			return fmt.Errorf("config: pool %d must have one or two servers, got %d", p.ID, len(p.Servers))
		}
	}
	return nil
}

// PoolSet derives a pool.Set from the configured pool entries, in file
// order (the order Build's jump-hash rebalance depends on, spec.md §4.1).
func (c Config) PoolSet() (pool.Set, error) {
	set := pool.Set{Pools: make([]pool.Pool, 0, len(c.Pools))}
	for _, p := range c.Pools {
		primary := pool.Server{Addr: p.Servers[0], PoolID: pool.ID(p.ID), IsPrimary: true}
		entry := pool.Pool{ID: pool.ID(p.ID), Primary: primary}
		if len(p.Servers) == 2 {
			replica := pool.Server{Addr: p.Servers[1], PoolID: pool.ID(p.ID), IsPrimary: false}
			entry.Replica = &replica
		}
		set.Pools = append(set.Pools, entry)
	}
	return set, nil
}
