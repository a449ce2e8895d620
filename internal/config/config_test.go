package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siridb.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaultsForOmittedTables(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9010"
data_dir = "/tmp/siridb-test"

[[pools]]
id = 0
servers = ["10.0.0.1:9000"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9010", cfg.Server.Listen)
	assert.Equal(t, 512, cfg.Buffer.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Buffer.SyncInterval)
	assert.Equal(t, 0.3, cfg.Optimizer.TombstoneRatio)
}

func TestLoadRejectsMissingPools(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9010"
data_dir = "/tmp/siridb-test"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsTooManyServersInPool(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9010"
data_dir = "/tmp/siridb-test"

[[pools]]
id = 0
servers = ["a:1", "b:2", "c:3"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestPoolSetBuildsPrimaryAndReplica(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = ":9010"
data_dir = "/tmp/siridb-test"

[[pools]]
id = 0
servers = ["10.0.0.1:9000", "10.0.0.2:9000"]

[[pools]]
id = 1
servers = ["10.0.0.3:9000"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	set, err := cfg.PoolSet()
	require.NoError(t, err)
	require.Len(t, set.Pools, 2)
	assert.True(t, set.Pools[0].Primary.IsPrimary)
	require.NotNil(t, set.Pools[0].Replica)
	assert.False(t, set.Pools[0].Replica.IsPrimary)
	assert.Nil(t, set.Pools[1].Replica)
}
