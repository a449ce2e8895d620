package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireLockExclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := acquireLock(dir)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, ".lock"))

	_, err = acquireLock(dir)
	require.Error(t, err)

	lock.release()
	require.NoFileExists(t, filepath.Join(dir, ".lock"))

	lock2, err := acquireLock(dir)
	require.NoError(t, err)
	lock2.release()
}

func TestAcquireLockCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	lock, err := acquireLock(dir)
	require.NoError(t, err)
	defer lock.release()

	require.DirExists(t, dir)
}
