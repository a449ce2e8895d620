package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// procLock guards <dbpath>/.lock (spec.md §6's on-disk layout) so two
// siridb-server processes never open the same database directory at
// once; acquireLock fails fast rather than silently corrupting shards.
type procLock struct {
	f *os.File
}

// acquireLock creates dataDir if needed and exclusively creates its
// .lock file, returning an error ("lock-held" per spec.md §6's exit-code
// table) if another process already holds it.
func acquireLock(dataDir string) (*procLock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("database %s is locked by another process (%s exists)", dataDir, path)
		}
		return nil, fmt.Errorf("create lock file %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &procLock{f: f}, nil
}

// release closes and removes the lock file, letting another process open
// the database.
func (l *procLock) release() {
	path := l.f.Name()
	l.f.Close()
	os.Remove(path)
}
