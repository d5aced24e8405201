package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// supervisorLock keeps a second launchr from supervising the same backend.
type supervisorLock struct{ fl *flock.Flock }

func acquireLock(stateDir string) (*supervisorLock, error) {
	if stateDir == "" {
		stateDir = defaultStateDir()
	}
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, "launchr.lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another launchr supervisor holds %s", path)
	}
	return &supervisorLock{fl: fl}, nil
}

func (l *supervisorLock) Release() { _ = l.fl.Unlock() }
