package core

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// processLock guards a data directory against being opened by a second
// process, backed by an advisory flock(2) lease on spec.md §6's dedicated
// "flock" file.
type processLock struct {
	fl *flock.Flock
}

// acquireLock takes a non-blocking exclusive lock on dir's lock file,
// returning ErrDBInUse if another process already holds it.
func acquireLock(dir string) (*processLock, error) {
	path := filepath.Join(dir, lockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %q: %w", path, err)
	}
	if !ok {
		return nil, ErrDBInUse
	}

	return &processLock{fl: fl}, nil
}

func (l *processLock) release() error {
	return l.fl.Unlock()
}
