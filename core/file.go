package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// fsyncDir flushes the directory entry at dir to stable media, following
// the teacher's createFileDurable: a rename or file creation isn't durable
// on most filesystems until the containing directory is synced too.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %q: %w", dir, err)
	}
	defer d.Close() // nolint:errcheck

	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %q: %w", dir, err)
	}
	return nil
}

// createFileDurable creates name under dir, syncs it, and syncs the
// directory so the new entry survives a crash immediately after creation.
// Segment files go through this path; smaller sidecar artifacts (hint
// files, the merge-finished marker) use github.com/natefinch/atomic
// instead — see hint.go and directory.go.
func createFileDurable(dir, name string, excl bool) (*os.File, error) {
	path := filepath.Join(dir, name)

	flag := os.O_RDWR | os.O_CREATE
	if excl {
		flag |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", path, classifyIOErr(err))
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sync %q: %w", path, classifyIOErr(err))
	}

	if err := fsyncDir(dir); err != nil {
		_ = f.Close()
		return nil, err
	}

	return f, nil
}
