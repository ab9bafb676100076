package core

import (
	"os"
	"testing"
)

// setupTempDB opens a DB rooted at a fresh temp directory and registers
// cleanup with tb, mirroring the teacher's SetupTempDB helper.
func setupTempDB(tb testing.TB, opts ...Option) (db *DB, dir string) {
	dir, err := os.MkdirTemp("", "bitdb_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	db, err = Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = db.Close()
		_ = os.RemoveAll(dir)
	})

	return db, dir
}
