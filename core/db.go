// Package core provides the core bitdb implementation.
package core

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DB is a single-writer, multi-reader Bitcask-style key-value store: an
// append-only log of segments on disk plus an in-memory ordered index
// mapping every live key to the segment/offset that holds its latest
// value.
type DB struct {
	dir  string
	opts options
	lock *processLock

	mu      sync.RWMutex // guards idx, segments, activeID, reclaimable, closed
	writeMu sync.Mutex   // serializes everything that appends to the log

	idx         index
	segments    map[int64]*segment
	activeID    int64
	nextTxnSeq  uint64
	reclaimable map[int64]int64 // stale bytes per file_id, reclaimable by merge

	mergeSem *semaphore.Weighted
	closed   bool
}

// Stats reports point-in-time size and key-count accounting for a DB.
type Stats struct {
	KeyCount        int
	DiskSize        int64
	ReclaimableSize int64
}

// Open opens the store rooted at dir, creating it if it doesn't exist yet.
// Only one process may hold a directory open at a time; a second Open
// against the same dir returns ErrDBInUse.
func Open(dir string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dir, err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}

	db := &DB{
		dir:      dir,
		opts:     o,
		lock:     lock,
		mergeSem: semaphore.NewWeighted(1),
	}

	if err := db.recover(); err != nil {
		_ = lock.release()
		return nil, err
	}

	db.opts.logger.Infow("opened database", "dir", dir, "segments", len(db.segments), "keys", db.idx.size())
	return db, nil
}

// Put writes key/value as a single committed record.
func (db *DB) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return db.writeBatch([]record{{typ: RecordNormal, key: key, value: value}})
}

// Delete removes key. Deleting a missing key succeeds silently without
// appending anything to the log.
func (db *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return ErrDBClosed
	}
	_, present := db.idx.get(key)
	db.mu.RUnlock()
	if !present {
		return nil
	}

	return db.writeBatch([]record{{typ: RecordTombstone, key: key}})
}

// Get returns the current value for key, or ErrKeyNotFound if it is
// absent or has been deleted.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return nil, ErrDBClosed
	}
	ptr, ok := db.idx.get(key)
	if !ok {
		db.mu.RUnlock()
		return nil, ErrKeyNotFound
	}
	seg := db.segments[ptr.fileID]
	db.mu.RUnlock()

	rec, _, err := seg.readAt(ptr.offset)
	if err != nil {
		return nil, err
	}
	if rec.typ != RecordNormal {
		return nil, ErrKeyNotFound
	}
	return rec.value, nil
}

// ListKeys returns every live key in ascending lexicographic order.
func (db *DB) ListKeys() [][]byte {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entries := db.idx.orderedIter(false)
	keys := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// Sync flushes the active segment to stable storage.
func (db *DB) Sync() error {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return ErrDBClosed
	}
	seg := db.segments[db.activeID]
	db.mu.RUnlock()
	return seg.sync()
}

// Stats reports the current key count and disk usage. DiskSize is
// recomputed from os.Stat on every call; ReclaimableSize is tracked
// incrementally as writes and merges happen.
func (db *DB) Stats() (Stats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return Stats{}, ErrDBClosed
	}

	var diskSize int64
	for id := range db.segments {
		info, err := os.Stat(segmentPath(db.dir, id))
		if err != nil {
			return Stats{}, fmt.Errorf("stat segment %d: %w", id, err)
		}
		diskSize += info.Size()
	}

	var reclaimable int64
	for _, b := range db.reclaimable {
		reclaimable += b
	}

	return Stats{KeyCount: db.idx.size(), DiskSize: diskSize, ReclaimableSize: reclaimable}, nil
}

// Close releases the process lock and closes every open segment file.
// The DB is unusable afterward; a second Close returns ErrDBClosed.
func (db *DB) Close() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDBClosed
	}
	db.closed = true

	var firstErr error
	for _, seg := range db.segments {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// writeBatch is the single write path every mutation goes through,
// whether it arrived via Put, Delete, or Batch.Commit: every member gets
// the same fresh txn_seq, is appended in order (possibly rotating the
// active segment partway through), and is followed by a trailing
// TXN_COMMIT record that recovery uses to decide the whole group is
// visible together or not at all.
func (db *DB) writeBatch(members []record) error {
	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return ErrDBClosed
	}

	for _, m := range members {
		if len(m.key) == 0 {
			return ErrEmptyKey
		}
		if int64(encodedRecordLen(m)) > db.opts.maxFileSize {
			return ErrRecordTooLarge
		}
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	txnSeq := db.nextTxnSeq
	db.nextTxnSeq++

	type applied struct {
		key []byte
		typ RecordType
		ptr recordPointer
	}
	results := make([]applied, 0, len(members))

	for _, m := range members {
		m.txnSeq = txnSeq
		encoded := encodeRecord(m)
		fileID, off, err := db.appendToActive(encoded)
		if err != nil {
			return err
		}
		results = append(results, applied{
			key: m.key,
			typ: m.typ,
			ptr: recordPointer{fileID: fileID, offset: off, recordSize: int64(len(encoded))},
		})
	}

	commitEncoded := encodeRecord(record{typ: RecordTxnCommit, txnSeq: txnSeq})
	commitFileID, _, err := db.appendToActive(commitEncoded)
	if err != nil {
		return err
	}

	if db.opts.syncWrites {
		db.mu.RLock()
		seg := db.segments[commitFileID]
		db.mu.RUnlock()
		if err := seg.sync(); err != nil {
			return err
		}
	}

	db.mu.Lock()
	for _, a := range results {
		switch a.typ {
		case RecordNormal:
			if old, had := db.idx.put(a.key, a.ptr); had {
				db.reclaimable[old.fileID] += old.recordSize
			}
		case RecordTombstone:
			if old, had := db.idx.delete(a.key); had {
				db.reclaimable[old.fileID] += old.recordSize
			}
			db.reclaimable[a.ptr.fileID] += a.ptr.recordSize
		}
	}
	db.reclaimable[commitFileID] += int64(len(commitEncoded))
	db.mu.Unlock()

	return nil
}

// appendToActive writes encoded to the current active segment, rolling
// over to a fresh segment first if it wouldn't fit. Callers hold writeMu.
func (db *DB) appendToActive(encoded []byte) (fileID int64, offset int64, err error) {
	db.mu.RLock()
	seg := db.segments[db.activeID]
	db.mu.RUnlock()

	if seg.size+int64(len(encoded)) > db.opts.maxFileSize {
		seg, err = db.rotate()
		if err != nil {
			return 0, 0, err
		}
	}

	// fsync happens once after the trailing TXN_COMMIT record is appended
	// (see writeBatch), not per member.
	off, err := seg.append(encoded, false)
	if err != nil {
		return 0, 0, err
	}
	return seg.id, off, nil
}

// rotate seals the current active segment and opens the next one.
// Callers hold writeMu.
func (db *DB) rotate() (*segment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	oldID := db.activeID
	if err := db.segments[oldID].sync(); err != nil {
		return nil, fmt.Errorf("seal segment %d: %w", oldID, err)
	}

	newID := oldID + 1
	seg, err := createSegment(db.dir, newID)
	if err != nil {
		return nil, err
	}

	db.segments[newID] = seg
	db.activeID = newID
	db.opts.logger.Infow("rolled over to new active segment", "sealed", oldID, "active", newID)
	return seg, nil
}
