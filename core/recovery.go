package core

import (
	"fmt"
	"sort"
)

// recover rebuilds a DB's in-memory state from whatever is on disk: it
// finishes any merge cut-over a previous process crashed mid-way through,
// then loads hint files where present and replays the rest of the log
// forward. Called once, from Open, before the DB is usable.
func (db *DB) recover() error {
	if err := resumeMergeIfNeeded(db.dir, db.opts.logger); err != nil {
		return fmt.Errorf("resume interrupted merge: %w", err)
	}

	ids, err := discoverSegmentIDs(db.dir)
	if err != nil {
		return err
	}

	db.idx = newIndex(db.opts.indexType)
	db.segments = make(map[int64]*segment)
	db.reclaimable = make(map[int64]int64)

	if len(ids) == 0 {
		seg, err := createSegment(db.dir, 1)
		if err != nil {
			return err
		}
		db.segments[1] = seg
		db.activeID = 1
		db.nextTxnSeq = 1
		return nil
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	maxID := ids[len(ids)-1]

	hintIDs, err := discoverHintIDs(db.dir)
	if err != nil {
		return err
	}

	for _, id := range ids {
		seg, err := openSegment(db.dir, id)
		if err != nil {
			return err
		}
		db.segments[id] = seg
	}

	pending := make(map[uint64][]scannedRecord)
	var maxTxnSeq uint64

	for _, id := range ids {
		seg := db.segments[id]

		if id != maxID && hintIDs.Contains(id) {
			entries, err := loadHintFile(db.dir, id)
			if err != nil {
				return err
			}
			for _, e := range entries {
				db.idx.put(e.key, e.ptr)
			}
			continue
		}

		originalSize := seg.size
		lastGood, scanErr := scanSegmentInto(seg, db.idx, pending, &maxTxnSeq)

		// Anything left unconsumed — a torn write, a bad varint, a CRC
		// mismatch — means the scan stopped before the segment's true end.
		// Tolerated only on the active segment (the one being written when a
		// crash could have torn its tail); the same condition in any sealed
		// segment means corruption that predates this process and can't be
		// explained by an in-flight write.
		if lastGood < originalSize {
			if id != maxID {
				return fmt.Errorf("%w: segment %d has unreadable bytes at offset %d of %d: %v",
					ErrCorruptLog, id, lastGood, originalSize, scanErr)
			}
			db.opts.logger.Warnw("truncating torn tail of active segment",
				"segment", id, "offset", lastGood, "discarded_bytes", originalSize-lastGood, "cause", scanErr)
			if err := seg.truncate(lastGood); err != nil {
				return err
			}
		}
	}

	db.activeID = maxID
	db.nextTxnSeq = maxTxnSeq + 1

	if err := warnOrphanedFiles(db.dir, ids, db.opts.logger); err != nil {
		return err
	}

	db.recomputeReclaimable()
	return nil
}

// scanSegmentInto replays one segment's records into idx, buffering
// members of not-yet-committed batches in pending until a matching
// TXN_COMMIT is seen. pending is shared across segments, so a batch whose
// members and commit landed on either side of a rotation is still applied,
// each member pointing at the segment it was read from. Entries still in
// pending after the last segment belong to a batch that never committed
// and are never applied — their bytes are picked up as reclaimable by
// recomputeReclaimable. It returns
// the offset of the last cleanly-parsed record boundary, which is exactly
// where an active segment's torn tail (if any) should be truncated to.
func scanSegmentInto(seg *segment, idx index, pending map[uint64][]scannedRecord, maxTxnSeq *uint64) (int64, error) {
	sc := newSegmentScanner(seg, 0)
	for sc.scan() {
		r := sc.record
		if r.txnSeq > *maxTxnSeq {
			*maxTxnSeq = r.txnSeq
		}

		if r.typ != RecordTxnCommit {
			r.fileID = seg.id
			pending[r.txnSeq] = append(pending[r.txnSeq], r)
			continue
		}

		members := pending[r.txnSeq]
		delete(pending, r.txnSeq)
		for _, m := range members {
			ptr := recordPointer{fileID: m.fileID, offset: m.offset, recordSize: m.totalLen}
			switch m.typ {
			case RecordNormal:
				idx.put(m.key, ptr)
			case RecordTombstone:
				idx.delete(m.key)
			}
		}
	}
	return sc.pos, sc.err
}

// recomputeReclaimable derives the stale-byte ledger from scratch: for
// each segment, whatever isn't currently reachable by a live index
// pointer is dead weight a merge could reclaim. This is simpler and more
// robust on the recovery path than tracking deltas record-by-record,
// since it automatically accounts for superseded records, tombstones,
// TXN_COMMIT markers, and discarded uncommitted batches in one pass.
func (db *DB) recomputeReclaimable() {
	live := make(map[int64]int64, len(db.segments))
	for _, e := range db.idx.orderedIter(false) {
		live[e.ptr.fileID] += e.ptr.recordSize
	}
	for id, seg := range db.segments {
		db.reclaimable[id] = seg.size - live[id]
	}
}
