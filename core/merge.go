package core

import (
	"context"
	"fmt"
	"os"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

// Merge reclaims space from stale and deleted records. It seals the
// active segment and opens a new one so foreground writers continue
// unobstructed, then picks the longest run of sealed segments, starting
// from the lowest id, whose stale fraction each reaches mergeRatio; the
// last id of that run is the merge horizon, which can be below the
// just-sealed segment's id. It rewrites every live record held in that
// run into a fresh set of fully-live segments inside a staging directory,
// and cuts the result over atomically in place of the segments it
// consumed. If the lowest sealed segment falls below the ratio, nothing
// is rewritten. Only one merge
// runs at a time; a concurrent call returns ErrMergeInProgress rather
// than blocking.
func (db *DB) Merge(ctx context.Context) error {
	if !db.mergeSem.TryAcquire(1) {
		return ErrMergeInProgress
	}
	defer db.mergeSem.Release(1)

	db.writeMu.Lock()
	db.mu.RLock()
	closed := db.closed
	horizonCeiling := db.activeID
	db.mu.RUnlock()
	if closed {
		db.writeMu.Unlock()
		return ErrDBClosed
	}

	// Seal the active segment and open a new active A' before looking at
	// anything else: everything with file_id <= this seal's id is fixed
	// as merge input from this point on, and foreground writes land only
	// in A' or later, so they can never be touched by this pass.
	if _, err := db.rotate(); err != nil {
		db.writeMu.Unlock()
		return fmt.Errorf("seal active segment for merge: %w", err)
	}
	db.writeMu.Unlock()

	db.mu.RLock()
	allSealed := make([]int64, 0, len(db.segments))
	for id := range db.segments {
		if id <= horizonCeiling {
			allSealed = append(allSealed, id)
		}
	}
	sort.Slice(allSealed, func(i, j int) bool { return allSealed[i] < allSealed[j] })

	// The merged set must be a contiguous prefix {id : id <= H}: the
	// merge-finished marker records only H+1, so resuming an interrupted
	// cut-over after a crash has to be able to infer the exact set from
	// that one number. Stop at the first segment whose stale fraction of
	// its size doesn't clear the ratio even if a later one would, rather than leaving a
	// gap the marker can't describe.
	var sealedIDs []int64
	for _, id := range allSealed {
		seg := db.segments[id]
		if seg.size == 0 || float64(db.reclaimable[id])/float64(seg.size) < db.opts.mergeRatio {
			break
		}
		sealedIDs = append(sealedIDs, id)
	}
	db.mu.RUnlock()

	if len(sealedIDs) == 0 {
		return nil
	}
	horizon := sealedIDs[len(sealedIDs)-1] // H: highest sealed file_id this pass consumes

	stage := stagingDir(db.dir)
	if err := os.RemoveAll(stage); err != nil {
		return fmt.Errorf("clear stale staging dir: %w", err)
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	out, err := db.rewriteLive(stage, sealedIDs)
	if err != nil {
		return err
	}

	grp, _ := errgroup.WithContext(ctx)
	for _, seg := range out.segments {
		seg := seg
		grp.Go(seg.sync)
	}
	if err := grp.Wait(); err != nil {
		return fmt.Errorf("sync merge output: %w", err)
	}

	for id, entries := range out.hints {
		if err := writeHintFile(stage, id, entries); err != nil {
			return fmt.Errorf("write hint for staged segment %d: %w", id, err)
		}
	}

	if err := writeMergeFinishedMarker(stage, horizon+1); err != nil {
		return fmt.Errorf("write merge-finished marker: %w", err)
	}

	return db.cutover(stage, sealedIDs, out)
}

// mergeOutput is what rewriteLive produces: the staged segments it wrote,
// plus the live (key, pointer) pairs landing in each one for hint-file
// emission.
type mergeOutput struct {
	segments []*segment
	hints    map[int64][]indexEntry
}

// rewriteLive copies every currently-live record whose pointer falls in a
// sealed segment into fresh segments under stage, packing them up to
// maxFileSize each. The merge database's file_id space starts fresh at 1,
// independent of the live directory's, per spec step 3; cutover later
// moves these ids directly into the live directory, which is safe
// because a compaction pass can never need more output segments than
// input segments, so the highest id it produces is always <= the merge
// horizon H. Using the live index as the source of truth (rather than
// re-scanning the raw sealed segments record-by-record) means
// tombstones, superseded writes, and any uncommitted batch debris are
// already excluded — only what Get would actually return today survives.
func (db *DB) rewriteLive(stage string, sealedIDs []int64) (*mergeOutput, error) {
	sealed := mapset.NewSet(sealedIDs...)

	db.mu.RLock()
	entries := db.idx.orderedIter(false)
	segByID := make(map[int64]*segment, len(db.segments))
	for id, seg := range db.segments {
		segByID[id] = seg
	}
	db.mu.RUnlock()

	out := &mergeOutput{hints: make(map[int64][]indexEntry)}

	var cur *segment
	nextID := int64(1)
	newStagedSegment := func() error {
		seg, err := createSegment(stage, nextID)
		if err != nil {
			return err
		}
		out.segments = append(out.segments, seg)
		cur = seg
		nextID++
		return nil
	}
	if err := newStagedSegment(); err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !sealed.Contains(e.ptr.fileID) {
			continue // live but in the active segment or a later, not-yet-sealed one
		}

		src, ok := segByID[e.ptr.fileID]
		if !ok {
			return nil, fmt.Errorf("%w: sealed segment %d missing during merge", ErrCorruptLog, e.ptr.fileID)
		}
		rec, _, err := src.readAt(e.ptr.offset)
		if err != nil {
			return nil, fmt.Errorf("reread live record during merge: %w", err)
		}

		// Merge output carries no TXN_COMMIT of its own; recovery loads it
		// via its hint file instead of a forward scan, so the record needs
		// no batch linkage. Zeroing txn_seq keeps the rewritten bytes from
		// looking like part of some future batch if ever scanned directly.
		rec.txnSeq = 0
		encoded := encodeRecord(rec)

		if cur.size+int64(len(encoded)) > db.opts.maxFileSize {
			if err := newStagedSegment(); err != nil {
				return nil, err
			}
		}

		off, err := cur.append(encoded, false)
		if err != nil {
			return nil, err
		}

		newPtr := recordPointer{fileID: cur.id, offset: off, recordSize: int64(len(encoded))}
		out.hints[cur.id] = append(out.hints[cur.id], indexEntry{key: e.key, ptr: newPtr})
	}

	return out, nil
}

// cutover closes the staged segments, moves them and their hints into
// the live directory in place of the segments this pass consumed,
// repoints the live index at the ones whose key is still owned by a
// just-merged segment, drops the consumed sealed segments, and removes
// the staging directory.
func (db *DB) cutover(stage string, sealedIDs []int64, out *mergeOutput) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	staged := make([]int64, len(out.segments))
	hintSet := mapset.NewSet[int64]()
	for i, seg := range out.segments {
		staged[i] = seg.id
		if err := seg.close(); err != nil {
			return fmt.Errorf("close staged segment %d: %w", seg.id, err)
		}
		if _, ok := out.hints[seg.id]; ok {
			hintSet.Add(seg.id)
		}
	}

	if err := finishCutover(db.dir, stage, sealedIDs, staged, hintSet); err != nil {
		return err
	}

	for _, id := range sealedIDs {
		if seg, ok := db.segments[id]; ok {
			_ = seg.close()
			delete(db.segments, id)
		}
		delete(db.reclaimable, id)
	}

	for oldID, entries := range out.hints {
		newID := oldID // the merge DB's own id space is reused verbatim in the live directory

		seg, err := openSegment(db.dir, newID)
		if err != nil {
			return fmt.Errorf("reopen merged segment %d: %w", newID, err)
		}
		db.segments[newID] = seg

		for _, e := range entries {
			newPtr := recordPointer{fileID: newID, offset: e.ptr.offset, recordSize: e.ptr.recordSize}
			// Only repoint the index if the key still belongs to one of the
			// segments this pass consumed: a write that landed after merge
			// took its snapshot but before this lock must win, not be
			// clobbered by the now-stale pointer merge computed for it.
			if cur, ok := db.idx.get(e.key); ok && sealedContains(sealedIDs, cur.fileID) {
				db.idx.put(e.key, newPtr)
			}
		}
	}

	db.opts.logger.Infow("merge complete", "segments_in", len(sealedIDs), "segments_out", len(staged))
	return nil
}

// finishCutover performs only the file-system side of a cut-over: moving
// the staged segments (and their hints, where present) into dir under
// the same ids the merge database assigned them, and removing whichever
// consumed sealed segments weren't directly replaced by one of those
// renames. A compaction pass can never need more output segments than
// it consumed, so the merge database's own 1-based id space always maps
// into ids <= H — never into the new active segment's id, which is
// always > H. Having no in-memory effects lets it double as the
// crash-recovery path in resumeMergeIfNeeded, called before a DB's index
// even exists — the subsequent full recovery scan rebuilds the index
// from whatever ends up on disk once this returns.
func finishCutover(dir, stage string, sealedIDs, staged []int64, hintIDs mapset.Set[int64]) error {
	targets := mapset.NewSet(staged...)

	for _, id := range staged {
		if err := os.Rename(segmentPath(stage, id), segmentPath(dir, id)); err != nil {
			return fmt.Errorf("move merged segment %d into place: %w", id, err)
		}
		if hintIDs.Contains(id) {
			if err := os.Rename(hintPath(stage, id), hintPath(dir, id)); err != nil {
				return fmt.Errorf("move merged hint %d into place: %w", id, err)
			}
		} else {
			_ = os.Remove(hintPath(dir, id))
		}
	}

	if err := fsyncDir(dir); err != nil {
		return err
	}

	for _, id := range sealedIDs {
		if targets.Contains(id) {
			continue // already replaced in place by the rename above
		}
		_ = os.Remove(segmentPath(dir, id))
		_ = os.Remove(hintPath(dir, id))
	}

	return os.RemoveAll(stage)
}

// resumeMergeIfNeeded finishes (or abandons) a merge a previous process
// crashed in the middle of. Called from recover before any segment or
// index state exists. A staging directory with no merge-finished marker
// means the crash happened before the rewrite finished and the staging
// directory is safe to discard outright; one with the marker means only
// the cut-over itself was interrupted, and gets redone from the marker's
// recorded horizon.
func resumeMergeIfNeeded(dir string, logger sugaredLogger) error {
	stage := stagingDir(dir)
	if _, err := os.Stat(stage); os.IsNotExist(err) {
		return nil
	}

	firstUnmerged, present, err := readMergeFinishedMarker(stage)
	if err != nil {
		return err
	}
	if !present {
		logger.Warnw("discarding incomplete merge staging directory", "dir", stage)
		return os.RemoveAll(stage)
	}

	ids, err := discoverSegmentIDs(dir)
	if err != nil {
		return err
	}

	var sealedIDs []int64
	for _, id := range ids {
		if id < firstUnmerged {
			sealedIDs = append(sealedIDs, id)
		}
	}

	staged, err := discoverSegmentIDs(stage)
	if err != nil {
		return err
	}
	hintIDs, err := discoverHintIDs(stage)
	if err != nil {
		return err
	}

	logger.Infow("resuming interrupted merge cut-over", "horizon", firstUnmerged-1)
	return finishCutover(dir, stage, sealedIDs, staged, hintIDs)
}

func sealedContains(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
