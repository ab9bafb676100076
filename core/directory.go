package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/natefinch/atomic"
)

const (
	lockFileName        = "flock"
	mergeFinishedName   = "merge-finished"
	mergeStagingDirName = "merge-staging"
)

// stagingDir is the subdirectory of dir that merge writes its output
// segments into before the atomic cut-over (spec.md §4.8 step 3).
func stagingDir(dir string) string {
	return filepath.Join(dir, mergeStagingDirName)
}

func mergeFinishedPath(dir string) string {
	return filepath.Join(dir, mergeFinishedName)
}

// discoverSegmentIDs scans dir for "%09d.data" files and returns their
// file_ids in ascending order. Ill-formed names are reported as errors,
// matching spec.md §4.3: "Emits errors for ill-formed names."
func discoverSegmentIDs(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var ids []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, segExt) {
			continue
		}

		idStr := strings.TrimSuffix(name, segExt)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ill-formed segment filename %q: %w", name, err)
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// discoverHintIDs returns the set of file_ids that have a companion hint
// file in dir.
func discoverHintIDs(dir string) (mapset.Set[int64], error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	ids := mapset.NewSet[int64]()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, hintExt) {
			continue
		}
		idStr := strings.TrimSuffix(name, hintExt)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ill-formed hint filename %q: %w", name, err)
		}
		ids.Add(id)
	}
	return ids, nil
}

// warnOrphanedFiles logs (but does not fail on) data/hint files that exist
// on disk but fall outside the set of file_ids the caller expects —
// typically leftovers from a merge that crashed mid cut-over, tolerated
// the same way the teacher's checkOrphanedSegments tolerates a stale
// MANIFEST.
func warnOrphanedFiles(dir string, expected []int64, logger sugaredLogger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	want := mapset.NewSet[string]()
	for _, id := range expected {
		want.Add(segmentFileName(id))
		want.Add(hintFileName(id))
	}

	actual := mapset.NewSet[string]()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, segExt) || strings.HasSuffix(name, hintExt) {
			actual.Add(name)
		}
	}

	if orphans := actual.Difference(want); orphans.Cardinality() != 0 {
		logger.Warnw("orphaned segment/hint files found on open", "files", orphans.ToSlice())
	}

	return nil
}

// writeMergeFinishedMarker atomically records H+1, the first file_id a
// merge did not consume, so a crash between marker-write and cut-over can
// be resumed on the next open.
func writeMergeFinishedMarker(dir string, firstUnmerged int64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, uint64(firstUnmerged))
	return atomic.WriteFile(mergeFinishedPath(dir), bytes.NewReader(buf[:n]))
}

// readMergeFinishedMarker reads back the varint written by
// writeMergeFinishedMarker, if present.
func readMergeFinishedMarker(dir string) (firstUnmerged int64, present bool, err error) {
	f, err := os.Open(mergeFinishedPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open merge marker: %w", err)
	}
	defer f.Close() // nolint:errcheck

	data, err := io.ReadAll(f)
	if err != nil {
		return 0, false, fmt.Errorf("read merge marker: %w", err)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, false, fmt.Errorf("%w: malformed merge marker", ErrCorruptLog)
	}

	return int64(v), true, nil
}
