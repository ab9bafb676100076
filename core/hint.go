package core

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
)

// Hint files are merge's sidecar index: one entry per live record a merge
// pass kept, letting recovery skip decoding a merged segment's record
// bodies entirely. Layout per entry: key_len(varint) | offset(varint) |
// record_size(varint) | key. github.com/natefinch/atomic writes the whole
// file via a temp-file-plus-rename, so a hint file is never observed
// half-written; unlike a data segment it needs no per-entry checksum.
func writeHintFile(dir string, id int64, entries []indexEntry) error {
	var buf bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)

	for _, e := range entries {
		n := binary.PutUvarint(tmp, uint64(len(e.key)))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp, uint64(e.ptr.offset))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp, uint64(e.ptr.recordSize))
		buf.Write(tmp[:n])
		buf.Write(e.key)
	}

	return atomic.WriteFile(hintPath(dir, id), &buf)
}

// loadHintFile reads back the entries writeHintFile wrote for segment id.
func loadHintFile(dir string, id int64) ([]indexEntry, error) {
	f, err := os.Open(hintPath(dir, id))
	if err != nil {
		return nil, fmt.Errorf("open hint %d: %w", id, err)
	}
	defer f.Close() // nolint:errcheck

	r := bufio.NewReader(f)
	var entries []indexEntry

	for {
		keyLen, err := binary.ReadUvarint(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%w: malformed hint file %d", ErrCorruptLog, id)
		}

		offset, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed hint file %d", ErrCorruptLog, id)
		}

		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed hint file %d", ErrCorruptLog, id)
		}

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("%w: malformed hint file %d", ErrCorruptLog, id)
		}

		entries = append(entries, indexEntry{
			key: key,
			ptr: recordPointer{fileID: id, offset: int64(offset), recordSize: int64(size)},
		})
	}

	return entries, nil
}
