package core

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	iradix "github.com/hashicorp/go-immutable-radix"
)

// recordPointer locates a live record in the log: which segment, what
// offset, and how many bytes it occupies on disk.
type recordPointer struct {
	fileID     int64
	offset     int64
	recordSize int64
}

// indexEntry is one (key, pointer) pair as yielded by orderedIter.
type indexEntry struct {
	key []byte
	ptr recordPointer
}

// index is the capability set spec.md §4.4 names. Two implementations
// share it so the write-ahead engine and the iterator bind to the
// interface, never to a concrete tree type.
type index interface {
	put(key []byte, ptr recordPointer) (old recordPointer, hadOld bool)
	get(key []byte) (recordPointer, bool)
	delete(key []byte) (old recordPointer, hadOld bool)
	size() int
	// orderedIter returns a snapshot, ordered lexicographically (reversed
	// if requested), of every key present at call time. Later mutations
	// never alter an already-returned snapshot.
	orderedIter(reverse bool) []indexEntry
}

// IndexType selects which ordered-map implementation backs a DB's index.
type IndexType int

const (
	// IndexBalancedTree is a balanced ordered tree (github.com/google/btree).
	IndexBalancedTree IndexType = iota
	// IndexRadixTree is an adaptive/immutable radix tree
	// (github.com/hashicorp/go-immutable-radix), cheaper on memory for
	// keys with long shared prefixes.
	IndexRadixTree
)

func newIndex(t IndexType) index {
	if t == IndexRadixTree {
		return newRadixIndex()
	}
	return newBTreeIndex()
}

// btreeItem adapts a key+pointer pair to btree.Item.
type btreeItem struct {
	key []byte
	ptr recordPointer
}

func (a btreeItem) Less(other btree.Item) bool {
	return bytes.Compare(a.key, other.(btreeItem).key) < 0
}

// btreeIndex is the balanced-ordered-tree variant. google/btree isn't
// safe for concurrent use on its own, so point operations and snapshot
// iteration are serialized behind a single RWMutex, same as the teacher's
// approach of guarding db.index with db.rw.
type btreeIndex struct {
	mu sync.RWMutex
	t  *btree.BTree
	n  int
}

func newBTreeIndex() *btreeIndex {
	return &btreeIndex{t: btree.New(32)}
}

func (ix *btreeIndex) put(key []byte, ptr recordPointer) (recordPointer, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	item := btreeItem{key: append([]byte(nil), key...), ptr: ptr}
	prev := ix.t.ReplaceOrInsert(item)
	if prev == nil {
		ix.n++
		return recordPointer{}, false
	}
	return prev.(btreeItem).ptr, true
}

func (ix *btreeIndex) get(key []byte) (recordPointer, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	it := ix.t.Get(btreeItem{key: key})
	if it == nil {
		return recordPointer{}, false
	}
	return it.(btreeItem).ptr, true
}

func (ix *btreeIndex) delete(key []byte) (recordPointer, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	it := ix.t.Delete(btreeItem{key: key})
	if it == nil {
		return recordPointer{}, false
	}
	ix.n--
	return it.(btreeItem).ptr, true
}

func (ix *btreeIndex) size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.n
}

func (ix *btreeIndex) orderedIter(reverse bool) []indexEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]indexEntry, 0, ix.n)
	visit := func(item btree.Item) bool {
		bi := item.(btreeItem)
		out = append(out, indexEntry{key: append([]byte(nil), bi.key...), ptr: bi.ptr})
		return true
	}

	if reverse {
		ix.t.Descend(visit)
	} else {
		ix.t.Ascend(visit)
	}
	return out
}

// radixIndex is the adaptive-radix-tree variant. go-immutable-radix trees
// are persistent: every mutation returns a new root and the old one stays
// valid. That makes an already-built tree itself a correct ordered
// snapshot — orderedIter just grabs the current root under the lock and
// walks it without holding the lock any longer.
type radixIndex struct {
	mu   sync.RWMutex
	tree *iradix.Tree
	n    int
}

func newRadixIndex() *radixIndex {
	return &radixIndex{tree: iradix.New()}
}

func (ix *radixIndex) put(key []byte, ptr recordPointer) (recordPointer, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	newTree, old, hadOld := ix.tree.Insert(key, ptr)
	ix.tree = newTree
	if !hadOld {
		ix.n++
		return recordPointer{}, false
	}
	return old.(recordPointer), true
}

func (ix *radixIndex) get(key []byte) (recordPointer, bool) {
	ix.mu.RLock()
	tree := ix.tree
	ix.mu.RUnlock()

	v, ok := tree.Get(key)
	if !ok {
		return recordPointer{}, false
	}
	return v.(recordPointer), true
}

func (ix *radixIndex) delete(key []byte) (recordPointer, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	newTree, old, hadOld := ix.tree.Delete(key)
	ix.tree = newTree
	if !hadOld {
		return recordPointer{}, false
	}
	ix.n--
	return old.(recordPointer), true
}

func (ix *radixIndex) size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.n
}

func (ix *radixIndex) orderedIter(reverse bool) []indexEntry {
	ix.mu.RLock()
	tree := ix.tree
	n := ix.n
	ix.mu.RUnlock()

	out := make([]indexEntry, 0, n)
	it := tree.Root().Iterator()
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, indexEntry{key: append([]byte(nil), k...), ptr: v.(recordPointer)})
	}

	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
