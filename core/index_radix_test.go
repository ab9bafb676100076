package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
)

// These mirror a representative cross-section of the balanced-tree tests
// in db_test.go/merge_test.go, but pin WithIndexType(IndexRadixTree) so
// the radix-backed index variant actually gets exercised rather than
// just existing unreferenced behind the interface.

func TestRadixIndexPutGetDelete(t *testing.T) {
	db, _ := setupTempDB(t, WithIndexType(IndexRadixTree))

	if err := db.Put([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, err := db.Get([]byte("foo"))
	if err != nil || !bytes.Equal(val, []byte("bar")) {
		t.Errorf("got %q, %v; want %q", val, err, "bar")
	}

	if err := db.Delete([]byte("foo")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("foo")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestRadixIndexOrderedListing(t *testing.T) {
	db, _ := setupTempDB(t, WithIndexType(IndexRadixTree))

	for _, k := range []string{"banana", "apple", "cherry"} {
		_ = db.Put([]byte(k), []byte("v"))
	}

	keys := db.ListKeys()
	want := []string{"apple", "banana", "cherry"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if string(k) != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, k, want[i])
		}
	}
}

func TestRadixIndexPersistenceAcrossReopen(t *testing.T) {
	db, dir := setupTempDB(t, WithIndexType(IndexRadixTree))

	_ = db.Put([]byte("a"), []byte("1"))
	_ = db.Put([]byte("b"), []byte("2"))
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, WithIndexType(IndexRadixTree))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close() // nolint:errcheck

	if v, err := db2.Get([]byte("a")); err != nil || !bytes.Equal(v, []byte("1")) {
		t.Errorf("a: got %q, %v", v, err)
	}
	if v, err := db2.Get([]byte("b")); err != nil || !bytes.Equal(v, []byte("2")) {
		t.Errorf("b: got %q, %v", v, err)
	}
}

func TestRadixIndexIteratorReverseAndPrefix(t *testing.T) {
	db, _ := setupTempDB(t, WithIndexType(IndexRadixTree))

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		_ = db.Put([]byte(k), []byte("v"))
	}

	it := db.NewIterator(WithPrefix([]byte("user:")), WithReverse())
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"user:2", "user:1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRadixIndexMergeReclaimsSpace(t *testing.T) {
	db, _ := setupTempDB(t, WithIndexType(IndexRadixTree), WithMaxFileSize(64), WithMergeRatio(0.1))

	for i := 0; i < 30; i++ {
		if err := db.Put([]byte("k"), []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	before, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if err := db.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	after, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats after merge: %v", err)
	}
	if after.DiskSize >= before.DiskSize {
		t.Errorf("expected merge to shrink disk size: before=%d after=%d", before.DiskSize, after.DiskSize)
	}

	got, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(got, []byte("v29")) {
		t.Errorf("expected latest value to survive merge, got %q, %v", got, err)
	}
}
