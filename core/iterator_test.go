package core

import (
	"bytes"
	"errors"
	"testing"
)

func TestIteratorOrder(t *testing.T) {
	db, _ := setupTempDB(t)

	for _, k := range []string{"c", "a", "b"} {
		_ = db.Put([]byte(k), []byte(k))
	}

	it := db.NewIterator()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorReverse(t *testing.T) {
	db, _ := setupTempDB(t)

	for _, k := range []string{"a", "b", "c"} {
		_ = db.Put([]byte(k), []byte(k))
	}

	it := db.NewIterator(WithReverse())
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}

	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIteratorPrefix(t *testing.T) {
	db, _ := setupTempDB(t)

	for _, k := range []string{"user:1", "user:2", "order:1"} {
		_ = db.Put([]byte(k), []byte("v"))
	}

	it := db.NewIterator(WithPrefix([]byte("user:")))
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}

	if len(got) != 2 {
		t.Fatalf("got %v, want 2 user: keys", got)
	}
}

func TestIteratorValueTracksLiveIndex(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Put([]byte("k"), []byte("v1"))
	it := db.NewIterator()

	if !it.Next() {
		t.Fatalf("expected at least one entry")
	}

	// Mutate after the snapshot was taken but before Value is read.
	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	val, err := it.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if !bytes.Equal(val, []byte("v2")) {
		t.Errorf("expected iterator to see the live value v2, got %q", val)
	}
}

func TestIteratorValueAfterDeleteReturnsNotFound(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Put([]byte("k"), []byte("v"))
	it := db.NewIterator()
	if !it.Next() {
		t.Fatalf("expected at least one entry")
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := it.Value(); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for a key deleted after the snapshot, got %v", err)
	}
}

func TestIteratorKeySetFrozenAtCreation(t *testing.T) {
	db, _ := setupTempDB(t)

	_ = db.Put([]byte("a"), []byte("1"))
	it := db.NewIterator()

	// A key added after the iterator's snapshot must not appear.
	_ = db.Put([]byte("b"), []byte("2"))

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}

	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("expected snapshot to contain only [a], got %v", keys)
	}
}

func TestIteratorSeek(t *testing.T) {
	db, _ := setupTempDB(t)

	for _, k := range []string{"a", "c", "e"} {
		_ = db.Put([]byte(k), []byte(k))
	}

	it := db.NewIterator()
	if !it.Seek([]byte("b")) {
		t.Fatalf("expected Seek to land on c")
	}
	if string(it.Key()) != "c" {
		t.Errorf("got %q, want %q", it.Key(), "c")
	}
}

func TestIteratorSeekReverse(t *testing.T) {
	db, _ := setupTempDB(t)

	for _, k := range []string{"a", "c", "e"} {
		_ = db.Put([]byte(k), []byte(k))
	}

	// Entries descend e, c, a; seeking "d" in reverse must land on the
	// first key <= target, which is c.
	it := db.NewIterator(WithReverse())
	if !it.Seek([]byte("d")) {
		t.Fatalf("expected reverse Seek to land on c")
	}
	if string(it.Key()) != "c" {
		t.Errorf("got %q, want %q", it.Key(), "c")
	}

	var rest []string
	for it.Next() {
		rest = append(rest, string(it.Key()))
	}
	// after landing on c itself, continuing Next (not calling Seek again)
	// should not re-visit c.
	want := []string{"a"}
	if len(rest) != len(want) || rest[0] != want[0] {
		t.Errorf("got %v, want %v", rest, want)
	}
}
