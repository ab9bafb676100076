package core

import "bytes"

// Iterator walks a snapshot of the key space taken when it was created.
// The set and order of keys is frozen at that instant; values are
// resolved against the live index on every call to Value, so an update or
// deletion made after the iterator was created is reflected immediately.
type Iterator struct {
	db      *DB
	entries []indexEntry
	pos     int
	reverse bool
}

type iterConfig struct {
	reverse bool
	prefix  []byte
}

// IterOption configures a new Iterator.
type IterOption func(*iterConfig)

// WithReverse walks keys from largest to smallest.
func WithReverse() IterOption {
	return func(c *iterConfig) { c.reverse = true }
}

// WithPrefix restricts iteration to keys sharing prefix.
func WithPrefix(prefix []byte) IterOption {
	return func(c *iterConfig) { c.prefix = prefix }
}

// NewIterator takes an ordered snapshot of the key space and returns an
// iterator over it.
func (db *DB) NewIterator(opts ...IterOption) *Iterator {
	var cfg iterConfig
	for _, o := range opts {
		o(&cfg)
	}

	db.mu.RLock()
	all := db.idx.orderedIter(cfg.reverse)
	db.mu.RUnlock()

	entries := all
	if len(cfg.prefix) > 0 {
		filtered := make([]indexEntry, 0, len(all))
		for _, e := range all {
			if bytes.HasPrefix(e.key, cfg.prefix) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return &Iterator{db: db, entries: entries, pos: -1, reverse: cfg.reverse}
}

// Rewind resets the iterator to just before its first entry.
func (it *Iterator) Rewind() {
	it.pos = -1
}

// Next advances to the next entry, returning false once exhausted.
func (it *Iterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

// Seek advances to the first entry at or after target in the iterator's
// direction — the first key >= target when iterating forward, the first
// key <= target when iterating in reverse — returning false if none
// remains.
func (it *Iterator) Seek(target []byte) bool {
	for i := it.pos; i < len(it.entries); i++ {
		if i < 0 {
			continue
		}
		cmp := bytes.Compare(it.entries[i].key, target)
		if (!it.reverse && cmp >= 0) || (it.reverse && cmp <= 0) {
			it.pos = i
			return true
		}
	}
	it.pos = len(it.entries)
	return false
}

// Valid reports whether the iterator currently sits on an entry.
func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

// Key returns the current entry's key.
func (it *Iterator) Key() []byte {
	return it.entries[it.pos].key
}

// Value resolves the current entry's key against the live index, not the
// snapshot pointer: a key overwritten since the snapshot yields its new
// value, and a key deleted since the snapshot yields ErrKeyNotFound.
func (it *Iterator) Value() ([]byte, error) {
	return it.db.Get(it.entries[it.pos].key)
}
