package core

// Batch stages multiple mutations for atomic commit: every staged write
// becomes visible together or not at all, linearized on disk by a single
// trailing TXN_COMMIT record. Staging a key more than once keeps only the
// last write (last-write-wins), matching Put/Delete semantics within the
// batch itself.
type Batch struct {
	db      *DB
	maxSize int

	order []string          // key insertion order, for deterministic replay
	ops   map[string]record // keyed by string(key); last write wins
}

// NewBatch returns an empty batch bound to db.
func (db *DB) NewBatch() *Batch {
	return &Batch{db: db, maxSize: db.opts.batchMaxSize, ops: make(map[string]record)}
}

// Put stages a key/value write.
func (b *Batch) Put(key, value []byte) error {
	return b.stage(record{
		typ:   RecordNormal,
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

// Delete stages a key deletion.
func (b *Batch) Delete(key []byte) error {
	return b.stage(record{typ: RecordTombstone, key: append([]byte(nil), key...)})
}

func (b *Batch) stage(rec record) error {
	if len(rec.key) == 0 {
		return ErrEmptyKey
	}

	k := string(rec.key)
	if _, exists := b.ops[k]; !exists {
		if len(b.ops) >= b.maxSize {
			return ErrBatchTooLarge
		}
		b.order = append(b.order, k)
	}
	b.ops[k] = rec
	return nil
}

// Commit writes every staged mutation as one atomic unit. Committing an
// empty batch is a no-op. A Batch must not be reused after Commit.
func (b *Batch) Commit() error {
	if len(b.order) == 0 {
		return nil
	}

	members := make([]record, 0, len(b.order))
	for _, k := range b.order {
		members = append(members, b.ops[k])
	}
	return b.db.writeBatch(members)
}
