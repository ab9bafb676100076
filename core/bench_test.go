package core

import (
	"context"
	"fmt"
	"testing"
)

func Benchmark_Get(b *testing.B) {
	db, _ := setupTempDB(b)

	for i := 0; i < 10000; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		if err := db.Put(key, []byte("v")); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}

	key := []byte("k0050")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.Get(key); err != nil {
			b.Fatalf("Get: %v", err)
		}
	}
}

func Benchmark_Put(b *testing.B) {
	db, _ := setupTempDB(b)

	val := []byte("v")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := []byte(fmt.Sprintf("k%07d", i))
		if err := db.Put(key, val); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}
}

func Benchmark_Put_SyncWrites(b *testing.B) {
	db, _ := setupTempDB(b, WithSyncWrites(true))

	val := []byte("v")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := []byte(fmt.Sprintf("k%07d", i))
		if err := db.Put(key, val); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}
}

func Benchmark_Batch_Put(b *testing.B) {
	db, _ := setupTempDB(b, WithBatchMaxSize(100))

	val := []byte("v")
	b.ResetTimer()
	for i := 0; i < b.N; i += 100 {
		batch := db.NewBatch()
		for j := i; j < i+100 && j < b.N; j++ {
			key := []byte(fmt.Sprintf("k%07d", j))
			if err := batch.Put(key, val); err != nil {
				b.Fatalf("batch.Put: %v", err)
			}
		}
		if err := batch.Commit(); err != nil {
			b.Fatalf("batch.Commit: %v", err)
		}
	}
}

func Benchmark_Merge(b *testing.B) {
	db, _ := setupTempDB(b, WithMaxFileSize(1<<16), WithMergeRatio(0.1))

	val := []byte("v")
	for i := 0; i < 5000; i++ {
		key := []byte(fmt.Sprintf("k%04d", i%200))
		if err := db.Put(key, val); err != nil {
			b.Fatalf("Put: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := db.Merge(context.Background()); err != nil {
			b.Fatalf("Merge: %v", err)
		}
	}
}
