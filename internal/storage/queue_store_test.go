package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueuePositionsRemainContiguous(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore(newTestDB(t))

	a, err := store.Append(ctx, QueueEntry{SourceID: "aaaaaaaaaaa", Title: "A"})
	if err != nil {
		t.Fatalf("append A: %v", err)
	}
	b, err := store.Append(ctx, QueueEntry{SourceID: "bbbbbbbbbbb", Title: "B"})
	if err != nil {
		t.Fatalf("append B: %v", err)
	}
	c, err := store.Append(ctx, QueueEntry{SourceID: "ccccccccccc", Title: "C"})
	if err != nil {
		t.Fatalf("append C: %v", err)
	}

	assertPositions(t, ctx, store, []int64{a.ID, b.ID, c.ID})

	if err := store.Reorder(ctx, []int64{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	assertPositions(t, ctx, store, []int64{c.ID, a.ID, b.ID})

	if err := store.Remove(ctx, a.ID); err != nil {
		t.Fatalf("remove a: %v", err)
	}
	assertPositions(t, ctx, store, []int64{c.ID, b.ID})
}

func assertPositions(t *testing.T, ctx context.Context, store *QueueStore, wantIDs []int64) {
	t.Helper()
	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != len(wantIDs) {
		t.Fatalf("expected %d entries, got %d", len(wantIDs), len(entries))
	}
	for i, e := range entries {
		if e.Position != i {
			t.Fatalf("entry %d has position %d, want %d", e.ID, e.Position, i)
		}
		if e.ID != wantIDs[i] {
			t.Fatalf("entry at position %d has id %d, want %d", i, e.ID, wantIDs[i])
		}
	}
}

func TestReorderRejectsSetMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore(newTestDB(t))

	a, _ := store.Append(ctx, QueueEntry{SourceID: "aaaaaaaaaaa", Title: "A"})
	_, _ = store.Append(ctx, QueueEntry{SourceID: "bbbbbbbbbbb", Title: "B"})

	if err := store.Reorder(ctx, []int64{a.ID, 9999}); err == nil {
		t.Fatalf("expected error reordering with an unknown id")
	}
	if err := store.Reorder(ctx, []int64{a.ID}); err == nil {
		t.Fatalf("expected error reordering with too few ids")
	}
}

func TestPopCurrentAdvancesQueue(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore(newTestDB(t))

	a, _ := store.Append(ctx, QueueEntry{SourceID: "aaaaaaaaaaa", Title: "A"})
	b, _ := store.Append(ctx, QueueEntry{SourceID: "bbbbbbbbbbb", Title: "B"})

	popped, ok, err := store.PopCurrent(ctx)
	if err != nil || !ok {
		t.Fatalf("pop current: ok=%v err=%v", ok, err)
	}
	if popped.ID != a.ID {
		t.Fatalf("expected to pop A, got %d", popped.ID)
	}

	next, ok, err := store.PeekNext(ctx)
	if err != nil {
		t.Fatalf("peek next: %v", err)
	}
	if ok {
		t.Fatalf("expected no next entry with only one item left, got %+v", next)
	}

	assertPositions(t, ctx, store, []int64{b.ID})

	if _, ok, err := store.PopCurrent(ctx); err != nil || !ok {
		t.Fatalf("pop current second: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.PopCurrent(ctx); err != nil || ok {
		t.Fatalf("expected empty queue, ok=%v err=%v", ok, err)
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore(newTestDB(t))
	_, _ = store.Append(ctx, QueueEntry{SourceID: "aaaaaaaaaaa", Title: "A"})
	_, _ = store.Append(ctx, QueueEntry{SourceID: "bbbbbbbbbbb", Title: "B"})

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(entries))
	}
}
