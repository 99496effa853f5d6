package storage

import (
	"context"
	"testing"
)

func TestRecordPlayUpsertsPlayCount(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(newTestDB(t))

	first, err := store.RecordPlay(ctx, "vvvvvvvvvvv", "Title", "Channel", "https://thumb")
	if err != nil {
		t.Fatalf("record play: %v", err)
	}
	if first.PlayCount != 1 {
		t.Fatalf("expected play count 1, got %d", first.PlayCount)
	}

	second, err := store.RecordPlay(ctx, "vvvvvvvvvvv", "Title (updated)", "Channel", "https://thumb")
	if err != nil {
		t.Fatalf("record play again: %v", err)
	}
	if second.PlayCount != 2 {
		t.Fatalf("expected play count 2, got %d", second.PlayCount)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row id across upserts, got %d and %d", first.ID, second.ID)
	}
	if second.Title != "Title (updated)" {
		t.Fatalf("expected title to be refreshed, got %q", second.Title)
	}

	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected exactly one deduplicated history row, got %d", len(recent))
	}
}

func TestHistoryClear(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(newTestDB(t))
	_, _ = store.RecordPlay(ctx, "vvvvvvvvvvv", "Title", "Channel", "")

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	recent, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected empty history, got %d", len(recent))
	}
}
