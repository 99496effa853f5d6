package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// HistoryStore is the deduplicated play-count ledger, one row per
// distinct SourceID.
type HistoryStore struct {
	db *DB
	mu sync.Mutex
}

// NewHistoryStore returns a HistoryStore backed by db.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// RecordPlay upserts a play: if a row for sourceID exists, play_count is
// incremented and last_played_at updated; otherwise a new row is
// inserted with play_count=1 and first_played_at == last_played_at.
func (s *HistoryStore) RecordPlay(ctx context.Context, sourceID, title, channel, thumbnailURL string) (HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (source_id, title, channel, thumbnail_url, play_count, first_played_at, last_played_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			title = excluded.title,
			channel = excluded.channel,
			thumbnail_url = excluded.thumbnail_url,
			play_count = play_count + 1,
			last_played_at = excluded.last_played_at`,
		sourceID, title, channel, thumbnailURL, now, now,
	)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("upsert history: %w", err)
	}

	e, found, err := scanOneHistoryEntry(s.db.QueryRowContext(ctx, selectHistoryColumns+" FROM history WHERE source_id = ?", sourceID))
	if err != nil {
		return HistoryEntry{}, err
	}
	if !found {
		return HistoryEntry{}, fmt.Errorf("history row missing immediately after upsert for %s", sourceID)
	}
	return e, nil
}

// GetBySourceID returns the history row for sourceID, if any.
func (s *HistoryStore) GetBySourceID(ctx context.Context, sourceID string) (HistoryEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scanOneHistoryEntry(s.db.QueryRowContext(ctx, selectHistoryColumns+" FROM history WHERE source_id = ?", sourceID))
}

// Recent returns up to limit entries ordered by last_played_at DESC.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, selectHistoryColumns+" FROM history ORDER BY last_played_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		e, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear deletes all history rows.
func (s *HistoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM history")
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

const selectHistoryColumns = "SELECT id, source_id, title, channel, thumbnail_url, play_count, first_played_at, last_played_at"

func scanHistoryRow(r rowScanner) (HistoryEntry, error) {
	var e HistoryEntry
	var channel, thumb sql.NullString
	var first, last string
	if err := r.Scan(&e.ID, &e.SourceID, &e.Title, &channel, &thumb, &e.PlayCount, &first, &last); err != nil {
		return HistoryEntry{}, fmt.Errorf("scan history row: %w", err)
	}
	e.Channel = channel.String
	e.ThumbnailURL = thumb.String
	if t, err := time.Parse(time.RFC3339Nano, first); err == nil {
		e.FirstPlayedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
		e.LastPlayedAt = t
	}
	return e, nil
}

func scanOneHistoryEntry(r rowScanner) (HistoryEntry, bool, error) {
	e, err := scanHistoryRow(r)
	if err != nil {
		if isNoRows(err) {
			return HistoryEntry{}, false, nil
		}
		return HistoryEntry{}, false, err
	}
	return e, true, nil
}
