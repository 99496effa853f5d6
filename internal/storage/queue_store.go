package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"airwaves/internal/apperr"
)

// QueueStore is the ordered, durable playlist. All writes are serialized
// by a store-level mutex plus a database transaction; after any write,
// `SELECT position FROM queue ORDER BY position` yields 0, 1, ..., N-1.
type QueueStore struct {
	db *DB
	mu sync.Mutex
}

// NewQueueStore returns a QueueStore backed by db.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// Append assigns position = max(position)+1 (or 0 if empty) and persists
// a new entry.
func (s *QueueStore) Append(ctx context.Context, e QueueEntry) (QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QueueEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxPos sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(position) FROM queue").Scan(&maxPos); err != nil {
		return QueueEntry{}, fmt.Errorf("query max position: %w", err)
	}
	position := 0
	if maxPos.Valid {
		position = int(maxPos.Int64) + 1
	}

	if e.Kind == "" {
		e.Kind = KindPrimary
	}
	e.Position = position
	e.CreatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO queue (source_id, title, channel, thumbnail_url, kind, week_tag, position, skip_post_processing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SourceID, e.Title, e.Channel, e.ThumbnailURL, e.Kind, e.WeekTag, e.Position, boolToInt(e.SkipPostProcessing), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return QueueEntry{}, fmt.Errorf("insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return QueueEntry{}, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id

	if err := tx.Commit(); err != nil {
		return QueueEntry{}, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// Remove deletes the row with the given entry ID and renumbers remaining
// rows so positions stay 0..N-1 contiguous. Returns apperr.StateConflict
// if the entry does not exist.
func (s *QueueStore) Remove(ctx context.Context, entryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var removedPos int
	err = tx.QueryRowContext(ctx, "SELECT position FROM queue WHERE id = ?", entryID).Scan(&removedPos)
	if err == sql.ErrNoRows {
		return apperr.E(apperr.StateConflict, "queue entry not found", nil)
	}
	if err != nil {
		return fmt.Errorf("query position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue WHERE id = ?", entryID); err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE queue SET position = position - 1 WHERE position > ?", removedPos); err != nil {
		return fmt.Errorf("renumber queue: %w", err)
	}

	return tx.Commit()
}

// Reorder atomically rewrites positions to match the given order of
// entry IDs. It rejects the request with apperr.InputInvalid if the
// input is not exactly the current set of entry IDs.
func (s *QueueStore) Reorder(ctx context.Context, orderedIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM queue")
	if err != nil {
		return fmt.Errorf("query current ids: %w", err)
	}
	current := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan id: %w", err)
		}
		current[id] = true
	}
	rows.Close()

	if len(orderedIDs) != len(current) {
		return apperr.E(apperr.InputInvalid, "reorder set does not match current queue", nil)
	}
	seen := make(map[int64]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if !current[id] || seen[id] {
			return apperr.E(apperr.InputInvalid, "reorder set does not match current queue", nil)
		}
		seen[id] = true
	}

	for pos, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, "UPDATE queue SET position = ? WHERE id = ?", pos, id); err != nil {
			return fmt.Errorf("update position: %w", err)
		}
	}

	return tx.Commit()
}

// PopCurrent removes the entry at position 0, renumbers, and returns it.
// Returns (QueueEntry{}, false, nil) if the queue is empty.
func (s *QueueStore) PopCurrent(ctx context.Context) (QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QueueEntry{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	e, found, err := scanOneQueueEntry(tx.QueryRowContext(ctx, selectQueueColumns+" FROM queue WHERE position = 0"))
	if err != nil {
		return QueueEntry{}, false, err
	}
	if !found {
		return QueueEntry{}, false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue WHERE id = ?", e.ID); err != nil {
		return QueueEntry{}, false, fmt.Errorf("delete queue entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE queue SET position = position - 1 WHERE position > 0"); err != nil {
		return QueueEntry{}, false, fmt.Errorf("renumber queue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return QueueEntry{}, false, fmt.Errorf("commit: %w", err)
	}
	return e, true, nil
}

// PeekCurrent returns the row at position 0 without removing it, if any.
func (s *QueueStore) PeekCurrent(ctx context.Context) (QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scanOneQueueEntry(s.db.QueryRowContext(ctx, selectQueueColumns+" FROM queue WHERE position = 0"))
}

// PeekNext returns the row at position 1, if any.
func (s *QueueStore) PeekNext(ctx context.Context) (QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scanOneQueueEntry(s.db.QueryRowContext(ctx, selectQueueColumns+" FROM queue WHERE position = 1"))
}

// Clear deletes all rows.
func (s *QueueStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM queue")
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// List returns the current queue, ordered by position.
func (s *QueueStore) List(ctx context.Context) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, selectQueueColumns+" FROM queue ORDER BY position ASC")
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		e, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const selectQueueColumns = "SELECT id, source_id, title, channel, thumbnail_url, kind, week_tag, position, skip_post_processing, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueRow(r rowScanner) (QueueEntry, error) {
	var e QueueEntry
	var channel, thumb, weekTag sql.NullString
	var skip int
	var createdAt string
	if err := r.Scan(&e.ID, &e.SourceID, &e.Title, &channel, &thumb, &e.Kind, &weekTag, &e.Position, &skip, &createdAt); err != nil {
		return QueueEntry{}, fmt.Errorf("scan queue row: %w", err)
	}
	e.Channel = channel.String
	e.ThumbnailURL = thumb.String
	e.WeekTag = weekTag.String
	e.SkipPostProcessing = skip != 0
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err == nil {
		e.CreatedAt = t
	}
	return e, nil
}

func scanOneQueueEntry(r rowScanner) (QueueEntry, bool, error) {
	e, err := scanQueueRow(r)
	if err != nil {
		if isNoRows(err) {
			return QueueEntry{}, false, nil
		}
		return QueueEntry{}, false, err
	}
	return e, true, nil
}

func isNoRows(err error) bool {
	for err != nil {
		if err == sql.ErrNoRows {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
