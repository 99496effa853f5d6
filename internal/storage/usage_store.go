package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// UsageStore is the append-only ledger of external-model calls, one row
// per call. Grounded on the source's llm_usage_stats table
// (services/database.py log_llm_usage / get_llm_usage_summary).
type UsageStore struct {
	db *DB
	mu sync.Mutex
}

// NewUsageStore returns a UsageStore backed by db.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record appends a usage row.
func (s *UsageStore) Record(ctx context.Context, r UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (provider, model, feature, prompt_tokens, response_tokens, reasoning_tokens, audio_duration_seconds, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Provider, r.Model, r.Feature, r.PromptTokens, r.ResponseTokens, r.ReasoningTokens, r.AudioDurationSeconds, r.SourceID, r.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// SummaryByProvider aggregates call counts and token totals grouped by
// provider and model.
func (s *UsageStore) SummaryByProvider(ctx context.Context) ([]UsageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(response_tokens), 0)
		FROM usage_records
		GROUP BY provider, model
		ORDER BY provider, model`)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Provider, &u.Model, &u.CallCount, &u.PromptTokens, &u.ResponseTokens); err != nil {
			return nil, fmt.Errorf("scan usage summary row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
