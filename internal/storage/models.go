package storage

import "time"

// Queue entry kinds.
const (
	KindPrimary = "primary"
	KindSummary = "summary"
)

// QueueEntry is one row of the ordered playlist. Positions are a
// contiguous 0..N-1 sequence within the queue after any mutation.
type QueueEntry struct {
	ID                 int64
	SourceID           string
	Title              string
	Channel            string
	ThumbnailURL       string
	Kind               string
	WeekTag            string
	Position           int
	SkipPostProcessing bool
	CreatedAt          time.Time
}

// HistoryEntry is one per distinct SourceItem, deduplicated on SourceID.
type HistoryEntry struct {
	ID             int64
	SourceID       string
	Title          string
	Channel        string
	ThumbnailURL   string
	PlayCount      int
	FirstPlayedAt  time.Time
	LastPlayedAt   time.Time
}

// UsageRecord is an append-only ledger row per external-model call.
type UsageRecord struct {
	ID                    int64
	Provider              string
	Model                 string
	Feature               string
	PromptTokens          int
	ResponseTokens        int
	ReasoningTokens       int
	AudioDurationSeconds  float64
	SourceID              string
	CreatedAt             time.Time
}

// UsageSummary aggregates usage_records by provider+model.
type UsageSummary struct {
	Provider       string
	Model          string
	CallCount      int
	PromptTokens   int
	ResponseTokens int
}
