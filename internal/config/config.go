// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"

	"airwaves/internal/logging"
)

var log = logging.For("config")

// Config is the application configuration loaded from environment
// variables. A malformed or out-of-range value never aborts startup: it
// falls back to its declared default and a warning is logged.
type Config struct {
	HTTPAddr string

	CaptureDir string
	CacheDir   string
	BackupDir  string
	DatabasePath string

	ReplayBufferChunks   int
	ClientQueueDepth     int
	CaptureRetainFiles   int
	PreFetchThresholdSec int
	JobMaxAgeHours       int

	TranscribeTimeoutSec int
	SummarizeTimeoutSec  int
	PublishTimeoutSec    int

	// ProviderRateLimitPerSec and ProviderRateBurst bound the shared
	// httpclient.Limiter wrapping every outbound call to the
	// transcription, summarization, and note-store providers.
	ProviderRateLimitPerSec int
	ProviderRateBurst       int

	TranscriptionEnabled bool
	TranscribeAPIURL     string
	TranscribeAPIKey     string

	SummarizeAPIURL string
	SummarizeAPIKey string

	TriliumURL          string
	TriliumETAPIToken   string
	TriliumParentNoteID string
}

var (
	once sync.Once
	cfg  *Config
)

// Load returns the process-wide configuration, loading it on first call
// (see internal/cache.Once for the generic lazy-singleton form used
// elsewhere in this module).
func Load() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		cfg = &Config{
			HTTPAddr:     getString("HTTP_ADDR", ":8080"),
			CaptureDir:   getString("CAPTURE_DIR", "/tmp/airwaves/capture"),
			CacheDir:     getString("CACHE_DIR", "/tmp/airwaves/cache"),
			BackupDir:    getString("BACKUP_DIR", "/tmp/airwaves/backup"),
			DatabasePath: getString("DATABASE_PATH", "./airwaves.db"),

			ReplayBufferChunks:   ParseIntBounded(os.Getenv("REPLAY_BUFFER_CHUNKS"), 100, 1, 10_000),
			ClientQueueDepth:     ParseIntBounded(os.Getenv("CLIENT_QUEUE_DEPTH"), 100, 1, 10_000),
			CaptureRetainFiles:   ParseIntBounded(os.Getenv("CAPTURE_RETAIN_FILES"), 10, 1, 10_000),
			PreFetchThresholdSec: ParseIntBounded(os.Getenv("PRE_FETCH_THRESHOLD_SEC"), 30, 0, 3_600),
			JobMaxAgeHours:       ParseIntBounded(os.Getenv("JOB_MAX_AGE_HOURS"), 24, 1, 24*30),

			TranscribeTimeoutSec: ParseIntBounded(os.Getenv("TRANSCRIBE_TIMEOUT_SEC"), 300, 1, 3_600),
			SummarizeTimeoutSec:  ParseIntBounded(os.Getenv("SUMMARIZE_TIMEOUT_SEC"), 120, 1, 3_600),
			PublishTimeoutSec:    ParseIntBounded(os.Getenv("PUBLISH_TIMEOUT_SEC"), 30, 1, 3_600),

			ProviderRateLimitPerSec: ParseIntBounded(os.Getenv("PROVIDER_RATE_LIMIT_PER_SEC"), 5, 1, 1_000),
			ProviderRateBurst:       ParseIntBounded(os.Getenv("PROVIDER_RATE_BURST"), 10, 1, 1_000),

			TranscriptionEnabled: getBool("TRANSCRIPTION_ENABLED", false),
			TranscribeAPIURL:     getString("TRANSCRIBE_API_URL", ""),
			TranscribeAPIKey:     os.Getenv("TRANSCRIBE_API_KEY"),

			SummarizeAPIURL: getString("SUMMARIZE_API_URL", ""),
			SummarizeAPIKey: os.Getenv("SUMMARIZE_API_KEY"),

			TriliumURL:          os.Getenv("TRILIUM_URL"),
			TriliumETAPIToken:   os.Getenv("TRILIUM_ETAPI_TOKEN"),
			TriliumParentNoteID: os.Getenv("TRILIUM_PARENT_NOTE_ID"),
		}
	})
	return cfg
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid bool for %s=%q, using default %v", key, v, def)
		return def
	}
	return b
}

// ParseIntBounded parses raw as an integer bounded by [min, max]. On parse
// error or out-of-range value it logs a warning and returns def. This is
// the Go form of the source's `_parse_int` helper: a malformed
// configuration must never crash the process.
func ParseIntBounded(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid integer %q, using default %d", raw, def)
		return def
	}
	if v < min || v > max {
		log.Printf("value %d out of range [%d, %d], using default %d", v, min, max, def)
		return def
	}
	return v
}
