package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"airwaves/internal/asr"
	"airwaves/internal/cache"
	"airwaves/internal/config"
	"airwaves/internal/control"
	"airwaves/internal/httpapi"
	"airwaves/internal/httpclient"
	"airwaves/internal/ingest"
	"airwaves/internal/pipeline"
	"airwaves/internal/storage"
	"airwaves/internal/summarize"
	"airwaves/internal/transcode"
	"airwaves/internal/trilium"
	"airwaves/internal/worker"
	"airwaves/internal/youtube"
)

func main() {
	cfg := config.Load()

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	history := storage.NewHistoryStore(db)
	queue := storage.NewQueueStore(db)
	usage := storage.NewUsageStore(db)

	extractor := youtube.NewExtractor()
	transcoder := transcode.New(cfg.CaptureDir)
	sup := ingest.New(extractor, transcoder, history, cfg.CaptureDir, "mp3", cfg.ReplayBufferChunks, cfg.ClientQueueDepth, cfg.CaptureRetainFiles)

	// httpClient is the process-wide pooled client shared by every
	// outbound provider call; cache.Once releases its idle connections
	// exactly once, on shutdown, even though nothing here ever needs a
	// second instance.
	httpClientOnce := cache.NewOnce(func(c *http.Client) error {
		c.CloseIdleConnections()
		return nil
	})
	client, err := httpClientOnce.Get(func() (*http.Client, error) {
		return httpclient.New(), nil
	})
	if err != nil {
		log.Fatalf("build http client: %v", err)
	}

	stages, err := buildStages(cfg, history, usage, client)
	if err != nil {
		log.Fatalf("build pipeline stages: %v", err)
	}
	engine := worker.New(stages)

	svc := control.New(sup, extractor, queue, history, engine, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	svc.Start(ctx)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	httpapi.RegisterRoutes(e, svc)

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()
	log.Printf("airwaves listening on %s", cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}

	svc.StopStream()
	svc.Stop()
	cancel()
	engine.Stop()
	if err := httpClientOnce.Close(); err != nil {
		log.Printf("close http client: %v", err)
	}
}

// buildStages wires the transcription, summarization, and note-store
// collaborators into a pipeline.Pipeline. It runs the same way regardless
// of whether transcription is enabled — that gate lives in
// internal/control, at enqueue time.
func buildStages(cfg *config.Config, history *storage.HistoryStore, usage *storage.UsageStore, client *http.Client) (*pipeline.Pipeline, error) {
	transcripts, err := cache.NewJSONCache(cfg.CacheDir + "/transcripts")
	if err != nil {
		return nil, fmt.Errorf("open transcript cache: %w", err)
	}
	summaries, err := cache.NewJSONCache(cfg.CacheDir + "/summaries")
	if err != nil {
		return nil, fmt.Errorf("open summary cache: %w", err)
	}

	limited := httpclient.NewLimiter(client, float64(cfg.ProviderRateLimitPerSec), cfg.ProviderRateBurst)
	transcriber := asr.NewHTTPProvider(cfg.TranscribeAPIURL, cfg.TranscribeAPIKey, "whisper-1", limited)
	summarizer := summarize.NewHTTPProvider(cfg.SummarizeAPIURL, cfg.SummarizeAPIKey, "gpt-4o-mini", limited)
	notes := trilium.NewClient(cfg.TriliumURL, cfg.TriliumETAPIToken, limited)
	backup := trilium.NewBackupSink(cfg.BackupDir)

	return &pipeline.Pipeline{
		CaptureDir:        cfg.CaptureDir,
		CaptureExt:        "mp3",
		Transcripts:       transcripts,
		Summaries:         summaries,
		History:           history,
		Usage:             usage,
		Transcriber:       transcriber,
		Summarizer:        summarizer,
		NoteStore:         notes,
		Backup:            backup,
		ParentNoteID:      cfg.TriliumParentNoteID,
		TranscribeTimeout: time.Duration(cfg.TranscribeTimeoutSec) * time.Second,
		SummarizeTimeout:  time.Duration(cfg.SummarizeTimeoutSec) * time.Second,
		PublishTimeout:    time.Duration(cfg.PublishTimeoutSec) * time.Second,
	}, nil
}
