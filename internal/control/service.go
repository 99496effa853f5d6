// Package control exposes the transport-agnostic command surface: the
// set of operations an HTTP handler, a CLI, or a test can call without
// knowing anything about ingest goroutines, the job engine, or SQLite.
// It is the only thing in this module that is allowed to touch more than
// one of ingest, storage, and worker at once.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"airwaves/internal/apperr"
	"airwaves/internal/broadcast"
	"airwaves/internal/config"
	"airwaves/internal/ingest"
	"airwaves/internal/logging"
	"airwaves/internal/storage"
	"airwaves/internal/worker"
	"airwaves/internal/youtube"
)

var log = logging.For("control")

// preFetchPollInterval is how often the pre-fetch loop re-evaluates the
// active session's remaining duration against the configured threshold.
const preFetchPollInterval = 5 * time.Second

// Status mirrors the abstract command surface's status result.
type Status struct {
	Streaming  bool
	Identifier string
	Title      string
}

// Service wires the ingest supervisor, persistent queue and history, and
// job engine together, and owns auto-advance and pre-fetch — the two
// behaviors that only make sense once all three are in the same hands.
type Service struct {
	Supervisor *ingest.Supervisor
	Extractor  youtube.Extractor
	Queue      *storage.QueueStore
	History    *storage.HistoryStore
	Engine     *worker.Engine
	Config     *config.Config

	mu                     sync.Mutex
	currentIdentifier      string
	currentSkip            bool
	currentStartedAt       time.Time
	currentDurationSeconds float64
	warmedIdentifier       string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires sup, extractor, queue, history, and engine into a Service and
// registers the ingest-end callback that drives auto-advance and
// job-enqueue gating.
func New(sup *ingest.Supervisor, extractor youtube.Extractor, queue *storage.QueueStore, history *storage.HistoryStore, engine *worker.Engine, cfg *config.Config) *Service {
	s := &Service{
		Supervisor: sup,
		Extractor:  extractor,
		Queue:      queue,
		History:    history,
		Engine:     engine,
		Config:     cfg,
		stopCh:     make(chan struct{}),
	}
	sup.OnEnd = s.handleIngestEnd
	return s
}

// Start launches the background pre-fetch loop. ctx cancellation also
// stops the loop; Stop should still be called to wait for it to exit.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.preFetchLoop(ctx)
}

// Stop signals the pre-fetch loop to exit and waits for it.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// StartStream terminates any active ingest and begins a new one for
// identifier, returning its resolved title.
func (s *Service) StartStream(ctx context.Context, identifier string, skipPostProcessing bool) (string, error) {
	meta, err := s.Supervisor.StartStream(ctx, identifier)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.currentIdentifier = identifier
	s.currentSkip = skipPostProcessing
	s.currentStartedAt = time.Now()
	s.currentDurationSeconds = meta.DurationSeconds
	s.warmedIdentifier = ""
	s.mu.Unlock()

	return meta.Title, nil
}

// StopStream ends the active ingest, if any.
func (s *Service) StopStream() {
	s.Supervisor.StopStream()
}

// Status reports whether an ingest is active.
func (s *Service) Status() Status {
	st := s.Supervisor.Status()
	return Status{Streaming: st.Streaming, Identifier: st.Identifier, Title: st.Title}
}

// CaptureReady reports whether identifier's capture file is ready to
// read.
func (s *Service) CaptureReady(identifier string) bool {
	return s.Supervisor.CaptureReady(identifier)
}

// Subscribe joins the currently active broadcast, if any, returning a
// Subscription and an unsubscribe function to call when the caller is
// done. ok is false when nothing is streaming.
func (s *Service) Subscribe() (sub *broadcast.Subscription, unsubscribe func(), ok bool) {
	st := s.Supervisor.Status()
	if !st.Streaming {
		return nil, nil, false
	}
	b := s.Supervisor.Broadcaster(st.Identifier)
	if b == nil {
		return nil, nil, false
	}
	sub = b.Subscribe()
	return sub, func() { b.Unsubscribe(sub) }, true
}

// EnqueueItem appends identifier to the persistent queue, unless a
// non-terminal job already exists for it — in that case it returns
// added=false without duplicating the row, per the round-trip law on
// enqueue_item. Metadata is resolved eagerly so the queue entry (and the
// returned title) reflect the real video title; a resolution failure
// falls back to a generic placeholder title rather than rejecting the
// request outright.
func (s *Service) EnqueueItem(ctx context.Context, identifier string, skipPostProcessing bool) (bool, string, error) {
	if !youtube.ValidateID(identifier) {
		return false, "", apperr.E(apperr.InputInvalid, fmt.Sprintf("malformed video identifier %q", identifier), nil)
	}

	if s.Engine.ShouldSkip(identifier) {
		title := identifier
		if entry, ok, err := s.History.GetBySourceID(ctx, identifier); err == nil && ok {
			title = entry.Title
		}
		return false, title, nil
	}

	title := fmt.Sprintf("YouTube Video %s", identifier)
	channel, thumb := "", ""
	if meta, err := s.Extractor.ExtractMetadata(ctx, identifier); err != nil {
		log.Printf("metadata lookup for %s failed, using placeholder title: %v", identifier, err)
	} else {
		title, channel, thumb = meta.Title, meta.Channel, meta.ThumbnailURL
	}

	if _, err := s.Queue.Append(ctx, storage.QueueEntry{
		SourceID:           identifier,
		Title:              title,
		Channel:            channel,
		ThumbnailURL:       thumb,
		Kind:               storage.KindPrimary,
		SkipPostProcessing: skipPostProcessing,
	}); err != nil {
		return false, "", err
	}
	return true, title, nil
}

// ListQueue returns the queue in position order.
func (s *Service) ListQueue(ctx context.Context) ([]storage.QueueEntry, error) {
	return s.Queue.List(ctx)
}

// RemoveEntry deletes a queue row by ID.
func (s *Service) RemoveEntry(ctx context.Context, entryID int64) error {
	return s.Queue.Remove(ctx, entryID)
}

// ReorderQueue rewrites queue positions to match orderedIDs.
func (s *Service) ReorderQueue(ctx context.Context, orderedIDs []int64) error {
	return s.Queue.Reorder(ctx, orderedIDs)
}

// ClearQueue deletes every queue row.
func (s *Service) ClearQueue(ctx context.Context) error {
	return s.Queue.Clear(ctx)
}

// ListHistory returns up to limit history rows, most recent first.
func (s *Service) ListHistory(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	return s.History.Recent(ctx, limit)
}

// ClearHistory deletes every history row.
func (s *Service) ClearHistory(ctx context.Context) error {
	return s.History.Clear(ctx)
}

// JobStatus returns the current job record for identifier, if any.
func (s *Service) JobStatus(identifier string) (*worker.Job, bool) {
	return s.Engine.Status(identifier)
}

// Next pops the queue's current front (the item that just finished) and,
// if another entry remains, starts ingest for it without removing it —
// that entry stays at position 0, now representing what's playing.
// Returns started=false with no error when the queue was already empty.
func (s *Service) Next(ctx context.Context) (bool, string, error) {
	if _, found, err := s.Queue.PopCurrent(ctx); err != nil {
		return false, "", err
	} else if !found {
		return false, "", nil
	}

	next, found, err := s.Queue.PeekCurrent(ctx)
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "", nil
	}

	if _, err := s.StartStream(ctx, next.SourceID, next.SkipPostProcessing); err != nil {
		return false, "", err
	}
	return true, next.SourceID, nil
}

// handleIngestEnd is Supervisor.OnEnd: it gates job creation on natural
// completion and drives auto-advance. It runs on the ingest goroutine
// that just finished, so it never calls back into the Supervisor
// synchronously — Next (which may itself call StartStream) runs on its
// own goroutine.
func (s *Service) handleIngestEnd(result ingest.Result) {
	s.mu.Lock()
	skip := s.currentSkip
	s.currentIdentifier = ""
	s.currentStartedAt = time.Time{}
	s.currentDurationSeconds = 0
	s.mu.Unlock()

	if result.Reason != ingest.EndedNaturally {
		return
	}

	if s.Config.TranscriptionEnabled && !skip && result.CaptureComplete && !s.Engine.ShouldSkip(result.Identifier) {
		s.Engine.Enqueue(result.Identifier, worker.Options{SkipPostProcessing: skip})
	}

	go func() {
		if _, _, err := s.Next(context.Background()); err != nil {
			log.Printf("auto-advance after %s failed: %v", result.Identifier, err)
		}
	}()
}

func (s *Service) preFetchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(preFetchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.maybePreFetch(ctx)
		}
	}
}

// maybePreFetch warms the queue's next entry once the active session's
// remaining duration drops below the configured threshold. Each next
// identifier is warmed at most once per active session.
func (s *Service) maybePreFetch(ctx context.Context) {
	s.mu.Lock()
	identifier := s.currentIdentifier
	startedAt := s.currentStartedAt
	duration := s.currentDurationSeconds
	s.mu.Unlock()

	if identifier == "" || duration <= 0 {
		return
	}
	remaining := duration - time.Since(startedAt).Seconds()
	if remaining <= 0 || remaining >= float64(s.Config.PreFetchThresholdSec) {
		return
	}

	next, found, err := s.Queue.PeekNext(ctx)
	if err != nil {
		log.Printf("pre-fetch peek failed: %v", err)
		return
	}
	if !found {
		return
	}

	s.mu.Lock()
	already := s.warmedIdentifier == next.SourceID
	s.warmedIdentifier = next.SourceID
	s.mu.Unlock()
	if already {
		return
	}

	go func() {
		if err := s.Supervisor.Warm(ctx, next.SourceID); err != nil {
			log.Printf("pre-fetch warm for %s failed: %v", next.SourceID, err)
		}
	}()
}
