// Package pipeline implements the five post-capture stages named by the
// job engine's state machine: dedup check, transcribe, summarize,
// publish, and cleanup.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"airwaves/internal/apperr"
	"airwaves/internal/asr"
	"airwaves/internal/cache"
	"airwaves/internal/logging"
	"airwaves/internal/storage"
	"airwaves/internal/summarize"
	"airwaves/internal/trilium"
	"airwaves/internal/worker"
)

var log = logging.For("pipeline")

const sourceIDLabel = "source_id"

// Pipeline wires the transcription, summarization, and note-store
// collaborators into worker.Stages.
type Pipeline struct {
	CaptureDir string
	CaptureExt string

	Transcripts *cache.JSONCache
	Summaries   *cache.JSONCache

	History     *storage.HistoryStore
	Usage       *storage.UsageStore
	Transcriber asr.Provider
	Summarizer  summarize.Provider
	NoteStore   trilium.NoteStore
	Backup      *trilium.BackupSink

	ParentNoteID string

	// TranscribeTimeout, SummarizeTimeout, and PublishTimeout bound each
	// stage's overall collaborator call, including every retry
	// DoWithRetry makes within it. Zero means no deadline, which is what
	// a Pipeline literal built without setting them gets.
	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
	PublishTimeout    time.Duration
}

// withDeadline bounds ctx by d, unless d is zero.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

var _ worker.Stages = (*Pipeline)(nil)

// CheckDedup implements worker.Stages.
func (p *Pipeline) CheckDedup(ctx context.Context, job *worker.Job) (bool, string, error) {
	ref, err := p.NoteStore.FindByLabel(ctx, sourceIDLabel, job.Identifier)
	if err != nil {
		log.Printf("dedup check failed for %s, proceeding as not found: %v", job.Identifier, err)
		return false, "", nil
	}
	if ref == nil {
		return false, "", nil
	}
	return true, ref.URL, nil
}

func (p *Pipeline) capturePath(identifier string) string {
	return filepath.Join(p.CaptureDir, fmt.Sprintf("%s.%s", identifier, p.CaptureExt))
}

// Transcribe implements worker.Stages.
func (p *Pipeline) Transcribe(ctx context.Context, job *worker.Job) (int, error) {
	ctx, cancel := withDeadline(ctx, p.TranscribeTimeout)
	defer cancel()

	result, err := p.Transcriber.Transcribe(ctx, p.capturePath(job.Identifier))
	if err != nil {
		return result.Attempts, err
	}

	artifact := TranscriptArtifact{
		Identifier:           job.Identifier,
		Text:                 result.Text,
		Provider:             result.Provider,
		Model:                result.Model,
		AudioDurationSeconds: result.AudioDurationSeconds,
	}
	if err := p.Transcripts.Put(job.Identifier, artifact); err != nil {
		return result.Attempts, apperr.E(apperr.Internal, "persist transcript artifact", err)
	}

	if err := p.Usage.Record(ctx, storage.UsageRecord{
		Provider:             result.Provider,
		Model:                result.Model,
		Feature:              "transcribe",
		AudioDurationSeconds: result.AudioDurationSeconds,
		SourceID:             job.Identifier,
	}); err != nil {
		log.Printf("record usage for %s failed: %v", job.Identifier, err)
	}
	return result.Attempts, nil
}

// Summarize implements worker.Stages.
func (p *Pipeline) Summarize(ctx context.Context, job *worker.Job) (int, error) {
	ctx, cancel := withDeadline(ctx, p.SummarizeTimeout)
	defer cancel()

	var transcript TranscriptArtifact
	found, err := p.Transcripts.Get(job.Identifier, &transcript)
	if err != nil {
		return 0, apperr.E(apperr.Internal, "read transcript artifact", err)
	}
	if !found {
		return 0, apperr.E(apperr.Internal, "transcript artifact missing before summarize", nil)
	}

	title, channel := job.Identifier, ""
	if entry, ok, err := p.History.GetBySourceID(ctx, job.Identifier); err == nil && ok {
		title, channel = entry.Title, entry.Channel
	}

	prompt := summarize.BuildPrompt(transcript.Text, title, channel)
	result, err := p.Summarizer.Summarize(ctx, prompt)
	if err != nil {
		return result.Attempts, err
	}

	artifact := SummaryArtifact{
		Identifier:     job.Identifier,
		Text:           result.Text,
		Provider:       result.Provider,
		Model:          result.Model,
		PromptTokens:   result.PromptTokens,
		ResponseTokens: result.ResponseTokens,
	}
	if err := p.Summaries.Put(job.Identifier, artifact); err != nil {
		return result.Attempts, apperr.E(apperr.Internal, "persist summary artifact", err)
	}

	if err := p.Usage.Record(ctx, storage.UsageRecord{
		Provider:       result.Provider,
		Model:          result.Model,
		Feature:        "summarize",
		PromptTokens:   result.PromptTokens,
		ResponseTokens: result.ResponseTokens,
		SourceID:       job.Identifier,
	}); err != nil {
		log.Printf("record usage for %s failed: %v", job.Identifier, err)
	}
	return result.Attempts, nil
}

// Publish implements worker.Stages.
func (p *Pipeline) Publish(ctx context.Context, job *worker.Job) (string, int, error) {
	ctx, cancel := withDeadline(ctx, p.PublishTimeout)
	defer cancel()

	var summary SummaryArtifact
	found, err := p.Summaries.Get(job.Identifier, &summary)
	if err != nil {
		return "", 0, apperr.E(apperr.Internal, "read summary artifact", err)
	}
	if !found {
		return "", 0, apperr.E(apperr.Internal, "summary artifact missing before publish", nil)
	}

	title := job.Identifier
	if entry, ok, err := p.History.GetBySourceID(ctx, job.Identifier); err == nil && ok {
		title = entry.Title
	}

	watchURL := "https://www.youtube.com/watch?v=" + job.Identifier
	body := trilium.RenderSummaryHTML(summary.Text, title, watchURL)

	noteID, attempts, err := p.NoteStore.CreateNote(ctx, p.ParentNoteID, title, body, "text/html")
	if err != nil {
		p.writeBackup(job.Identifier, title, summary.Text, err.Error())
		return "", attempts, err
	}

	if err := p.NoteStore.AddLabel(ctx, noteID, sourceIDLabel, job.Identifier); err != nil {
		log.Printf("attach label to note %s failed, falling back to backup sink: %v", noteID, err)
		p.writeBackup(job.Identifier, title, summary.Text, err.Error())
	}

	if client, ok := p.NoteStore.(interface{ NoteURL(string) string }); ok {
		return client.NoteURL(noteID), attempts, nil
	}
	return noteID, attempts, nil
}

func (p *Pipeline) writeBackup(identifier, title, summary, reason string) {
	if p.Backup == nil {
		return
	}
	if err := p.Backup.WriteJSON(identifier, trilium.BackupPayload{
		Identifier: identifier,
		Title:      title,
		Summary:    summary,
		Reason:     reason,
	}); err != nil {
		log.Printf("backup sink write failed for %s: %v", identifier, err)
	}
}

// Cleanup implements worker.Stages: best-effort delete of the capture
// file, errors logged and never propagated.
func (p *Pipeline) Cleanup(ctx context.Context, job *worker.Job) {
	path := p.capturePath(job.Identifier)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("cleanup capture file %s failed: %v", path, err)
	}
}
