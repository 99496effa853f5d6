// Package ingest turns a source identifier into a flowing byte stream and
// a capture file: it owns the single active transcoder process handle,
// mirroring §4.2 of the ingest pipeline design.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"airwaves/internal/apperr"
	"airwaves/internal/broadcast"
	"airwaves/internal/cache"
	"airwaves/internal/logging"
	"airwaves/internal/storage"
	"airwaves/internal/transcode"
	"airwaves/internal/youtube"
)

var log = logging.For("ingest")

// chunkSize is the fixed read size used when relaying transcoder output
// to the broadcaster.
const chunkSize = 32 * 1024

// EndReason classifies why an ingest session ended, for the completion
// callback to decide on auto-advance.
type EndReason int

const (
	// EndedNaturally: the source reached EOF and the capture completed.
	EndedNaturally EndReason = iota
	// EndedByUser: StopStream was called or a new ingest replaced this one.
	EndedByUser
	// EndedByError: the extractor or transcoder failed.
	EndedByError
)

// Result reports the outcome of an ingest session to the OnEnd callback.
type Result struct {
	Identifier      string
	Reason          EndReason
	CapturePath     string
	CaptureComplete bool
	Err             error
}

// Status is the supervisor's idle/streaming state.
type Status struct {
	Streaming  bool
	Identifier string
	Title      string
}

// Supervisor runs at most one ingest session at a time.
type Supervisor struct {
	Extractor  youtube.Extractor
	Transcoder transcode.Transcoder
	History    *storage.HistoryStore
	CaptureDir string
	CaptureExt string

	ReplayChunks int
	QueueDepth   int

	// RetainFiles bounds the capture directory to the most recent N
	// capture files, pruned after each session ends naturally.
	RetainFiles int

	// OnEnd is invoked once per session, on the ingest goroutine that
	// just finished; implementations must not block on Supervisor calls
	// re-entrantly.
	OnEnd func(Result)

	mu      sync.Mutex
	current *session
}

type session struct {
	identifier  string
	title       string
	broadcaster *broadcast.Broadcaster
	cancel      context.CancelFunc
	done        chan struct{}
	out         *transcode.Output
	userStopped atomic.Bool
}

// New returns an idle Supervisor. replayChunks and queueDepth size every
// broadcaster it creates.
func New(extractor youtube.Extractor, transcoder transcode.Transcoder, history *storage.HistoryStore, captureDir, captureExt string, replayChunks, queueDepth, retainFiles int) *Supervisor {
	return &Supervisor{
		Extractor:    extractor,
		Transcoder:   transcoder,
		History:      history,
		CaptureDir:   captureDir,
		CaptureExt:   captureExt,
		ReplayChunks: replayChunks,
		QueueDepth:   queueDepth,
		RetainFiles:  retainFiles,
	}
}

// Status reports whether an ingest is active.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Status{}
	}
	return Status{Streaming: true, Identifier: s.current.identifier, Title: s.current.title}
}

// Broadcaster returns the broadcaster for the active session for
// identifier, or nil if no session for that identifier is active.
func (s *Supervisor) Broadcaster(identifier string) *broadcast.Broadcaster {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.identifier != identifier {
		return nil
	}
	return s.current.broadcaster
}

// CaptureReady reports whether a nonempty, fully-written capture file
// exists for identifier. The transcoder's .downloading marker, present
// for the lifetime of the ffmpeg process writing that file, is checked
// first so a file a different active session is still writing is never
// reported ready.
func (s *Supervisor) CaptureReady(identifier string) bool {
	if _, err := os.Stat(s.capturePath(identifier) + ".downloading"); err == nil {
		return false
	}
	info, err := os.Stat(s.capturePath(identifier))
	if err != nil {
		return false
	}
	return info.Size() > 0
}

func (s *Supervisor) capturePath(identifier string) string {
	return filepath.Join(s.CaptureDir, fmt.Sprintf("%s.%s", identifier, s.CaptureExt))
}

// StartStream terminates any active ingest, resolves identifier's
// metadata, records history, and spawns a new ingest session. It returns
// the resolved metadata (including duration, which callers need to
// schedule pre-fetch).
func (s *Supervisor) StartStream(ctx context.Context, identifier string) (youtube.Metadata, error) {
	s.stopCurrent(EndedByUser)

	meta, err := s.Extractor.ExtractMetadata(ctx, identifier)
	if err != nil {
		return youtube.Metadata{}, err
	}

	if _, err := s.History.RecordPlay(context.Background(), identifier, meta.Title, meta.Channel, meta.ThumbnailURL); err != nil {
		log.Printf("record history for %s failed: %v", identifier, err)
	}

	audio, err := s.Extractor.OpenAudioStream(ctx, identifier)
	if err != nil {
		return youtube.Metadata{}, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	out, err := s.Transcoder.Transcode(sessCtx, identifier, audio)
	if err != nil {
		cancel()
		audio.Close()
		return youtube.Metadata{}, err
	}

	sess := &session{
		identifier:  identifier,
		title:       meta.Title,
		broadcaster: broadcast.New(s.ReplayChunks, s.QueueDepth),
		cancel:      cancel,
		done:        make(chan struct{}),
		out:         out,
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	go s.pump(sessCtx, sess, audio)

	return meta, nil
}

func (s *Supervisor) pump(ctx context.Context, sess *session, audio io.ReadCloser) {
	defer close(sess.done)
	defer audio.Close()

	buf := make([]byte, chunkSize)
	var readErr error
	wroteAnyByte := false

	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
		default:
		}
		if readErr != nil {
			break
		}

		n, err := sess.out.Stream.Read(buf)
		if n > 0 {
			wroteAnyByte = true
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sess.broadcaster.Publish(chunk)
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	sess.out.Stream.Close()
	waitErr := sess.out.Wait()

	sess.broadcaster.Close()

	userStopped := sess.userStopped.Load()

	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()

	result := Result{
		Identifier:  sess.identifier,
		CapturePath: sess.out.CapturePath,
	}
	switch {
	case userStopped:
		result.Reason = EndedByUser
		s.removeIfEmpty(sess.out.CapturePath)
	case readErr != nil || waitErr != nil:
		result.Reason = EndedByError
		result.Err = firstNonNil(readErr, waitErr, apperr.E(apperr.ExternalUnavailable, "transcoder exited abnormally", nil))
		if !wroteAnyByte {
			s.removeIfEmpty(sess.out.CapturePath)
		}
	default:
		result.Reason = EndedNaturally
		result.CaptureComplete = true
		if s.RetainFiles > 0 {
			cache.RetainRecentFilesAsync(s.CaptureDir, "*."+s.CaptureExt, s.RetainFiles)
		}
	}

	if s.OnEnd != nil {
		s.OnEnd(result)
	}
}

func (s *Supervisor) removeIfEmpty(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
	}
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// StopStream terminates the active ingest session, if any, and waits for
// its goroutine to exit.
func (s *Supervisor) StopStream() {
	s.stopCurrent(EndedByUser)
}

func (s *Supervisor) stopCurrent(reason EndReason) {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return
	}

	sess.userStopped.Store(reason == EndedByUser)
	// out.Stop runs the SIGTERM-then-grace-then-SIGKILL sequence itself;
	// cancelling sessCtx first would hard-kill the child immediately,
	// since it's spawned with exec.CommandContext(sessCtx, ...).
	sess.out.Stop()
	sess.cancel()
	<-sess.done
}

// Warm produces only the capture file for identifier without publishing
// to any broadcaster, used for pre-fetch. If a capture already exists it
// is a no-op.
func (s *Supervisor) Warm(ctx context.Context, identifier string) error {
	if s.CaptureReady(identifier) {
		return nil
	}

	audio, err := s.Extractor.OpenAudioStream(ctx, identifier)
	if err != nil {
		return err
	}
	defer audio.Close()

	out, err := s.Transcoder.Transcode(ctx, identifier, audio)
	if err != nil {
		return err
	}
	defer out.Stream.Close()

	if _, err := io.Copy(io.Discard, out.Stream); err != nil {
		return apperr.E(apperr.ExternalUnavailable, "warm transcode failed", err)
	}
	return out.Wait()
}
