package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"airwaves/internal/storage"
	"airwaves/internal/transcode"
	"airwaves/internal/youtube"
)

type fakeExtractor struct {
	meta        youtube.Metadata
	metaErr     error
	audio       []byte
	audioErr    error
	openedCount int
}

func (f *fakeExtractor) ExtractMetadata(ctx context.Context, identifier string) (youtube.Metadata, error) {
	return f.meta, f.metaErr
}

func (f *fakeExtractor) OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error) {
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	f.openedCount++
	return io.NopCloser(bytes.NewReader(f.audio)), nil
}

// fakeTranscoder is an in-memory transcode.Transcoder: it copies input to
// both the returned stream and a real file at capture_dir/identifier.ext,
// so CaptureReady's stat-based check still works, without ever shelling
// out to ffmpeg.
type fakeTranscoder struct {
	captureDir string
	ext        string
	readErr    error
	waitErr    error

	mu      sync.Mutex
	stopped bool
}

func newFakeTranscoder(dir string) *fakeTranscoder {
	return &fakeTranscoder{captureDir: dir, ext: "mp3"}
}

func (f *fakeTranscoder) Transcode(ctx context.Context, identifier string, input io.Reader) (*transcode.Output, error) {
	data, _ := io.ReadAll(input)
	capturePath := filepath.Join(f.captureDir, identifier+"."+f.ext)
	if err := os.MkdirAll(f.captureDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(capturePath, data, 0o644); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		if f.readErr != nil {
			pw.CloseWithError(f.readErr)
			return
		}
		pw.Write(data)
		pw.Close()
	}()

	waitFn := func() error { return f.waitErr }
	stopFn := func() {
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
	}
	return transcode.NewOutput(pr, capturePath, waitFn, stopFn), nil
}

func (f *fakeTranscoder) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newTestSupervisor(t *testing.T, extractor *fakeExtractor, transcoder *fakeTranscoder) (*Supervisor, chan Result) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	results := make(chan Result, 8)
	s := New(extractor, transcoder, storage.NewHistoryStore(db), transcoder.captureDir, "mp3", 10, 10, 5)
	s.OnEnd = func(r Result) { results <- r }
	return s, results
}

func waitForResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnEnd")
		return Result{}
	}
}

func TestStartStreamEndsNaturallyOnEOF(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{
		meta:  youtube.Metadata{Title: "My Video", Channel: "My Channel"},
		audio: []byte("hello world audio bytes"),
	}
	transcoder := newFakeTranscoder(dir)
	sup, results := newTestSupervisor(t, extractor, transcoder)

	meta, err := sup.StartStream(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if meta.Title != "My Video" {
		t.Fatalf("unexpected title %q", meta.Title)
	}

	result := waitForResult(t, results)
	if result.Reason != EndedNaturally {
		t.Fatalf("expected EndedNaturally, got %v (err=%v)", result.Reason, result.Err)
	}
	if !result.CaptureComplete {
		t.Fatalf("expected CaptureComplete=true")
	}
	if !sup.CaptureReady("dQw4w9WgXcQ") {
		t.Fatalf("expected capture file to be ready")
	}
}

func TestStartStreamStopsPreviousSession(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{meta: youtube.Metadata{Title: "First"}, audio: bytes.Repeat([]byte("a"), 40*1024)}
	transcoder := newFakeTranscoder(dir)
	sup, results := newTestSupervisor(t, extractor, transcoder)

	if _, err := sup.StartStream(context.Background(), "aaaaaaaaaaa"); err != nil {
		t.Fatalf("start first stream: %v", err)
	}

	extractor.meta = youtube.Metadata{Title: "Second"}
	meta, err := sup.StartStream(context.Background(), "bbbbbbbbbbb")
	if err != nil {
		t.Fatalf("start second stream: %v", err)
	}
	if meta.Title != "Second" {
		t.Fatalf("unexpected title %q", meta.Title)
	}

	first := waitForResult(t, results)
	if first.Reason != EndedByUser {
		t.Fatalf("expected first session to end by user, got %v", first.Reason)
	}

	waitForResult(t, results)
}

func TestStopStreamEndsByUserAndRemovesEmptyCapture(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{meta: youtube.Metadata{Title: "Live"}, audio: []byte("unused by blockingFakeTranscoder")}

	transcoder := newFakeTranscoder(dir)
	// Swap in a transcoder whose stream only ends once its stopFn runs,
	// simulating a live session that is still in flight when StopStream
	// is called: the real FFmpegTranscoder unblocks Stream.Read the same
	// way, by killing the process out from under it.
	blockingTranscoder := &blockingFakeTranscoder{fakeTranscoder: transcoder}
	sup, results := newTestSupervisor(t, extractor, transcoder)
	sup.Transcoder = blockingTranscoder

	if _, err := sup.StartStream(context.Background(), "ccccccccccc"); err != nil {
		t.Fatalf("start stream: %v", err)
	}

	sup.StopStream()

	result := waitForResult(t, results)
	if result.Reason != EndedByUser {
		t.Fatalf("expected EndedByUser, got %v", result.Reason)
	}
	if !blockingTranscoder.wasStopped() {
		t.Fatalf("expected transcoder Stop to be invoked")
	}
	if _, err := os.Stat(result.CapturePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected empty capture file to be removed, stat err=%v", err)
	}
}

// blockingFakeTranscoder produces a stream that only ends once its stopFn
// runs, simulating a live session that is still in flight when Stop is
// called.
type blockingFakeTranscoder struct {
	*fakeTranscoder
}

func (b *blockingFakeTranscoder) Transcode(ctx context.Context, identifier string, input io.Reader) (*transcode.Output, error) {
	capturePath := filepath.Join(b.captureDir, identifier+"."+b.ext)
	if err := os.MkdirAll(b.captureDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(capturePath, nil, 0o644); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	waitFn := func() error { return b.waitErr }
	stopFn := func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()
		pw.Close()
	}
	return transcode.NewOutput(pr, capturePath, waitFn, stopFn), nil
}

func TestWarmSkipsWhenCaptureAlreadyReady(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{meta: youtube.Metadata{Title: "Warm"}, audio: []byte("bytes")}
	transcoder := newFakeTranscoder(dir)
	sup, _ := newTestSupervisor(t, extractor, transcoder)

	capturePath := filepath.Join(dir, "ddddddddddd.mp3")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(capturePath, []byte("already here"), 0o644); err != nil {
		t.Fatalf("seed capture file: %v", err)
	}

	if err := sup.Warm(context.Background(), "ddddddddddd"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if extractor.openedCount != 0 {
		t.Fatalf("expected Warm to skip opening a stream when capture is already ready")
	}
}

func TestWarmDrivesTranscodeToCompletion(t *testing.T) {
	dir := t.TempDir()
	extractor := &fakeExtractor{meta: youtube.Metadata{Title: "Warm"}, audio: []byte("bytes to warm")}
	transcoder := newFakeTranscoder(dir)
	sup, _ := newTestSupervisor(t, extractor, transcoder)

	if err := sup.Warm(context.Background(), "eeeeeeeeeee"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if !sup.CaptureReady("eeeeeeeeeee") {
		t.Fatalf("expected capture file after warm")
	}
}
