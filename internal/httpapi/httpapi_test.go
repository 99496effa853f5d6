package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"

	"airwaves/internal/config"
	"airwaves/internal/control"
	"airwaves/internal/ingest"
	"airwaves/internal/storage"
	"airwaves/internal/transcode"
	"airwaves/internal/worker"
	"airwaves/internal/youtube"
)

type fakeExtractor struct {
	metas map[string]youtube.Metadata
	audio map[string][]byte
}

func (f *fakeExtractor) ExtractMetadata(ctx context.Context, identifier string) (youtube.Metadata, error) {
	if m, ok := f.metas[identifier]; ok {
		return m, nil
	}
	return youtube.Metadata{Title: identifier}, nil
}

func (f *fakeExtractor) OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.audio[identifier])), nil
}

type fakeTranscoder struct {
	dir string
}

func (f *fakeTranscoder) Transcode(ctx context.Context, identifier string, input io.Reader) (*transcode.Output, error) {
	data, _ := io.ReadAll(input)
	pr, pw := io.Pipe()
	go func() {
		pw.Write(data)
		pw.Close()
	}()
	return transcode.NewOutput(pr, filepath.Join(f.dir, identifier+".mp3"), func() error { return nil }, func() {}), nil
}

type noopStages struct{}

func (noopStages) CheckDedup(ctx context.Context, job *worker.Job) (bool, string, error) {
	return false, "", nil
}
func (noopStages) Transcribe(ctx context.Context, job *worker.Job) (int, error) { return 0, nil }
func (noopStages) Summarize(ctx context.Context, job *worker.Job) (int, error)  { return 0, nil }
func (noopStages) Publish(ctx context.Context, job *worker.Job) (string, int, error) {
	return "", 0, nil
}
func (noopStages) Cleanup(ctx context.Context, job *worker.Job) {}

func newTestServer(t *testing.T) (*echo.Echo, *control.Service) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	extractor := &fakeExtractor{
		metas: map[string]youtube.Metadata{"aaaaaaaaaaa": {Title: "A"}},
		audio: map[string][]byte{"aaaaaaaaaaa": []byte("clip a")},
	}
	transcoder := &fakeTranscoder{dir: t.TempDir()}
	history := storage.NewHistoryStore(db)
	queue := storage.NewQueueStore(db)
	engine := worker.New(noopStages{})
	sup := ingest.New(extractor, transcoder, history, transcoder.dir, "mp3", 10, 10, 5)
	cfg := &config.Config{TranscriptionEnabled: false, PreFetchThresholdSec: 30}
	svc := control.New(sup, extractor, queue, history, engine, cfg)

	e := echo.New()
	RegisterRoutes(e, svc)
	return e, svc
}

func doJSON(e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueThenListQueue(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/queue", map[string]any{"identifier": "aaaaaaaaaaa"})
	if rec.Code != http.StatusOK {
		t.Fatalf("enqueue status %d: %s", rec.Code, rec.Body.String())
	}
	var enqueueResp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &enqueueResp); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}
	if enqueueResp["added"] != true {
		t.Fatalf("expected added=true, got %v", enqueueResp)
	}
	if enqueueResp["title"] != "A" {
		t.Fatalf("expected resolved title, got %v", enqueueResp["title"])
	}

	rec = doJSON(e, http.MethodGet, "/api/queue", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d: %s", rec.Code, rec.Body.String())
	}
	var listResp struct {
		Queue []storage.QueueEntry `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listResp.Queue) != 1 || listResp.Queue[0].SourceID != "aaaaaaaaaaa" {
		t.Fatalf("unexpected queue contents: %+v", listResp.Queue)
	}
}

func TestEnqueueMalformedIdentifierReturns400(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/queue", map[string]any{"identifier": "short"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
}

func TestQueueNextReportsQueueEmpty(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/queue/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("next status %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "queue_empty" {
		t.Fatalf("expected queue_empty, got %v", body)
	}
}

func TestStreamStatusIdleByDefault(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/stream/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "idle" {
		t.Fatalf("expected idle, got %v", body)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/jobs/zzzzzzzzzzz", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLiveReturnsConflictWhenIdle(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/api/stream/live", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRemoveEntryRejectsNonNumericID(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodDelete, "/api/queue/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
