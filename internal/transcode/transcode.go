// Package transcode spawns ffmpeg to split a single raw audio stream into
// a primary byte stream for live broadcast and a tee file for capture and
// later transcription, mirroring how the source shells out to ffmpeg for
// format conversion.
package transcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"airwaves/internal/apperr"
	"airwaves/internal/logging"
)

var log = logging.For("transcode")

// GracePeriod is how long Transcoder waits after SIGTERM before escalating
// to SIGKILL.
const GracePeriod = 5 * time.Second

// Output is the running transcode: Stream is the primary byte stream for
// the broadcaster, CapturePath is the tee file's final path. waitFn and
// stopFn are supplied by the Transcoder that created it, so callers in
// other packages can fake an Output in tests without a real subprocess.
type Output struct {
	Stream      io.ReadCloser
	CapturePath string

	waitFn  func() error
	stopFn  func()
	stopped sync.Once
}

// NewOutput constructs an Output around caller-supplied wait/stop
// behavior. Transcoder implementations use this instead of building an
// Output literal directly.
func NewOutput(stream io.ReadCloser, capturePath string, waitFn func() error, stopFn func()) *Output {
	return &Output{Stream: stream, CapturePath: capturePath, waitFn: waitFn, stopFn: stopFn}
}

// Wait blocks until the underlying process exits and returns its error, if any.
func (o *Output) Wait() error {
	if o.waitFn == nil {
		return nil
	}
	return o.waitFn()
}

// Stop terminates the underlying process. Safe to call more than once.
func (o *Output) Stop() {
	o.stopped.Do(func() {
		if o.stopFn != nil {
			o.stopFn()
		}
	})
}

// Transcoder splits one raw input stream into a broadcast byte stream and
// a capture file. Supervisors depend on this interface rather than
// FFmpegTranscoder directly so ingest session tests can substitute a fake.
type Transcoder interface {
	Transcode(ctx context.Context, identifier string, input io.Reader) (*Output, error)
}

// FFmpegTranscoder is a Transcoder backed by a single tee'd ffmpeg process.
type FFmpegTranscoder struct {
	CaptureDir string
	// Ext is the container extension used for both the pipe output and
	// the capture file, e.g. "mp3".
	Ext string
}

// New returns an FFmpegTranscoder writing capture files under captureDir.
func New(captureDir string) *FFmpegTranscoder {
	return &FFmpegTranscoder{CaptureDir: captureDir, Ext: "mp3"}
}

// Transcode spawns ffmpeg with input as stdin and two outputs: the capture
// file at capture_dir/{identifier}.ext, and a pipe returned as Output.Stream.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, identifier string, input io.Reader) (*Output, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, apperr.E(apperr.ExternalUnavailable, "ffmpeg not found", err)
	}
	if err := os.MkdirAll(t.CaptureDir, 0o755); err != nil {
		return nil, apperr.E(apperr.Internal, "create capture directory", err)
	}

	capturePath := filepath.Join(t.CaptureDir, fmt.Sprintf("%s.%s", identifier, t.Ext))
	markerPath := capturePath + ".downloading"
	if err := os.WriteFile(markerPath, nil, 0o644); err != nil {
		log.Printf("write download marker for %s: %v", identifier, err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-map", "0:a", "-f", t.Ext, "-y", capturePath,
		"-map", "0:a", "-f", t.Ext, "pipe:1",
	)
	cmd.Stdin = input

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.E(apperr.ExternalUnavailable, "attach ffmpeg stdout", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, apperr.E(apperr.ExternalUnavailable, "spawn ffmpeg", err)
	}

	// cmd.Wait must only be called once, but both Output.Wait (from the
	// pump reading Stream to EOF) and Output.Stop (from a user-initiated
	// stop) need to know when the process has exited. A single
	// background waiter with a done channel lets both observe the same
	// result safely. The marker is removed here, once ffmpeg has
	// actually finished writing the capture file, not on the first byte
	// read from the pipe — CaptureReady consults it to avoid reporting a
	// still-writing file as ready.
	waitDone := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		_ = os.Remove(markerPath)
		close(waitDone)
	}()

	stream := &teeReadCloser{r: stdout}
	waitFn := func() error {
		<-waitDone
		return waitErr
	}
	stop := func() {
		if cmd.Process == nil {
			return
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-waitDone:
		case <-time.After(GracePeriod):
			_ = cmd.Process.Kill()
			<-waitDone
		}
	}
	return NewOutput(stream, capturePath, waitFn, stop), nil
}

// teeReadCloser is the pipe half of ffmpeg's tee'd output.
type teeReadCloser struct {
	r io.ReadCloser
}

func (t *teeReadCloser) Read(p []byte) (int, error) {
	return t.r.Read(p)
}

func (t *teeReadCloser) Close() error {
	return t.r.Close()
}
