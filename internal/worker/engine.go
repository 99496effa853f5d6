// Package worker is the sequential job engine: it runs the post-capture
// pipeline exactly once per identifier at a time, on a single worker
// goroutine, with retries handled inside each collaborator call.
package worker

import (
	"context"
	"sync"
	"time"

	"airwaves/internal/logging"
)

var log = logging.For("worker")

// Stages is the pipeline a Job is run through. Each method owns its own
// retry policy over external calls and reports how many attempts it
// took, so the engine can record them on the job record; the engine
// only sequences stages and records the resulting stage transitions.
type Stages interface {
	CheckDedup(ctx context.Context, job *Job) (skip bool, noteURL string, err error)
	Transcribe(ctx context.Context, job *Job) (attempts int, err error)
	Summarize(ctx context.Context, job *Job) (attempts int, err error)
	Publish(ctx context.Context, job *Job) (noteURL string, attempts int, err error)
	Cleanup(ctx context.Context, job *Job)
}

// Engine runs jobs from an ordered FIFO queue on a single worker
// goroutine. The queue is a mutex-guarded slice with a condition
// variable rather than a Go channel, so Enqueue never blocks a caller
// (or holds the lock) waiting for the worker to catch up.
type Engine struct {
	stages Stages

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*Job // by identifier, the latest job for it, terminal or not; never pruned
	pending []*Job
	stopped bool
	started bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New returns an Engine bound to stages.
func New(stages Stages) *Engine {
	e := &Engine{stages: stages, jobs: make(map[string]*Job)}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Enqueue creates a pending job for identifier and returns true, unless a
// non-terminal job for that identifier already exists, in which case it
// returns the existing job and false.
func (e *Engine) Enqueue(identifier string, opts Options) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.jobs[identifier]; ok && !IsTerminal(existing.Stage) {
		return existing, false
	}

	job := newJob(identifier, opts)
	if e.stopped {
		job.Stage = StageFailed
		job.Error = "shutdown"
		return job, true
	}

	e.jobs[identifier] = job
	e.pending = append(e.pending, job)
	e.cond.Signal()
	return job, true
}

// ShouldSkip reports whether a non-terminal job exists for identifier.
func (e *Engine) ShouldSkip(identifier string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.jobs[identifier]
	return ok && !IsTerminal(existing.Stage)
}

// Status returns the current Job record for identifier, if any.
func (e *Engine) Status(identifier string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[identifier]
	return job, ok
}

// Start launches the single worker goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx)
}

// Stop cancels the engine, drains the pending queue marking every job
// failed with reason "shutdown", and waits for the worker goroutine to
// exit. After Stop, Enqueue still accepts calls but returns
// already-failed jobs.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.cancel()
	e.cond.Broadcast()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, job := range e.pending {
		e.markFailedLocked(job, "shutdown")
	}
	e.pending = nil
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.pending) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.stopped {
			e.mu.Unlock()
			return
		}
		job := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		e.process(ctx, job)
	}
}

func (e *Engine) process(ctx context.Context, job *Job) {
	e.mu.Lock()
	job.StartedAt = time.Now().UTC()
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		job.FinishedAt = time.Now().UTC()
		e.mu.Unlock()
	}()

	e.setStage(job, StageCheckingDedup)
	skip, noteURL, err := e.stages.CheckDedup(ctx, job)
	if err != nil {
		e.fail(job, err.Error())
		return
	}
	if skip {
		e.mu.Lock()
		job.NoteURL = noteURL
		job.Stage = StageSkipped
		e.mu.Unlock()
		log.Printf("job %s for %s skipped: existing note %s", job.ID, job.Identifier, noteURL)
		e.stages.Cleanup(ctx, job)
		return
	}

	e.setStage(job, StageTranscribing)
	attempts, err := e.stages.Transcribe(ctx, job)
	e.recordAttempts(job, attempts)
	if err != nil {
		e.fail(job, err.Error())
		e.stages.Cleanup(ctx, job)
		return
	}

	e.setStage(job, StageSummarizing)
	attempts, err = e.stages.Summarize(ctx, job)
	e.recordAttempts(job, attempts)
	if err != nil {
		e.fail(job, err.Error())
		e.stages.Cleanup(ctx, job)
		return
	}

	e.setStage(job, StagePublishing)
	noteURL, attempts, err = e.stages.Publish(ctx, job)
	e.recordAttempts(job, attempts)
	if err != nil {
		e.fail(job, err.Error())
		e.stages.Cleanup(ctx, job)
		return
	}

	e.mu.Lock()
	job.NoteURL = noteURL
	job.Stage = StageCompleted
	e.mu.Unlock()
	log.Printf("job %s for %s completed: %s", job.ID, job.Identifier, noteURL)

	e.stages.Cleanup(ctx, job)
}

func (e *Engine) setStage(job *Job, stage string) {
	e.mu.Lock()
	job.Stage = stage
	e.mu.Unlock()
}

// recordAttempts keeps job.AttemptCount at the highest per-stage attempt
// count seen so far, so a stage that retries is reflected directly
// rather than inflated by the other stages' single successful attempt.
func (e *Engine) recordAttempts(job *Job, attempts int) {
	e.mu.Lock()
	if attempts > job.AttemptCount {
		job.AttemptCount = attempts
	}
	e.mu.Unlock()
}

func (e *Engine) fail(job *Job, reason string) {
	e.mu.Lock()
	e.markFailedLocked(job, reason)
	e.mu.Unlock()
}

func (e *Engine) markFailedLocked(job *Job, reason string) {
	job.Stage = StageFailed
	job.Error = reason
	log.Printf("job %s for %s failed at a non-terminal stage: %s", job.ID, job.Identifier, reason)
}
