package worker

import (
	"time"

	"github.com/google/uuid"
)

// Job stages, forming the state machine:
//
//	pending -> checking_dedup -> {skipped | transcribing}
//	transcribing -> summarizing -> publishing -> completed
//	any non-terminal stage on error -> failed
const (
	StagePending       = "pending"
	StageCheckingDedup = "checking_dedup"
	StageSkipped       = "skipped"
	StageTranscribing  = "transcribing"
	StageSummarizing   = "summarizing"
	StagePublishing    = "publishing"
	StageCompleted     = "completed"
	StageFailed        = "failed"
)

// terminalStages are the stages a Job never leaves.
var terminalStages = map[string]bool{
	StageSkipped:   true,
	StageCompleted: true,
	StageFailed:    true,
}

// IsTerminal reports whether stage is one a job does not transition out of.
func IsTerminal(stage string) bool {
	return terminalStages[stage]
}

// Options carries per-job flags that vary the pipeline's behavior.
type Options struct {
	SkipPostProcessing bool
}

// Job is one identifier's run through the pipeline. AttemptCount is the
// highest number of attempts any single stage reported, not a sum across
// stages: a job whose transcribe stage took 3 attempts while summarize
// and publish took 1 each reports 3.
type Job struct {
	ID           string
	Identifier   string
	Options      Options
	Stage        string
	Error        string
	NoteURL      string
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}

func newJob(identifier string, opts Options) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         uuid.NewString(),
		Identifier: identifier,
		Options:    opts,
		Stage:      StagePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
