// Package jobs runs fill requests asynchronously: a persistent job
// record, a channel-backed worker pool, and the four-stage pipeline
// from uploaded document to archived output.
package jobs

import (
	"time"

	"github.com/acroflow/acroflow/internal/fill"
)

// State is the lifecycle position of a job.
type State string

const (
	// StateQueued indicates the job is waiting for a worker.
	StateQueued State = "queued"
	// StateRunning indicates the pipeline is executing.
	StateRunning State = "running"
	// StateNeedsMapping indicates the pipeline paused because the
	// document's mapping awaits review.
	StateNeedsMapping State = "needs_mapping"
	// StateDone indicates the filled outputs are archived.
	StateDone State = "done"
	// StateError indicates the pipeline failed.
	StateError State = "error"
)

// Terminal reports whether a state can never be left.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Progress checkpoints reported as the pipeline advances.
const (
	ProgressAccepted   = 8
	ProgressExtracting = 18
	ProgressMapped     = 38
	ProgressReview     = 45
	ProgressPlanning   = 55
	ProgressFilling    = 78
	ProgressDone       = 100
)

// Job is the persistent record of one fill request.
type Job struct {
	ID           string `json:"id"`
	PDFID        string `json:"pdf_id"`
	Filename     string `json:"filename,omitempty"`
	Instructions string `json:"instructions"`

	State    State  `json:"state"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`

	// Links points a paused job's caller at the artifacts needed to
	// finish the mapping review.
	Links map[string]string `json:"links,omitempty"`

	// ResultID names the archive entry once the job is done.
	ResultID string      `json:"result_id,omitempty"`
	Applied  int         `json:"applied,omitempty"`
	Skipped  []fill.Skip `json:"skipped,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// canTransition encodes the legal state machine. A state may always
// restate itself; that is how progress updates travel. Terminal states
// are never left.
func canTransition(from, to State) bool {
	if from == to {
		return !from.Terminal()
	}
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateError
	case StateRunning:
		return to == StateNeedsMapping || to == StateDone || to == StateError
	case StateNeedsMapping:
		return to == StateRunning || to == StateError
	}
	return false
}
