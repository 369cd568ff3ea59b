package domain

import (
	"errors"
	"time"
)

// Status tracks the lifecycle of one transcription job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ErrJobNotFound is returned for unknown or evicted job ids.
var ErrJobNotFound = errors.New("job not found")

// Job is the canonical record for one unit of asynchronous work.
// Result is set iff status is COMPLETED, Error iff FAILED.
type Job struct {
	ID        string               `json:"id"`
	Status    Status               `json:"status"`
	Progress  float64              `json:"progress"`
	Message   string               `json:"message"`
	Result    *TranscriptionResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`

	// PayloadRef points at the validated input artifact. Internal
	// bookkeeping, never serialized to clients.
	PayloadRef string `json:"-"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// CanTransition enforces the allowed state machine edges:
// PENDING -> PROCESSING -> {COMPLETED | FAILED}. Terminal states
// have no outgoing edges.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// TranscriptionResult is the opaque success payload attached to a
// COMPLETED job.
type TranscriptionResult struct {
	Text                  string    `json:"text"`
	Language              string    `json:"language"`
	Confidence            float64   `json:"confidence"`
	Segments              []Segment `json:"segments"`
	DurationSeconds       float64   `json:"durationSeconds"`
	ModelUsed             string    `json:"modelUsed,omitempty"`
	ProcessingTimeSeconds float64   `json:"processingTimeSeconds,omitempty"`
}

// Segment is one timed slice of the transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
