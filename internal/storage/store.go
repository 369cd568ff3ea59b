package storage

import (
	"context"
	"time"

	"github.com/you/whisperd/internal/domain"
)

// Store is the single authority over canonical job records. Every
// implementation must serialize mutations per job id and must never let
// a concurrent Get observe a partially written record.
//
// The interface is deliberately backend-agnostic: the in-memory store is
// a single logical authority (one instance serves all traffic), while the
// redis and postgres stores share their backing so any number of serving
// instances observe the same job map. Callers cannot tell which is wired.
type Store interface {
	// Create inserts a PENDING record with progress 0 and returns it.
	Create(ctx context.Context, payloadRef string) (domain.Job, error)
	// Get returns a read-only snapshot, or domain.ErrJobNotFound.
	Get(ctx context.Context, id string) (domain.Job, error)
	// Update records progress while the job is PENDING or PROCESSING,
	// moving it to PROCESSING on the first call. After a terminal state
	// it is a no-op.
	Update(ctx context.Context, id string, progress float64, message string) error
	// Complete marks the job COMPLETED and attaches the result.
	// Idempotent: repeated calls on a terminal job are ignored.
	Complete(ctx context.Context, id string, result *domain.TranscriptionResult) error
	// Fail marks the job FAILED with a sanitized message. Idempotent
	// under the same rule as Complete.
	Fail(ctx context.Context, id string, message string) error
	// ListAll returns a snapshot of every live record. Used by the sweeper.
	ListAll(ctx context.Context) ([]domain.Job, error)
	// Delete evicts the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases backend resources.
	Close() error
}

// clampProgress bounds progress to [0,100] and keeps it non-decreasing
// while the job is live.
func clampProgress(current, next float64) float64 {
	if next < current {
		next = current
	}
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	return next
}

// applyUpdate mutates a live record in place. Returns false when the job
// is already terminal and the update must be dropped.
func applyUpdate(j *domain.Job, progress float64, message string, now time.Time) bool {
	if j.Terminal() {
		return false
	}
	if j.Status == domain.StatusPending {
		j.Status = domain.StatusProcessing
	}
	j.Progress = clampProgress(j.Progress, progress)
	if message != "" {
		j.Message = message
	}
	j.UpdatedAt = now
	return true
}

// applyComplete transitions to COMPLETED. Returns false on terminal jobs.
func applyComplete(j *domain.Job, result *domain.TranscriptionResult, now time.Time) bool {
	if !domain.CanTransition(j.Status, domain.StatusCompleted) {
		return false
	}
	j.Status = domain.StatusCompleted
	j.Progress = 100
	j.Message = "Transcription completed"
	j.Result = result
	j.UpdatedAt = now
	return true
}

// applyFail transitions to FAILED. Returns false on terminal jobs.
func applyFail(j *domain.Job, message string, now time.Time) bool {
	if !domain.CanTransition(j.Status, domain.StatusFailed) {
		return false
	}
	j.Status = domain.StatusFailed
	j.Message = message
	j.Error = message
	j.UpdatedAt = now
	return true
}
