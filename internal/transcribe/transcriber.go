package transcribe

import (
	"context"
	"fmt"

	"github.com/you/whisperd/internal/domain"
)

// Stage identifies which phase of a run a progress report belongs to.
type Stage string

const (
	StagePreprocess Stage = "preprocessing"
	StageTranscribe Stage = "transcribing"
)

// Request describes one transcription run. OnProgress, when set,
// receives per-stage progress in [0,100]; the caller owns mapping stages
// onto an overall scale.
type Request struct {
	InputPath  string
	Language   string
	ModelPath  string
	OnProgress func(stage Stage, pct float64, message string)
}

// Transcriber is the opaque capability the job processor drives. A run
// is invoked once per job and awaited to completion or failure.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (domain.TranscriptionResult, error)
}

// Error is a stage-aware failure whose Message is safe to surface to
// clients: no file paths, no command output.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
