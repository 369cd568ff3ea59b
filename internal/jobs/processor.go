package jobs

import (
	"context"
	"errors"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/you/whisperd/internal/domain"
	"github.com/you/whisperd/internal/storage"
	"github.com/you/whisperd/internal/transcribe"
)

// Progress bands: preprocessing occupies the first 40 points of the
// overall scale, transcription the remaining 60.
const preprocessBand = 40.0

// Options carries per-job execution parameters from the submit call.
type Options struct {
	Language  string
	ModelPath string
}

// Processor drives one asynchronous execution per job. Admission is
// bounded by a weighted semaphore; submissions beyond the cap queue in
// FIFO order rather than being rejected. A started job always runs to a
// terminal state; there is no cancellation path.
type Processor struct {
	store       storage.Store
	transcriber transcribe.Transcriber
	sem         *semaphore.Weighted
	logger      *zap.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewProcessor(ctx context.Context, store storage.Store, tr transcribe.Transcriber, maxConcurrent int64, logger *zap.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Processor{
		store:       store,
		transcriber: tr,
		sem:         semaphore.NewWeighted(maxConcurrent),
		logger:      logger,
		baseCtx:     ctx,
	}
}

// Submit schedules the job for execution and returns immediately. The
// job runs on the processor's base context, not the caller's: a client
// that gives up does not cancel server-side work.
func (p *Processor) Submit(job domain.Job, opts Options) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if err := p.sem.Acquire(p.baseCtx, 1); err != nil {
			// shutdown while queued; leave a terminal record behind
			_ = p.store.Fail(context.Background(), job.ID, "Transcription failed: service shutting down")
			return
		}
		defer p.sem.Release(1)

		p.run(job, opts)
	}()
}

// Wait blocks until every in-flight and queued job has finished.
func (p *Processor) Wait() { p.wg.Wait() }

func (p *Processor) run(job domain.Job, opts Options) {
	ctx := p.baseCtx
	log := p.logger.With(zap.String("job_id", job.ID))

	// Terminal writes must survive base-context cancellation: a job
	// interrupted by shutdown still has to leave a FAILED record behind,
	// or a shared backend would serve it as PROCESSING forever.
	storeCtx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			log.Error("processor panic", zap.Any("panic", r))
			_ = p.store.Fail(storeCtx, job.ID, "Transcription failed: internal error")
		}
		if job.PayloadRef != "" {
			_ = os.Remove(job.PayloadRef)
		}
	}()

	if err := p.store.Update(ctx, job.ID, 0, "Starting transcription..."); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// evicted before we got a slot; nothing to report into
			log.Warn("job gone before processing", zap.Error(err))
			return
		}
		log.Error("could not start job", zap.Error(err))
		_ = p.store.Fail(storeCtx, job.ID, "Transcription failed: internal error")
		return
	}

	result, err := p.transcriber.Transcribe(ctx, transcribe.Request{
		InputPath: job.PayloadRef,
		Language:  opts.Language,
		ModelPath: opts.ModelPath,
		OnProgress: func(stage transcribe.Stage, pct float64, message string) {
			_ = p.store.Update(ctx, job.ID, overallProgress(stage, pct), message)
		},
	})
	if err != nil {
		log.Error("transcription failed", zap.Error(err))
		_ = p.store.Fail(storeCtx, job.ID, sanitize(err))
		return
	}

	if err := p.store.Complete(storeCtx, job.ID, &result); err != nil {
		log.Warn("could not record result", zap.Error(err))
		return
	}
	log.Info("job completed")
}

// overallProgress maps per-stage progress onto the monotonic 0-100 scale.
func overallProgress(stage transcribe.Stage, pct float64) float64 {
	switch stage {
	case transcribe.StagePreprocess:
		return pct * preprocessBand / 100
	case transcribe.StageTranscribe:
		return preprocessBand + pct*(100-preprocessBand)/100
	default:
		return 0
	}
}

// sanitize maps a collaborator failure to a client-safe message. Stage
// errors carry a path-free description; anything else is reported
// generically so internals never leak into stored records.
func sanitize(err error) string {
	var te *transcribe.Error
	if errors.As(err, &te) {
		return "Transcription failed: " + te.Message
	}
	return "Transcription failed: internal error"
}
