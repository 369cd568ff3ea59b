package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
)

// PollFunc fetches one job snapshot. gateway.Proxy.Poll satisfies it.
type PollFunc func(ctx context.Context, id string) (domain.Job, error)

// Config tunes the adaptive polling loop.
type Config struct {
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	BackoffIncrement time.Duration
	// MaxDuration bounds the whole watch, measured from its start.
	MaxDuration time.Duration
	// StallThreshold bounds the gap since the last observed progress
	// change.
	StallThreshold time.Duration
	// ErrorTolerance is how many consecutive transport errors are
	// treated as transient before the watch gives up.
	ErrorTolerance int
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.BackoffIncrement <= 0 {
		c.BackoffIncrement = 500 * time.Millisecond
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Minute
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 5 * time.Minute
	}
	if c.ErrorTolerance <= 0 {
		c.ErrorTolerance = 5
	}
}

// Kind classifies how a watch ended.
type Kind string

const (
	// KindCompleted: the server reported success.
	KindCompleted Kind = "completed"
	// KindFailed: the server reported a terminal failure.
	KindFailed Kind = "failed"
	// KindTimedOut: we stopped waiting; the job may still be running.
	KindTimedOut Kind = "timed_out"
	// KindUnreachable: repeated transport errors exhausted tolerance.
	KindUnreachable Kind = "unreachable"
	// KindCancelled: the caller cancelled the watch.
	KindCancelled Kind = "cancelled"
)

// Outcome is the terminal state of one watch.
type Outcome struct {
	Kind    Kind
	Result  *domain.TranscriptionResult
	Message string
}

// Poller runs one single-goroutine watch per job id. Nothing in a watch
// runs concurrently with itself: each cycle is wait, poll, adjust.
// Cancelling the context stops any pending wait with no further calls.
type Poller struct {
	poll   PollFunc
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(poll PollFunc, cfg Config, logger *zap.Logger) *Poller {
	cfg.applyDefaults()
	return &Poller{poll: poll, cfg: cfg, logger: logger, now: time.Now}
}

// Watch polls until the job is terminal, the watch times out or stalls,
// transport errors exhaust tolerance, or ctx is cancelled.
func (p *Poller) Watch(ctx context.Context, id string) Outcome {
	var (
		start        = p.now()
		lastChange   = start
		lastProgress = -1.0
		interval     = p.cfg.InitialInterval
		errCount     = 0
	)

	for {
		if err := wait(ctx, interval); err != nil {
			return Outcome{Kind: KindCancelled, Message: "polling cancelled"}
		}

		now := p.now()
		if now.Sub(start) > p.cfg.MaxDuration {
			return Outcome{Kind: KindTimedOut,
				Message: "stopped waiting for transcription; the job may still be running"}
		}
		if now.Sub(lastChange) > p.cfg.StallThreshold {
			return Outcome{Kind: KindTimedOut,
				Message: fmt.Sprintf("no progress for %s; the job may still be running", p.cfg.StallThreshold)}
		}

		job, err := p.poll(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Kind: KindCancelled, Message: "polling cancelled"}
			}
			errCount++
			if errCount >= p.cfg.ErrorTolerance {
				return Outcome{Kind: KindUnreachable,
					Message: fmt.Sprintf("polling failed %d times in a row: %v", errCount, err)}
			}
			p.logger.Warn("poll error, retrying",
				zap.String("job_id", id), zap.Int("consecutive", errCount), zap.Error(err))
			continue
		}
		errCount = 0

		switch job.Status {
		case domain.StatusCompleted:
			return Outcome{Kind: KindCompleted, Result: job.Result, Message: job.Message}
		case domain.StatusFailed:
			return Outcome{Kind: KindFailed, Message: job.Error}
		}

		if job.Progress != lastProgress {
			lastProgress = job.Progress
			lastChange = p.now()
			interval = p.cfg.InitialInterval
		} else if interval < p.cfg.MaxInterval {
			interval += p.cfg.BackoffIncrement
			if interval > p.cfg.MaxInterval {
				interval = p.cfg.MaxInterval
			}
		}
	}
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
