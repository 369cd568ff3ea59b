package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
	"github.com/you/whisperd/internal/storage"
)

// Sweeper periodically evicts jobs whose last update is older than the
// configured max age. Eviction is uniform across PENDING and terminal
// states; PROCESSING jobs get their own, typically longer, threshold so
// a slow but legitimate run is not reaped mid-flight. A zero processing
// threshold disables their eviction entirely.
type Sweeper struct {
	store            storage.Store
	interval         time.Duration
	maxAge           time.Duration
	processingMaxAge time.Duration
	logger           *zap.Logger
	now              func() time.Time
}

func NewSweeper(store storage.Store, interval, maxAge, processingMaxAge time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:            store,
		interval:         interval,
		maxAge:           maxAge,
		processingMaxAge: processingMaxAge,
		logger:           logger,
		now:              time.Now,
	}
}

// Run sweeps on a fixed period until ctx is cancelled. Sweeps never
// overlap: the ticker is only read between full passes.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("max_age", s.maxAge),
		zap.Duration("processing_max_age", s.processingMaxAge))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass and returns the number of evicted jobs.
func (s *Sweeper) Sweep(ctx context.Context) int {
	jobs, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Error("sweep list failed", zap.Error(err))
		return 0
	}

	now := s.now().UTC()
	evicted := 0
	for _, job := range jobs {
		if !s.expired(job, now) {
			continue
		}
		if err := s.store.Delete(ctx, job.ID); err != nil {
			s.logger.Error("evict failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		evicted++
	}

	if evicted > 0 {
		s.logger.Info("sweep completed", zap.Int("evicted", evicted))
	}
	return evicted
}

func (s *Sweeper) expired(job domain.Job, now time.Time) bool {
	age := now.Sub(job.UpdatedAt)
	if job.Status == domain.StatusProcessing {
		return s.processingMaxAge > 0 && age > s.processingMaxAge
	}
	return age > s.maxAge
}
