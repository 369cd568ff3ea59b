package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/whisperd/internal/domain"
)

// MemoryStore keeps the job map in process memory. It is the
// single-authority deployment strategy: correct only while exactly one
// instance serves every submit and poll. Records are stored by value and
// handed out as copies, so readers never see a half-applied mutation.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, payloadRef string) (domain.Job, error) {
	now := s.now().UTC()
	job := domain.Job{
		ID:         uuid.NewString(),
		Status:     domain.StatusPending,
		Progress:   0,
		Message:    "Job created",
		CreatedAt:  now,
		UpdatedAt:  now,
		PayloadRef: payloadRef,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, progress float64, message string) error {
	return s.mutate(id, func(j *domain.Job, now time.Time) bool {
		return applyUpdate(j, progress, message, now)
	})
}

func (s *MemoryStore) Complete(_ context.Context, id string, result *domain.TranscriptionResult) error {
	return s.mutate(id, func(j *domain.Job, now time.Time) bool {
		return applyComplete(j, result, now)
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, message string) error {
	return s.mutate(id, func(j *domain.Job, now time.Time) bool {
		return applyFail(j, message, now)
	})
}

func (s *MemoryStore) ListAll(_ context.Context) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// mutate applies fn to the stored record under the write lock. The record
// is replaced wholesale so concurrent Gets see old or new, never a mix.
func (s *MemoryStore) mutate(id string, fn func(*domain.Job, time.Time) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if fn(&job, s.now().UTC()) {
		s.jobs[id] = job
	}
	return nil
}
