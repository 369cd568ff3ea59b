package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/whisperd/internal/domain"
)

func TestMemoryStoreCreateThenGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job, err := s.Create(ctx, "/tmp/upload.wav")
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, 0.0, got.Progress)
	require.Equal(t, "/tmp/upload.wav", got.PayloadRef)
	require.False(t, got.Terminal())
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestMemoryStoreFirstUpdateMovesToProcessing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, "")

	require.NoError(t, s.Update(ctx, job.ID, 40, "Processing audio segments..."))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, got.Status)
	require.Equal(t, 40.0, got.Progress)
	require.Equal(t, "Processing audio segments...", got.Message)
}

func TestMemoryStoreProgressNonDecreasing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, "")

	require.NoError(t, s.Update(ctx, job.ID, 60, ""))
	require.NoError(t, s.Update(ctx, job.ID, 20, ""))

	got, _ := s.Get(ctx, job.ID)
	require.Equal(t, 60.0, got.Progress)

	require.NoError(t, s.Update(ctx, job.ID, 400, ""))
	got, _ = s.Get(ctx, job.ID)
	require.Equal(t, 100.0, got.Progress)
}

func TestMemoryStoreCompleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, "")

	first := &domain.TranscriptionResult{Text: "hello world", Language: "en"}
	require.NoError(t, s.Complete(ctx, job.ID, first))

	// second terminal write must be dropped, not error
	require.NoError(t, s.Complete(ctx, job.ID, &domain.TranscriptionResult{Text: "other"}))
	require.NoError(t, s.Fail(ctx, job.ID, "too late"))
	require.NoError(t, s.Update(ctx, job.ID, 10, "too late"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.Equal(t, 100.0, got.Progress)
	require.NotNil(t, got.Result)
	require.Equal(t, "hello world", got.Result.Text)
	require.Empty(t, got.Error)
}

func TestMemoryStoreFailIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, "")

	require.NoError(t, s.Fail(ctx, job.ID, "Transcription failed: audio conversion failed"))
	require.NoError(t, s.Complete(ctx, job.ID, &domain.TranscriptionResult{Text: "late"}))

	got, _ := s.Get(ctx, job.ID)
	require.Equal(t, domain.StatusFailed, got.Status)
	require.Equal(t, "Transcription failed: audio conversion failed", got.Error)
	require.Nil(t, got.Result)
}

func TestMemoryStoreTerminalReadsAreStable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, "")
	require.NoError(t, s.Complete(ctx, job.ID, &domain.TranscriptionResult{Text: "done"}))

	first, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

// A reader racing a terminal transition must never observe COMPLETED
// without a result or FAILED without an error.
func TestMemoryStoreNoTornReads(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 50; i++ {
		job, _ := s.Create(ctx, "")
		ids = append(ids, job.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.Update(ctx, id, 50, "half way")
			_ = s.Complete(ctx, id, &domain.TranscriptionResult{Text: "t"})
		}(id)

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := s.Get(ctx, id)
				assert.NoError(t, err)
				if got.Status == domain.StatusCompleted {
					assert.NotNil(t, got.Result, "COMPLETED without result")
				}
				if got.Status == domain.StatusFailed {
					assert.NotEmpty(t, got.Error, "FAILED without error")
				}
			}
		}(id)
	}
	wg.Wait()
}

func TestMemoryStoreDeleteEvicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job, _ := s.Create(ctx, "")

	require.NoError(t, s.Delete(ctx, job.ID))
	_, err := s.Get(ctx, job.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	// deleting an absent id is not an error
	require.NoError(t, s.Delete(ctx, job.ID))
}

func TestMemoryStoreUpdatedAtAdvances(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	ctx := context.Background()
	job, _ := s.Create(ctx, "")

	s.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, s.Update(ctx, job.ID, 10, ""))

	got, _ := s.Get(ctx, job.ID)
	require.Equal(t, base, got.CreatedAt)
	require.Equal(t, base.Add(time.Minute), got.UpdatedAt)
}

func TestMemoryStoreListAll(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, "")
		require.NoError(t, err)
	}

	jobs, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
}
