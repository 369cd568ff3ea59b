package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
	"github.com/you/whisperd/internal/storage"
)

func TestSweeperEvictsOldJobs(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	old, _ := store.Create(ctx, "")
	require.NoError(t, store.Complete(ctx, old.ID, &domain.TranscriptionResult{Text: "t"}))
	pending, _ := store.Create(ctx, "")

	s := NewSweeper(store, time.Minute, time.Hour, 3*time.Hour, zap.NewNop())
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	// the age rule is uniform across terminal and PENDING records
	require.Equal(t, 2, s.Sweep(ctx))

	_, err := store.Get(ctx, old.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = store.Get(ctx, pending.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSweeperKeepsFreshJobs(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	job, _ := store.Create(ctx, "")

	s := NewSweeper(store, time.Minute, time.Hour, 3*time.Hour, zap.NewNop())
	require.Equal(t, 0, s.Sweep(ctx))

	_, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
}

func TestSweeperProcessingThreshold(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	running, _ := store.Create(ctx, "")
	require.NoError(t, store.Update(ctx, running.ID, 10, ""))
	done, _ := store.Create(ctx, "")
	require.NoError(t, store.Complete(ctx, done.ID, &domain.TranscriptionResult{}))

	s := NewSweeper(store, time.Minute, time.Hour, 3*time.Hour, zap.NewNop())

	// past the terminal max-age but inside the processing window
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.Equal(t, 1, s.Sweep(ctx))
	_, err := store.Get(ctx, running.ID)
	require.NoError(t, err)
	_, err = store.Get(ctx, done.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)

	// past the processing window as well
	s.now = func() time.Time { return time.Now().Add(4 * time.Hour) }
	require.Equal(t, 1, s.Sweep(ctx))
	_, err = store.Get(ctx, running.ID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSweeperDisabledProcessingEviction(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	running, _ := store.Create(ctx, "")
	require.NoError(t, store.Update(ctx, running.ID, 10, ""))

	s := NewSweeper(store, time.Minute, time.Hour, 0, zap.NewNop())
	s.now = func() time.Time { return time.Now().Add(100 * time.Hour) }

	require.Equal(t, 0, s.Sweep(ctx))
	_, err := store.Get(ctx, running.ID)
	require.NoError(t, err)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	s := NewSweeper(store, 5*time.Millisecond, time.Hour, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
