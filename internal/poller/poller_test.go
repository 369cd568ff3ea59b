package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/you/whisperd/internal/domain"
)

func fastConfig() Config {
	return Config{
		InitialInterval:  5 * time.Millisecond,
		MaxInterval:      50 * time.Millisecond,
		BackoffIncrement: 5 * time.Millisecond,
		MaxDuration:      5 * time.Second,
		StallThreshold:   5 * time.Second,
		ErrorTolerance:   3,
	}
}

// scripted returns each job snapshot in turn, repeating the last one.
func scripted(jobs []domain.Job) (PollFunc, *int) {
	calls := new(int)
	return func(_ context.Context, _ string) (domain.Job, error) {
		i := *calls
		*calls++
		if i >= len(jobs) {
			i = len(jobs) - 1
		}
		return jobs[i], nil
	}, calls
}

func processing(progress float64) domain.Job {
	return domain.Job{ID: "j1", Status: domain.StatusProcessing, Progress: progress}
}

func TestWatchCompleted(t *testing.T) {
	poll, _ := scripted([]domain.Job{
		processing(0),
		processing(50),
		{ID: "j1", Status: domain.StatusCompleted, Progress: 100,
			Result: &domain.TranscriptionResult{Text: "done"}},
	})

	out := New(poll, fastConfig(), zap.NewNop()).Watch(context.Background(), "j1")
	require.Equal(t, KindCompleted, out.Kind)
	require.NotNil(t, out.Result)
	require.Equal(t, "done", out.Result.Text)
}

func TestWatchFailed(t *testing.T) {
	poll, _ := scripted([]domain.Job{
		processing(10),
		{ID: "j1", Status: domain.StatusFailed, Error: "Transcription failed: audio conversion failed"},
	})

	out := New(poll, fastConfig(), zap.NewNop()).Watch(context.Background(), "j1")
	require.Equal(t, KindFailed, out.Kind)
	require.Equal(t, "Transcription failed: audio conversion failed", out.Message)
}

// Progress trace 0,0,0,10 then silence: once the server stops moving,
// the stall bound must fire and 50 must never be observed.
func TestWatchDeclaresStall(t *testing.T) {
	poll, calls := scripted([]domain.Job{
		processing(0),
		processing(0),
		processing(0),
		processing(10),
		processing(10), // repeated from here on; 50 never arrives in time
	})

	cfg := Config{
		InitialInterval:  30 * time.Millisecond,
		MaxInterval:      time.Second,
		BackoffIncrement: 15 * time.Millisecond,
		MaxDuration:      time.Minute,
		StallThreshold:   200 * time.Millisecond,
		ErrorTolerance:   3,
	}

	start := time.Now()
	out := New(poll, cfg, zap.NewNop()).Watch(context.Background(), "j1")
	require.Equal(t, KindTimedOut, out.Kind)
	require.Contains(t, out.Message, "no progress")
	require.GreaterOrEqual(t, *calls, 5, "the moving phase must not trip the stall bound")
	require.Less(t, time.Since(start), cfg.MaxDuration, "stall must fire long before the overall bound")
}

func TestWatchMaxDuration(t *testing.T) {
	n := 0.0
	poll := PollFunc(func(context.Context, string) (domain.Job, error) {
		n++ // progress keeps changing, so the stall bound never fires
		return processing(n), nil
	})

	cfg := fastConfig()
	cfg.MaxDuration = 60 * time.Millisecond

	out := New(poll, cfg, zap.NewNop()).Watch(context.Background(), "j1")
	require.Equal(t, KindTimedOut, out.Kind)
	require.Contains(t, out.Message, "stopped waiting")
}

func TestWatchErrorToleranceExceeded(t *testing.T) {
	calls := 0
	poll := PollFunc(func(context.Context, string) (domain.Job, error) {
		calls++
		return domain.Job{}, errors.New("connection refused")
	})

	out := New(poll, fastConfig(), zap.NewNop()).Watch(context.Background(), "j1")
	require.Equal(t, KindUnreachable, out.Kind)
	require.Equal(t, 3, calls)
}

func TestWatchToleratesTransientErrors(t *testing.T) {
	calls := 0
	poll := PollFunc(func(context.Context, string) (domain.Job, error) {
		calls++
		if calls <= 2 {
			return domain.Job{}, errors.New("connection reset")
		}
		return domain.Job{ID: "j1", Status: domain.StatusCompleted,
			Result: &domain.TranscriptionResult{Text: "ok"}}, nil
	})

	out := New(poll, fastConfig(), zap.NewNop()).Watch(context.Background(), "j1")
	require.Equal(t, KindCompleted, out.Kind)
}

func TestWatchCancellation(t *testing.T) {
	poll, calls := scripted([]domain.Job{processing(0)})

	cfg := fastConfig()
	cfg.InitialInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- New(poll, cfg, zap.NewNop()).Watch(ctx, "j1")
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		require.Equal(t, KindCancelled, out.Kind)
		require.Zero(t, *calls, "no poll may happen after cancellation")
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
