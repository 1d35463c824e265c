package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndSnapshot(t *testing.T) {
	s := New(slog.Default())
	s.Register("baseline_refresh", 6*time.Hour, func(context.Context) {})
	s.Register("daily_digest", 0, func(context.Context) {})

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "baseline_refresh", snap[0].Name)
	assert.True(t, snap[0].Enabled)
	assert.False(t, snap[1].Enabled, "zero interval disables the task")
}

func TestRunNowExecutesAndCounts(t *testing.T) {
	s := New(slog.Default())
	var runs atomic.Int32
	s.Register("review", time.Hour, func(context.Context) { runs.Add(1) })

	require.True(t, s.RunNow("review"))
	require.Eventually(t, func() bool { return runs.Load() == 1 },
		time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, 1, snap[0].RunCount)
	assert.False(t, snap[0].LastRun.IsZero())
	assert.False(t, s.RunNow("no_such_task"))
}

func TestDisabledTaskNeverRuns(t *testing.T) {
	s := New(slog.Default())
	var runs atomic.Int32
	s.Register("digest", 0, func(context.Context) { runs.Add(1) })

	require.True(t, s.RunNow("digest"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
	assert.Equal(t, 0, s.Snapshot()[0].RunCount)
}

func TestPanicRecoveredIntoStats(t *testing.T) {
	s := New(slog.Default())
	s.Register("flaky", time.Hour, func(context.Context) { panic("boom") })

	require.True(t, s.RunNow("flaky"))
	require.Eventually(t, func() bool {
		return s.Snapshot()[0].ErrorCount == 1
	}, time.Second, 10*time.Millisecond)

	snap := s.Snapshot()[0]
	assert.Equal(t, 1, snap.RunCount)
	assert.Contains(t, snap.LastError, "boom")
}

func TestStopCancelsTaskContext(t *testing.T) {
	s := New(slog.Default())
	started := make(chan struct{})
	var cancelled atomic.Bool
	s.Register("long", time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})

	require.True(t, s.RunNow("long"))
	<-started
	s.Stop()

	require.Eventually(t, func() bool { return cancelled.Load() },
		time.Second, 10*time.Millisecond)
}

func TestCronFiresOnInterval(t *testing.T) {
	s := New(slog.Default())
	var runs atomic.Int32
	// cron.Every rounds sub-second intervals up to one second.
	s.Register("fast", time.Second, func(context.Context) { runs.Add(1) })
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 },
		5*time.Second, 50*time.Millisecond)
}
