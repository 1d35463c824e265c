package budget

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/storage"
)

type recordingUsage struct {
	rows []storage.TokenUsageRow
}

func (r *recordingUsage) AppendTokenUsage(_ context.Context, u storage.TokenUsageRow) error {
	r.rows = append(r.rows, u)
	return nil
}

func newBudget(t *testing.T, hourly, daily int, reserve float64, now *time.Time, opts ...Option) *TokenBudget {
	t.Helper()
	cfg := config.AIBudgetConfig{
		HourlyTokenLimit: hourly,
		DailyTokenLimit:  daily,
		PriorityReserve:  reserve,
	}
	opts = append(opts, WithClock(func() time.Time { return *now }))
	return New(cfg, "default", slog.Default(), opts...)
}

func TestPriorityReserveHoldsBackNormalWork(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b := newBudget(t, 10_000, 100_000, 0.2, &now)

	// Normal priority sees 80% of the hourly limit.
	assert.True(t, b.CanSpend(8_000, PriorityNormal))
	assert.False(t, b.CanSpend(8_001, PriorityNormal))

	// Urgent work sees the full limit.
	assert.True(t, b.CanSpend(10_000, PriorityUrgent))
	assert.False(t, b.CanSpend(10_001, PriorityUrgent))
}

func TestRecordUsageCountsAgainstBothWindows(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b := newBudget(t, 10_000, 15_000, 0, &now)

	b.RecordUsage(6_000, 1_000, "investigation")

	snap := b.Snapshot()
	assert.Equal(t, 7_000, snap.HourlyUsed)
	assert.Equal(t, 7_000, snap.DailyUsed)
	assert.True(t, b.CanSpend(3_000, PriorityNormal))
	assert.False(t, b.CanSpend(3_001, PriorityNormal))
}

func TestHourlyWindowRollsOnTheHour(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 59, 0, 0, time.UTC)
	b := newBudget(t, 10_000, 100_000, 0, &now)

	b.RecordUsage(9_000, 1_000, "investigation")
	require.False(t, b.CanSpend(1, PriorityUrgent))

	now = time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	assert.True(t, b.CanSpend(10_000, PriorityUrgent), "hourly counter resets")

	snap := b.Snapshot()
	assert.Equal(t, 0, snap.HourlyUsed)
	assert.Equal(t, 10_000, snap.DailyUsed, "daily counter carries across the hour")
}

func TestDailyWindowRollsAtMidnight(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	b := newBudget(t, 50_000, 50_000, 0, &now)

	b.RecordUsage(40_000, 10_000, "digest")
	require.False(t, b.CanSpend(1, PriorityUrgent))

	now = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	snap := b.Snapshot()
	assert.Equal(t, 0, snap.DailyUsed)
	assert.Equal(t, 0, snap.HourlyUsed)
	assert.True(t, b.CanSpend(50_000, PriorityUrgent))
}

func TestDailyLimitBindsAcrossHours(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	b := newBudget(t, 10_000, 12_000, 0, &now)

	b.RecordUsage(10_000, 0, "investigation")
	now = now.Add(time.Hour)

	// Fresh hourly window, but only 2k left in the day.
	assert.True(t, b.CanSpend(2_000, PriorityNormal))
	assert.False(t, b.CanSpend(2_001, PriorityNormal))
}

func TestRecorderReceivesUsageRows(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := &recordingUsage{}
	b := newBudget(t, 10_000, 100_000, 0, &now, WithRecorder(rec))

	b.RecordUsage(150, 30, "chat")
	b.RecordUsage(0, 0, "noop")

	require.Len(t, rec.rows, 1, "zero-token rounds are not persisted")
	row := rec.rows[0]
	assert.Equal(t, "default", row.Tenant)
	assert.Equal(t, 150, row.PromptTokens)
	assert.Equal(t, 30, row.CompletionTokens)
	assert.Equal(t, "chat", row.Context)
}
