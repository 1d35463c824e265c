// Package budget enforces hourly and daily LLM token limits with a reserve
// held back for urgent work.
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/storage"
)

// Priority selects which share of the budget a spend request may use.
type Priority string

const (
	// PriorityNormal sees only the unreserved share of each window.
	PriorityNormal Priority = "normal"
	// PriorityUrgent sees the full window limits.
	PriorityUrgent Priority = "urgent"
)

// Snapshot is a point-in-time view of both windows.
type Snapshot struct {
	HourlyUsed  int `json:"hourly_used"`
	HourlyLimit int `json:"hourly_limit"`
	DailyUsed   int `json:"daily_used"`
	DailyLimit  int `json:"daily_limit"`
}

// UsageRecorder persists per-round token spend. Implemented by
// storage.OperationalRepo.
type UsageRecorder interface {
	AppendTokenUsage(ctx context.Context, u storage.TokenUsageRow) error
}

// TokenBudget tracks spend in two windows that reset on the hour and day
// boundary respectively. Persistence is best-effort: the in-memory counters
// stay authoritative when the database is down.
type TokenBudget struct {
	mu sync.Mutex

	hourlyLimit     int
	dailyLimit      int
	priorityReserve float64

	hourlyUsed int
	dailyUsed  int
	hourStart  time.Time
	dayStart   time.Time

	tenant   string
	recorder UsageRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a TokenBudget.
type Option func(*TokenBudget)

// WithClock injects a clock, used in tests to cross window boundaries.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBudget) { b.now = now }
}

// WithRecorder enables best-effort persistence of each recorded usage.
func WithRecorder(r UsageRecorder) Option {
	return func(b *TokenBudget) { b.recorder = r }
}

func New(cfg config.AIBudgetConfig, tenant string, logger *slog.Logger, opts ...Option) *TokenBudget {
	b := &TokenBudget{
		hourlyLimit:     cfg.HourlyTokenLimit,
		dailyLimit:      cfg.DailyTokenLimit,
		priorityReserve: cfg.PriorityReserve,
		tenant:          tenant,
		now:             time.Now,
		logger:          logger.With("component", "token_budget"),
	}
	for _, opt := range opts {
		opt(b)
	}
	t := b.now()
	b.hourStart = t.Truncate(time.Hour)
	b.dayStart = dayOf(t)
	return b
}

// CanSpend reports whether tokens may be spent at the given priority.
// Normal priority is capped at (1 - priority_reserve) of each limit so
// urgent investigations always find headroom.
func (b *TokenBudget) CanSpend(tokens int, priority Priority) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindows()

	hourlyCap := b.hourlyLimit
	dailyCap := b.dailyLimit
	if priority != PriorityUrgent {
		hourlyCap = int(float64(b.hourlyLimit) * (1 - b.priorityReserve))
		dailyCap = int(float64(b.dailyLimit) * (1 - b.priorityReserve))
	}
	return b.hourlyUsed+tokens <= hourlyCap && b.dailyUsed+tokens <= dailyCap
}

// RecordUsage adds actual spend to both windows and appends a token_usage
// row when a recorder is configured.
func (b *TokenBudget) RecordUsage(promptTokens, completionTokens int, usageContext string) {
	total := promptTokens + completionTokens
	if total <= 0 {
		return
	}

	b.mu.Lock()
	b.rollWindows()
	b.hourlyUsed += total
	b.dailyUsed += total
	now := b.now()
	b.mu.Unlock()

	if b.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.recorder.AppendTokenUsage(ctx, storage.TokenUsageRow{
		Tenant:           b.tenant,
		Timestamp:        now,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Context:          usageContext,
	})
	if err != nil {
		b.logger.Warn("Failed to persist token usage", "error", err)
	}
}

// Snapshot returns the current usage of both windows.
func (b *TokenBudget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindows()
	return Snapshot{
		HourlyUsed:  b.hourlyUsed,
		HourlyLimit: b.hourlyLimit,
		DailyUsed:   b.dailyUsed,
		DailyLimit:  b.dailyLimit,
	}
}

// rollWindows resets counters when the clock has crossed an hour or day
// boundary. Callers must hold the mutex.
func (b *TokenBudget) rollWindows() {
	t := b.now()
	if hour := t.Truncate(time.Hour); !hour.Equal(b.hourStart) {
		b.hourStart = hour
		b.hourlyUsed = 0
	}
	if day := dayOf(t); !day.Equal(b.dayStart) {
		b.dayStart = day
		b.dailyUsed = 0
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
