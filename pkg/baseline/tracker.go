// Package baseline maintains rolling 7-day statistical profiles per metric
// and detects anomalies by z-score against them.
package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/argus-obs/argus/pkg/storage"
)

const (
	// Window is the lookback over which baselines are computed.
	Window = 7 * 24 * time.Hour

	// MinSamples is the minimum sample count for a metric to get a baseline.
	MinSamples = 10
)

// BaselineStore is the slice of the time-series repo the tracker needs.
type BaselineStore interface {
	ComputeBaselines(ctx context.Context, tenant string, since time.Time, minSamples int) ([]storage.Baseline, error)
	UpsertBaselines(ctx context.Context, tenant string, baselines []storage.Baseline) error
	LoadBaselines(ctx context.Context, tenant string) ([]storage.Baseline, error)
}

// Tracker computes and caches per-metric baselines. Refresh runs on a
// schedule (every 6h); readers see the in-memory map, which survives a
// database outage at the cost of staleness.
type Tracker struct {
	store  BaselineStore
	tenant string
	logger *slog.Logger

	mu        sync.RWMutex
	baselines map[string]storage.Baseline
}

func NewTracker(store BaselineStore, tenant string, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		tenant:    tenant,
		logger:    logger.With("component", "baseline_tracker"),
		baselines: map[string]storage.Baseline{},
	}
}

// Load primes the in-memory map from the baselines table at startup.
func (t *Tracker) Load(ctx context.Context) error {
	rows, err := t.store.LoadBaselines(ctx, t.tenant)
	if err != nil {
		return fmt.Errorf("failed to load baselines: %w", err)
	}
	t.replace(rows)
	t.logger.Info("Baselines loaded", "count", len(rows))
	return nil
}

// Refresh recomputes the 7-day aggregates and atomically replaces both the
// in-memory map and the baselines table.
func (t *Tracker) Refresh(ctx context.Context) error {
	since := time.Now().UTC().Add(-Window)
	rows, err := t.store.ComputeBaselines(ctx, t.tenant, since, MinSamples)
	if err != nil {
		return fmt.Errorf("failed to compute baselines: %w", err)
	}
	t.replace(rows)
	if err := t.store.UpsertBaselines(ctx, t.tenant, rows); err != nil {
		// In-memory map already updated; persistence is best-effort.
		t.logger.Warn("Failed to persist baselines", "error", err)
	}
	t.logger.Info("Baselines refreshed", "count", len(rows))
	return nil
}

// Get returns the baseline for a metric, if one exists.
func (t *Tracker) Get(name string) (storage.Baseline, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.baselines[name]
	return b, ok
}

// Snapshot returns a copy of every tracked baseline.
func (t *Tracker) Snapshot() map[string]storage.Baseline {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]storage.Baseline, len(t.baselines))
	for k, v := range t.baselines {
		out[k] = v
	}
	return out
}

// FormatForPrompt renders the host-level baselines as a compact text block
// for the agent system prompt. SDK metrics are omitted to keep it short.
func (t *Tracker) FormatForPrompt() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.baselines))
	for name := range t.baselines {
		if strings.HasPrefix(name, "sdk.") || strings.HasPrefix(name, "traffic.") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		b := t.baselines[name]
		fmt.Fprintf(&sb, "- %s: mean=%.1f stddev=%.1f p95=%.1f (n=%d)\n",
			name, b.Mean, b.Stddev, b.P95, b.SampleCount)
	}
	return sb.String()
}

func (t *Tracker) replace(rows []storage.Baseline) {
	next := make(map[string]storage.Baseline, len(rows))
	for _, b := range rows {
		next[b.MetricName] = b
	}
	t.mu.Lock()
	t.baselines = next
	t.mu.Unlock()
}
