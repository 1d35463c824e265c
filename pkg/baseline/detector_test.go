package baseline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

type fakeStore struct {
	computed  []storage.Baseline
	upserted  []storage.Baseline
	loaded    []storage.Baseline
	computeErr error
}

func (f *fakeStore) ComputeBaselines(_ context.Context, _ string, _ time.Time, _ int) ([]storage.Baseline, error) {
	return f.computed, f.computeErr
}

func (f *fakeStore) UpsertBaselines(_ context.Context, _ string, baselines []storage.Baseline) error {
	f.upserted = baselines
	return nil
}

func (f *fakeStore) LoadBaselines(_ context.Context, _ string) ([]storage.Baseline, error) {
	return f.loaded, nil
}

func newTestTracker(t *testing.T, baselines ...storage.Baseline) *Tracker {
	t.Helper()
	store := &fakeStore{computed: baselines}
	tr := NewTracker(store, "default", slog.Default())
	require.NoError(t, tr.Refresh(context.Background()))
	return tr
}

func TestTrackerRefreshReplacesMap(t *testing.T) {
	store := &fakeStore{computed: []storage.Baseline{
		{MetricName: "cpu_percent", Mean: 40, Stddev: 5, SampleCount: 100},
	}}
	tr := NewTracker(store, "default", slog.Default())
	require.NoError(t, tr.Refresh(context.Background()))

	b, ok := tr.Get("cpu_percent")
	require.True(t, ok)
	assert.Equal(t, 40.0, b.Mean)
	assert.Len(t, store.upserted, 1)

	// A second refresh with a different set fully replaces the first.
	store.computed = []storage.Baseline{
		{MetricName: "memory_percent", Mean: 60, Stddev: 3, SampleCount: 50},
	}
	require.NoError(t, tr.Refresh(context.Background()))
	_, ok = tr.Get("cpu_percent")
	assert.False(t, ok)
	_, ok = tr.Get("memory_percent")
	assert.True(t, ok)
}

func TestDetectorZeroStddevNeverFires(t *testing.T) {
	tr := newTestTracker(t, storage.Baseline{MetricName: "cpu_percent", Mean: 40, Stddev: 0, SampleCount: 100})
	d := NewDetector(tr)

	assert.Nil(t, d.Check("cpu_percent", 40))
	assert.Nil(t, d.Check("cpu_percent", 100000))
}

func TestDetectorNoBaselineNoAnomaly(t *testing.T) {
	tr := newTestTracker(t)
	d := NewDetector(tr)
	assert.Nil(t, d.Check("unknown_metric", 999))
}

func TestDetectorSeverityScalesWithZ(t *testing.T) {
	tr := newTestTracker(t, storage.Baseline{MetricName: "cpu_percent", Mean: 40, Stddev: 10, SampleCount: 100})
	d := NewDetector(tr)

	// z = 1.5 → within bounds
	assert.Nil(t, d.Check("cpu_percent", 55))

	// z = 2.5 → notable
	a := d.Check("cpu_percent", 65)
	require.NotNil(t, a)
	assert.Equal(t, events.SeverityNotable, a.Severity)
	assert.InDelta(t, 2.5, a.ZScore, 0.01)
	assert.Contains(t, a.Message, "cpu_percent")
}

func TestDetectorUrgentAboveThree(t *testing.T) {
	tr := newTestTracker(t, storage.Baseline{MetricName: "load_per_cpu", Mean: 1, Stddev: 0.5, SampleCount: 100})
	d := NewDetector(tr)

	a := d.Check("load_per_cpu", 3.5) // z = 5
	require.NotNil(t, a)
	assert.Equal(t, events.SeverityUrgent, a.Severity)
}

func TestDetectorCooldown(t *testing.T) {
	tr := newTestTracker(t, storage.Baseline{MetricName: "cpu_percent", Mean: 40, Stddev: 10, SampleCount: 100})

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	d := NewDetector(tr, WithClock(func() time.Time { return now }))

	require.NotNil(t, d.Check("cpu_percent", 90))
	assert.Nil(t, d.Check("cpu_percent", 90), "second fire within cooldown suppressed")

	now = now.Add(anomalyCooldown + time.Second)
	assert.NotNil(t, d.Check("cpu_percent", 90), "fires again after cooldown")
}

func TestCheckAllCurrent(t *testing.T) {
	tr := newTestTracker(t,
		storage.Baseline{MetricName: "cpu_percent", Mean: 40, Stddev: 10, SampleCount: 100},
		storage.Baseline{MetricName: "memory_percent", Mean: 60, Stddev: 5, SampleCount: 100},
	)
	d := NewDetector(tr)

	anomalies := d.CheckAllCurrent(map[string]float64{
		"cpu_percent":    95, // z = 5.5
		"memory_percent": 62, // z = 0.4
		"disk_percent":   99, // no baseline
	})
	require.Len(t, anomalies, 1)
	assert.Equal(t, "cpu_percent", anomalies[0].MetricName)
}

func TestAnomalyEvent(t *testing.T) {
	tr := newTestTracker(t, storage.Baseline{MetricName: "cpu_percent", Mean: 40, Stddev: 10, SampleCount: 100})
	d := NewDetector(tr)

	a := d.Check("cpu_percent", 90)
	require.NotNil(t, a)

	e := a.Event(events.SourceSystemMetrics, "default")
	assert.Equal(t, events.TypeAnomalyDetected, e.Type)
	assert.Equal(t, events.SeverityUrgent, e.Severity)
	assert.Equal(t, "cpu_percent", e.Data["metric_name"])
	assert.Equal(t, "default", e.Tenant)
}
