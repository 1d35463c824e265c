package collectors

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

type recordingMetricSink struct {
	mu   sync.Mutex
	rows []storage.MetricRow
}

func (s *recordingMetricSink) InsertMetricsBatch(_ context.Context, _ string, rows []storage.MetricRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	return nil
}

func collectBusEvents(t *testing.T, bus *events.Bus) func() []events.Event {
	t.Helper()
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe("test", func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}
}

func TestProcessPublishesAndClassifies(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	snapshot := collectBusEvents(t, bus)
	sink := &recordingMetricSink{}

	s := NewSystemMetrics(bus, events.NewClassifier(nil), sink, nil, "default", "", time.Second, slog.Default())
	s.process(context.Background(), map[string]float64{
		"cpu_percent":    97.5,
		"memory_percent": 40.0,
		"disk_percent":   50.0,
	})

	require.Eventually(t, func() bool {
		return len(findEvents(snapshot(), events.TypeCPUHigh)) == 1
	}, time.Second, 10*time.Millisecond)

	got := snapshot()
	collected := findEvents(got, events.TypeMetricCollected)
	require.NotEmpty(t, collected)
	cpu, ok := collected[0].Float("cpu_percent")
	require.True(t, ok)
	assert.Equal(t, 97.5, cpu)

	high := findEvents(got, events.TypeCPUHigh)[0]
	assert.Equal(t, events.SeverityUrgent, high.Severity)
	assert.Equal(t, "CPU usage at 97.5%", high.Message)

	// Healthy metrics never raise threshold events.
	assert.Empty(t, findEvents(got, events.TypeMemoryHigh))
	assert.Empty(t, findEvents(got, events.TypeDiskHigh))

	sink.mu.Lock()
	assert.Len(t, sink.rows, 3)
	sink.mu.Unlock()
}

func TestSnapshotExposedForTools(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()

	s := NewSystemMetrics(bus, events.NewClassifier(nil), nil, nil, "default", "", time.Second, slog.Default())
	s.process(context.Background(), map[string]float64{"cpu_percent": 12.0})

	snap := s.Snapshot()
	assert.Equal(t, 12.0, snap["cpu_percent"])
}
