package collectors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

type recordingLogSink struct {
	mu      sync.Mutex
	entries []storage.LogEntry
}

func (s *recordingLogSink) InsertLogEntry(_ context.Context, _ string, e storage.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func newTestWatcher(sink LogSink) *LogWatcher {
	return NewLogWatcher(events.NewBus(16), sink, nil, nil, "default", slog.Default())
}

func TestClassifyLogLine(t *testing.T) {
	assert.Equal(t, "error", classifyLogLine("2026-08-25 ERROR something broke"))
	assert.Equal(t, "error", classifyLogLine("FATAL: out of connections"))
	assert.Equal(t, "error", classifyLogLine("Traceback (most recent call last):"))
	assert.Equal(t, "warning", classifyLogLine("WARN disk getting full"))
	assert.Equal(t, "", classifyLogLine("INFO request served in 12ms"))
}

func TestWarningLinesIndexed(t *testing.T) {
	sink := &recordingLogSink{}
	w := newTestWatcher(sink)

	w.handleLine(context.Background(), "/var/log/app.log", "WARNING: low disk", time.Now())
	w.handleLine(context.Background(), "/var/log/app.log", "INFO: all fine", time.Now())

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "warning", sink.entries[0].Severity)
	assert.Equal(t, "/var/log/app.log", sink.entries[0].Path)
}

func TestOOMKillRaisesUrgent(t *testing.T) {
	w := newTestWatcher(nil)
	got := w.handleLine(context.Background(), "/var/log/kern.log",
		"Aug 25 12:00:00 host kernel: Out of memory: Killed process 4242 (postgres)", time.Now())

	ooms := findEvents(got, events.TypeProcessOOMKilled)
	require.Len(t, ooms, 1)
	assert.Equal(t, events.SeverityUrgent, ooms[0].Severity)
	assert.Equal(t, "postgres", ooms[0].Data["name"])
	assert.Equal(t, "4242", ooms[0].Data["pid"])
}

func TestSegfaultRaisesCrash(t *testing.T) {
	w := newTestWatcher(nil)
	got := w.handleLine(context.Background(), "/var/log/kern.log",
		"myapp[812]: segfault at 0 ip 00007f...", time.Now())

	crashes := findEvents(got, events.TypeProcessCrashed)
	require.Len(t, crashes, 1)
	assert.Equal(t, "myapp", crashes[0].Data["name"])
	assert.Equal(t, "812", crashes[0].Data["pid"])
}

func TestErrorBurstFiresAtThreshold(t *testing.T) {
	w := newTestWatcher(nil)
	now := time.Now().UTC()

	var bursts []events.Event
	for i := 0; i < errorBurstThreshold; i++ {
		got := w.handleLine(context.Background(), "/var/log/app.log",
			fmt.Sprintf("ERROR db timeout attempt %d", i), now.Add(time.Duration(i)*time.Second))
		bursts = append(bursts, findEvents(got, events.TypeErrorBurst)...)
	}

	require.Len(t, bursts, 1, "burst fires exactly once at the threshold")
	assert.Equal(t, events.SeverityUrgent, bursts[0].Severity)
	assert.Equal(t, "/var/log/app.log", bursts[0].Data["file"])
	assert.Equal(t, errorBurstThreshold, bursts[0].Data["count"])
}

func TestErrorBurstPerPath(t *testing.T) {
	w := newTestWatcher(nil)
	now := time.Now().UTC()

	// Errors spread across two files never reach the per-path threshold.
	for i := 0; i < errorBurstThreshold; i++ {
		path := fmt.Sprintf("/var/log/app%d.log", i%2)
		got := w.handleLine(context.Background(), path, "ERROR boom", now.Add(time.Duration(i)*time.Second))
		assert.Empty(t, findEvents(got, events.TypeErrorBurst))
	}
}

func TestNewErrorPatternOnce(t *testing.T) {
	w := newTestWatcher(nil)
	now := time.Now().UTC()

	first := w.handleLine(context.Background(), "/var/log/app.log", "ERROR connection refused to host db-1", now)
	require.Len(t, findEvents(first, events.TypeNewErrorPattern), 1)

	// Same pattern with different volatile parts fingerprints identically.
	repeat := w.handleLine(context.Background(), "/var/log/app.log", "ERROR connection refused to host db-2", now)
	assert.Empty(t, findEvents(repeat, events.TypeNewErrorPattern))

	other := w.handleLine(context.Background(), "/var/log/app.log", "ERROR disk quota exceeded", now)
	assert.Len(t, findEvents(other, events.TypeNewErrorPattern), 1)
}
