package collectors

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/events"
)

func findEvents(list []events.Event, typ events.Type) []events.Event {
	var out []events.Event
	for _, e := range list {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestRestartLoopDetected(t *testing.T) {
	m := NewProcessMonitor(events.NewBus(16), "default", time.Second, slog.Default())
	now := time.Now().UTC()

	// Seed scan: nothing fires on first observation.
	got := m.observe(now, []procSample{{PID: 100, Name: "worker"}})
	assert.Empty(t, findEvents(got, events.TypeProcessRestartLoop))

	// The same name reappearing under fresh pids three times inside the
	// window is a restart loop.
	got = m.observe(now.Add(30*time.Second), []procSample{{PID: 101, Name: "worker"}})
	assert.Empty(t, findEvents(got, events.TypeProcessRestartLoop))
	got = m.observe(now.Add(60*time.Second), []procSample{{PID: 102, Name: "worker"}})
	assert.Empty(t, findEvents(got, events.TypeProcessRestartLoop))
	got = m.observe(now.Add(90*time.Second), []procSample{{PID: 103, Name: "worker"}})

	loops := findEvents(got, events.TypeProcessRestartLoop)
	require.Len(t, loops, 1)
	assert.Equal(t, events.SeverityNotable, loops[0].Severity)
	assert.Equal(t, "worker", loops[0].Data["name"])
	assert.Contains(t, loops[0].Message, "restarted 3 times")
}

func TestRestartLoopCooldown(t *testing.T) {
	m := NewProcessMonitor(events.NewBus(16), "default", time.Second, slog.Default())
	now := time.Now().UTC()

	m.observe(now, []procSample{{PID: 100, Name: "worker"}})
	for i := 1; i <= 3; i++ {
		m.observe(now.Add(time.Duration(i)*20*time.Second), []procSample{{PID: int32(100 + i), Name: "worker"}})
	}

	// A fourth restart shortly after must not re-fire inside the cooldown.
	got := m.observe(now.Add(100*time.Second), []procSample{{PID: 110, Name: "worker"}})
	assert.Empty(t, findEvents(got, events.TypeProcessRestartLoop))
}

func TestRestartsOutsideWindowIgnored(t *testing.T) {
	m := NewProcessMonitor(events.NewBus(16), "default", time.Second, slog.Default())
	now := time.Now().UTC()

	m.observe(now, []procSample{{PID: 100, Name: "worker"}})
	// Restarts spread beyond the 300s window never accumulate to three.
	m.observe(now.Add(3*time.Minute), []procSample{{PID: 101, Name: "worker"}})
	m.observe(now.Add(9*time.Minute), []procSample{{PID: 102, Name: "worker"}})
	got := m.observe(now.Add(15*time.Minute), []procSample{{PID: 103, Name: "worker"}})
	assert.Empty(t, findEvents(got, events.TypeProcessRestartLoop))
}

func TestTopSnapshotRetained(t *testing.T) {
	m := NewProcessMonitor(events.NewBus(16), "default", time.Second, slog.Default())
	now := time.Now().UTC()

	samples := make([]procSample, 0, 15)
	for i := 0; i < 15; i++ {
		samples = append(samples, procSample{
			PID: int32(200 + i), Name: "svc", CPUPercent: float64(i),
		})
	}
	m.observe(now, samples)

	top := m.Top()
	require.Len(t, top, 10)
	assert.Equal(t, 14.0, top[0]["cpu_percent"], "sorted by CPU descending")
}
