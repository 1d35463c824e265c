package collectors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/argus-obs/argus/pkg/events"
)

const (
	defaultProcessInterval = 30 * time.Second

	// restartWindow and restartThreshold define a restart loop: the same
	// process name appearing this many times inside the window.
	restartWindow    = 300 * time.Second
	restartThreshold = 3
	restartCooldown  = 600 * time.Second

	// snapshotEveryN publishes a full process_snapshot event every Nth scan.
	snapshotEveryN = 10
)

// procSample is one observed process.
type procSample struct {
	PID           int32
	Name          string
	CPUPercent    float64
	MemoryPercent float64
}

// ProcessMonitor watches the process table for crash-restart loops and
// keeps a top-by-CPU snapshot for the chat and investigation tools.
type ProcessMonitor struct {
	loop
	bus      *events.Bus
	tenant   string
	interval time.Duration
	logger   *slog.Logger

	// list is swappable for tests; defaults to gopsutil.
	list func(ctx context.Context) ([]procSample, error)

	mu         sync.Mutex
	knownPIDs  map[int32]string
	starts     map[string][]time.Time // name -> first-seen times
	lastLooped map[string]time.Time   // name -> last restart-loop event
	top        []procSample
	scans      int
}

func NewProcessMonitor(bus *events.Bus, tenant string, interval time.Duration, logger *slog.Logger) *ProcessMonitor {
	if interval <= 0 {
		interval = defaultProcessInterval
	}
	return &ProcessMonitor{
		loop:       newLoop(),
		bus:        bus,
		tenant:     tenant,
		interval:   interval,
		logger:     logger.With("collector", "process_monitor"),
		list:       listProcessSamples,
		knownPIDs:  map[int32]string{},
		starts:     map[string][]time.Time{},
		lastLooped: map[string]time.Time{},
	}
}

func (m *ProcessMonitor) Name() string { return "process_monitor" }

func (m *ProcessMonitor) Start(ctx context.Context) {
	m.every(ctx, m.interval, m.scan)
}

func (m *ProcessMonitor) Stop() { m.stop() }

// Top returns the most recent top-by-CPU snapshot.
func (m *ProcessMonitor) Top() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.top))
	for _, p := range m.top {
		out = append(out, map[string]any{
			"pid":            p.PID,
			"name":           p.Name,
			"cpu_percent":    p.CPUPercent,
			"memory_percent": p.MemoryPercent,
		})
	}
	return out
}

func (m *ProcessMonitor) scan(ctx context.Context) {
	procs, err := m.list(ctx)
	if err != nil {
		m.logger.Warn("process scan failed", "error", err)
		return
	}
	for _, e := range m.observe(time.Now().UTC(), procs) {
		m.bus.Publish(e)
	}
}

// observe updates restart tracking from one process-table sample and
// returns the events to publish.
func (m *ProcessMonitor) observe(now time.Time, procs []procSample) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[int32]string, len(procs))
	var out []events.Event
	for _, p := range procs {
		current[p.PID] = p.Name
		if _, seen := m.knownPIDs[p.PID]; seen || m.scans == 0 {
			continue
		}
		// New pid for a known name: candidate restart.
		starts := append(m.starts[p.Name], now)
		cutoff := now.Add(-restartWindow)
		pruned := starts[:0]
		for _, t := range starts {
			if t.After(cutoff) {
				pruned = append(pruned, t)
			}
		}
		m.starts[p.Name] = pruned

		if len(pruned) >= restartThreshold && now.Sub(m.lastLooped[p.Name]) >= restartCooldown {
			m.lastLooped[p.Name] = now
			e := events.New(events.SourceProcessMonitor, events.TypeProcessRestartLoop, m.tenant)
			e.Severity = events.SeverityNotable
			e.Message = fmt.Sprintf("Process '%s' restarted %d times in %d minutes",
				p.Name, len(pruned), int(restartWindow.Minutes()))
			e.Data["name"] = p.Name
			e.Data["restarts"] = len(pruned)
			e.Data["pid"] = p.PID
			out = append(out, e)
		}
	}
	m.knownPIDs = current
	m.scans++

	sort.Slice(procs, func(i, j int) bool { return procs[i].CPUPercent > procs[j].CPUPercent })
	if len(procs) > 10 {
		procs = procs[:10]
	}
	m.top = append([]procSample(nil), procs...)

	if m.scans%snapshotEveryN == 0 {
		e := events.New(events.SourceProcessMonitor, events.TypeProcessSnapshot, m.tenant)
		e.Message = fmt.Sprintf("Process snapshot: top %d by CPU", len(procs))
		top := make([]map[string]any, 0, len(procs))
		for _, p := range procs {
			top = append(top, map[string]any{
				"pid": p.PID, "name": p.Name, "cpu_percent": p.CPUPercent,
			})
		}
		e.Data["top"] = top
		out = append(out, e)
	}
	return out
}

// listProcessSamples reads the live process table. Per-process failures
// (exit races, permissions) are skipped.
func listProcessSamples(ctx context.Context) ([]procSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	out := make([]procSample, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		sample := procSample{PID: p.Pid, Name: name}
		if v, err := p.CPUPercentWithContext(ctx); err == nil {
			sample.CPUPercent = v
		}
		if v, err := p.MemoryPercentWithContext(ctx); err == nil {
			sample.MemoryPercent = float64(v)
		}
		out = append(out, sample)
	}
	return out, nil
}
