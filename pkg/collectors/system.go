package collectors

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/argus-obs/argus/pkg/baseline"
	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

const defaultMetricsInterval = 15 * time.Second

// MetricSink receives sampled metric rows for time-series storage.
type MetricSink interface {
	InsertMetricsBatch(ctx context.Context, tenant string, rows []storage.MetricRow) error
}

// SystemMetrics samples host-level metrics with gopsutil: CPU, load,
// memory, swap, per-mount disk usage, and network counter rates. Each
// sample is published as one metric_collected event, run through the
// threshold classifier, persisted, and fed to the anomaly detector.
type SystemMetrics struct {
	loop
	bus        *events.Bus
	classifier *events.Classifier
	sink       MetricSink
	detector   *baseline.Detector
	tenant     string
	interval   time.Duration
	hostRoot   string
	logger     *slog.Logger

	mu       sync.Mutex
	snapshot map[string]float64
	prevNet  *gopsnet.IOCountersStat
	prevAt   time.Time
}

// NewSystemMetrics builds the system metrics collector. A nil detector
// disables anomaly checks; a nil sink disables persistence.
func NewSystemMetrics(bus *events.Bus, classifier *events.Classifier, sink MetricSink, detector *baseline.Detector, tenant, hostRoot string, interval time.Duration, logger *slog.Logger) *SystemMetrics {
	if interval <= 0 {
		interval = defaultMetricsInterval
	}
	return &SystemMetrics{
		loop:       newLoop(),
		bus:        bus,
		classifier: classifier,
		sink:       sink,
		detector:   detector,
		tenant:     tenant,
		interval:   interval,
		hostRoot:   hostRoot,
		logger:     logger.With("collector", "system_metrics"),
		snapshot:   map[string]float64{},
	}
}

func (s *SystemMetrics) Name() string { return "system_metrics" }

func (s *SystemMetrics) Start(ctx context.Context) {
	s.every(ctx, s.interval, s.collect)
}

func (s *SystemMetrics) Stop() { s.stop() }

// Snapshot returns the latest sampled metric map for the get_metrics tool
// and the anomaly-aware status endpoints.
func (s *SystemMetrics) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

func (s *SystemMetrics) collect(ctx context.Context) {
	metrics := s.sample(ctx)
	if len(metrics) == 0 {
		return
	}
	s.process(ctx, metrics)
}

// sample reads the host via gopsutil. Individual probe failures are logged
// and the remaining metrics still flow.
func (s *SystemMetrics) sample(ctx context.Context) map[string]float64 {
	metrics := map[string]float64{}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		metrics["cpu_percent"] = percents[0]
	} else if err != nil {
		s.logger.Warn("cpu sample failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		cpus := runtime.NumCPU()
		if cpus < 1 {
			cpus = 1
		}
		metrics["load_1m"] = avg.Load1
		metrics["load_per_cpu"] = avg.Load1 / float64(cpus)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		metrics["memory_percent"] = vm.UsedPercent
		metrics["memory_used_mb"] = float64(vm.Used) / 1024 / 1024
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		metrics["swap_percent"] = swap.UsedPercent
	}

	s.sampleDisks(ctx, metrics)
	s.sampleNetwork(ctx, metrics)
	return metrics
}

// sampleDisks records per-mount usage and the worst mount as disk_percent.
// With a host_root prefix only mounts under it count, reported without the
// prefix.
func (s *SystemMetrics) sampleDisks(ctx context.Context, metrics map[string]float64) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		s.logger.Warn("disk partitions failed", "error", err)
		return
	}
	worst := 0.0
	for _, part := range partitions {
		mount := part.Mountpoint
		if s.hostRoot != "" {
			if !strings.HasPrefix(mount, s.hostRoot) {
				continue
			}
			mount = strings.TrimPrefix(mount, s.hostRoot)
			if mount == "" {
				mount = "/"
			}
		}
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			continue
		}
		metrics["disk_percent:"+mount] = usage.UsedPercent
		if usage.UsedPercent > worst {
			worst = usage.UsedPercent
		}
	}
	metrics["disk_percent"] = worst
}

// sampleNetwork derives byte and packet rates from counter deltas against
// the previous sample.
func (s *SystemMetrics) sampleNetwork(ctx context.Context, metrics map[string]float64) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		return
	}
	now := time.Now()
	cur := counters[0]

	s.mu.Lock()
	prev, prevAt := s.prevNet, s.prevAt
	s.prevNet, s.prevAt = &cur, now
	s.mu.Unlock()

	if prev == nil {
		return
	}
	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return
	}
	metrics["net_bytes_sent_rate"] = float64(cur.BytesSent-prev.BytesSent) / elapsed
	metrics["net_bytes_recv_rate"] = float64(cur.BytesRecv-prev.BytesRecv) / elapsed
	metrics["net_packets_sent_rate"] = float64(cur.PacketsSent-prev.PacketsSent) / elapsed
	metrics["net_packets_recv_rate"] = float64(cur.PacketsRecv-prev.PacketsRecv) / elapsed
}

// process publishes, classifies, persists, and anomaly-checks one sample.
// Split from sample so the pipeline is testable without a live host.
func (s *SystemMetrics) process(ctx context.Context, metrics map[string]float64) {
	s.mu.Lock()
	s.snapshot = metrics
	s.mu.Unlock()

	collected := events.New(events.SourceSystemMetrics, events.TypeMetricCollected, s.tenant)
	for k, v := range metrics {
		collected.Data[k] = v
	}
	s.bus.Publish(collected)

	// One candidate event per metric so each threshold fires independently.
	for name, value := range metrics {
		candidate := events.New(events.SourceSystemMetrics, events.TypeMetricCollected, s.tenant)
		candidate.Data[name] = value
		classified := s.classifier.Classify(candidate)
		if classified.Severity.AtLeast(events.SeverityNotable) {
			s.bus.Publish(classified)
		}
	}

	if s.sink != nil {
		rows := make([]storage.MetricRow, 0, len(metrics))
		now := time.Now().UTC()
		for name, value := range metrics {
			rows = append(rows, storage.MetricRow{Timestamp: now, Name: name, Value: value})
		}
		insertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.sink.InsertMetricsBatch(insertCtx, s.tenant, rows); err != nil {
			s.logger.Warn("metric batch insert failed", "error", err)
		}
		cancel()
	}

	if s.detector != nil {
		for _, anomaly := range s.detector.CheckAllCurrent(metrics) {
			s.bus.Publish(anomaly.Event(events.SourceSystemMetrics, s.tenant))
		}
	}
}
