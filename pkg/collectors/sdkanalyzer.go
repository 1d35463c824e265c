package collectors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

const (
	defaultSDKInterval = 60 * time.Second

	// Comparison thresholds between consecutive windows.
	errorRateThreshold    = 0.10
	latencyThresholdMS    = 1000.0
	coldStartShareLimit   = 0.30
	windowGrowthFactor    = 2.0
	trafficBurstFactor    = 3.0
	trafficUrgentFactor   = 10.0
	trafficBurstMinReqs   = 50
	sdkAnomalyCooldown    = 600 * time.Second
	trafficBaselineWindow = 5 * time.Minute
)

// SDKStore is the slice of the time-series repo the analyzer reads.
type SDKStore interface {
	ListActiveServices(ctx context.Context, tenant string, since time.Time) ([]string, error)
	QueryServiceWindow(ctx context.Context, tenant, service string, from, to time.Time) (storage.ServiceWindow, error)
}

// BaselineSource resolves learned baselines by metric name.
type BaselineSource interface {
	Get(name string) (storage.Baseline, bool)
}

// SDKAnalyzer compares per-service telemetry aggregates between
// consecutive windows and raises degradation events: silence, error
// spikes, latency, cold-start share, and traffic bursts vs baseline.
type SDKAnalyzer struct {
	loop
	bus       *events.Bus
	store     SDKStore
	baselines BaselineSource
	tenant    string
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // "<type>:<service>" -> last emit
}

func NewSDKAnalyzer(bus *events.Bus, store SDKStore, baselines BaselineSource, tenant string, interval time.Duration, logger *slog.Logger) *SDKAnalyzer {
	if interval <= 0 {
		interval = defaultSDKInterval
	}
	return &SDKAnalyzer{
		loop:      newLoop(),
		bus:       bus,
		store:     store,
		baselines: baselines,
		tenant:    tenant,
		interval:  interval,
		logger:    logger.With("collector", "sdk_analyzer"),
		now:       time.Now,
		lastSent:  map[string]time.Time{},
	}
}

func (a *SDKAnalyzer) Name() string { return "sdk_analyzer" }

func (a *SDKAnalyzer) Start(ctx context.Context) {
	a.every(ctx, a.interval, a.analyze)
}

func (a *SDKAnalyzer) Stop() { a.stop() }

func (a *SDKAnalyzer) analyze(ctx context.Context) {
	now := a.now().UTC()
	services, err := a.store.ListActiveServices(ctx, a.tenant, now.Add(-2*a.interval))
	if err != nil {
		a.logger.Warn("failed to list active services", "error", err)
		return
	}

	for _, service := range services {
		cur, err := a.store.QueryServiceWindow(ctx, a.tenant, service, now.Add(-a.interval), now)
		if err != nil {
			a.logger.Warn("window query failed", "service", service, "error", err)
			continue
		}
		prev, err := a.store.QueryServiceWindow(ctx, a.tenant, service, now.Add(-2*a.interval), now.Add(-a.interval))
		if err != nil {
			a.logger.Warn("window query failed", "service", service, "error", err)
			continue
		}

		reqs5m := 0
		if w, err := a.store.QueryServiceWindow(ctx, a.tenant, service, now.Add(-trafficBaselineWindow), now); err == nil {
			reqs5m = w.RequestCount
		}
		var base *storage.Baseline
		if a.baselines != nil {
			if b, ok := a.baselines.Get(fmt.Sprintf("traffic.%s.request_count_5m", service)); ok {
				base = &b
			}
		}

		for _, e := range a.compare(service, prev, cur, reqs5m, base, now) {
			a.bus.Publish(e)
		}
	}
}

// compare evaluates one service's windows and returns the degradation
// events that are due (per service-and-type cooldown).
func (a *SDKAnalyzer) compare(service string, prev, cur storage.ServiceWindow, reqs5m int, base *storage.Baseline, now time.Time) []events.Event {
	var out []events.Event

	if prev.InvocationCount > 0 && cur.InvocationCount == 0 {
		out = a.emit(out, service, events.TypeSDKServiceSilent, events.SeverityNotable, now,
			fmt.Sprintf("Service '%s' went silent: %d invocations last window, none now",
				service, prev.InvocationCount),
			map[string]any{"previous_count": prev.InvocationCount})
		return out
	}

	curRate := rate(cur.ErrorCount, cur.InvocationCount)
	prevRate := rate(prev.ErrorCount, prev.InvocationCount)
	if curRate > errorRateThreshold && curRate > windowGrowthFactor*prevRate {
		out = a.emit(out, service, events.TypeSDKErrorSpike, events.SeverityUrgent, now,
			fmt.Sprintf("Error rate spike on '%s': %.1f%% (was %.1f%%)",
				service, curRate*100, prevRate*100),
			map[string]any{
				"error_rate":          curRate,
				"previous_error_rate": prevRate,
				"error_count":         cur.ErrorCount,
			})
	}

	if cur.P95DurationMS > latencyThresholdMS && cur.P95DurationMS > windowGrowthFactor*prev.P95DurationMS && prev.P95DurationMS > 0 {
		out = a.emit(out, service, events.TypeSDKLatencyDegradation, events.SeverityNotable, now,
			fmt.Sprintf("Latency degradation on '%s': p95 %.0fms (was %.0fms)",
				service, cur.P95DurationMS, prev.P95DurationMS),
			map[string]any{
				"p95_ms":          cur.P95DurationMS,
				"previous_p95_ms": prev.P95DurationMS,
			})
	}

	curCold := rate(cur.ColdStartCount, cur.StartCount)
	prevCold := rate(prev.ColdStartCount, prev.StartCount)
	if curCold > coldStartShareLimit && curCold > windowGrowthFactor*prevCold {
		out = a.emit(out, service, events.TypeSDKColdStartSpike, events.SeverityNotable, now,
			fmt.Sprintf("Cold start spike on '%s': %.0f%% of starts (was %.0f%%)",
				service, curCold*100, prevCold*100),
			map[string]any{
				"cold_start_share":          curCold,
				"previous_cold_start_share": prevCold,
			})
	}

	if base != nil && base.Mean > 0 && reqs5m >= trafficBurstMinReqs &&
		float64(reqs5m) > trafficBurstFactor*base.Mean {
		severity := events.SeverityNotable
		if float64(reqs5m) > trafficUrgentFactor*base.Mean {
			severity = events.SeverityUrgent
		}
		out = a.emit(out, service, events.TypeSDKTrafficBurst, severity, now,
			fmt.Sprintf("Traffic spike on '%s': %d requests in 5 min (normally ~%.0f)",
				service, reqs5m, base.Mean),
			map[string]any{
				"request_count": reqs5m,
				"baseline_mean": base.Mean,
			})
	}
	return out
}

// emit appends one event unless its service-and-type cooldown is active.
func (a *SDKAnalyzer) emit(out []events.Event, service string, typ events.Type, severity events.Severity, now time.Time, message string, data map[string]any) []events.Event {
	key := string(typ) + ":" + service
	a.mu.Lock()
	if now.Sub(a.lastSent[key]) < sdkAnomalyCooldown {
		a.mu.Unlock()
		return out
	}
	a.lastSent[key] = now
	a.mu.Unlock()

	e := events.New(events.SourceSDKTelemetry, typ, a.tenant)
	e.Severity = severity
	e.Message = message
	e.Data["service"] = service
	for k, v := range data {
		e.Data[k] = v
	}
	return append(out, e)
}

func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
