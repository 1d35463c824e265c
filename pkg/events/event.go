// Package events defines the telemetry event model, the threshold-based
// classifier, and the in-process event bus that fans events out to
// subscribers (alert engine, investigator, diagnostics).
package events

import "time"

// Severity is the three-tier classification applied to every event.
type Severity string

const (
	SeverityNormal  Severity = "NORMAL"
	SeverityNotable Severity = "NOTABLE"
	SeverityUrgent  Severity = "URGENT"
)

// Rank returns the ordering position of the severity (NORMAL < NOTABLE < URGENT).
// Unknown severities rank below NORMAL.
func (s Severity) Rank() int {
	switch s {
	case SeverityNormal:
		return 1
	case SeverityNotable:
		return 2
	case SeverityUrgent:
		return 3
	}
	return 0
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Source identifies the producer of an event.
type Source string

const (
	SourceSystemMetrics   Source = "system_metrics"
	SourceProcessMonitor  Source = "process_monitor"
	SourceLogWatcher      Source = "log_watcher"
	SourceSecurityScanner Source = "security_scanner"
	SourceSDKTelemetry    Source = "sdk_telemetry"
	SourceScheduler       Source = "scheduler"
	SourceAPI             Source = "api"
)

// Type is the enumerated event kind. Producers may emit types not listed
// here; the pipeline passes unknown types through unchanged.
type Type string

const (
	TypeMetricCollected    Type = "metric_collected"
	TypeCPUHigh            Type = "cpu_high"
	TypeMemoryHigh         Type = "memory_high"
	TypeDiskHigh           Type = "disk_high"
	TypeLoadHigh           Type = "load_high"
	TypeSwapHigh           Type = "swap_high"
	TypeProcessCrashed     Type = "process_crashed"
	TypeProcessOOMKilled   Type = "process_oom_killed"
	TypeProcessRestartLoop Type = "process_restart_loop"
	TypeProcessSnapshot    Type = "process_snapshot"
	TypeErrorBurst         Type = "error_burst"
	TypeNewErrorPattern    Type = "new_error_pattern"
	TypeSecurityEvent      Type = "security_event"
	TypeNewOpenPort        Type = "new_open_port"
	TypeSuspiciousOutbound Type = "suspicious_outbound"
	TypeAnomalyDetected    Type = "anomaly_detected"
	TypeDeployDetected     Type = "deploy_detected"

	TypeSDKErrorSpike         Type = "sdk_error_spike"
	TypeSDKLatencyDegradation Type = "sdk_latency_degradation"
	TypeSDKColdStartSpike     Type = "sdk_cold_start_spike"
	TypeSDKServiceSilent      Type = "sdk_service_silent"
	TypeSDKTrafficBurst       Type = "sdk_traffic_burst"

	TypeManualInvestigation Type = "manual_investigation"
)

// Event is a uniformly typed telemetry record. Immutable after
// classification: the classifier returns a modified copy, never mutates.
type Event struct {
	Source    Source         `json:"source"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Tenant    string         `json:"tenant"`
}

// New constructs an event with the timestamp set to now and NORMAL severity.
func New(source Source, typ Type, tenant string) Event {
	return Event{
		Source:    source,
		Type:      typ,
		Severity:  SeverityNormal,
		Data:      map[string]any{},
		Timestamp: time.Now().UTC(),
		Tenant:    tenant,
	}
}

// Float extracts a numeric value from the event data map, accepting the
// numeric types that survive a JSON round-trip.
func (e Event) Float(key string) (float64, bool) {
	v, ok := e.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// String extracts a string value from the event data map.
func (e Event) String(key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}
