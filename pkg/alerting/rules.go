// Package alerting turns notable and urgent events into alerts: rule
// matching with per-key cooldowns, acknowledgment and mute suppression,
// severity-routed external delivery with notable batching, and optional
// auto-investigation of urgent conditions.
package alerting

import (
	"fmt"
	"regexp"
	"time"

	"github.com/argus-obs/argus/pkg/events"
)

// Rule decides when an event becomes an alert.
type Rule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	EventTypes  []events.Type    `json:"event_types"`
	MinSeverity events.Severity  `json:"min_severity"`
	MaxSeverity *events.Severity `json:"max_severity,omitempty"`

	// Cooldown is the minimum gap between two fires of the same dedup key.
	Cooldown time.Duration `json:"cooldown_seconds"`

	// AutoInvestigate enqueues an AI investigation for urgent matches,
	// rate-limited per dedup key by InvestigateCooldown.
	AutoInvestigate     bool          `json:"auto_investigate"`
	InvestigateCooldown time.Duration `json:"investigate_cooldown_seconds"`
}

// Matches reports whether the rule applies to the event.
func (r Rule) Matches(e events.Event) bool {
	found := false
	for _, t := range r.EventTypes {
		if t == e.Type {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if !e.Severity.AtLeast(r.MinSeverity) {
		return false
	}
	if r.MaxSeverity != nil && e.Severity.Rank() > r.MaxSeverity.Rank() {
		return false
	}
	return true
}

func severityCap(s events.Severity) *events.Severity { return &s }

// DefaultRules returns the built-in rule set. Order matters: rules are
// evaluated in this order for every event.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "cpu_critical", Name: "CPU Critical",
			EventTypes:  []events.Type{events.TypeCPUHigh},
			MinSeverity: events.SeverityUrgent,
			Cooldown:    30 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "memory_critical", Name: "Memory Critical",
			EventTypes:  []events.Type{events.TypeMemoryHigh},
			MinSeverity: events.SeverityUrgent,
			Cooldown:    30 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "disk_critical", Name: "Disk Critical",
			EventTypes:  []events.Type{events.TypeDiskHigh},
			MinSeverity: events.SeverityUrgent,
			Cooldown:    time.Hour, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "process_crash", Name: "Process Crash",
			EventTypes:  []events.Type{events.TypeProcessCrashed, events.TypeProcessOOMKilled},
			MinSeverity: events.SeverityUrgent,
			Cooldown:    5 * time.Minute, AutoInvestigate: true,
			// Crashes are discrete events; re-investigate sooner.
			InvestigateCooldown: time.Hour,
		},
		{
			ID: "error_burst", Name: "Error Burst",
			EventTypes:  []events.Type{events.TypeErrorBurst},
			MinSeverity: events.SeverityNotable,
			Cooldown:    10 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "security_event", Name: "Security Event",
			EventTypes:  []events.Type{events.TypeSecurityEvent, events.TypeSuspiciousOutbound},
			MinSeverity: events.SeverityNotable,
			Cooldown:    10 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 2 * time.Hour,
		},
		{
			ID: "resource_warning", Name: "Resource Warning",
			EventTypes: []events.Type{
				events.TypeCPUHigh, events.TypeMemoryHigh,
				events.TypeDiskHigh, events.TypeLoadHigh,
			},
			MinSeverity: events.SeverityNotable,
			MaxSeverity: severityCap(events.SeverityNotable),
			Cooldown:    30 * time.Minute,
		},
		{
			ID: "anomaly", Name: "Anomaly Detected",
			EventTypes:  []events.Type{events.TypeAnomalyDetected},
			MinSeverity: events.SeverityNotable,
			Cooldown:    30 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "sdk_error_spike", Name: "SDK Error Rate Spike",
			EventTypes:  []events.Type{events.TypeSDKErrorSpike},
			MinSeverity: events.SeverityUrgent,
			Cooldown:    15 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "sdk_latency", Name: "SDK Latency Degradation",
			EventTypes:  []events.Type{events.TypeSDKLatencyDegradation},
			MinSeverity: events.SeverityNotable,
			Cooldown:    10 * time.Minute,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "sdk_cold_start", Name: "SDK Cold Start Spike",
			EventTypes:  []events.Type{events.TypeSDKColdStartSpike},
			MinSeverity: events.SeverityNotable,
			Cooldown:    10 * time.Minute,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "sdk_service_silent", Name: "SDK Service Silent",
			EventTypes:  []events.Type{events.TypeSDKServiceSilent},
			MinSeverity: events.SeverityNotable,
			Cooldown:    30 * time.Minute,
			InvestigateCooldown: 3 * time.Hour,
		},
		{
			ID: "sdk_traffic_burst", Name: "Traffic Burst",
			EventTypes:  []events.Type{events.TypeSDKTrafficBurst},
			MinSeverity: events.SeverityNotable,
			Cooldown:    15 * time.Minute, AutoInvestigate: true,
			InvestigateCooldown: 3 * time.Hour,
		},
	}
}

var (
	ipRe         = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)
	portRe       = regexp.MustCompile(`:(\d+)`)
	pidRe        = regexp.MustCompile(`PID\s*(\d+)`)
	afterColonRe = regexp.MustCompile(`:\s*(\S+)`)
)

func firstMatch(re *regexp.Regexp, s, fallback string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return fallback
}

// BuildDedupKey derives the finest distinguishing identity for an
// (event, rule) pair. Alerts of the same type but for different services,
// processes, or remote hosts dedup independently; system-wide metrics
// collapse to source + rule.
func BuildDedupKey(e events.Event, ruleID string) string {
	switch e.Type {
	case events.TypeErrorBurst:
		if e.Source == events.SourceSDKTelemetry {
			msg := e.String("message")
			if msg == "" {
				msg = e.Message
			}
			return fmt.Sprintf("%s:error_burst:%s:%s", e.Source, serviceOf(e), msg)
		}
		lastErr := e.String("last_error")
		if lastErr == "" {
			lastErr = e.Message
		}
		return fmt.Sprintf("%s:error_burst:%s:%s", e.Source, e.String("file"), lastErr)

	case events.TypeSecurityEvent:
		return fmt.Sprintf("%s:security_event:%s", e.Source, securityIdentity(e))

	case events.TypeSuspiciousOutbound:
		ip := e.String("ip")
		if ip == "" {
			ip = firstMatch(ipRe, e.Message, "unknown")
		}
		port := e.String("port")
		if port == "" {
			if v, ok := e.Float("port"); ok {
				port = fmt.Sprintf("%.0f", v)
			} else {
				port = firstMatch(portRe, e.Message, "unknown")
			}
		}
		return fmt.Sprintf("%s:security_event:%s:%s", e.Source, ip, port)

	case events.TypeNewOpenPort:
		port := e.String("port")
		if port == "" {
			if v, ok := e.Float("port"); ok {
				port = fmt.Sprintf("%.0f", v)
			} else {
				port = firstMatch(regexp.MustCompile(`(\d+)`), e.Message, "unknown")
			}
		}
		return fmt.Sprintf("%s:security_event:%s", e.Source, port)

	case events.TypeProcessCrashed, events.TypeProcessOOMKilled:
		name := e.String("name")
		if name == "" {
			name = e.String("process_name")
		}
		if name == "" {
			name = "unknown"
		}
		pid := e.String("pid")
		if pid == "" {
			if v, ok := e.Float("pid"); ok {
				pid = fmt.Sprintf("%.0f", v)
			} else {
				pid = "unknown"
			}
		}
		return fmt.Sprintf("%s:process_crash:%s:%s", e.Source, name, pid)

	case events.TypeProcessRestartLoop:
		name := e.String("name")
		if name == "" {
			name = e.String("process_name")
		}
		if name == "" {
			name = "unknown"
		}
		return fmt.Sprintf("%s:process_crash:%s", e.Source, name)

	case events.TypeAnomalyDetected:
		metric := e.String("metric")
		if metric == "" {
			metric = "unknown"
		}
		return fmt.Sprintf("%s:anomaly_detected:%s", e.Source, metric)

	case events.TypeSDKErrorSpike, events.TypeSDKLatencyDegradation,
		events.TypeSDKColdStartSpike, events.TypeSDKServiceSilent,
		events.TypeSDKTrafficBurst:
		return fmt.Sprintf("%s:%s:%s", e.Source, e.Type, serviceOf(e))
	}

	return fmt.Sprintf("%s:%s", e.Source, ruleID)
}

func serviceOf(e events.Event) string {
	if svc := e.String("service"); svc != "" {
		return svc
	}
	return "unknown"
}

// securityIdentity extracts the per-kind identity from a security event:
// process name + pid for miners, source ip for brute force, path for new
// executables and permission risks.
func securityIdentity(e events.Event) string {
	switch e.String("kind") {
	case "suspicious_process":
		name := e.String("name")
		if name == "" {
			name = firstMatch(afterColonRe, e.Message, "unknown")
		}
		pid := e.String("pid")
		if pid == "" {
			if v, ok := e.Float("pid"); ok {
				pid = fmt.Sprintf("%.0f", v)
			} else {
				pid = firstMatch(pidRe, e.Message, "unknown")
			}
		}
		return name + ":" + pid
	case "brute_force":
		ip := e.String("ip")
		if ip == "" {
			ip = firstMatch(regexp.MustCompile(`from\s+(\S+)`), e.Message, "unknown")
		}
		return ip
	case "new_executable", "permission_risk":
		path := e.String("path")
		if path == "" {
			path = firstMatch(afterColonRe, e.Message, "unknown")
		}
		return path
	}
	if e.Message != "" {
		return firstMatch(afterColonRe, e.Message, e.Message)
	}
	return "unknown"
}
