package alerting

import (
	"fmt"
	"strings"

	"github.com/argus-obs/argus/pkg/events"
)

// FormatEvent maps known event types to a human phrase, falling back to
// the raw event message.
func FormatEvent(e events.Event) string {
	switch e.Type {
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
		return fmt.Sprintf("New connection to IP %s on port %s", ip, port)

	case events.TypeAnomalyDetected:
		metric := e.String("metric")
		if metric == "" {
			metric = "unknown"
		}
		value := numberOr(e, "value", "?")
		mean := numberOr(e, "mean", "")
		if mean == "" {
			mean = numberOr(e, "baseline_mean", "?")
		}
		return fmt.Sprintf("%s spiked to %s, normally around %s",
			titleCase(metric), value, mean)

	case events.TypeCPUHigh:
		return resourcePhrase("CPU", e)
	case events.TypeMemoryHigh:
		return resourcePhrase("Memory", e)
	case events.TypeDiskHigh:
		return resourcePhrase("Disk", e)

	case events.TypeProcessCrashed:
		return "A monitored process has crashed"
	case events.TypeProcessOOMKilled:
		return "A process was killed by the OOM killer, out of memory"
	case events.TypeErrorBurst:
		return "Burst of errors detected in application logs"

	case events.TypeProcessRestartLoop:
		name := e.String("process_name")
		if name == "" {
			name = e.String("name")
		}
		if name == "" {
			name = "unknown"
		}
		count := numberOr(e, "restart_count", "multiple")
		return fmt.Sprintf("Process '%s' is stuck in a restart loop (%s restarts)", name, count)

	case events.TypeNewOpenPort:
		port := e.String("port")
		if port == "" {
			port = numberOr(e, "port", "unknown")
		}
		return fmt.Sprintf("New listening port detected: port %s is now open", port)

	case events.TypeSecurityEvent:
		return securityPhrase(e)

	case events.TypeSDKErrorSpike:
		return fmt.Sprintf("Error rate in '%s' spiked to %s%% (was %s%%)",
			serviceOf(e), numberOr(e, "error_rate", "?"), numberOr(e, "previous_error_rate", "?"))
	case events.TypeSDKLatencyDegradation:
		return fmt.Sprintf("Response time for '%s' degraded: p95 now %sms (was %sms)",
			serviceOf(e), numberOr(e, "p95_ms", "?"), numberOr(e, "previous_p95_ms", "?"))
	case events.TypeSDKColdStartSpike:
		return fmt.Sprintf("Cold start rate for '%s' spiked to %s%%",
			serviceOf(e), numberOr(e, "cold_start_pct", "?"))
	case events.TypeSDKServiceSilent:
		return fmt.Sprintf("Service '%s' stopped sending telemetry and may be down", serviceOf(e))
	case events.TypeSDKTrafficBurst:
		return fmt.Sprintf("Traffic spike on '%s': %s requests in 5 min (normally ~%s)",
			serviceOf(e), numberOr(e, "request_count", "?"), numberOr(e, "baseline_mean", "?"))
	}

	if e.Message != "" {
		return e.Message
	}
	return string(e.Type)
}

func resourcePhrase(resource string, e events.Event) string {
	pct := numberOr(e, "value", "")
	if pct == "" {
		pct = numberOr(e, "percent", "?")
	}
	word := "elevated"
	if e.Severity == events.SeverityUrgent {
		word = "critically high"
	}
	return fmt.Sprintf("%s usage %s at %s%%", resource, word, pct)
}

func securityPhrase(e events.Event) string {
	switch e.String("kind") {
	case "suspicious_process":
		name := e.String("name")
		if name == "" {
			name = firstMatch(afterColonRe, e.Message, "unknown")
		}
		pid := numberOr(e, "pid", "?")
		return fmt.Sprintf("Suspicious process '%s' detected (PID %s), matches known cryptominer pattern", name, pid)
	case "brute_force":
		ip := e.String("ip")
		if ip == "" {
			ip = "unknown"
		}
		count := numberOr(e, "attempts", "many")
		return fmt.Sprintf("SSH brute force attack: %s failed login attempts from %s", count, ip)
	case "new_executable":
		path := e.String("path")
		if path == "" {
			path = "unknown path"
		}
		return "New executable file appeared in temp directory: " + path
	case "permission_risk":
		path := e.String("path")
		if path == "" {
			path = "unknown"
		}
		mode := e.String("mode")
		if mode == "" {
			mode = "?"
		}
		return fmt.Sprintf("Sensitive file '%s' is world-readable (permissions: %s), security risk", path, mode)
	}
	if e.Message != "" {
		return e.Message
	}
	return "Security event detected"
}

// numberOr renders a data field as a rounded number when float, the raw
// string when string, and fallback otherwise.
func numberOr(e events.Event, key, fallback string) string {
	if s := e.String(key); s != "" {
		return s
	}
	if v, ok := e.Float(key); ok {
		return fmt.Sprintf("%.0f", v)
	}
	return fallback
}

func titleCase(metric string) string {
	words := strings.Split(strings.ReplaceAll(metric, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// groupingKey collapses related notable alerts into one digest line.
func groupingKey(alert ActiveAlert, e events.Event) string {
	switch e.Type {
	case events.TypeSuspiciousOutbound:
		ip := e.String("ip")
		if ip == "" {
			ip = firstMatch(ipRe, e.Message, "unknown")
		}
		return "suspicious_outbound:" + ip
	case events.TypeAnomalyDetected:
		metric := e.String("metric")
		if metric == "" {
			metric = "unknown"
		}
		return "anomaly:" + metric
	case events.TypeSDKErrorSpike, events.TypeSDKLatencyDegradation,
		events.TypeSDKColdStartSpike, events.TypeSDKServiceSilent,
		events.TypeSDKTrafficBurst:
		return string(e.Type) + ":" + serviceOf(e)
	}
	return alert.RuleID + ":" + string(e.Type)
}
