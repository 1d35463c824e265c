package events

import "fmt"

// ThresholdRule raises an event to NOTABLE or URGENT when a metric key in
// the event data crosses a threshold.
type ThresholdRule struct {
	Metric    string
	NotableAt float64
	UrgentAt  float64
	Type      Type
	Template  string // fmt template receiving the metric value
}

// DefaultThresholdRules are the built-in system metric thresholds.
// Overridable via config.
func DefaultThresholdRules() []ThresholdRule {
	return []ThresholdRule{
		{Metric: "cpu_percent", NotableAt: 80, UrgentAt: 95, Type: TypeCPUHigh, Template: "CPU usage at %.1f%%"},
		{Metric: "memory_percent", NotableAt: 85, UrgentAt: 95, Type: TypeMemoryHigh, Template: "Memory usage at %.1f%%"},
		{Metric: "disk_percent", NotableAt: 85, UrgentAt: 95, Type: TypeDiskHigh, Template: "Disk usage at %.1f%%"},
		{Metric: "swap_percent", NotableAt: 60, UrgentAt: 85, Type: TypeSwapHigh, Template: "Swap usage at %.1f%%"},
		{Metric: "load_per_cpu", NotableAt: 2.0, UrgentAt: 4.0, Type: TypeLoadHigh, Template: "Load per CPU at %.2f"},
	}
}

// intrinsicSeverity maps event types that carry a built-in severity when the
// producer did not set one.
var intrinsicSeverity = map[Type]Severity{
	TypeProcessCrashed:   SeverityUrgent,
	TypeProcessOOMKilled: SeverityUrgent,
	TypeErrorBurst:       SeverityUrgent,
	TypeNewErrorPattern:  SeverityNotable,
	TypeNewOpenPort:      SeverityNotable,
}

// Classifier is a pure function over events: it applies threshold rules and
// intrinsic severities, returning an enriched copy. Events that arrive
// pre-classified (NOTABLE or URGENT) pass through unmodified.
type Classifier struct {
	rules []ThresholdRule
}

// NewClassifier builds a classifier. A nil rule slice selects the defaults.
func NewClassifier(rules []ThresholdRule) *Classifier {
	if rules == nil {
		rules = DefaultThresholdRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the event with type, severity, and message applied from
// the first matching threshold rule. Unknown types pass through unchanged.
func (c *Classifier) Classify(e Event) Event {
	// Producer already decided — respect it.
	if e.Severity == SeverityNotable || e.Severity == SeverityUrgent {
		return e
	}

	if sev, ok := intrinsicSeverity[e.Type]; ok {
		e.Severity = sev
		return e
	}

	for _, rule := range c.rules {
		value, ok := e.Float(rule.Metric)
		if !ok {
			continue
		}
		switch {
		case value >= rule.UrgentAt:
			e.Severity = SeverityUrgent
		case value >= rule.NotableAt:
			e.Severity = SeverityNotable
		default:
			continue
		}
		e.Type = rule.Type
		e.Message = fmt.Sprintf(rule.Template, value)
		return e
	}

	return e
}
