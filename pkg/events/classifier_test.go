package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func metricEvent(data map[string]any) Event {
	e := New(SourceSystemMetrics, TypeMetricCollected, "t1")
	e.Data = data
	return e
}

func TestClassifyThresholds(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name         string
		data         map[string]any
		wantType     Type
		wantSeverity Severity
	}{
		{"cpu urgent", map[string]any{"cpu_percent": 98.0}, TypeCPUHigh, SeverityUrgent},
		{"cpu notable", map[string]any{"cpu_percent": 85.0}, TypeCPUHigh, SeverityNotable},
		{"cpu normal", map[string]any{"cpu_percent": 40.0}, TypeMetricCollected, SeverityNormal},
		{"memory urgent", map[string]any{"memory_percent": 96.0}, TypeMemoryHigh, SeverityUrgent},
		{"disk notable", map[string]any{"disk_percent": 90.0}, TypeDiskHigh, SeverityNotable},
		{"swap urgent", map[string]any{"swap_percent": 90.0}, TypeSwapHigh, SeverityUrgent},
		{"load notable", map[string]any{"load_per_cpu": 2.5}, TypeLoadHigh, SeverityNotable},
		{"int values accepted", map[string]any{"cpu_percent": 98}, TypeCPUHigh, SeverityUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(metricEvent(tt.data))
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantSeverity, got.Severity)
		})
	}
}

func TestClassifyPreClassifiedPassesThrough(t *testing.T) {
	c := NewClassifier(nil)

	e := metricEvent(map[string]any{"cpu_percent": 99.0})
	e.Severity = SeverityNotable
	e.Message = "producer already decided"

	got := c.Classify(e)
	assert.Equal(t, SeverityNotable, got.Severity)
	assert.Equal(t, TypeMetricCollected, got.Type)
	assert.Equal(t, "producer already decided", got.Message)
}

func TestClassifyIntrinsicSeverity(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		typ  Type
		want Severity
	}{
		{TypeProcessCrashed, SeverityUrgent},
		{TypeProcessOOMKilled, SeverityUrgent},
		{TypeErrorBurst, SeverityUrgent},
		{TypeNewErrorPattern, SeverityNotable},
		{TypeNewOpenPort, SeverityNotable},
	}

	for _, tt := range tests {
		e := New(SourceLogWatcher, tt.typ, "t1")
		got := c.Classify(e)
		assert.Equal(t, tt.want, got.Severity, "type %s", tt.typ)
	}
}

func TestClassifyUnknownTypeUnchanged(t *testing.T) {
	c := NewClassifier(nil)
	e := New(SourceScheduler, Type("totally_unknown"), "t1")
	got := c.Classify(e)
	assert.Equal(t, e, got)
}

func TestClassifyDoesNotMutateOriginal(t *testing.T) {
	c := NewClassifier(nil)
	e := metricEvent(map[string]any{"cpu_percent": 98.0})
	_ = c.Classify(e)
	assert.Equal(t, TypeMetricCollected, e.Type)
	assert.Equal(t, SeverityNormal, e.Severity)
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityUrgent.AtLeast(SeverityNotable))
	assert.True(t, SeverityNotable.AtLeast(SeverityNotable))
	assert.False(t, SeverityNormal.AtLeast(SeverityNotable))
}
