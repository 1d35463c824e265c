package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/argus-obs/argus/pkg/events"
)

func TestBuildSystemPromptLayers(t *testing.T) {
	b := NewPromptBuilder("full")
	out := b.BuildSystemPrompt(ClientChat, "- [URGENT] CPU critical: 97.2%", "- cpu_percent: mean=40.0 stddev=5.0")

	assert.Contains(t, out, "You are Argus")
	assert.Contains(t, out, "interactive chat")
	assert.Contains(t, out, "## Active Alerts")
	assert.Contains(t, out, "CPU critical")
	assert.Contains(t, out, "## System Baseline")
	assert.NotContains(t, out, "SDK-only mode")
}

func TestBuildSystemPromptSDKOnlyMode(t *testing.T) {
	b := NewPromptBuilder("sdk_only")
	out := b.BuildSystemPrompt(ClientInvestigator, "", "")
	assert.Contains(t, out, "SDK-only mode")
	assert.NotContains(t, out, "## Active Alerts")
}

func TestBuildInvestigationPrompt(t *testing.T) {
	e := events.New(events.SourceSystemMetrics, events.TypeCPUHigh, "default")
	e.Severity = events.SeverityUrgent
	e.Message = "CPU critical: 97.2%"
	e.Data = map[string]any{"cpu_percent": 97.2}

	b := NewPromptBuilder("full")
	out := b.BuildInvestigationPrompt(e)

	assert.Contains(t, out, "URGENT INVESTIGATION REQUIRED")
	assert.Contains(t, out, "Event Type: cpu_high")
	assert.Contains(t, out, "Severity: URGENT")
	assert.Contains(t, out, "CPU critical: 97.2%")
	assert.Contains(t, out, "cpu_percent=97.2")
	assert.Contains(t, out, "Likely root cause")
	assert.NotContains(t, out, "TRAFFIC BURST")
}

func TestBuildInvestigationPromptTrafficBurstGuidance(t *testing.T) {
	e := events.New(events.SourceSDKTelemetry, events.TypeSDKTrafficBurst, "default")
	e.Severity = events.SeverityUrgent
	e.Message = "Traffic burst: checkout-api request rate 8x baseline"

	b := NewPromptBuilder("full")
	out := b.BuildInvestigationPrompt(e)

	assert.Contains(t, out, "TRAFFIC BURST INVESTIGATION GUIDANCE")
	assert.Contains(t, out, "DDoS")
	assert.Contains(t, out, "organic traffic surge")
}

func TestFormatActiveAlerts(t *testing.T) {
	urgent := events.New(events.SourceSystemMetrics, events.TypeCPUHigh, "default")
	urgent.Message = "CPU critical: 97.2%"
	notable := events.New(events.SourceLogWatcher, events.TypeErrorBurst, "default")

	out := FormatActiveAlerts([]events.Event{urgent}, []events.Event{notable})
	assert.Contains(t, out, "- [URGENT] CPU critical: 97.2%")
	assert.Contains(t, out, "- [NOTABLE] error_burst")
}
