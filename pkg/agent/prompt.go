package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/argus-obs/argus/pkg/events"
)

// ClientType selects the persona framing for a run.
type ClientType string

const (
	ClientInvestigator ClientType = "investigator"
	ClientChat         ClientType = "chat"
	ClientReview       ClientType = "review"
	ClientDigest       ClientType = "digest"
)

const systemPromptBase = `You are Argus, an AI observability agent running on a server. Your job is to help the user understand and manage their production systems.

## Capabilities
- Search and analyze log files on the host system
- Query current and historical system metrics (CPU, memory, disk, network, load)
- List and inspect running processes
- Inspect SDK service metrics, error groups, and deploy history
- Detect anomalies, error patterns, and resource trends
- Propose shell commands for execution (subject to user approval)

## Behavior Rules
1. Always use the available tools to gather real data before answering.
2. Be specific and factual. Cite log lines, file paths, and timestamps.
3. If you cannot find the information, say so. Never fabricate data.
4. When proposing actions, explain the risk and what will change.
5. Keep responses concise. Use bullet points for lists.
6. For error investigation, look at surrounding context (lines before/after).
7. When discussing metrics, include actual numbers and trends.

## Safety Rules
- You operate in read-only mode unless the user explicitly approves an action.
- Never execute destructive commands without user approval.
- Never expose secrets, passwords, or API keys found in files or logs.
- If you encounter sensitive data, redact it in your response.

## Response Style
- Be direct and technical. This is a production monitoring tool, not a chatbot.
- When reporting issues, prioritize: what happened, when, impact, and suggested fix.
- Use markdown formatting for readability (code blocks, bold, lists).`

// PromptBuilder assembles system and task prompts from runtime context.
type PromptBuilder struct {
	mode string // full | sdk_only
}

func NewPromptBuilder(mode string) *PromptBuilder {
	return &PromptBuilder{mode: mode}
}

// BuildSystemPrompt layers the base persona with dynamic context: client
// framing, operating mode, active alerts, and the baseline block.
func (b *PromptBuilder) BuildSystemPrompt(client ClientType, activeAlerts, baseline string) string {
	parts := []string{systemPromptBase}

	switch client {
	case ClientChat:
		parts = append(parts, "\n## Session\nYou are in an interactive chat with an operator. Answer their questions directly.")
	case ClientReview:
		parts = append(parts, "\n## Session\nYou are performing a scheduled system health review. No operator is watching; write for the record.")
	case ClientDigest:
		parts = append(parts, "\n## Session\nYou are writing the daily system digest. No operator is watching; write for the record.")
	default:
		parts = append(parts, "\n## Session\nYou are autonomously investigating a triggered alert. Work the problem end to end.")
	}

	if b.mode == "sdk_only" {
		parts = append(parts, "\n## Mode\nThis agent runs in SDK-only mode: host metrics, processes, and log files are unavailable. Rely on SDK service telemetry.")
	}
	if activeAlerts != "" {
		parts = append(parts, "\n## Active Alerts\n"+activeAlerts)
	}
	if baseline != "" {
		parts = append(parts, "\n## System Baseline (Normal Behavior)\n"+baseline)
	}
	return strings.Join(parts, "\n")
}

// BuildInvestigationPrompt produces the focused task prompt for an
// event-triggered investigation.
func (b *PromptBuilder) BuildInvestigationPrompt(e events.Event) string {
	lines := []string{
		"URGENT INVESTIGATION REQUIRED",
		"",
		fmt.Sprintf("Event Type: %s", e.Type),
		fmt.Sprintf("Severity: %s", e.Severity),
		fmt.Sprintf("Source: %s", e.Source),
		fmt.Sprintf("Message: %s", e.Message),
	}
	if len(e.Data) > 0 {
		lines = append(lines, "Data: "+formatEventData(e.Data))
	}
	lines = append(lines,
		"",
		"Investigate this issue using the available tools. Check relevant metrics, "+
			"logs, processes, and network connections. Provide a clear summary of:",
		"1. What is happening",
		"2. Likely root cause",
		"3. Recommended actions",
	)
	if e.Type == events.TypeSDKTrafficBurst {
		lines = append(lines,
			"",
			"TRAFFIC BURST INVESTIGATION GUIDANCE:",
			"Determine whether this is a DDoS attack or an organic traffic surge.",
			"DDoS indicators: single-IP concentration, repeated identical requests, "+
				"unusual user agents, high error rates under load.",
			"Organic surge indicators: gradual ramp-up, diverse source IPs, "+
				"normal error rates, recognizable referrer patterns.",
			"Check request logs for IP distribution, path patterns, and error rates.",
		)
	}
	return strings.Join(lines, "\n")
}

// BuildReviewPrompt is the task prompt for the 6-hourly system review.
func (b *PromptBuilder) BuildReviewPrompt() string {
	return "Review the recent system events, metrics, and alerts. " +
		"Provide a brief summary of system health and any concerns. " +
		"Use the available tools to check current metrics and recent events."
}

// BuildDigestPrompt is the task prompt for the daily report.
func (b *PromptBuilder) BuildDigestPrompt() string {
	return "Generate a comprehensive daily system report. Include: " +
		"1) Overall system health assessment " +
		"2) Key metrics trends (CPU, memory, disk) " +
		"3) Notable events and alerts from the past 24 hours " +
		"4) Security observations " +
		"5) Recommendations for improvement " +
		"Use the available tools to gather current data."
}

// FormatActiveAlerts renders recent notable and urgent events for prompt
// injection.
func FormatActiveAlerts(urgent, notable []events.Event) string {
	var lines []string
	for _, e := range urgent {
		lines = append(lines, "- [URGENT] "+eventLabel(e))
	}
	for _, e := range notable {
		lines = append(lines, "- [NOTABLE] "+eventLabel(e))
	}
	return strings.Join(lines, "\n")
}

func eventLabel(e events.Event) string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Type)
}

func formatEventData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(pairs, " ")
}
