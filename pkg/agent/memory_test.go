package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/llm"
)

func TestMemoryAddAndContext(t *testing.T) {
	m := NewMemory()
	m.AddUserMessage("investigate high cpu")
	m.AddAssistantMessage("checking", []llm.ToolCall{{ID: "tc_1", Name: "get_processes", Arguments: "{}"}})
	m.AddToolResult("tc_1", "get_processes", `{"processes": []}`)

	msgs := m.ContextMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, "tc_1", msgs[2].ToolCallID)
	assert.Equal(t, "get_processes", msgs[2].ToolName)
}

func TestMemorySummarizesOldToolResults(t *testing.T) {
	m := NewMemory()
	m.AddUserMessage("task")

	big := `{"file": "/var/log/syslog", "pattern": "ERROR", "total_matches": 5, "matches": [` +
		`{"text": "ERROR: Connection refused", "line_number": 42},` +
		`{"text": "ERROR: Timeout", "line_number": 43}]}`
	m.AddToolResult("tc_1", "search_logs", big)

	// Age the result past the summarization horizon.
	for i := 0; i < 4; i++ {
		m.NextRound()
	}

	msgs := m.ContextMessages()
	require.Len(t, msgs, 2)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Content), &summary))
	assert.Equal(t, true, summary["summarized"])
	assert.Equal(t, float64(5), summary["total_matches"])
	assert.Equal(t, float64(2), summary["matches_count"])
	assert.Contains(t, summary["first_match"], "Connection refused")
}

func TestMemoryRecentToolResultsKeptVerbatim(t *testing.T) {
	m := NewMemory()
	m.AddUserMessage("task")
	m.NextRound()
	m.AddToolResult("tc_1", "get_metrics", `{"cpu_percent": 97.2}`)
	m.NextRound()

	msgs := m.ContextMessages()
	assert.Equal(t, `{"cpu_percent": 97.2}`, msgs[1].Content)
}

func TestMemoryEvictsOldestWhenOverBudget(t *testing.T) {
	m := NewMemory()
	m.AddUserMessage("the original task")
	filler := strings.Repeat("x", 2000)
	for i := 0; i < 20; i++ {
		m.AddAssistantMessage(filler, nil)
	}

	msgs := m.ContextMessages()
	assert.Less(t, len(msgs), 21)

	total := 0
	for _, msg := range msgs {
		total += estimateTokens(msg)
	}
	assert.LessOrEqual(t, total, maxContextTokens+estimateTokens(msgs[len(msgs)-1]))

	// The task message survives eviction.
	assert.Equal(t, "the original task", msgs[0].Content)
}

func TestSummarizeToolResultError(t *testing.T) {
	out := summarizeToolResult(`{"error": "file not found"}`)
	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "file not found", summary["error"])
}

func TestSummarizeToolResultNonJSON(t *testing.T) {
	out := summarizeToolResult(strings.Repeat("plain text ", 100))
	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, true, summary["summarized"])
	assert.NotEmpty(t, summary["preview"])
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 4, estimateTokens(llm.Message{Role: "user"}))
	assert.Greater(t, estimateTokens(llm.Message{Role: "user", Content: "Hello world!"}), 4)
	assert.Greater(t,
		estimateTokens(llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{Name: "get_metrics", Arguments: `{"range":"1h"}`}}}),
		4)
}
