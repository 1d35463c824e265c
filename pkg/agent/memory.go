// Package agent implements the tool-calling reasoning loop: conversation
// memory, prompt assembly, and the round-capped controller that drives an
// LLM provider against the tool registry.
package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/argus-obs/argus/pkg/llm"
)

const (
	// maxContextTokens bounds the estimated size of the conversation window
	// (system prompt excluded).
	maxContextTokens = 4000

	// summarizeAfterRounds is how many rounds a full tool result survives
	// before it is collapsed to a compact projection.
	summarizeAfterRounds = 2
)

// Memory holds one conversation. It is safe for use by a single run at a
// time; the investigator serialises access per investigation.
type Memory struct {
	mu       sync.Mutex
	messages []memoryEntry
	round    int
}

type memoryEntry struct {
	msg        llm.Message
	round      int
	summarized bool
}

func NewMemory() *Memory {
	return &Memory{}
}

// NextRound advances the round counter. The controller calls this once per
// LLM round so eviction can age tool results correctly.
func (m *Memory) NextRound() {
	m.mu.Lock()
	m.round++
	m.mu.Unlock()
}

func (m *Memory) AddUserMessage(content string) {
	m.add(llm.Message{Role: "user", Content: content})
}

func (m *Memory) AddAssistantMessage(content string, toolCalls []llm.ToolCall) {
	m.add(llm.Message{Role: "assistant", Content: content, ToolCalls: toolCalls})
}

func (m *Memory) AddToolResult(callID, name, content string) {
	m.add(llm.Message{Role: "tool", Content: content, ToolCallID: callID, ToolName: name})
}

func (m *Memory) add(msg llm.Message) {
	m.mu.Lock()
	m.messages = append(m.messages, memoryEntry{msg: msg, round: m.round})
	m.mu.Unlock()
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// ContextMessages returns the conversation window sent to the model. Tool
// results older than two rounds are summarised in place, then the oldest
// messages are evicted until the estimated token count fits the window. The
// first user message (the task) is never evicted.
func (m *Memory) ContextMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.messages {
		e := &m.messages[i]
		if e.msg.Role == "tool" && m.round-e.round > summarizeAfterRounds && !e.summarized {
			e.msg.Content = summarizeToolResult(e.msg.Content)
			e.summarized = true
		}
	}

	total := 0
	for _, e := range m.messages {
		total += estimateTokens(e.msg)
	}
	// Evict from the front, skipping the initial task message.
	start := 0
	for total > maxContextTokens && start < len(m.messages)-1 {
		idx := start
		if idx == 0 && m.messages[0].msg.Role == "user" {
			idx = 1
			if idx >= len(m.messages)-1 {
				break
			}
		}
		total -= estimateTokens(m.messages[idx].msg)
		m.messages = append(m.messages[:idx], m.messages[idx+1:]...)
	}

	out := make([]llm.Message, len(m.messages))
	for i, e := range m.messages {
		out[i] = e.msg
	}
	return out
}

// estimateTokens approximates the token cost of a message: 4 tokens of
// structural overhead plus one token per 4 bytes of content.
func estimateTokens(msg llm.Message) int {
	n := 4 + len(msg.Content)/4
	for _, tc := range msg.ToolCalls {
		n += (len(tc.Name) + len(tc.Arguments)) / 4
	}
	return n
}

// summarizeToolResult collapses a JSON tool result to a compact projection:
// errors pass through, match lists keep counts and the first match, anything
// else keeps its key list.
func summarizeToolResult(content string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		if len(content) > 200 {
			content = content[:200]
		}
		return fmt.Sprintf(`{"summarized":true,"preview":%q}`, content)
	}

	out := map[string]any{"summarized": true}
	if errVal, ok := obj["error"]; ok {
		out["error"] = errVal
	}
	if total, ok := obj["total_matches"]; ok {
		out["total_matches"] = total
	}
	if matches, ok := obj["matches"].([]any); ok {
		out["matches_count"] = len(matches)
		if len(matches) > 0 {
			if first, ok := matches[0].(map[string]any); ok {
				if text, ok := first["text"].(string); ok {
					out["first_match"] = text
				}
			}
		}
	}
	if len(out) == 1 {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out["keys"] = keys
		out["bytes"] = len(content)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return `{"summarized":true}`
	}
	return string(data)
}
