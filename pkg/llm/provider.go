// Package llm abstracts streaming LLM providers behind a single channel-based
// contract. Adapters normalise each vendor's wire format into typed chunks;
// the agent loop never branches on provider identity.
package llm

import (
	"context"
	"fmt"

	"github.com/argus-obs/argus/pkg/config"
)

// Provider is the streaming LLM contract consumed by the agent loop.
type Provider interface {
	// Generate sends a conversation to the model and returns a stream of
	// chunks. The channel is closed when the stream completes; errors are
	// delivered in-band as ErrorChunk values.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Name identifies the provider for logging and token accounting.
	Name() string
}

// GenerateInput is one model request.
type GenerateInput struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition // nil = no tools
}

// Message is one conversation turn in the unified shape.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []ToolCall // assistant messages
	ToolCallID string     // tool result messages
	ToolName   string     // tool result messages
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// ParametersSchema is a JSON schema object.
	ParametersSchema map[string]any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeThinking ChunkType = "thinking"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a fragment of the model's text response.
type TextChunk struct{ Content string }

// ThinkingChunk is a fragment of the model's reasoning stream.
type ThinkingChunk struct{ Content string }

// ToolCallChunk signals a complete tool call (arguments fully accumulated).
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for this call.
type UsageChunk struct{ PromptTokens, CompletionTokens int }

// ErrorChunk signals a provider error. Retryable errors (rate limits,
// connection blips) may be retried by the caller; terminal ones may not.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ThinkingChunk) chunkType() ChunkType { return ChunkTypeThinking }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

// New selects a provider implementation from config.
func New(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return newOpenAIProvider(cfg), nil
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
