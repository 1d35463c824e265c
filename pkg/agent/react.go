package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/argus-obs/argus/pkg/llm"
)

// MaxRounds caps tool-calling rounds per run.
const MaxRounds = 10

// maxTextContinuations is how many consecutive text-only responses after a
// tool round are treated as narration rather than the final answer.
const maxTextContinuations = 2

// ToolExecutor is the slice of the tool registry the controller needs.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// UsageRecorder receives per-round token accounting.
type UsageRecorder interface {
	RecordUsage(promptTokens, completionTokens int, usageContext string)
}

// Callbacks surface loop progress to the stream layer. Every field is
// optional.
type Callbacks struct {
	OnThinkingStart  func()
	OnThinkingEnd    func()
	OnAssistantDelta func(text string)
	OnToolCall       func(callID, name string, args map[string]any)
	OnToolResult     func(callID, name, result string)
}

// Result is the outcome of one completed run.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Rounds           int
}

// Runner drives the multi-round tool-calling loop against a provider.
// Completion signal: a response without tool calls (after any narration
// allowance). Tool calls arrive as structured chunks, not parsed from text.
type Runner struct {
	provider     llm.Provider
	tools        ToolExecutor
	memory       *Memory
	budget       UsageRecorder
	callbacks    Callbacks
	usageContext string
	logger       *slog.Logger
}

func NewRunner(provider llm.Provider, tools ToolExecutor, memory *Memory, budget UsageRecorder, callbacks Callbacks, usageContext string, logger *slog.Logger) *Runner {
	return &Runner{
		provider:     provider,
		tools:        tools,
		memory:       memory,
		budget:       budget,
		callbacks:    callbacks,
		usageContext: usageContext,
		logger:       logger.With("component", "agent_runner"),
	}
}

// Run executes the loop for one task. Terminal provider errors fail the run;
// retryable ones are retried once per round boundary.
func (r *Runner) Run(ctx context.Context, systemPrompt, task string) (*Result, error) {
	r.memory.AddUserMessage(task)

	defs := r.tools.Definitions()
	schemas := make(map[string]map[string]any, len(defs))
	for _, def := range defs {
		schemas[def.Name] = def.ParametersSchema
	}

	result := &Result{}
	var lastText string
	hadToolRound := false
	textContinuations := 0

	for round := 1; round <= MaxRounds; round++ {
		result.Rounds = round
		r.memory.NextRound()

		resp, err := r.streamRound(ctx, systemPrompt, defs)
		if err != nil {
			var provErr *providerError
			if errors.As(err, &provErr) && provErr.retryable {
				r.logger.Warn("Retryable provider error, retrying round", "round", round, "error", err)
				resp, err = r.streamRound(ctx, systemPrompt, defs)
			}
			if err != nil {
				return nil, fmt.Errorf("llm round %d failed: %w", round, err)
			}
		}

		result.PromptTokens += resp.promptTokens
		result.CompletionTokens += resp.completionTokens
		if r.budget != nil {
			r.budget.RecordUsage(resp.promptTokens, resp.completionTokens, r.usageContext)
		}

		r.memory.AddAssistantMessage(resp.text, resp.toolCalls)
		if resp.text != "" {
			lastText = resp.text
		}

		if len(resp.toolCalls) == 0 {
			if hadToolRound && textContinuations < maxTextContinuations {
				// The model narrates between calls sometimes; give it a
				// chance to keep going before treating this as final.
				textContinuations++
				continue
			}
			result.Content = resp.text
			return result, nil
		}

		hadToolRound = true
		textContinuations = 0
		for _, tc := range resp.toolCalls {
			output := r.executeToolCall(ctx, tc, schemas)
			r.memory.AddToolResult(tc.ID, tc.Name, output)
			if r.callbacks.OnToolResult != nil {
				r.callbacks.OnToolResult(tc.ID, tc.Name, output)
			}
		}
	}

	result.Content = exhaustionMessage(lastText)
	return result, nil
}

type roundResponse struct {
	text             string
	toolCalls        []llm.ToolCall
	promptTokens     int
	completionTokens int
}

func (r *Runner) streamRound(ctx context.Context, systemPrompt string, defs []llm.ToolDefinition) (*roundResponse, error) {
	chunks, err := r.provider.Generate(ctx, &llm.GenerateInput{
		System:   systemPrompt,
		Messages: r.memory.ContextMessages(),
		Tools:    defs,
	})
	if err != nil {
		return nil, err
	}

	resp := &roundResponse{}
	var text strings.Builder
	thinking := false

	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.ThinkingChunk:
			if !thinking {
				thinking = true
				if r.callbacks.OnThinkingStart != nil {
					r.callbacks.OnThinkingStart()
				}
			}
		case *llm.TextChunk:
			if thinking {
				thinking = false
				if r.callbacks.OnThinkingEnd != nil {
					r.callbacks.OnThinkingEnd()
				}
			}
			text.WriteString(c.Content)
			if r.callbacks.OnAssistantDelta != nil {
				r.callbacks.OnAssistantDelta(c.Content)
			}
		case *llm.ToolCallChunk:
			resp.toolCalls = append(resp.toolCalls, llm.ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *llm.UsageChunk:
			resp.promptTokens += c.PromptTokens
			resp.completionTokens += c.CompletionTokens
		case *llm.ErrorChunk:
			return nil, &providerError{message: c.Message, code: c.Code, retryable: c.Retryable}
		}
	}
	if thinking && r.callbacks.OnThinkingEnd != nil {
		r.callbacks.OnThinkingEnd()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp.text = text.String()
	return resp, nil
}

// executeToolCall decodes and coerces arguments, runs the tool, and renders
// the observation. Failures become error observations; the loop continues.
func (r *Runner) executeToolCall(ctx context.Context, tc llm.ToolCall, schemas map[string]map[string]any) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return fmt.Sprintf(`{"error": "invalid tool arguments: %s"}`, err)
	}
	schema, known := schemas[tc.Name]
	if !known {
		r.logger.Warn("Model requested unknown tool", "tool", tc.Name)
		return fmt.Sprintf(`{"error": "unknown tool: %s"}`, tc.Name)
	}
	args = coerceArguments(args, schema)

	if r.callbacks.OnToolCall != nil {
		r.callbacks.OnToolCall(tc.ID, tc.Name, args)
	}
	output, err := r.tools.Execute(ctx, tc.Name, args)
	if err != nil {
		r.logger.Warn("Tool execution failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return output
}

// coerceArguments aligns decoded JSON values with the declared schema.
// JSON numbers decode as float64; integer-typed parameters get truncated
// back so tools can assert on int.
func coerceArguments(args map[string]any, schema map[string]any) map[string]any {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return args
	}
	for key, val := range args {
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if prop["type"] == "integer" {
			if f, ok := val.(float64); ok {
				args[key] = int(f)
			}
		}
	}
	return args
}

func exhaustionMessage(lastText string) string {
	msg := fmt.Sprintf("Investigation stopped after %d tool-calling rounds without reaching a final answer.", MaxRounds)
	if lastText != "" {
		msg += "\n\nLast progress:\n" + lastText
	}
	return msg
}

type providerError struct {
	message   string
	code      string
	retryable bool
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider error (%s): %s", e.code, e.message)
}
