package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/argus-obs/argus/pkg/config"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// anthropicProvider adapts the Anthropic Messages streaming API to the
// Provider contract.
type anthropicProvider struct {
	client      sdk.Client
	model       string
	maxTokens   int
	temperature float64
}

func newAnthropicProvider(cfg config.LLMConfig) *anthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &anthropicProvider{
		client:      sdk.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params, err := p.buildParams(input)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 32)
	stream := p.client.Messages.NewStreaming(ctx, *params)

	go func() {
		defer close(out)
		defer stream.Close()

		// Tool input arrives as JSON fragments per content block; the call is
		// emitted only once its block stops.
		toolBlocks := map[int]*anthropicToolBuffer{}

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					toolBlocks[int(ev.Index)] = &anthropicToolBuffer{id: tu.ID, name: tu.Name}
				}
			case sdk.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if delta.Text != "" {
						if !emit(ctx, out, &TextChunk{Content: delta.Text}) {
							return
						}
					}
				case sdk.ThinkingDelta:
					if delta.Thinking != "" {
						if !emit(ctx, out, &ThinkingChunk{Content: delta.Thinking}) {
							return
						}
					}
				case sdk.InputJSONDelta:
					if tb := toolBlocks[int(ev.Index)]; tb != nil && delta.PartialJSON != "" {
						tb.fragments = append(tb.fragments, delta.PartialJSON)
					}
				}
			case sdk.ContentBlockStopEvent:
				if tb := toolBlocks[int(ev.Index)]; tb != nil {
					delete(toolBlocks, int(ev.Index))
					if !emit(ctx, out, &ToolCallChunk{CallID: tb.id, Name: tb.name, Arguments: tb.finalInput()}) {
						return
					}
				}
			case sdk.MessageDeltaEvent:
				if !emit(ctx, out, &UsageChunk{
					PromptTokens:     int(ev.Usage.InputTokens),
					CompletionTokens: int(ev.Usage.OutputTokens),
				}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			emit(ctx, out, anthropicErrorChunk(err))
		}
	}()
	return out, nil
}

func (p *anthropicProvider) buildParams(input *GenerateInput) (*sdk.MessageNewParams, error) {
	msgs, err := encodeAnthropicMessages(input.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(p.maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(p.model),
	}
	if input.System != "" {
		params.System = []sdk.TextBlockParam{{Text: input.System}}
	}
	if p.temperature > 0 {
		params.Temperature = sdk.Float(p.temperature)
	}
	for _, def := range input.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.ParametersSchema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	return &params, nil
}

func encodeAnthropicMessages(messages []Message) ([]sdk.MessageParam, error) {
	var out []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}
	return out, nil
}

type anthropicToolBuffer struct {
	id, name  string
	fragments []string
}

func (tb *anthropicToolBuffer) finalInput() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}

func anthropicErrorChunk(err error) *ErrorChunk {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &ErrorChunk{
			Message:   apiErr.Error(),
			Code:      fmt.Sprintf("http_%d", apiErr.StatusCode),
			Retryable: apiErr.StatusCode == 429 || apiErr.StatusCode >= 500,
		}
	}
	// Connection-level failures are retryable.
	return &ErrorChunk{Message: err.Error(), Code: "connection_error", Retryable: true}
}

// emit delivers a chunk unless the context is cancelled. Returns false when
// the stream consumer is gone.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
