package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/argus-obs/argus/pkg/config"
)

const defaultOpenAIModel = "gpt-4o"

// openaiProvider adapts the OpenAI chat completions streaming API to the
// Provider contract.
type openaiProvider struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
}

func newOpenAIProvider(cfg config.LLMConfig) *openaiProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &openaiProvider{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params, err := p.buildParams(input)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 32)
	stream := p.client.Chat.Completions.NewStreaming(ctx, *params)

	go func() {
		defer close(out)
		defer stream.Close()

		// Tool call arguments arrive as deltas keyed by index; complete calls
		// are emitted once the stream finishes.
		calls := map[int64]*openaiToolBuffer{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta
				if delta.Content != "" {
					if !emit(ctx, out, &TextChunk{Content: delta.Content}) {
						return
					}
				}
				for _, tc := range delta.ToolCalls {
					buf := calls[tc.Index]
					if buf == nil {
						buf = &openaiToolBuffer{index: tc.Index}
						calls[tc.Index] = buf
					}
					if tc.ID != "" {
						buf.id = tc.ID
					}
					if tc.Function.Name != "" {
						buf.name = tc.Function.Name
					}
					buf.arguments += tc.Function.Arguments
				}
			}
			if chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 {
				if !emit(ctx, out, &UsageChunk{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
				}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			emit(ctx, out, openaiErrorChunk(err))
			return
		}
		for _, buf := range sortedToolBuffers(calls) {
			args := buf.arguments
			if args == "" {
				args = "{}"
			}
			if !emit(ctx, out, &ToolCallChunk{CallID: buf.id, Name: buf.name, Arguments: args}) {
				return
			}
		}
	}()
	return out, nil
}

func (p *openaiProvider) buildParams(input *GenerateInput) (*openai.ChatCompletionNewParams, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if input.System != "" {
		msgs = append(msgs, openai.SystemMessage(input.System))
	}
	for _, m := range input.Messages {
		switch m.Role {
		case "user":
			msgs = append(msgs, openai.UserMessage(m.Content))
		case "assistant":
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(p.maxTokens)),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	for _, def := range input.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.ParametersSchema),
			},
		})
	}
	return &params, nil
}

type openaiToolBuffer struct {
	index     int64
	id        string
	name      string
	arguments string
}

func sortedToolBuffers(calls map[int64]*openaiToolBuffer) []*openaiToolBuffer {
	out := make([]*openaiToolBuffer, 0, len(calls))
	for _, buf := range calls {
		out = append(out, buf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func openaiErrorChunk(err error) *ErrorChunk {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ErrorChunk{
			Message:   apiErr.Error(),
			Code:      fmt.Sprintf("http_%d", apiErr.StatusCode),
			Retryable: apiErr.StatusCode == 429 || apiErr.StatusCode >= 500,
		}
	}
	return &ErrorChunk{Message: err.Error(), Code: "connection_error", Retryable: true}
}
