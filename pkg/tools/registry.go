// Package tools defines the agent's tool surface: a registry of named,
// risk-graded operations with JSON-schema parameters, plus the built-in
// diagnostics and command tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/llm"
	"github.com/argus-obs/argus/pkg/masking"
)

// Tool is one operation the model may invoke.
type Tool struct {
	Name             string
	Description      string
	Risk             actions.Risk
	ParametersSchema map[string]any
	Execute          func(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds the tool set in registration order. Results are JSON
// serialised and masked before they reach memory, broadcasts, or storage.
type Registry struct {
	order  []string
	tools  map[string]Tool
	masker *masking.Masker
	logger *slog.Logger
}

func NewRegistry(masker *masking.Masker, logger *slog.Logger) *Registry {
	return &Registry{
		tools:  map[string]Tool{},
		masker: masker,
		logger: logger.With("component", "tool_registry"),
	}
}

// Register adds a tool. Duplicate names are a wiring bug.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Execute == nil {
		return fmt.Errorf("tool missing name or execute func")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool already registered: %s", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions renders the tool set for the LLM, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:             t.Name,
			Description:      t.Description,
			ParametersSchema: t.ParametersSchema,
		})
	}
	return defs
}

// Execute runs a tool and returns its masked JSON result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s result: %w", name, err)
	}
	return r.masker.MaskText(string(data)), nil
}

// --- argument helpers ---

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
