package tools

import (
	"context"
	"strings"

	"github.com/argus-obs/argus/pkg/actions"
)

// CommandProposer is the slice of the action engine the run_command tool
// needs.
type CommandProposer interface {
	Propose(ctx context.Context, argv []string, description, requestedBy string) actions.ActionResult
}

// NewRunCommandTool routes command execution through the action engine's
// approval flow.
func NewRunCommandTool(engine CommandProposer) Tool {
	return Tool{
		Name: "run_command",
		Description: "Execute a system command. Safe commands (like df, free, ps) run automatically. " +
			"Risky commands (restart, kill, delete) require user approval via the UI. " +
			"Provide the command as an array of strings.",
		Risk: actions.RiskHigh,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command as array, e.g. ['systemctl', 'restart', 'nginx']",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why this command should be run",
				},
			},
			"required": []any{"command"},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			command := stringSliceArg(args, "command")
			if len(command) == 0 {
				return map[string]any{"error": "No command provided"}, nil
			}
			reason := stringArg(args, "reason", "")
			if reason == "" {
				reason = "Execute: " + strings.Join(command, " ")
			}

			result := engine.Propose(ctx, command, reason, "agent")
			if !result.Approved {
				return map[string]any{
					"status":       "rejected",
					"reason":       result.Err,
					"display_type": "text",
				}, nil
			}
			if result.Command == nil {
				return map[string]any{"status": "error", "error": "No result", "display_type": "text"}, nil
			}
			return map[string]any{
				"status":       "executed",
				"exit_code":    result.Command.ExitCode,
				"stdout":       result.Command.Stdout,
				"stderr":       result.Command.Stderr,
				"duration_ms":  result.Command.DurationMs,
				"display_type": "code_block",
			}, nil
		},
	}
}
