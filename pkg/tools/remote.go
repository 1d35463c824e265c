package tools

import (
	"context"
	"sort"
	"strings"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/sdkhook"
)

// RemoteRunner executes one tool call on a remote SDK runtime.
// Implemented by sdkhook.Client.
type RemoteRunner interface {
	Execute(ctx context.Context, toolName string, args map[string]any) (*sdkhook.Response, error)
}

// NewRunRemoteCommandTool executes commands on configured remote hosts via
// the signed SDK webhook. Only registered when remote_hosts is configured.
func NewRunRemoteCommandTool(runners map[string]RemoteRunner) Tool {
	hosts := make([]string, 0, len(runners))
	for h := range runners {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	return Tool{
		Name: "run_remote_command",
		Description: "Execute a read-only diagnostic command on a remote monitored host. " +
			"Available hosts: " + strings.Join(hosts, ", ") + ". " +
			"The remote runtime applies its own safety policy and may reject the command.",
		Risk: actions.RiskHigh,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"host": map[string]any{
					"type":        "string",
					"description": "Remote host name as configured, e.g. 'web-2'",
				},
				"command": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command as array, e.g. ['df', '-h']",
				},
			},
			"required": []any{"host", "command"},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			host := stringArg(args, "host", "")
			runner, ok := runners[host]
			if !ok {
				return map[string]any{
					"error": "Unknown host '" + host + "'. Available: " + strings.Join(hosts, ", "),
				}, nil
			}
			command := stringSliceArg(args, "command")
			if len(command) == 0 {
				return map[string]any{"error": "No command provided"}, nil
			}

			resp, err := runner.Execute(ctx, "run_command", map[string]any{"command": command})
			if err != nil {
				return map[string]any{"status": "error", "error": err.Error(), "display_type": "text"}, nil
			}
			if resp.Error != "" {
				return map[string]any{"status": resp.Status, "error": resp.Error, "display_type": "text"}, nil
			}
			return map[string]any{
				"status":       resp.Status,
				"host":         host,
				"output":       resp.Output,
				"display_type": "code_block",
			}, nil
		},
	}
}
