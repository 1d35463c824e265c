package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/storage"
)

// LogStore is the slice of the time-series repo the log tool needs.
type LogStore interface {
	SearchLogs(ctx context.Context, tenant, query, minSeverity string, since time.Time, limit int) ([]storage.LogEntry, error)
}

// NewSearchLogsTool searches the indexed warning-and-above log lines.
func NewSearchLogsTool(store LogStore, tenant string) Tool {
	return Tool{
		Name: "search_logs",
		Description: "Search indexed log lines (WARNING severity and above) across watched log files. " +
			"Supports substring queries and a minimum severity filter.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Substring to search for (matches the log line preview)",
				},
				"min_severity": map[string]any{
					"type":        "string",
					"description": "Minimum severity: WARNING, ERROR, CRITICAL (default: WARNING)",
				},
				"since_minutes": map[string]any{
					"type":        "integer",
					"description": "Look-back window in minutes (default: 60)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max lines to return (default: 50, max: 200)",
				},
			},
			"required": []any{"query"},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			query := stringArg(args, "query", "")
			if query == "" {
				return map[string]any{"error": "query is required"}, nil
			}
			minSeverity := stringArg(args, "min_severity", "WARNING")
			sinceMinutes := intArg(args, "since_minutes", 60)
			limit := intArg(args, "limit", 50)
			if limit > 200 {
				limit = 200
			}
			since := time.Now().UTC().Add(-time.Duration(sinceMinutes) * time.Minute)

			entries, err := store.SearchLogs(ctx, tenant, query, minSeverity, since, limit)
			if err != nil {
				return nil, fmt.Errorf("failed to search logs: %w", err)
			}

			matches := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				matches = append(matches, map[string]any{
					"timestamp": e.Timestamp.Format(time.RFC3339),
					"path":      e.Path,
					"severity":  e.Severity,
					"text":      e.Preview,
				})
			}
			return map[string]any{
				"query":         query,
				"total_matches": len(matches),
				"matches":       matches,
				"display_type":  "log_lines",
			}, nil
		},
	}
}
