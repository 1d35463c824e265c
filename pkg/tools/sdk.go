package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/storage"
)

// SDKStore is the slice of the time-series repo the SDK telemetry tools need.
type SDKStore interface {
	QueryRequestMetrics(ctx context.Context, tenant, service string, from, to time.Time, bucket time.Duration) ([]storage.RequestMetricsBucket, error)
	QueryFunctionMetrics(ctx context.Context, tenant, service string, from, to time.Time, bucket time.Duration) ([]storage.FunctionMetricsBucket, error)
	QueryErrorGroups(ctx context.Context, tenant, service string, from, to time.Time, limit int) ([]storage.ErrorGroup, error)
	QueryDeployHistory(ctx context.Context, tenant, service string, limit int) ([]storage.DeployEvent, error)
}

// bucketFor picks an aggregation bucket that yields roughly a dozen points.
func bucketFor(delta time.Duration) time.Duration {
	switch {
	case delta <= time.Hour:
		return 5 * time.Minute
	case delta <= 6*time.Hour:
		return 30 * time.Minute
	case delta <= 24*time.Hour:
		return 2 * time.Hour
	default:
		return 12 * time.Hour
	}
}

// NewGetServiceMetricsTool queries per-service request and invocation
// metrics from SDK telemetry.
func NewGetServiceMetricsTool(store SDKStore, tenant string) Tool {
	return Tool{
		Name: "get_service_metrics",
		Description: "Get request and invocation metrics for an instrumented service: " +
			"request counts, error rates, and latency percentiles over a time range.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service": map[string]any{
					"type":        "string",
					"description": "Service name as reported by the SDK",
				},
				"time_range": map[string]any{
					"type":        "string",
					"description": "Time range: " + rangeNames() + " (default: 1h)",
				},
			},
			"required": []any{"service"},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			service := stringArg(args, "service", "")
			if service == "" {
				return map[string]any{"error": "service is required"}, nil
			}
			timeRange := stringArg(args, "time_range", "1h")
			delta, ok := timeRanges[timeRange]
			if !ok {
				return map[string]any{"error": "Invalid time_range. Use: " + rangeNames()}, nil
			}
			now := time.Now().UTC()
			since := now.Add(-delta)
			bucket := bucketFor(delta)

			requests, err := store.QueryRequestMetrics(ctx, tenant, service, since, now, bucket)
			if err != nil {
				return nil, fmt.Errorf("failed to query request metrics: %w", err)
			}
			invocations, err := store.QueryFunctionMetrics(ctx, tenant, service, since, now, bucket)
			if err != nil {
				return nil, fmt.Errorf("failed to query function metrics: %w", err)
			}
			return map[string]any{
				"service":      service,
				"time_range":   timeRange,
				"requests":     requests,
				"invocations":  invocations,
				"display_type": "metrics_chart",
			}, nil
		},
	}
}

// NewGetErrorGroupsTool lists fingerprinted exception groups.
func NewGetErrorGroupsTool(store SDKStore, tenant string) Tool {
	return Tool{
		Name: "get_error_groups",
		Description: "List grouped exceptions from instrumented services: error type, message, " +
			"occurrence count, first/last seen. Optionally filter by service.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service": map[string]any{
					"type":        "string",
					"description": "Restrict to one service (default: all)",
				},
				"time_range": map[string]any{
					"type":        "string",
					"description": "Time range: " + rangeNames() + " (default: 24h)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max groups to return (default: 20)",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			service := stringArg(args, "service", "")
			timeRange := stringArg(args, "time_range", "24h")
			delta, ok := timeRanges[timeRange]
			if !ok {
				return map[string]any{"error": "Invalid time_range. Use: " + rangeNames()}, nil
			}
			limit := intArg(args, "limit", 20)
			now := time.Now().UTC()

			groups, err := store.QueryErrorGroups(ctx, tenant, service, now.Add(-delta), now, limit)
			if err != nil {
				return nil, fmt.Errorf("failed to query error groups: %w", err)
			}
			return map[string]any{
				"time_range":   timeRange,
				"total_groups": len(groups),
				"groups":       groups,
				"display_type": "error_table",
			}, nil
		},
	}
}

// NewGetDeployHistoryTool lists recent deploys of instrumented services.
func NewGetDeployHistoryTool(store SDKStore, tenant string) Tool {
	return Tool{
		Name: "get_deploy_history",
		Description: "List recent deploy events (service, version, git SHA, environment). " +
			"Useful for correlating regressions with releases.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"service": map[string]any{
					"type":        "string",
					"description": "Restrict to one service (default: all)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max deploys to return (default: 20)",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			service := stringArg(args, "service", "")
			limit := intArg(args, "limit", 20)

			deploys, err := store.QueryDeployHistory(ctx, tenant, service, limit)
			if err != nil {
				return nil, fmt.Errorf("failed to query deploy history: %w", err)
			}
			return map[string]any{
				"total_deploys": len(deploys),
				"deploys":       deploys,
				"display_type":  "deploy_table",
			}, nil
		},
	}
}
