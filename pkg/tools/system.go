package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/storage"
)

// timeRanges are the accepted shortcuts for historical metric queries.
var timeRanges = map[string]time.Duration{
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

func rangeNames() string {
	names := make([]string, 0, len(timeRanges))
	for name := range timeRanges {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return timeRanges[names[i]] < timeRanges[names[j]] })
	return strings.Join(names, ", ")
}

// MetricsStore is the slice of the time-series repo the metric tools need.
type MetricsStore interface {
	QueryMetricRange(ctx context.Context, tenant, name string, from, to time.Time, limit int) ([]storage.MetricRow, error)
	QueryMetricsSummary(ctx context.Context, tenant string, from, to time.Time) ([]storage.MetricsSummaryRow, error)
}

// SnapshotFunc returns the collector's current host metric snapshot.
type SnapshotFunc func() map[string]any

// NewGetMetricsTool queries current or historical host metrics. snapshot may
// be nil in sdk_only mode; historical queries still work.
func NewGetMetricsTool(store MetricsStore, tenant string, snapshot SnapshotFunc) Tool {
	return Tool{
		Name: "get_metrics",
		Description: "Get system metrics (CPU, memory, disk, network, load). " +
			"Can show current values or historical data over a time range.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"metric": map[string]any{
					"type": "string",
					"description": "Metric name. Options: cpu_percent, memory_percent, disk_percent, " +
						"load_1m, load_5m, load_15m, swap_percent, net_bytes_sent_per_sec, " +
						"net_bytes_recv_per_sec. Use 'all' for a full snapshot.",
				},
				"time_range": map[string]any{
					"type":        "string",
					"description": "Time range: " + rangeNames() + " (default: current)",
				},
				"include_summary": map[string]any{
					"type":        "boolean",
					"description": "Include min/max/avg summary (default: true for historical)",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			metric := stringArg(args, "metric", "all")
			timeRange := stringArg(args, "time_range", "")
			includeSummary := boolArg(args, "include_summary", true)

			if timeRange == "" {
				if snapshot == nil {
					return map[string]any{"error": "host metrics unavailable in sdk_only mode; use time_range for stored data"}, nil
				}
				result := snapshot()
				if metric != "all" {
					if v, ok := result[metric]; ok {
						result = map[string]any{metric: v}
					} else {
						return map[string]any{"error": "unknown metric: " + metric}, nil
					}
				}
				result["display_type"] = "metrics_chart"
				return result, nil
			}

			delta, ok := timeRanges[timeRange]
			if !ok {
				return map[string]any{"error": "Invalid time_range. Use: " + rangeNames()}, nil
			}
			now := time.Now().UTC()
			since := now.Add(-delta)

			if metric == "all" {
				summary, err := store.QueryMetricsSummary(ctx, tenant, since, now)
				if err != nil {
					return nil, fmt.Errorf("failed to query metrics summary: %w", err)
				}
				return map[string]any{"time_range": timeRange, "metrics": summary}, nil
			}

			result := map[string]any{"metric": metric, "time_range": timeRange}
			if includeSummary {
				summary, err := store.QueryMetricsSummary(ctx, tenant, since, now)
				if err != nil {
					return nil, fmt.Errorf("failed to query metrics summary: %w", err)
				}
				for _, row := range summary {
					if row.Name == metric {
						result["summary"] = row
						break
					}
				}
			}
			points, err := store.QueryMetricRange(ctx, tenant, metric, since, now, 100)
			if err != nil {
				return nil, fmt.Errorf("failed to query metric range: %w", err)
			}
			result["data_points"] = points
			result["display_type"] = "metrics_chart"
			return result, nil
		},
	}
}

// ProcessInfo is one row of the process table.
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	Username      string  `json:"username"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Cmdline       string  `json:"cmdline"`
}

// ProcessLister enumerates running processes. The default implementation
// reads the live process table; sdk_only deployments inject nil to disable.
type ProcessLister func(ctx context.Context) ([]ProcessInfo, error)

// ListProcesses is the gopsutil-backed default ProcessLister. Per-process
// read failures (races with exits, permissions) are skipped.
func ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		info := ProcessInfo{PID: p.Pid, Name: name}
		if v, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = v
		}
		if v, err := p.MemoryPercentWithContext(ctx); err == nil {
			info.MemoryPercent = float64(v)
		}
		if v, err := p.UsernameWithContext(ctx); err == nil {
			info.Username = v
		}
		if v, err := p.CmdlineWithContext(ctx); err == nil {
			info.Cmdline = v
		}
		out = append(out, info)
	}
	return out, nil
}

// NewGetProcessesTool lists running processes with resource usage.
func NewGetProcessesTool(list ProcessLister) Tool {
	return Tool{
		Name: "get_processes",
		Description: "List running processes with CPU and memory usage. " +
			"Sort by cpu_percent, memory_percent, or pid.",
		Risk: actions.RiskReadOnly,
		ParametersSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sort_by": map[string]any{
					"type":        "string",
					"description": "Sort: cpu_percent, memory_percent, pid",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max processes to return (default: 25)",
				},
				"filter_name": map[string]any{
					"type":        "string",
					"description": "Filter by process name (substring match)",
				},
				"filter_user": map[string]any{
					"type":        "string",
					"description": "Filter by username",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			if list == nil {
				return map[string]any{"error": "process listing unavailable in sdk_only mode"}, nil
			}
			sortBy := stringArg(args, "sort_by", "cpu_percent")
			limit := intArg(args, "limit", 25)
			if limit > 100 {
				limit = 100
			}
			filterName := strings.ToLower(stringArg(args, "filter_name", ""))
			filterUser := stringArg(args, "filter_user", "")

			procs, err := list(ctx)
			if err != nil {
				return nil, err
			}

			filtered := procs[:0]
			for _, p := range procs {
				if filterName != "" &&
					!strings.Contains(strings.ToLower(p.Name), filterName) &&
					!strings.Contains(strings.ToLower(p.Cmdline), filterName) {
					continue
				}
				if filterUser != "" && p.Username != filterUser {
					continue
				}
				filtered = append(filtered, p)
			}

			switch sortBy {
			case "memory_percent":
				sort.Slice(filtered, func(i, j int) bool { return filtered[i].MemoryPercent > filtered[j].MemoryPercent })
			case "pid":
				sort.Slice(filtered, func(i, j int) bool { return filtered[i].PID < filtered[j].PID })
			default:
				sortBy = "cpu_percent"
				sort.Slice(filtered, func(i, j int) bool { return filtered[i].CPUPercent > filtered[j].CPUPercent })
			}
			if len(filtered) > limit {
				filtered = filtered[:limit]
			}

			return map[string]any{
				"total_processes": len(filtered),
				"sort_by":         sortBy,
				"processes":       filtered,
				"display_type":    "process_table",
			}, nil
		},
	}
}
