package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/masking"
	"github.com/argus-obs/argus/pkg/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(masking.New(config.MaskingConfig{}), slog.Default())
}

func TestRegistryRegisterAndDefinitions(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Tool{
		Name:             "alpha",
		Description:      "first",
		Risk:             actions.RiskReadOnly,
		ParametersSchema: map[string]any{"type": "object"},
		Execute:          func(context.Context, map[string]any) (any, error) { return "ok", nil },
	}))
	require.NoError(t, r.Register(Tool{
		Name:    "beta",
		Execute: func(context.Context, map[string]any) (any, error) { return "ok", nil },
	}))

	assert.Error(t, r.Register(Tool{
		Name:    "alpha",
		Execute: func(context.Context, map[string]any) (any, error) { return nil, nil },
	}), "duplicate name rejected")

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name, "registration order preserved")
	assert.Equal(t, "beta", defs[1].Name)
}

func TestRegistryExecuteSerializesAndMasks(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Tool{
		Name: "leaky",
		Execute: func(context.Context, map[string]any) (any, error) {
			return map[string]any{"env": "OPENAI_API_KEY=sk-abcdef1234567890abcdef"}, nil
		},
	}))

	out, err := r.Execute(context.Background(), "leaky", nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-abcdef1234567890abcdef")
	assert.Contains(t, out, "MASKED")
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "nope", nil)
	assert.Error(t, err)
}

type fakeProposer struct {
	lastArgv []string
	result   actions.ActionResult
}

func (f *fakeProposer) Propose(_ context.Context, argv []string, description, requestedBy string) actions.ActionResult {
	f.lastArgv = argv
	return f.result
}

func TestRunCommandToolExecuted(t *testing.T) {
	proposer := &fakeProposer{result: actions.ActionResult{
		ActionID: "a1",
		Approved: true,
		Executed: true,
		Command:  &actions.CommandResult{ExitCode: 0, Stdout: "ok\n", DurationMs: 12},
	}}
	tool := NewRunCommandTool(proposer)

	out, err := tool.Execute(context.Background(), map[string]any{
		"command": []any{"df", "-h"},
		"reason":  "check disk",
	})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "executed", m["status"])
	assert.Equal(t, 0, m["exit_code"])
	assert.Equal(t, "code_block", m["display_type"])
	assert.Equal(t, []string{"df", "-h"}, proposer.lastArgv)
}

func TestRunCommandToolRejected(t *testing.T) {
	proposer := &fakeProposer{result: actions.ActionResult{
		ActionID: "a1",
		Err:      "Action rejected by user",
	}}
	tool := NewRunCommandTool(proposer)

	out, err := tool.Execute(context.Background(), map[string]any{"command": []any{"reboot"}})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "rejected", m["status"])
	assert.Equal(t, "Action rejected by user", m["reason"])
}

func TestRunCommandToolNoCommand(t *testing.T) {
	tool := NewRunCommandTool(&fakeProposer{})
	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["error"], "No command")
}

type fakeMetricsStore struct {
	rows    []storage.MetricRow
	summary []storage.MetricsSummaryRow
}

func (f *fakeMetricsStore) QueryMetricRange(_ context.Context, _, name string, _, _ time.Time, _ int) ([]storage.MetricRow, error) {
	return f.rows, nil
}

func (f *fakeMetricsStore) QueryMetricsSummary(_ context.Context, _ string, _, _ time.Time) ([]storage.MetricsSummaryRow, error) {
	return f.summary, nil
}

func TestGetMetricsToolCurrentSnapshot(t *testing.T) {
	snapshot := func() map[string]any {
		return map[string]any{"cpu_percent": 42.0, "memory_percent": 61.5}
	}
	tool := NewGetMetricsTool(&fakeMetricsStore{}, "default", snapshot)

	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, 42.0, m["cpu_percent"])
	assert.Equal(t, "metrics_chart", m["display_type"])
}

func TestGetMetricsToolHistorical(t *testing.T) {
	store := &fakeMetricsStore{
		rows:    []storage.MetricRow{{Name: "cpu_percent", Value: 90}},
		summary: []storage.MetricsSummaryRow{{Name: "cpu_percent", Min: 10, Max: 95, Avg: 40}},
	}
	tool := NewGetMetricsTool(store, "default", nil)

	out, err := tool.Execute(context.Background(), map[string]any{
		"metric":     "cpu_percent",
		"time_range": "1h",
	})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "cpu_percent", m["metric"])
	require.NotNil(t, m["summary"])
	assert.Equal(t, store.rows, m["data_points"])
}

func TestGetMetricsToolInvalidRange(t *testing.T) {
	tool := NewGetMetricsTool(&fakeMetricsStore{}, "default", nil)
	out, err := tool.Execute(context.Background(), map[string]any{"time_range": "3w"})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["error"], "Invalid time_range")
}

func TestGetMetricsToolSDKOnlyWithoutRange(t *testing.T) {
	tool := NewGetMetricsTool(&fakeMetricsStore{}, "default", nil)
	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["error"], "sdk_only")
}

func TestGetProcessesToolSortAndFilter(t *testing.T) {
	list := func(context.Context) ([]ProcessInfo, error) {
		return []ProcessInfo{
			{PID: 1, Name: "systemd", Username: "root", CPUPercent: 0.1},
			{PID: 200, Name: "postgres", Username: "postgres", CPUPercent: 12.5},
			{PID: 300, Name: "nginx", Username: "www-data", CPUPercent: 3.2},
		}, nil
	}
	tool := NewGetProcessesTool(list)

	out, err := tool.Execute(context.Background(), map[string]any{"limit": float64(2)})
	require.NoError(t, err)
	m := out.(map[string]any)
	procs := m["processes"].([]ProcessInfo)
	require.Len(t, procs, 2)
	assert.Equal(t, "postgres", procs[0].Name, "sorted by cpu descending")

	out, err = tool.Execute(context.Background(), map[string]any{"filter_user": "www-data"})
	require.NoError(t, err)
	procs = out.(map[string]any)["processes"].([]ProcessInfo)
	require.Len(t, procs, 1)
	assert.Equal(t, "nginx", procs[0].Name)
}

type fakeLogStore struct{ entries []storage.LogEntry }

func (f *fakeLogStore) SearchLogs(_ context.Context, _, _, _ string, _ time.Time, _ int) ([]storage.LogEntry, error) {
	return f.entries, nil
}

func TestSearchLogsTool(t *testing.T) {
	store := &fakeLogStore{entries: []storage.LogEntry{
		{Timestamp: time.Now(), Path: "/var/log/syslog", Severity: "ERROR", Preview: "ERROR: connection refused"},
	}}
	tool := NewSearchLogsTool(store, "default")

	out, err := tool.Execute(context.Background(), map[string]any{"query": "refused"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, 1, m["total_matches"])

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), "connection refused")
}

func TestSearchLogsToolRequiresQuery(t *testing.T) {
	tool := NewSearchLogsTool(&fakeLogStore{}, "default")
	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["error"], "query is required")
}

func TestGetActiveAlertsTool(t *testing.T) {
	tool := NewGetActiveAlertsTool(func(context.Context) (any, error) {
		return []map[string]any{{"rule_id": "cpu_critical", "severity": "URGENT"}}, nil
	})
	out, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, out.(map[string]any)["alerts"])

	failing := NewGetActiveAlertsTool(func(context.Context) (any, error) {
		return nil, fmt.Errorf("engine unavailable")
	})
	_, err = failing.Execute(context.Background(), nil)
	assert.Error(t, err)
}
