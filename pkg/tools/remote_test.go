package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/sdkhook"
)

type fakeRunner struct {
	resp *sdkhook.Response
	err  error

	lastTool string
	lastArgs map[string]any
}

func (f *fakeRunner) Execute(_ context.Context, toolName string, args map[string]any) (*sdkhook.Response, error) {
	f.lastTool = toolName
	f.lastArgs = args
	return f.resp, f.err
}

func TestRunRemoteCommandTool(t *testing.T) {
	runner := &fakeRunner{resp: &sdkhook.Response{Status: "ok", Output: "Filesystem 42%"}}
	tool := NewRunRemoteCommandTool(map[string]RemoteRunner{"web-2": runner})

	out, err := tool.Execute(context.Background(), map[string]any{
		"host":    "web-2",
		"command": []any{"df", "-h"},
	})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "ok", m["status"])
	assert.Equal(t, "Filesystem 42%", m["output"])
	assert.Equal(t, "run_command", runner.lastTool)
	assert.Equal(t, []string{"df", "-h"}, runner.lastArgs["command"])
}

func TestRunRemoteCommandUnknownHost(t *testing.T) {
	tool := NewRunRemoteCommandTool(map[string]RemoteRunner{"web-2": &fakeRunner{}})

	out, err := tool.Execute(context.Background(), map[string]any{
		"host":    "db-9",
		"command": []any{"uptime"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["error"], "Unknown host 'db-9'")
}

func TestRunRemoteCommandRuntimeError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("webhook returned 401: unauthorized")}
	tool := NewRunRemoteCommandTool(map[string]RemoteRunner{"web-2": runner})

	out, err := tool.Execute(context.Background(), map[string]any{
		"host":    "web-2",
		"command": []any{"uptime"},
	})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "error", m["status"])
	assert.Contains(t, m["error"], "401")
}
