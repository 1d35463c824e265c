package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "argus.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitializeDefaultsWithoutFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ModeFull, cfg.Mode)
	assert.Equal(t, "default", cfg.Tenant)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 20, cfg.Investigator.QueueSize)
	assert.Equal(t, 2, cfg.Investigator.Workers)
	assert.Equal(t, 1024, cfg.Bus.RingSize)
	assert.Equal(t, 90, cfg.Alerting.BatchWindow)
	assert.Equal(t, 300, cfg.Security.ApprovalTimeout)
	assert.False(t, cfg.LLMEnabled())
}

func TestInitializeMergesFileOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
mode: sdk_only
server:
  port: 9090
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  api_key: test-key
ai_budget:
  hourly_token_limit: 10000
collector:
  metrics_interval: 5
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.True(t, cfg.SDKOnly())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.True(t, cfg.LLMEnabled())

	// Explicit values override, unset values keep defaults.
	assert.Equal(t, 10000, cfg.AIBudget.HourlyTokenLimit)
	assert.Equal(t, 500000, cfg.AIBudget.DailyTokenLimit)
	assert.Equal(t, 5, cfg.Collector.MetricsInterval)
	assert.Equal(t, 30, cfg.Collector.ProcessInterval)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("ARGUS_TEST_API_KEY", "sk-from-env")

	dir := writeConfig(t, `
llm:
  api_key: "{{.ARGUS_TEST_API_KEY}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "mode: [unterminated")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"bad mode", "mode: turbo", "mode"},
		{"bad port", "server:\n  port: 70000", "port"},
		{"bad provider", "llm:\n  provider: gemini", "provider"},
		{"reserve out of range", "ai_budget:\n  priority_reserve: 1.5", "priority_reserve"},
		{"bad severity", "alerting:\n  min_external_severity: LOUD", "min_external_severity"},
		{"bad log level", "logging:\n  level: verbose", "level"},
		{"threshold inversion", "thresholds:\n  - metric: cpu_percent\n    notable_at: 90\n    urgent_at: 80", "urgent_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	dir := writeConfig(t, `
mode: turbo
server:
  port: -1
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "port")
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "15s", cfg.Collector.MetricsEvery().String())
	assert.Equal(t, "1m30s", cfg.Alerting.BatchEvery().String())
	assert.Equal(t, "5m0s", cfg.Security.ApprovalWindow().String())
	assert.Equal(t, "6h0m0s", cfg.AIBudget.ReviewEvery().String())
	assert.Equal(t, "24h0m0s", cfg.AIBudget.DigestEvery().String())
}
