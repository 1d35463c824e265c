package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/storage"
)

type fakeSDKStore struct {
	requests    []storage.RequestMetricsBucket
	invocations []storage.FunctionMetricsBucket
	groups      []storage.ErrorGroup
	deploys     []storage.DeployEvent

	lastService string
	lastBucket  time.Duration
}

func (f *fakeSDKStore) QueryRequestMetrics(_ context.Context, _, service string, _, _ time.Time, bucket time.Duration) ([]storage.RequestMetricsBucket, error) {
	f.lastService = service
	f.lastBucket = bucket
	return f.requests, nil
}

func (f *fakeSDKStore) QueryFunctionMetrics(_ context.Context, _, service string, _, _ time.Time, bucket time.Duration) ([]storage.FunctionMetricsBucket, error) {
	return f.invocations, nil
}

func (f *fakeSDKStore) QueryErrorGroups(_ context.Context, _, service string, _, _ time.Time, limit int) ([]storage.ErrorGroup, error) {
	f.lastService = service
	return f.groups, nil
}

func (f *fakeSDKStore) QueryDeployHistory(_ context.Context, _, service string, limit int) ([]storage.DeployEvent, error) {
	f.lastService = service
	return f.deploys, nil
}

func TestGetServiceMetricsTool(t *testing.T) {
	store := &fakeSDKStore{
		requests: []storage.RequestMetricsBucket{{RequestCount: 120, ErrorCount: 3}},
	}
	tool := NewGetServiceMetricsTool(store, "default")

	out, err := tool.Execute(context.Background(), map[string]any{
		"service":    "checkout-api",
		"time_range": "6h",
	})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "checkout-api", m["service"])
	assert.Equal(t, store.requests, m["requests"])
	assert.Equal(t, "checkout-api", store.lastService)
	assert.Equal(t, 30*time.Minute, store.lastBucket, "6h range uses 30m buckets")
}

func TestGetServiceMetricsToolRequiresService(t *testing.T) {
	tool := NewGetServiceMetricsTool(&fakeSDKStore{}, "default")
	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["error"], "service is required")
}

func TestGetErrorGroupsTool(t *testing.T) {
	store := &fakeSDKStore{groups: []storage.ErrorGroup{
		{Fingerprint: "abc", ErrorType: "ValueError", Count: 17},
	}}
	tool := NewGetErrorGroupsTool(store, "default")

	out, err := tool.Execute(context.Background(), map[string]any{"service": "checkout-api"})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, 1, m["total_groups"])
	assert.Equal(t, store.groups, m["groups"])
}

func TestGetDeployHistoryTool(t *testing.T) {
	store := &fakeSDKStore{deploys: []storage.DeployEvent{
		{Service: "checkout-api", Version: "1.4.2"},
	}}
	tool := NewGetDeployHistoryTool(store, "default")

	out, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, 1, m["total_deploys"])
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, 5*time.Minute, bucketFor(30*time.Minute))
	assert.Equal(t, 30*time.Minute, bucketFor(6*time.Hour))
	assert.Equal(t, 2*time.Hour, bucketFor(24*time.Hour))
	assert.Equal(t, 12*time.Hour, bucketFor(7*24*time.Hour))
}
