package collectors

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
)

func newTestAnalyzer() *SDKAnalyzer {
	return NewSDKAnalyzer(events.NewBus(16), nil, nil, "default", time.Minute, slog.Default())
}

func TestServiceSilent(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()

	got := a.compare("checkout-api",
		storage.ServiceWindow{InvocationCount: 120},
		storage.ServiceWindow{InvocationCount: 0}, 0, nil, now)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeSDKServiceSilent, got[0].Type)
	assert.Equal(t, events.SeverityNotable, got[0].Severity)
	assert.Equal(t, "checkout-api", got[0].Data["service"])
}

func TestErrorSpikeUrgent(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()

	got := a.compare("checkout-api",
		storage.ServiceWindow{InvocationCount: 100, ErrorCount: 2},
		storage.ServiceWindow{InvocationCount: 100, ErrorCount: 20}, 0, nil, now)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeSDKErrorSpike, got[0].Type)
	assert.Equal(t, events.SeverityUrgent, got[0].Severity)
}

func TestErrorRateBelowThresholdIgnored(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()

	// 5% error rate: doubled but under the 10% floor.
	got := a.compare("checkout-api",
		storage.ServiceWindow{InvocationCount: 100, ErrorCount: 2},
		storage.ServiceWindow{InvocationCount: 100, ErrorCount: 5}, 0, nil, now)
	assert.Empty(t, got)
}

func TestLatencyDegradation(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()

	got := a.compare("checkout-api",
		storage.ServiceWindow{InvocationCount: 100, P95DurationMS: 400},
		storage.ServiceWindow{InvocationCount: 100, P95DurationMS: 1500}, 0, nil, now)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeSDKLatencyDegradation, got[0].Type)
	assert.Equal(t, events.SeverityNotable, got[0].Severity)
}

func TestColdStartSpike(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()

	got := a.compare("checkout-api",
		storage.ServiceWindow{InvocationCount: 100, StartCount: 100, ColdStartCount: 10},
		storage.ServiceWindow{InvocationCount: 100, StartCount: 100, ColdStartCount: 40}, 0, nil, now)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeSDKColdStartSpike, got[0].Type)
}

func TestTrafficBurstAgainstBaseline(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()
	base := &storage.Baseline{MetricName: "traffic.checkout-api.request_count_5m", Mean: 38.6}

	got := a.compare("checkout-api",
		storage.ServiceWindow{InvocationCount: 100},
		storage.ServiceWindow{InvocationCount: 100}, 412, base, now)

	require.Len(t, got, 1)
	assert.Equal(t, events.TypeSDKTrafficBurst, got[0].Type)
	assert.Equal(t, events.SeverityUrgent, got[0].Severity, ">10x baseline is urgent")
	assert.Equal(t, "Traffic spike on 'checkout-api': 412 requests in 5 min (normally ~39)", got[0].Message)
}

func TestTrafficBurstMinRequests(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()
	base := &storage.Baseline{Mean: 5}

	// 8x the baseline but under the absolute request floor.
	got := a.compare("quiet-svc",
		storage.ServiceWindow{InvocationCount: 10},
		storage.ServiceWindow{InvocationCount: 10}, 40, base, now)
	assert.Empty(t, got)
}

func TestAnomalyCooldownPerServiceAndType(t *testing.T) {
	a := newTestAnalyzer()
	now := time.Now().UTC()
	prev := storage.ServiceWindow{InvocationCount: 100, ErrorCount: 2}
	cur := storage.ServiceWindow{InvocationCount: 100, ErrorCount: 20}

	require.Len(t, a.compare("svc-a", prev, cur, 0, nil, now), 1)
	assert.Empty(t, a.compare("svc-a", prev, cur, 0, nil, now.Add(time.Minute)), "cooldown active")
	assert.Len(t, a.compare("svc-b", prev, cur, 0, nil, now.Add(time.Minute)), 1, "independent per service")
	assert.Len(t, a.compare("svc-a", prev, cur, 0, nil, now.Add(11*time.Minute)), 1, "cooldown expired")
}
