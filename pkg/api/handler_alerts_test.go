package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/alerting"
	"github.com/argus-obs/argus/pkg/events"
)

func TestListAlertsHandler(t *testing.T) {
	engine := &fakeEngine{
		alerts: []alerting.ActiveAlert{
			{ID: "a1", RuleName: "CPU critical", Severity: events.SeverityUrgent},
		},
	}
	s := newTestServer(Deps{Engine: engine})

	rec := doJSON(s, http.MethodGet, "/api/v1/alerts", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestAlertsUnavailableWithoutEngine(t *testing.T) {
	s := newTestServer(Deps{})

	rec := doJSON(s, http.MethodGet, "/api/v1/alerts", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAcknowledgeAlertHandler(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"a1": true}}
	s := newTestServer(Deps{Engine: engine})

	rec := doJSON(s, http.MethodPost, "/api/v1/alerts/a1/acknowledge",
		AcknowledgeRequest{ExpiresInSeconds: 3600},
		map[string]string{"X-Forwarded-User": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, engine.calls, "ack:a1:alice")

	rec = doJSON(s, http.MethodPost, "/api/v1/alerts/missing/acknowledge", AcknowledgeRequest{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveAlertHandler(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"a1": true}}
	s := newTestServer(Deps{Engine: engine})

	rec := doJSON(s, http.MethodPost, "/api/v1/alerts/a1/resolve", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resolved", decodeBody(t, rec)["status"])
}

func TestListRulesHandler(t *testing.T) {
	engine := &fakeEngine{
		rules: []alerting.Rule{{ID: "cpu_critical", Name: "CPU critical"}},
		muted: map[string]time.Time{"disk_warning": time.Now().Add(time.Hour)},
	}
	s := newTestServer(Deps{Engine: engine})

	rec := doJSON(s, http.MethodGet, "/api/v1/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["rules"], 1)
	assert.Contains(t, body["muted"], "disk_warning")
}

func TestMuteRuleHandler(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"cpu_critical": true}}
	s := newTestServer(Deps{Engine: engine})

	rec := doJSON(s, http.MethodPost, "/api/v1/rules/cpu_critical/mute",
		MuteRequest{DurationSeconds: 1800},
		map[string]string{"X-Remote-User": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, engine.calls, "mute:cpu_critical:bob")
	assert.NotEmpty(t, decodeBody(t, rec)["until"])

	rec = doJSON(s, http.MethodPost, "/api/v1/rules/nope/mute", MuteRequest{}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnmuteRuleHandler(t *testing.T) {
	engine := &fakeEngine{known: map[string]bool{"cpu_critical": true}}
	s := newTestServer(Deps{Engine: engine})

	rec := doJSON(s, http.MethodPost, "/api/v1/rules/cpu_critical/unmute", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, engine.calls, "unmute:cpu_critical")
}
