package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/investigator"
	"github.com/argus-obs/argus/pkg/storage"
)

func TestListInvestigationsHandler(t *testing.T) {
	ops := &fakeOps{invs: []storage.Investigation{
		{ID: "inv-1", Status: storage.InvestigationCompleted, Summary: "disk filled by logs"},
		{ID: "inv-2", Status: storage.InvestigationRunning},
	}}
	s := newTestServer(Deps{Ops: ops})

	rec := doJSON(s, http.MethodGet, "/api/v1/investigations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = doJSON(s, http.MethodGet, "/api/v1/investigations?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestGetInvestigationHandler(t *testing.T) {
	ops := &fakeOps{invs: []storage.Investigation{{ID: "inv-1", Summary: "oom loop"}}}
	s := newTestServer(Deps{Ops: ops})

	rec := doJSON(s, http.MethodGet, "/api/v1/investigations/inv-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "oom loop", decodeBody(t, rec)["summary"])

	rec = doJSON(s, http.MethodGet, "/api/v1/investigations/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateInvestigationHandler(t *testing.T) {
	inv := &fakeInvestigator{status: investigator.Queued}
	s := newTestServer(Deps{Invest: inv})

	rec := doJSON(s, http.MethodPost, "/api/v1/investigations",
		CreateInvestigationRequest{Description: "API latency doubled since noon"},
		map[string]string{"X-Forwarded-User": "alice"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, inv.events, 1)
	e := inv.events[0]
	assert.Equal(t, events.SourceAPI, e.Source)
	assert.Equal(t, events.TypeManualInvestigation, e.Type)
	assert.Equal(t, events.SeverityUrgent, e.Severity)
	assert.Equal(t, "API latency doubled since noon", e.Message)
	assert.Equal(t, "alice", e.String("requested_by"))
}

func TestCreateInvestigationValidation(t *testing.T) {
	s := newTestServer(Deps{Invest: &fakeInvestigator{status: investigator.Queued}})

	rec := doJSON(s, http.MethodPost, "/api/v1/investigations",
		CreateInvestigationRequest{Description: "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInvestigationBudgetExhausted(t *testing.T) {
	s := newTestServer(Deps{Invest: &fakeInvestigator{status: investigator.DroppedBudget}})

	rec := doJSON(s, http.MethodPost, "/api/v1/investigations",
		CreateInvestigationRequest{Description: "check disk"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCreateInvestigationQueueFull(t *testing.T) {
	s := newTestServer(Deps{Invest: &fakeInvestigator{status: investigator.DroppedQueueFull}})

	rec := doJSON(s, http.MethodPost, "/api/v1/investigations",
		CreateInvestigationRequest{Description: "check disk"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
