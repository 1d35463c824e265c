package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionResponseHandler(t *testing.T) {
	actions := &fakeActions{known: map[string]bool{"act-1": true}}
	s := newTestServer(Deps{Actions: actions})

	rec := doJSON(s, http.MethodPost, "/api/v1/actions/act-1/response",
		ActionDecisionRequest{Approved: true},
		map[string]string{"X-Forwarded-User": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["resolved"])
	assert.Equal(t, []string{"act-1:alice"}, actions.got)
}

func TestActionResponseUnknownAction(t *testing.T) {
	s := newTestServer(Deps{Actions: &fakeActions{}})

	rec := doJSON(s, http.MethodPost, "/api/v1/actions/gone/response",
		ActionDecisionRequest{Approved: false}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
