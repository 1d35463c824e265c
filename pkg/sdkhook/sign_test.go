package sdkhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"type":"ping"}`)
	now := time.Now()

	sig, err := Sign(secret, body, now)
	require.NoError(t, err)
	assert.NoError(t, Verify(secret, body, sig, now))
	assert.NoError(t, Verify(secret, body, sig, now.Add(299*time.Second)))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	now := time.Now()
	sig, err := Sign(secret, []byte(`{"a":1}`), now)
	require.NoError(t, err)

	err = Verify(secret, []byte(`{"a":2}`), sig, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	body := []byte(`{"a":1}`)
	sig, err := Sign(secret, body, now)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify([]byte("other"), body, sig, now), ErrBadSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	now := time.Now()
	sig, err := Sign(secret, body, now)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(secret, body, sig, now.Add(301*time.Second)), ErrStale)
	assert.ErrorIs(t, Verify(secret, body, sig, now.Add(-301*time.Second)), ErrStale)
}

func TestVerifyRejectsGarbageTimestamp(t *testing.T) {
	err := Verify(secret, []byte(`{}`), Signature{Timestamp: "yesterday"}, time.Now())
	assert.Error(t, err)
}

func TestClientSignsRequests(t *testing.T) {
	var gotBody []byte
	var gotSig Signature
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = Signature{
			Signature: r.Header.Get(HeaderSignature),
			Timestamp: r.Header.Get(HeaderTimestamp),
			Nonce:     r.Header.Get(HeaderNonce),
		}
		assert.Equal(t, "/webhook", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Response{Status: "ok", Output: "uptime 4 days"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, secret)
	resp, err := c.Execute(context.Background(), "run_command", map[string]any{"command": "uptime"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "uptime 4 days", resp.Output)

	// The receiver can verify what the client sent.
	require.NoError(t, Verify(secret, gotBody, gotSig, time.Now()))

	var req Request
	require.NoError(t, json.Unmarshal(gotBody, &req))
	assert.Equal(t, "tool_execution", req.Type)
	assert.Equal(t, "run_command", req.ToolName)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, secret)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
