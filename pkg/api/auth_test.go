package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestExtractAuthor(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "forwarded user wins",
			headers: map[string]string{"X-Forwarded-User": "alice", "X-Forwarded-Email": "a@example.com"},
			want:    "alice",
		},
		{
			name:    "email when no user",
			headers: map[string]string{"X-Forwarded-Email": "a@example.com", "X-Remote-User": "bob"},
			want:    "a@example.com",
		},
		{
			name:    "remote user fallback",
			headers: map[string]string{"X-Remote-User": "bob"},
			want:    "bob",
		},
		{
			name: "default without headers",
			want: "api-client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			assert.Equal(t, tt.want, extractAuthor(c))
		})
	}
}
