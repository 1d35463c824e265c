package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/events"
)

func testNotification() Notification {
	return Notification{
		AlertID:   "a1",
		Title:     "CPU Critical",
		Message:   "CPU usage critically high at 98%",
		Severity:  events.SeverityUrgent,
		Source:    "system_metrics",
		EventType: "cpu_high",
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestGenericWebhookPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	ch := &WebhookChannel{URL: srv.URL}
	require.NoError(t, ch.Send(context.Background(), testNotification()))

	assert.Equal(t, "[URGENT] CPU Critical", got["title"])
	assert.Equal(t, "URGENT", got["severity"])
	assert.Equal(t, "cpu_high", got["event_type"])
	assert.Equal(t, "system_metrics", got["source"])
}

func TestGenericWebhookDigest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	e := outboundEvent("1.2.3.4")
	digest := Digest{
		Groups: []DigestGroup{{
			Key:   "suspicious_outbound:1.2.3.4",
			Items: []Notification{{Message: "New connection to IP 1.2.3.4 on port 4444"}},
			event: e,
		}},
		TotalCount:    1,
		WindowSeconds: 90,
	}
	ch := &WebhookChannel{URL: srv.URL}
	require.NoError(t, ch.SendDigest(context.Background(), digest))

	assert.Equal(t, "digest", got["type"])
	assert.Equal(t, float64(1), got["total_count"])
	groups := got["groups"].([]any)
	require.Len(t, groups, 1)
	assert.Equal(t, "New connection to IP 1.2.3.4 on port 4444", groups[0].(map[string]any)["summary"])
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := &WebhookChannel{URL: srv.URL}
	assert.Error(t, ch.Send(context.Background(), testNotification()))
}

func TestDiscordPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	ch := &DiscordChannel{URL: srv.URL}
	require.NoError(t, ch.Send(context.Background(), testNotification()))
	assert.Contains(t, got["content"], "**[URGENT] CPU Critical**")
}

type failingChannel struct{ calls int }

func (c *failingChannel) Name() string { return "failing" }
func (c *failingChannel) Send(context.Context, Notification) error {
	c.calls++
	return errors.New("connection refused")
}
func (c *failingChannel) SendDigest(context.Context, Digest) error {
	c.calls++
	return errors.New("connection refused")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingChannel{}
	ch := WithBreaker(inner, slog.Default())
	ctx := context.Background()

	for range 3 {
		assert.Error(t, ch.Send(ctx, testNotification()))
	}
	err := ch.Send(ctx, testNotification())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open breaker never reaches the channel")
}

func TestBuildChannelsDetection(t *testing.T) {
	cfg := config.AlertingConfig{
		WebhookURLs: []string{
			"https://hooks.slack.com/services/T00/B00/XXX",
			"https://discord.com/api/webhooks/123/abc",
			"https://example.com/notify",
		},
		Email: config.EmailConfig{
			SMTPHost: "smtp.example.com",
			SMTPPort: 587,
			From:     "argus@example.com",
			To:       []string{"ops@example.com"},
		},
	}
	channels := BuildChannels(cfg, slog.Default())
	require.Len(t, channels, 4)

	var names []string
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	assert.Equal(t, []string{"slack", "discord", "webhook", "email"}, names)
}

func TestBuildChannelsEmptyConfig(t *testing.T) {
	assert.Empty(t, BuildChannels(config.AlertingConfig{}, slog.Default()))
}
