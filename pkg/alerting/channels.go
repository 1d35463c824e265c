package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/events"
)

var severityColors = map[events.Severity]string{
	events.SeverityUrgent:  "#e74c3c",
	events.SeverityNotable: "#f39c12",
	events.SeverityNormal:  "#2ecc71",
}

func severityColor(s events.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return "#95a5a6"
}

// Channel delivers alerts to one external destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	SendDigest(ctx context.Context, d Digest) error
}

// BuildChannels constructs external channels from config: webhook URLs are
// auto-detected as Slack, Discord, or generic; SMTP config adds an email
// channel. Every channel is wrapped in a circuit breaker so a dead
// destination fails fast instead of stalling delivery.
func BuildChannels(cfg config.AlertingConfig, logger *slog.Logger) []Channel {
	var channels []Channel
	for _, url := range cfg.WebhookURLs {
		switch {
		case strings.Contains(url, "hooks.slack.com"):
			channels = append(channels, &SlackChannel{URL: url})
		case strings.Contains(url, "discord.com/api/webhooks"):
			channels = append(channels, &DiscordChannel{URL: url})
		default:
			channels = append(channels, &WebhookChannel{URL: url})
		}
	}
	if cfg.Email.SMTPHost != "" && len(cfg.Email.To) > 0 {
		channels = append(channels, &EmailChannel{Config: cfg.Email})
	}

	wrapped := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		wrapped = append(wrapped, WithBreaker(ch, logger))
	}
	return wrapped
}

// WithBreaker wraps a channel so repeated delivery failures open a
// breaker and subsequent sends fail immediately until it half-opens.
func WithBreaker(ch Channel, logger *slog.Logger) Channel {
	return &breakerChannel{
		inner: ch,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    ch.Name(),
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("notification channel breaker state change",
					"channel", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

type breakerChannel struct {
	inner Channel
	cb    *gobreaker.CircuitBreaker
}

func (b *breakerChannel) Name() string { return b.inner.Name() }

func (b *breakerChannel) Send(ctx context.Context, n Notification) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Send(ctx, n)
	})
	return err
}

func (b *breakerChannel) SendDigest(ctx context.Context, d Digest) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.SendDigest(ctx, d)
	})
	return err
}

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	URL string
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, n Notification) error {
	title := fmt.Sprintf("[%s] %s", n.Severity, n.Title)
	return slack.PostWebhookContext(ctx, c.URL, &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n%s", title, n.Message),
		Attachments: []slack.Attachment{{
			Color: severityColor(n.Severity),
			Title: title,
			Text:  n.Message,
			Fields: []slack.AttachmentField{
				{Title: "Source", Value: n.Source, Short: true},
				{Title: "Type", Value: n.EventType, Short: true},
				{Title: "Time", Value: n.Timestamp.Format(time.RFC3339), Short: true},
			},
		}},
	})
}

func (c *SlackChannel) SendDigest(ctx context.Context, d Digest) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Argus digest: %d notable alerts in the last %ds*\n", d.TotalCount, d.WindowSeconds)
	if d.TriageLine != "" {
		sb.WriteString("_" + d.TriageLine + "_\n")
	}
	for _, g := range d.Groups {
		sb.WriteString("• " + g.Summary() + "\n")
	}
	return slack.PostWebhookContext(ctx, c.URL, &slack.WebhookMessage{
		Text: sb.String(),
		Attachments: []slack.Attachment{{
			Color: severityColor(events.SeverityNotable),
		}},
	})
}

// DiscordChannel posts to a Discord webhook.
type DiscordChannel struct {
	URL string
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, n Notification) error {
	title := fmt.Sprintf("[%s] %s", n.Severity, n.Title)
	return postJSON(ctx, c.URL, map[string]any{
		"content": fmt.Sprintf("**%s**\n%s", title, n.Message),
	})
}

func (c *DiscordChannel) SendDigest(ctx context.Context, d Digest) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Argus digest: %d notable alerts in the last %ds**\n", d.TotalCount, d.WindowSeconds)
	if d.TriageLine != "" {
		sb.WriteString(d.TriageLine + "\n")
	}
	for _, g := range d.Groups {
		sb.WriteString("- " + g.Summary() + "\n")
	}
	return postJSON(ctx, c.URL, map[string]any{"content": sb.String()})
}

// WebhookChannel posts a generic JSON payload to any HTTP endpoint.
type WebhookChannel struct {
	URL string
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	return postJSON(ctx, c.URL, map[string]any{
		"title":      fmt.Sprintf("[%s] %s", n.Severity, n.Title),
		"message":    n.Message,
		"severity":   string(n.Severity),
		"source":     n.Source,
		"event_type": n.EventType,
		"timestamp":  n.Timestamp.Format(time.RFC3339),
	})
}

func (c *WebhookChannel) SendDigest(ctx context.Context, d Digest) error {
	groups := make([]map[string]any, 0, len(d.Groups))
	for _, g := range d.Groups {
		groups = append(groups, map[string]any{
			"key":     g.Key,
			"count":   g.Count(),
			"summary": g.Summary(),
		})
	}
	return postJSON(ctx, c.URL, map[string]any{
		"type":           "digest",
		"total_count":    d.TotalCount,
		"window_seconds": d.WindowSeconds,
		"triage":         d.TriageLine,
		"groups":         groups,
	})
}

var webhookClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// EmailChannel sends alert emails over SMTP.
type EmailChannel struct {
	Config config.EmailConfig
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, n Notification) error {
	subject := fmt.Sprintf("[Argus %s] %s", n.Severity, n.Title)
	body := fmt.Sprintf(
		"Alert: %s\nSeverity: %s\nSource: %s\nType: %s\nTime: %s\n\n%s\n\nAlert ID: %s\n",
		n.Title, n.Severity, n.Source, n.EventType,
		n.Timestamp.Format(time.RFC3339), n.Message, n.AlertID,
	)
	return c.sendMail(subject, body)
}

func (c *EmailChannel) SendDigest(_ context.Context, d Digest) error {
	subject := fmt.Sprintf("[Argus] %d notable alerts", d.TotalCount)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Argus digest: %d notable alerts in the last %ds\n\n", d.TotalCount, d.WindowSeconds)
	if d.TriageLine != "" {
		sb.WriteString(d.TriageLine + "\n\n")
	}
	for _, g := range d.Groups {
		sb.WriteString("- " + g.Summary() + "\n")
	}
	return c.sendMail(subject, sb.String())
}

func (c *EmailChannel) sendMail(subject, body string) error {
	cfg := c.Config
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return smtp.SendMail(addr, auth, cfg.From, cfg.To, []byte(msg.String()))
}
