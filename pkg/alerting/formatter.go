package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/argus-obs/argus/pkg/budget"
	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/llm"
)

const triageEstimate = 1000

// Notification is one alert flattened for external delivery.
type Notification struct {
	AlertID   string          `json:"alert_id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Severity  events.Severity `json:"severity"`
	Source    string          `json:"source"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
}

// DigestGroup is a set of related notable alerts collapsed into one line.
type DigestGroup struct {
	Key   string
	Items []Notification

	event events.Event // first item's event, drives the summary phrasing
}

// Count returns the number of collapsed items.
func (g DigestGroup) Count() int { return len(g.Items) }

// Summary returns the one-line human phrase for the group.
func (g DigestGroup) Summary() string {
	if len(g.Items) == 0 {
		return ""
	}
	first := g.Items[0]
	if len(g.Items) > 1 {
		switch g.event.Type {
		case events.TypeSuspiciousOutbound:
			ip := g.event.String("ip")
			if ip == "" {
				ip = firstMatch(ipRe, g.event.Message, "unknown")
			}
			return fmt.Sprintf("%d new outbound connections to %s", len(g.Items), ip)
		case events.TypeAnomalyDetected:
			metric := g.event.String("metric")
			if metric == "" {
				metric = "unknown"
			}
			return "Multiple anomalies on " + metric
		}
		return fmt.Sprintf("%s (+%d more)", first.Message, len(g.Items)-1)
	}
	return first.Message
}

// Digest is a batch of grouped notable alerts ready for delivery.
type Digest struct {
	Groups        []DigestGroup
	TotalCount    int
	WindowSeconds int
	TriageLine    string
}

// TriageBudget gates the optional AI triage line.
type TriageBudget interface {
	CanSpend(tokens int, priority budget.Priority) bool
}

type digestItem struct {
	notification Notification
	alert        ActiveAlert
	event        events.Event
}

// Formatter routes alerts by severity: urgent alerts go out immediately
// to every channel in parallel, notable alerts are buffered and flushed
// as one grouped digest per batch window.
type Formatter struct {
	channels    []Channel
	batchWindow time.Duration
	minSeverity events.Severity
	aiEnhance   bool
	provider    llm.Provider
	budget      TriageBudget
	logger      *slog.Logger

	mu     sync.Mutex
	buffer []digestItem

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithTriage enables the AI triage line on digests.
func WithTriage(provider llm.Provider, b TriageBudget) FormatterOption {
	return func(f *Formatter) {
		f.aiEnhance = true
		f.provider = provider
		f.budget = b
	}
}

// WithMinExternalSeverity sets the floor below which alerts are dropped
// from external delivery.
func WithMinExternalSeverity(min events.Severity) FormatterOption {
	return func(f *Formatter) { f.minSeverity = min }
}

func NewFormatter(channels []Channel, batchWindow time.Duration, logger *slog.Logger, opts ...FormatterOption) *Formatter {
	if batchWindow <= 0 {
		batchWindow = 90 * time.Second
	}
	f := &Formatter{
		channels:    channels,
		batchWindow: batchWindow,
		minSeverity: events.SeverityNotable,
		logger:      logger.With("component", "alert_formatter"),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start launches the periodic flush loop.
func (f *Formatter) Start() {
	f.wg.Add(1)
	go f.flushLoop()
	f.logger.Info("alert formatter started",
		"batch_window", f.batchWindow, "min_severity", f.minSeverity, "ai_enhance", f.aiEnhance)
}

// Stop cancels the flush loop and drains any buffered items.
func (f *Formatter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.wg.Wait()
	f.flush(context.Background())
	f.logger.Info("alert formatter stopped")
}

// Submit routes one fired alert: urgent immediately, notable buffered.
// Implements the engine's Sink.
func (f *Formatter) Submit(ctx context.Context, alert ActiveAlert, e events.Event) {
	if !e.Severity.AtLeast(f.minSeverity) {
		return
	}
	n := Notification{
		AlertID:   alert.ID,
		Title:     alert.RuleName,
		Message:   FormatEvent(e),
		Severity:  e.Severity,
		Source:    string(e.Source),
		EventType: string(e.Type),
		Timestamp: alert.Timestamp,
	}
	if e.Severity == events.SeverityUrgent {
		f.sendImmediate(ctx, n)
		return
	}
	f.mu.Lock()
	f.buffer = append(f.buffer, digestItem{notification: n, alert: alert, event: e})
	f.mu.Unlock()
}

// SendInvestigationReport delivers an AI investigation summary to every
// external channel as an immediate send.
func (f *Formatter) SendInvestigationReport(ctx context.Context, e events.Event, summary string) {
	f.sendImmediate(ctx, Notification{
		Title:     "Investigation: " + FormatEvent(e),
		Message:   summary,
		Severity:  e.Severity,
		Source:    string(e.Source),
		EventType: string(e.Type),
		Timestamp: time.Now().UTC(),
	})
}

// sendImmediate pushes to every channel in parallel. Each send is
// independently guarded so one failing channel cannot affect the others.
func (f *Formatter) sendImmediate(ctx context.Context, n Notification) {
	var wg sync.WaitGroup
	for _, ch := range f.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, n); err != nil {
				f.logger.Error("immediate send failed", "channel", ch.Name(), "error", err)
			}
		}(ch)
	}
	wg.Wait()
}

func (f *Formatter) flushLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.batchWindow)
	defer ticker.Stop()
	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.flush(context.Background())
		}
	}
}

// flush drains the buffer, groups related items, and delivers one digest.
func (f *Formatter) flush(ctx context.Context) {
	f.mu.Lock()
	items := f.buffer
	f.buffer = nil
	f.mu.Unlock()

	if len(items) == 0 {
		return
	}

	groups := groupItems(items)
	digest := Digest{
		Groups:        groups,
		TotalCount:    len(items),
		WindowSeconds: int(f.batchWindow.Seconds()),
		TriageLine:    f.triage(ctx, groups),
	}

	for _, ch := range f.channels {
		if err := ch.SendDigest(ctx, digest); err != nil {
			f.logger.Error("digest send failed", "channel", ch.Name(), "error", err)
		}
	}
}

func groupItems(items []digestItem) []DigestGroup {
	index := map[string]int{}
	var groups []DigestGroup
	for _, item := range items {
		key := groupingKey(item.alert, item.event)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DigestGroup{Key: key, event: item.event})
		}
		groups[i].Items = append(groups[i].Items, item.notification)
	}
	return groups
}

// triage asks the model for a one-to-two sentence assessment of the
// digest. Silent on any failure: a digest without a triage line is fine.
func (f *Formatter) triage(ctx context.Context, groups []DigestGroup) string {
	if !f.aiEnhance || f.provider == nil {
		return ""
	}
	if f.budget != nil && !f.budget.CanSpend(triageEstimate, budget.PriorityNormal) {
		f.logger.Debug("triage skipped, budget exhausted")
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You are Argus, a server monitoring AI. Briefly assess these NOTABLE " +
		"(non-critical) events in 1-2 sentences. Focus on whether action is needed.\n\n")
	for _, g := range groups {
		sb.WriteString("- " + g.Summary() + "\n")
	}

	chunks, err := f.provider.Generate(ctx, &llm.GenerateInput{
		Messages: []llm.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		f.logger.Debug("triage skipped", "error", err)
		return ""
	}
	var text strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ErrorChunk:
			f.logger.Debug("triage failed", "error", c.Message)
			return ""
		}
	}
	return strings.TrimSpace(text.String())
}
