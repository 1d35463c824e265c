package alerting

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/storage"
	"github.com/argus-obs/argus/pkg/stream"
)

// maxMuteWindow caps how long a rule can be muted (7 days).
const maxMuteWindow = 168 * time.Hour

// defaultAckExpiry is the safety cap on acknowledgments: gap detection
// handles the normal "condition resolved" case, the cap covers keys whose
// events never resume.
const defaultAckExpiry = 24 * time.Hour

// AlertState tracks where an alert is in its lifecycle.
type AlertState string

const (
	StateActive       AlertState = "active"
	StateAcknowledged AlertState = "acknowledged"
	StateResolved     AlertState = "resolved"
)

// ActiveAlert is one fired alert held in memory for the process lifetime.
type ActiveAlert struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	Event          events.Event    `json:"event"`
	Severity       events.Severity `json:"severity"`
	Timestamp      time.Time       `json:"timestamp"`
	DedupKey       string          `json:"dedup_key"`
	Status         AlertState      `json:"status"`
	Resolved       bool            `json:"resolved"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
}

// Store is the slice of the operational repo the engine persists through.
type Store interface {
	InsertAlert(ctx context.Context, a storage.AlertRecord) error
	ResolveAlert(ctx context.Context, tenant, alertID string, at time.Time) error
	UpsertAcknowledgment(ctx context.Context, a storage.Acknowledgment) error
	DeactivateAcknowledgment(ctx context.Context, tenant, dedupKey string) error
	TouchAcknowledgment(ctx context.Context, tenant, dedupKey string, lastSeen time.Time) error
	ListActiveAcknowledgments(ctx context.Context, tenant string) ([]storage.Acknowledgment, error)
	UpsertMute(ctx context.Context, m storage.Mute) error
	DeactivateMute(ctx context.Context, tenant, ruleID string) error
	ListActiveMutes(ctx context.Context, tenant string) ([]storage.Mute, error)
}

// Broadcaster pushes fired alerts to connected WebSocket clients,
// immediately and unfiltered by the external severity threshold.
type Broadcaster interface {
	PublishAlert(ctx context.Context, payload stream.AlertPayload) error
}

// Sink receives fired alerts for external delivery (the formatter).
type Sink interface {
	Submit(ctx context.Context, alert ActiveAlert, e events.Event)
}

// InvestigateFunc enqueues an AI investigation for an urgent alert.
type InvestigateFunc func(ctx context.Context, e events.Event, alertID string) error

// Engine evaluates rules against incoming events and owns suppression
// state. In-memory state is authoritative; persistence is best-effort and
// reloaded on startup.
type Engine struct {
	rules       []Rule
	store       Store
	broadcaster Broadcaster
	sink        Sink
	investigate InvestigateFunc
	tenant      string
	logger      *slog.Logger
	now         func() time.Time

	mu               sync.Mutex
	active           []*ActiveAlert
	lastFired        map[string]time.Time
	lastSeen         map[string]time.Time
	lastInvestigated map[string]time.Time
	ackedKeys        map[string]time.Time // dedup key -> expiry
	mutedRules       map[string]time.Time // rule id -> expiry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRules replaces the default rule set.
func WithRules(rules []Rule) EngineOption {
	return func(e *Engine) { e.rules = rules }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithInvestigator sets the auto-investigation callback.
func WithInvestigator(fn InvestigateFunc) EngineOption {
	return func(e *Engine) { e.investigate = fn }
}

// WithBroadcaster sets the WebSocket broadcast target.
func WithBroadcaster(b Broadcaster) EngineOption {
	return func(e *Engine) { e.broadcaster = b }
}

// WithSink sets the external delivery target.
func WithSink(s Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

func NewEngine(store Store, tenant string, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:            DefaultRules(),
		store:            store,
		tenant:           tenant,
		logger:           logger.With("component", "alert_engine"),
		now:              time.Now,
		lastFired:        map[string]time.Time{},
		lastSeen:         map[string]time.Time{},
		lastInvestigated: map[string]time.Time{},
		ackedKeys:        map[string]time.Time{},
		mutedRules:       map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads persisted suppressions and subscribes to notable+ events.
func (e *Engine) Start(ctx context.Context, bus *events.Bus) error {
	if err := e.loadSuppressions(ctx); err != nil {
		return err
	}
	bus.Subscribe("alert-engine", func(ev events.Event) {
		e.HandleEvent(context.Background(), ev)
	}, events.WithMinSeverity(events.SeverityNotable))
	e.logger.Info("alert engine started", "rules", len(e.rules))
	return nil
}

func (e *Engine) loadSuppressions(ctx context.Context) error {
	acks, err := e.store.ListActiveAcknowledgments(ctx, e.tenant)
	if err != nil {
		return err
	}
	mutes, err := e.store.ListActiveMutes(ctx, e.tenant)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range acks {
		e.ackedKeys[a.DedupKey] = a.ExpiresAt
		e.lastSeen[a.DedupKey] = a.LastSeen
	}
	for _, m := range mutes {
		e.mutedRules[m.RuleID] = m.Until
	}
	e.logger.Info("suppressions loaded", "acknowledgments", len(acks), "mutes", len(mutes))
	return nil
}

// HandleEvent evaluates every rule against the event and fires matching
// alerts. Exported for the bus subscription and for tests.
func (e *Engine) HandleEvent(ctx context.Context, ev events.Event) {
	for _, rule := range e.rules {
		if !rule.Matches(ev) {
			continue
		}
		e.handleMatch(ctx, rule, ev)
	}
}

func (e *Engine) handleMatch(ctx context.Context, rule Rule, ev events.Event) {
	now := e.now()
	dedupKey := BuildDedupKey(ev, rule.ID)

	e.mu.Lock()
	previousSeen, hadPrevious := e.lastSeen[dedupKey]
	e.lastSeen[dedupKey] = now

	if e.isMutedLocked(rule.ID, now) {
		e.mu.Unlock()
		return
	}
	suppressed, touched := e.checkAckLocked(rule, dedupKey, previousSeen, hadPrevious, now)
	if suppressed {
		e.mu.Unlock()
		if touched {
			if err := e.store.TouchAcknowledgment(ctx, e.tenant, dedupKey, now); err != nil {
				e.logger.Warn("failed to touch acknowledgment", "dedup_key", dedupKey, "error", err)
			}
		}
		return
	}
	if touched {
		// Ack auto-cleared: the condition recovered and re-fired.
		e.mu.Unlock()
		if err := e.store.DeactivateAcknowledgment(ctx, e.tenant, dedupKey); err != nil {
			e.logger.Warn("failed to deactivate acknowledgment", "dedup_key", dedupKey, "error", err)
		}
		e.mu.Lock()
	}

	if last, ok := e.lastFired[dedupKey]; ok && now.Sub(last) < rule.Cooldown {
		e.mu.Unlock()
		return
	}
	e.lastFired[dedupKey] = now

	alert := &ActiveAlert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Event:     ev,
		Severity:  ev.Severity,
		Timestamp: now,
		DedupKey:  dedupKey,
		Status:    StateActive,
	}
	e.active = append(e.active, alert)

	shouldInvestigate := false
	if rule.AutoInvestigate && ev.Severity == events.SeverityUrgent && e.investigate != nil {
		investLast, ok := e.lastInvestigated[dedupKey]
		if !ok || now.Sub(investLast) >= rule.InvestigateCooldown {
			e.lastInvestigated[dedupKey] = now
			shouldInvestigate = true
		}
	}
	snapshot := *alert
	e.mu.Unlock()

	e.logger.Info("alert fired",
		"rule", rule.Name, "severity", ev.Severity, "message", ev.Message)

	e.persistAlert(ctx, snapshot, ev)
	e.broadcast(ctx, snapshot, ev)
	if e.sink != nil {
		e.sink.Submit(ctx, snapshot, ev)
	}
	if shouldInvestigate {
		if err := e.investigate(ctx, ev, snapshot.ID); err != nil {
			e.logger.Warn("auto-investigation enqueue failed",
				"alert_id", snapshot.ID, "error", err)
		}
	}
}

// isMutedLocked checks the rule mute with lazy expiry.
func (e *Engine) isMutedLocked(ruleID string, now time.Time) bool {
	expires, ok := e.mutedRules[ruleID]
	if !ok {
		return false
	}
	if now.Before(expires) {
		return true
	}
	delete(e.mutedRules, ruleID)
	return false
}

// checkAckLocked reports whether the dedup key is suppressed by an
// acknowledgment. An acked key whose previous sighting is older than the
// rule cooldown has recovered and re-fired: the ack is auto-cleared and
// the alert fires (suppressed=false, touched=true signals persistence).
// Otherwise touched=true means last-seen should be stamped.
func (e *Engine) checkAckLocked(rule Rule, dedupKey string, previousSeen time.Time, hadPrevious bool, now time.Time) (suppressed, touched bool) {
	expires, ok := e.ackedKeys[dedupKey]
	if !ok {
		return false, false
	}
	if hadPrevious && now.Sub(previousSeen) > rule.Cooldown {
		delete(e.ackedKeys, dedupKey)
		e.logger.Info("acknowledgment auto-cleared",
			"dedup_key", dedupKey, "gap", now.Sub(previousSeen).Round(time.Second))
		return false, true
	}
	if !now.Before(expires) {
		delete(e.ackedKeys, dedupKey)
		return false, false
	}
	return true, true
}

func (e *Engine) persistAlert(ctx context.Context, alert ActiveAlert, ev events.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte("{}")
	}
	rec := storage.AlertRecord{
		ID:        alert.ID,
		Tenant:    e.tenant,
		RuleID:    alert.RuleID,
		DedupKey:  alert.DedupKey,
		Severity:  string(alert.Severity),
		Source:    string(ev.Source),
		EventType: string(ev.Type),
		Message:   ev.Message,
		Data:      data,
		FiredAt:   alert.Timestamp,
	}
	if err := e.store.InsertAlert(ctx, rec); err != nil {
		e.logger.Error("failed to persist alert", "alert_id", alert.ID, "error", err)
	}
}

func (e *Engine) broadcast(ctx context.Context, alert ActiveAlert, ev events.Event) {
	if e.broadcaster == nil {
		return
	}
	err := e.broadcaster.PublishAlert(ctx, stream.AlertPayload{
		ID:        alert.ID,
		Severity:  string(alert.Severity),
		Title:     alert.RuleName,
		Summary:   ev.Message,
		Source:    string(ev.Source),
		Timestamp: alert.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		e.logger.Warn("alert broadcast failed", "alert_id", alert.ID, "error", err)
	}
}

// ActiveAlerts returns a snapshot of fired alerts, newest last.
func (e *Engine) ActiveAlerts(includeResolved bool) []ActiveAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ActiveAlert, 0, len(e.active))
	for _, a := range e.active {
		if !includeResolved && a.Resolved {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Rules returns the configured rule set.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Acknowledge suppresses the alert's dedup key until expiresAt (default
// 24h). Returns false if the alert is unknown.
func (e *Engine) Acknowledge(ctx context.Context, alertID, by string, expiresAt *time.Time) bool {
	now := e.now()
	expiry := now.Add(defaultAckExpiry)
	if expiresAt != nil {
		expiry = *expiresAt
	}

	e.mu.Lock()
	alert := e.findLocked(alertID)
	if alert == nil {
		e.mu.Unlock()
		return false
	}
	alert.Status = StateAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	dedupKey := alert.DedupKey
	e.ackedKeys[dedupKey] = expiry
	e.mu.Unlock()

	err := e.store.UpsertAcknowledgment(ctx, storage.Acknowledgment{
		ID:        uuid.NewString(),
		Tenant:    e.tenant,
		AlertID:   alertID,
		DedupKey:  dedupKey,
		AckedBy:   by,
		AckedAt:   now,
		ExpiresAt: expiry,
		LastSeen:  now,
		Active:    true,
	})
	if err != nil {
		e.logger.Error("failed to persist acknowledgment", "alert_id", alertID, "error", err)
	}
	return true
}

// Unacknowledge reverts an acknowledgment.
func (e *Engine) Unacknowledge(ctx context.Context, alertID string) bool {
	e.mu.Lock()
	alert := e.findLocked(alertID)
	if alert == nil || alert.Status != StateAcknowledged {
		e.mu.Unlock()
		return false
	}
	alert.Status = StateActive
	alert.AcknowledgedAt = nil
	alert.AcknowledgedBy = ""
	dedupKey := alert.DedupKey
	delete(e.ackedKeys, dedupKey)
	e.mu.Unlock()

	if err := e.store.DeactivateAcknowledgment(ctx, e.tenant, dedupKey); err != nil {
		e.logger.Error("failed to deactivate acknowledgment", "alert_id", alertID, "error", err)
	}
	return true
}

// Mute silences a rule until the given time, clamped to 7 days out.
func (e *Engine) Mute(ctx context.Context, ruleID, by string, until time.Time) bool {
	known := false
	for _, r := range e.rules {
		if r.ID == ruleID {
			known = true
			break
		}
	}
	if !known {
		return false
	}
	now := e.now()
	if until.After(now.Add(maxMuteWindow)) {
		until = now.Add(maxMuteWindow)
	}

	e.mu.Lock()
	e.mutedRules[ruleID] = until
	e.mu.Unlock()

	err := e.store.UpsertMute(ctx, storage.Mute{
		ID:      uuid.NewString(),
		Tenant:  e.tenant,
		RuleID:  ruleID,
		MutedBy: by,
		MutedAt: now,
		Until:   until,
		Active:  true,
	})
	if err != nil {
		e.logger.Error("failed to persist mute", "rule_id", ruleID, "error", err)
	}
	e.logger.Info("rule muted", "rule_id", ruleID, "until", until)
	return true
}

// Unmute lifts a rule mute.
func (e *Engine) Unmute(ctx context.Context, ruleID string) bool {
	e.mu.Lock()
	_, ok := e.mutedRules[ruleID]
	delete(e.mutedRules, ruleID)
	e.mu.Unlock()
	if !ok {
		return false
	}
	if err := e.store.DeactivateMute(ctx, e.tenant, ruleID); err != nil {
		e.logger.Error("failed to deactivate mute", "rule_id", ruleID, "error", err)
	}
	e.logger.Info("rule unmuted", "rule_id", ruleID)
	return true
}

// Resolve marks an alert resolved and clears any ack on its dedup key.
func (e *Engine) Resolve(ctx context.Context, alertID string) bool {
	now := e.now()
	e.mu.Lock()
	alert := e.findLocked(alertID)
	if alert == nil || alert.Resolved {
		e.mu.Unlock()
		return false
	}
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.Status = StateResolved
	dedupKey := alert.DedupKey
	_, hadAck := e.ackedKeys[dedupKey]
	delete(e.ackedKeys, dedupKey)
	e.mu.Unlock()

	if err := e.store.ResolveAlert(ctx, e.tenant, alertID, now); err != nil {
		e.logger.Error("failed to persist resolution", "alert_id", alertID, "error", err)
	}
	if hadAck {
		if err := e.store.DeactivateAcknowledgment(ctx, e.tenant, dedupKey); err != nil {
			e.logger.Warn("failed to deactivate acknowledgment", "dedup_key", dedupKey, "error", err)
		}
	}
	return true
}

// MutedRules returns the currently muted rules with lazy expiry.
func (e *Engine) MutedRules() map[string]time.Time {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Time, len(e.mutedRules))
	for id, until := range e.mutedRules {
		if !now.Before(until) {
			delete(e.mutedRules, id)
			continue
		}
		out[id] = until
	}
	return out
}

// AcknowledgedKeys returns the currently acked dedup keys with lazy expiry.
func (e *Engine) AcknowledgedKeys() map[string]time.Time {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Time, len(e.ackedKeys))
	for key, expires := range e.ackedKeys {
		if !now.Before(expires) {
			delete(e.ackedKeys, key)
			continue
		}
		out[key] = expires
	}
	return out
}

func (e *Engine) findLocked(alertID string) *ActiveAlert {
	for _, a := range e.active {
		if a.ID == alertID {
			return a
		}
	}
	return nil
}
