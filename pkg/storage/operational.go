package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/argus-obs/argus/pkg/database"
	"github.com/argus-obs/argus/pkg/stream"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AlertRecord is one fired alert as persisted to alert_history.
type AlertRecord struct {
	ID         string     `db:"id" json:"id"`
	Tenant     string     `db:"tenant_id" json:"-"`
	RuleID     string     `db:"rule_id" json:"rule_id"`
	DedupKey   string     `db:"dedup_key" json:"dedup_key"`
	Severity   string     `db:"severity" json:"severity"`
	Source     string     `db:"source" json:"source"`
	EventType  string     `db:"event_type" json:"event_type"`
	Message    string     `db:"message" json:"message"`
	Data       []byte     `db:"data" json:"-"`
	FiredAt    time.Time  `db:"fired_at" json:"fired_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Acknowledgment silences one dedup key until it expires or the alert
// recovers and re-fires.
type Acknowledgment struct {
	ID        string    `db:"id" json:"id"`
	Tenant    string    `db:"tenant_id" json:"-"`
	AlertID   string    `db:"alert_id" json:"alert_id"`
	DedupKey  string    `db:"dedup_key" json:"dedup_key"`
	AckedBy   string    `db:"acked_by" json:"acked_by"`
	AckedAt   time.Time `db:"acked_at" json:"acked_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
	Active    bool      `db:"active" json:"active"`
}

// Mute silences a whole rule until the given time.
type Mute struct {
	ID      string    `db:"id" json:"id"`
	Tenant  string    `db:"tenant_id" json:"-"`
	RuleID  string    `db:"rule_id" json:"rule_id"`
	MutedBy string    `db:"muted_by" json:"muted_by"`
	MutedAt time.Time `db:"muted_at" json:"muted_at"`
	Until   time.Time `db:"until_ts" json:"until"`
	Active  bool      `db:"active" json:"active"`
}

// Investigation row statuses.
const (
	InvestigationQueued    = "queued"
	InvestigationRunning   = "running"
	InvestigationCompleted = "completed"
	InvestigationFailed    = "failed"
	InvestigationDropped   = "dropped"
)

// Investigation is one AI investigation run.
type Investigation struct {
	ID          string     `db:"id" json:"id"`
	Tenant      string     `db:"tenant_id" json:"-"`
	Trigger     string     `db:"trigger_kind" json:"trigger"`
	EventType   string     `db:"event_type" json:"event_type"`
	EventSource string     `db:"event_source" json:"event_source"`
	Prompt      string     `db:"prompt" json:"prompt"`
	Status      string     `db:"status" json:"status"`
	Summary     string     `db:"summary" json:"summary"`
	TokensUsed  int        `db:"tokens_used" json:"tokens_used"`
	Rounds      int        `db:"rounds" json:"rounds"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// AuditEntry is one append-only action audit row.
type AuditEntry struct {
	ID            string    `db:"id" json:"id"`
	Tenant        string    `db:"tenant_id" json:"-"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
	Command       string    `db:"command" json:"command"`
	Description   string    `db:"description" json:"description"`
	RiskLevel     string    `db:"risk_level" json:"risk_level"`
	Outcome       string    `db:"outcome" json:"outcome"`
	ExitCode      int       `db:"exit_code" json:"exit_code"`
	ResultExcerpt string    `db:"result_excerpt" json:"result_excerpt"`
	RequestedBy   string    `db:"requested_by" json:"requested_by"`
	ApprovedBy    string    `db:"approved_by" json:"approved_by"`
}

// TokenUsageRow is one LLM round's token spend.
type TokenUsageRow struct {
	Tenant           string    `db:"tenant_id"`
	Timestamp        time.Time `db:"timestamp"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	Context          string    `db:"context"`
}

// Message is one turn of a persisted conversation.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// OperationalRepo persists agent state: alerts, suppressions,
// investigations, the audit log, token usage, conversations, and durable
// stream events. Implements stream.CatchupQuerier.
type OperationalRepo struct {
	client *database.Client
}

func NewOperationalRepo(client *database.Client) *OperationalRepo {
	return &OperationalRepo{client: client}
}

// --- alert history ---

func (r *OperationalRepo) InsertAlert(ctx context.Context, a AlertRecord) error {
	data := a.Data
	if data == nil {
		data = []byte("{}")
	}
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO alert_history (id, tenant_id, rule_id, dedup_key, severity, source, event_type, message, data, fired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Tenant, a.RuleID, a.DedupKey, a.Severity, a.Source, a.EventType, a.Message, data, a.FiredAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *OperationalRepo) ResolveAlert(ctx context.Context, tenant, alertID string, at time.Time) error {
	res, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE alert_history SET resolved_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND resolved_at IS NULL`,
		tenant, alertID, at)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OperationalRepo) ListAlerts(ctx context.Context, tenant string, includeResolved bool, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []AlertRecord{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, tenant_id, rule_id, dedup_key, severity, source, event_type, message, data, fired_at, resolved_at
		 FROM alert_history
		 WHERE tenant_id = $1 AND ($2 OR resolved_at IS NULL)
		 ORDER BY fired_at DESC LIMIT $3`,
		tenant, includeResolved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return rows, nil
}

func (r *OperationalRepo) GetAlert(ctx context.Context, tenant, alertID string) (AlertRecord, error) {
	var a AlertRecord
	err := r.client.SQLX().GetContext(ctx, &a,
		`SELECT id, tenant_id, rule_id, dedup_key, severity, source, event_type, message, data, fired_at, resolved_at
		 FROM alert_history WHERE tenant_id = $1 AND id = $2`,
		tenant, alertID)
	if err != nil {
		if isNoRows(err) {
			return AlertRecord{}, ErrNotFound
		}
		return AlertRecord{}, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// --- acknowledgments ---

// UpsertAcknowledgment replaces any active ack for the dedup key.
func (r *OperationalRepo) UpsertAcknowledgment(ctx context.Context, a Acknowledgment) error {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ack tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE alert_acknowledgments SET active = FALSE
		 WHERE tenant_id = $1 AND dedup_key = $2 AND active`,
		a.Tenant, a.DedupKey); err != nil {
		return fmt.Errorf("failed to deactivate prior acks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alert_acknowledgments (id, tenant_id, alert_id, dedup_key, acked_by, acked_at, expires_at, last_seen, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		a.ID, a.Tenant, a.AlertID, a.DedupKey, a.AckedBy, a.AckedAt, a.ExpiresAt, a.LastSeen); err != nil {
		return fmt.Errorf("failed to insert acknowledgment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit acknowledgment: %w", err)
	}
	return nil
}

func (r *OperationalRepo) DeactivateAcknowledgment(ctx context.Context, tenant, dedupKey string) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE alert_acknowledgments SET active = FALSE
		 WHERE tenant_id = $1 AND dedup_key = $2 AND active`,
		tenant, dedupKey)
	if err != nil {
		return fmt.Errorf("failed to deactivate acknowledgment: %w", err)
	}
	return nil
}

func (r *OperationalRepo) TouchAcknowledgment(ctx context.Context, tenant, dedupKey string, lastSeen time.Time) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE alert_acknowledgments SET last_seen = $3
		 WHERE tenant_id = $1 AND dedup_key = $2 AND active`,
		tenant, dedupKey, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to touch acknowledgment: %w", err)
	}
	return nil
}

func (r *OperationalRepo) ListActiveAcknowledgments(ctx context.Context, tenant string) ([]Acknowledgment, error) {
	rows := []Acknowledgment{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, tenant_id, alert_id, dedup_key, acked_by, acked_at, expires_at, last_seen, active
		 FROM alert_acknowledgments WHERE tenant_id = $1 AND active`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list acknowledgments: %w", err)
	}
	return rows, nil
}

// --- mutes ---

func (r *OperationalRepo) UpsertMute(ctx context.Context, m Mute) error {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mute tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE alert_rule_mutes SET active = FALSE
		 WHERE tenant_id = $1 AND rule_id = $2 AND active`,
		m.Tenant, m.RuleID); err != nil {
		return fmt.Errorf("failed to deactivate prior mutes: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO alert_rule_mutes (id, tenant_id, rule_id, muted_by, muted_at, until_ts, active)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		m.ID, m.Tenant, m.RuleID, m.MutedBy, m.MutedAt, m.Until); err != nil {
		return fmt.Errorf("failed to insert mute: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mute: %w", err)
	}
	return nil
}

func (r *OperationalRepo) DeactivateMute(ctx context.Context, tenant, ruleID string) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE alert_rule_mutes SET active = FALSE
		 WHERE tenant_id = $1 AND rule_id = $2 AND active`,
		tenant, ruleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate mute: %w", err)
	}
	return nil
}

func (r *OperationalRepo) ListActiveMutes(ctx context.Context, tenant string) ([]Mute, error) {
	rows := []Mute{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, tenant_id, rule_id, muted_by, muted_at, until_ts, active
		 FROM alert_rule_mutes WHERE tenant_id = $1 AND active`,
		tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutes: %w", err)
	}
	return rows, nil
}

// --- investigations ---

func (r *OperationalRepo) CreateInvestigation(ctx context.Context, inv Investigation) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO investigations (id, tenant_id, trigger_kind, event_type, event_source, prompt, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID, inv.Tenant, inv.Trigger, inv.EventType, inv.EventSource, inv.Prompt, inv.Status, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create investigation: %w", err)
	}
	return nil
}

// TransitionInvestigation moves an investigation to a new status, stamping
// started_at when it enters running.
func (r *OperationalRepo) TransitionInvestigation(ctx context.Context, tenant, id, status string) error {
	var err error
	if status == InvestigationRunning {
		_, err = r.client.SQLX().ExecContext(ctx,
			`UPDATE investigations SET status = $3, started_at = NOW()
			 WHERE tenant_id = $1 AND id = $2`,
			tenant, id, status)
	} else {
		_, err = r.client.SQLX().ExecContext(ctx,
			`UPDATE investigations SET status = $3 WHERE tenant_id = $1 AND id = $2`,
			tenant, id, status)
	}
	if err != nil {
		return fmt.Errorf("failed to transition investigation: %w", err)
	}
	return nil
}

// CompleteInvestigation records the terminal state of a run.
func (r *OperationalRepo) CompleteInvestigation(ctx context.Context, tenant, id, status, summary string, tokensUsed, rounds int) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE investigations
		 SET status = $3, summary = $4, tokens_used = $5, rounds = $6, completed_at = NOW()
		 WHERE tenant_id = $1 AND id = $2`,
		tenant, id, status, summary, tokensUsed, rounds)
	if err != nil {
		return fmt.Errorf("failed to complete investigation: %w", err)
	}
	return nil
}

func (r *OperationalRepo) GetInvestigation(ctx context.Context, tenant, id string) (Investigation, error) {
	var inv Investigation
	err := r.client.SQLX().GetContext(ctx, &inv,
		`SELECT id, tenant_id, trigger_kind, event_type, event_source, prompt, status,
		        summary, tokens_used, rounds, created_at, started_at, completed_at
		 FROM investigations WHERE tenant_id = $1 AND id = $2`,
		tenant, id)
	if err != nil {
		if isNoRows(err) {
			return Investigation{}, ErrNotFound
		}
		return Investigation{}, fmt.Errorf("failed to get investigation: %w", err)
	}
	return inv, nil
}

func (r *OperationalRepo) ListInvestigations(ctx context.Context, tenant string, limit int) ([]Investigation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := []Investigation{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, tenant_id, trigger_kind, event_type, event_source, prompt, status,
		        summary, tokens_used, rounds, created_at, started_at, completed_at
		 FROM investigations WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list investigations: %w", err)
	}
	return rows, nil
}

// FailOrphanedInvestigations marks queued/running rows left by a previous
// crash as failed. Returns the number of rows updated.
func (r *OperationalRepo) FailOrphanedInvestigations(ctx context.Context) (int64, error) {
	res, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE investigations
		 SET status = $1, summary = 'Interrupted by agent restart', completed_at = NOW()
		 WHERE status IN ($2, $3)`,
		InvestigationFailed, InvestigationQueued, InvestigationRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned investigations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- audit log ---

// AppendAudit inserts one audit row. Rows are never updated or deleted.
func (r *OperationalRepo) AppendAudit(ctx context.Context, e AuditEntry) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant_id, timestamp, command, description, risk_level,
		                        outcome, exit_code, result_excerpt, requested_by, approved_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Tenant, e.Timestamp, e.Command, e.Description, e.RiskLevel,
		e.Outcome, e.ExitCode, e.ResultExcerpt, e.RequestedBy, e.ApprovedBy)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *OperationalRepo) ListAudit(ctx context.Context, tenant string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []AuditEntry{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, tenant_id, timestamp, command, description, risk_level,
		        outcome, exit_code, result_excerpt, requested_by, approved_by
		 FROM audit_log WHERE tenant_id = $1
		 ORDER BY timestamp DESC LIMIT $2`,
		tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return rows, nil
}

// --- token usage ---

func (r *OperationalRepo) AppendTokenUsage(ctx context.Context, u TokenUsageRow) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO token_usage (tenant_id, timestamp, prompt_tokens, completion_tokens, context)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.Tenant, u.Timestamp, u.PromptTokens, u.CompletionTokens, u.Context)
	if err != nil {
		return fmt.Errorf("failed to append token usage: %w", err)
	}
	return nil
}

// --- conversations ---

func (r *OperationalRepo) CreateConversation(ctx context.Context, tenant, id, title string) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO conversations (id, tenant_id, title, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		id, tenant, title)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *OperationalRepo) AppendMessage(ctx context.Context, tenant, conversationID, role, content string) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO messages (tenant_id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		tenant, conversationID, role, content)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *OperationalRepo) GetMessages(ctx context.Context, tenant, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows := []Message{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE tenant_id = $1 AND conversation_id = $2
		 ORDER BY id ASC LIMIT $3`,
		tenant, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return rows, nil
}

// --- app config / ingest keys ---

// GetAppConfig returns the value for a key, or "" when unset.
func (r *OperationalRepo) GetAppConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.client.SQLX().GetContext(ctx, &value,
		`SELECT value FROM app_config WHERE key = $1`, key)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get app config: %w", err)
	}
	return value, nil
}

func (r *OperationalRepo) SetAppConfig(ctx context.Context, key, value string) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO app_config (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set app config: %w", err)
	}
	return nil
}

// TenantForIngestKey resolves an x-argus-key header value to a tenant id.
// Returns ErrNotFound for unknown keys.
func (r *OperationalRepo) TenantForIngestKey(ctx context.Context, key string) (string, error) {
	var tenant string
	err := r.client.SQLX().GetContext(ctx, &tenant,
		`SELECT tenant_id FROM users WHERE api_key = $1 AND active`, key)
	if err != nil {
		if isNoRows(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve ingest key: %w", err)
	}
	return tenant, nil
}

// EnsureIngestKey registers an API key for a tenant if absent. Used at
// startup for the configured single-tenant key.
func (r *OperationalRepo) EnsureIngestKey(ctx context.Context, tenant, key string) error {
	_, err := r.client.SQLX().ExecContext(ctx,
		`INSERT INTO users (tenant_id, api_key, active, created_at)
		 VALUES ($1, $2, TRUE, NOW())
		 ON CONFLICT (api_key) DO NOTHING`,
		tenant, key)
	if err != nil {
		return fmt.Errorf("failed to ensure ingest key: %w", err)
	}
	return nil
}

// --- stream events ---

// GetCatchupEvents returns durable stream events on a channel with id >
// sinceID, oldest first. Implements stream.CatchupQuerier.
func (r *OperationalRepo) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]stream.CatchupEvent, error) {
	type row struct {
		ID      int64  `db:"id"`
		Payload []byte `db:"payload"`
	}
	rows := []row{}
	err := r.client.SQLX().SelectContext(ctx, &rows,
		`SELECT id, payload FROM stream_events
		 WHERE channel = $1 AND id > $2
		 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get catchup events: %w", err)
	}
	events := make([]stream.CatchupEvent, 0, len(rows))
	for _, rw := range rows {
		var payload map[string]any
		if err := json.Unmarshal(rw.Payload, &payload); err != nil {
			continue
		}
		events = append(events, stream.CatchupEvent{ID: rw.ID, Payload: payload})
	}
	return events, nil
}

// DeleteOldStreamEvents removes durable events older than the cutoff.
// Returns the number of rows deleted.
func (r *OperationalRepo) DeleteOldStreamEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.client.SQLX().ExecContext(ctx,
		`DELETE FROM stream_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old stream events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeactivateExpiredSuppressions bulk-deactivates expired acks and mutes.
// Lazy expiry in the alert engine remains authoritative; this keeps the
// tables tidy.
func (r *OperationalRepo) DeactivateExpiredSuppressions(ctx context.Context, now time.Time) error {
	if _, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE alert_acknowledgments SET active = FALSE WHERE active AND expires_at < $1`, now); err != nil {
		return fmt.Errorf("failed to expire acknowledgments: %w", err)
	}
	if _, err := r.client.SQLX().ExecContext(ctx,
		`UPDATE alert_rule_mutes SET active = FALSE WHERE active AND until_ts < $1`, now); err != nil {
		return fmt.Errorf("failed to expire mutes: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
