package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher publishes stream events for WebSocket delivery.
// Durable events are stored in the stream_events table then broadcast via
// NOTIFY; transient events (deltas, thinking markers, tool progress) are
// broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally payloads are marshaled to JSON and routed through
// persistAndNotify or notifyOnly.
type Publisher struct {
	db     *sql.DB
	tenant string
}

// NewPublisher creates a Publisher. The db parameter should be the *sql.DB
// from database.Client.DB(). The tenant tags persisted rows.
func NewPublisher(db *sql.DB, tenant string) *Publisher {
	return &Publisher{db: db, tenant: tenant}
}

// --- Durable events (persist + NOTIFY in one transaction) ---

// PublishAlert persists and broadcasts an alert on the global channel.
func (p *Publisher) PublishAlert(ctx context.Context, payload AlertPayload) error {
	payload.Type = TypeAlert
	return p.durable(ctx, GlobalChannel, payload)
}

// PublishSystemStatus persists and broadcasts a system status snapshot.
func (p *Publisher) PublishSystemStatus(ctx context.Context, payload SystemStatusPayload) error {
	payload.Type = TypeSystemStatus
	return p.durable(ctx, GlobalChannel, payload)
}

// PublishBudgetUpdate persists and broadcasts a token budget snapshot.
func (p *Publisher) PublishBudgetUpdate(ctx context.Context, payload BudgetUpdatePayload) error {
	payload.Type = TypeBudgetUpdate
	return p.durable(ctx, GlobalChannel, payload)
}

// PublishActionRequest persists and broadcasts an approval request. Durable
// so operators reconnecting during the approval window still see it.
func (p *Publisher) PublishActionRequest(ctx context.Context, payload ActionRequestPayload) error {
	payload.Type = TypeActionRequest
	return p.durable(ctx, GlobalChannel, payload)
}

// PublishActionExecuting persists and broadcasts the start of an approved command.
func (p *Publisher) PublishActionExecuting(ctx context.Context, payload ActionExecutingPayload) error {
	payload.Type = TypeActionExecuting
	return p.durable(ctx, GlobalChannel, payload)
}

// PublishActionComplete persists and broadcasts a command outcome.
func (p *Publisher) PublishActionComplete(ctx context.Context, payload ActionCompletePayload) error {
	payload.Type = TypeActionComplete
	return p.durable(ctx, GlobalChannel, payload)
}

// PublishInvestigationStart persists the start marker on the global channel
// and sends a transient copy to the per-investigation channel. The transient
// copy is best-effort: the durable publish is authoritative.
func (p *Publisher) PublishInvestigationStart(ctx context.Context, payload InvestigationStartPayload) error {
	payload.Type = TypeInvestigationStart
	if err := p.durable(ctx, GlobalChannel, payload); err != nil {
		return err
	}
	if err := p.transient(ctx, InvestigationChannel(payload.InvestigationID), payload); err != nil {
		slog.Warn("Failed to mirror investigation start to its channel",
			"investigation_id", payload.InvestigationID, "error", err)
	}
	return nil
}

// PublishInvestigationEnd persists the terminal marker on the global channel
// and mirrors it to the per-investigation channel.
func (p *Publisher) PublishInvestigationEnd(ctx context.Context, payload InvestigationEndPayload) error {
	payload.Type = TypeInvestigationEnd
	if err := p.durable(ctx, GlobalChannel, payload); err != nil {
		return err
	}
	if err := p.transient(ctx, InvestigationChannel(payload.InvestigationID), payload); err != nil {
		slog.Warn("Failed to mirror investigation end to its channel",
			"investigation_id", payload.InvestigationID, "error", err)
	}
	return nil
}

// --- Transient events (NOTIFY only) ---

// PublishInvestigationUpdate broadcasts accumulated narration on the global
// channel. Ephemeral: the final summary arrives in investigation_end.
func (p *Publisher) PublishInvestigationUpdate(ctx context.Context, payload InvestigationUpdatePayload) error {
	payload.Type = TypeInvestigationUpdate
	return p.transient(ctx, GlobalChannel, payload)
}

// PublishThinking broadcasts a reasoning round boundary to the
// per-investigation channel. start selects thinking_start vs thinking_end.
func (p *Publisher) PublishThinking(ctx context.Context, investigationID string, start bool) error {
	payload := ThinkingPayload{Type: TypeThinkingEnd, InvestigationID: investigationID}
	if start {
		payload.Type = TypeThinkingStart
	}
	return p.transient(ctx, InvestigationChannel(investigationID), payload)
}

// PublishAssistantDelta broadcasts one streamed text fragment to the
// per-investigation channel.
func (p *Publisher) PublishAssistantDelta(ctx context.Context, payload AssistantDeltaPayload) error {
	payload.Type = TypeAssistantMessageDelta
	return p.transient(ctx, InvestigationChannel(payload.InvestigationID), payload)
}

// PublishToolCall broadcasts a tool invocation to the given channel.
func (p *Publisher) PublishToolCall(ctx context.Context, channel string, payload ToolCallPayload) error {
	payload.Type = TypeToolCall
	return p.transient(ctx, channel, payload)
}

// PublishToolResult broadcasts a masked tool result to the given channel.
func (p *Publisher) PublishToolResult(ctx context.Context, channel string, payload ToolResultPayload) error {
	payload.Type = TypeToolResult
	return p.transient(ctx, channel, payload)
}

// --- Internal core methods ---

func (p *Publisher) durable(ctx context.Context, channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", payload, err)
	}
	return p.persistAndNotify(ctx, channel, payloadJSON)
}

func (p *Publisher) transient(ctx context.Context, channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", payload, err)
	}
	return p.notifyOnly(ctx, channel, payloadJSON)
}

// persistAndNotify persists a pre-marshaled event to the stream_events table
// and broadcasts via NOTIFY in a single transaction (pg_notify is
// transactional — held until COMMIT).
func (p *Publisher) persistAndNotify(ctx context.Context, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO stream_events (tenant_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.tenant, channel, payloadJSON, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist stream event: %w", err)
	}

	// Build NOTIFY payload with stream_event_id for catchup tracking.
	notifyPayload, err := injectEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	// pg_notify within the same transaction — held until COMMIT.
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stream event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting.
func (p *Publisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectEventIDAndTruncate adds stream_event_id to the JSON payload for
// NOTIFY delivery and applies truncation if the result exceeds PostgreSQL's
// limit.
func injectEventIDAndTruncate(payloadJSON []byte, eventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for stream_event_id injection: %w", err)
	}
	m["stream_event_id"] = eventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, keeping only the routing fields the client needs to
// fetch the complete event via catchup.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type            string `json:"type"`
		ID              string `json:"id"`
		InvestigationID string `json:"investigation_id"`
		StreamEventID   *int64 `json:"stream_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"truncated": true,
	}
	if routing.ID != "" {
		truncated["id"] = routing.ID
	}
	if routing.InvestigationID != "" {
		truncated["investigation_id"] = routing.InvestigationID
	}
	if routing.StreamEventID != nil {
		truncated["stream_event_id"] = *routing.StreamEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
