// Package stream provides real-time delivery of agent and alert activity via
// WebSocket and PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// Two delivery classes exist. Durable events (alerts, action lifecycle,
// investigation start/end, budget and status updates) are persisted to the
// stream_events table and broadcast via NOTIFY in one transaction, so
// reconnecting clients can catch up from their last seen stream_event_id.
// Transient events (assistant text deltas, thinking markers, tool call
// progress) are NOTIFY-only: high frequency, lost on disconnect, and always
// superseded by a durable terminal event.
package stream

// Server → client message types. Every payload carries one of these in its
// "type" field; clients switch on it.
const (
	TypeConnected    = "connected"
	TypeSystemStatus = "system_status"
	TypePong         = "pong"

	TypeThinkingStart         = "thinking_start"
	TypeThinkingEnd           = "thinking_end"
	TypeAssistantMessageDelta = "assistant_message_delta"
	TypeToolCall              = "tool_call"
	TypeToolResult            = "tool_result"

	TypeActionRequest   = "action_request"
	TypeActionExecuting = "action_executing"
	TypeActionComplete  = "action_complete"

	TypeAlert = "alert"

	TypeInvestigationStart  = "investigation_start"
	TypeInvestigationUpdate = "investigation_update"
	TypeInvestigationEnd    = "investigation_end"

	TypeBudgetUpdate = "budget_update"
	TypeError        = "error"
)

// Client → server message types.
const (
	ClientTypeUserMessage    = "user_message"
	ClientTypeActionResponse = "action_response"
	ClientTypeCancel         = "cancel"
	ClientTypePing           = "ping"

	// Transport-level messages for per-investigation channels.
	ClientTypeSubscribe   = "subscribe"
	ClientTypeUnsubscribe = "unsubscribe"
	ClientTypeCatchup     = "catchup"
)

// GlobalChannel carries all tenant-visible activity: alerts, actions,
// investigation lifecycle, budget and status updates. Every connection is
// auto-subscribed on connect.
const GlobalChannel = "argus:events"

// InvestigationChannel returns the channel carrying the streaming detail
// (deltas, tool calls) of a single investigation.
// Format: "argus:investigation:{investigation_id}"
func InvestigationChannel(investigationID string) string {
	return "argus:investigation:" + investigationID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Type string `json:"type"`

	// user_message
	Content string `json:"content,omitempty"`

	// action_response
	ActionID string `json:"action_id,omitempty"`
	Approved *bool  `json:"approved,omitempty"`
	User     string `json:"user,omitempty"`

	// subscribe / unsubscribe / catchup
	Channel     string `json:"channel,omitempty"`
	LastEventID *int64 `json:"last_event_id,omitempty"`
}
