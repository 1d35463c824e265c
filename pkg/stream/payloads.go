package stream

// ConnectedPayload is sent once immediately after the WebSocket upgrade.
type ConnectedPayload struct {
	Type         string `json:"type"` // always TypeConnected
	ConnectionID string `json:"connection_id"`
}

// SystemStatusPayload is a periodic durable snapshot of agent health for
// dashboard headers: budget, queue depth, scheduler tasks, collector health.
type SystemStatusPayload struct {
	Type      string         `json:"type"` // always TypeSystemStatus
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
}

// AlertPayload is the durable broadcast for a routed alert.
type AlertPayload struct {
	Type      string `json:"type"` // always TypeAlert
	ID        string `json:"id"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ThinkingPayload marks an agent reasoning round boundary (transient).
// Type discriminates start vs end.
type ThinkingPayload struct {
	Type            string `json:"type"` // TypeThinkingStart or TypeThinkingEnd
	InvestigationID string `json:"investigation_id,omitempty"`
}

// AssistantDeltaPayload carries one streamed text fragment (transient).
// Clients concatenate deltas locally for a live typing effect; the final
// text arrives in the durable terminal event.
type AssistantDeltaPayload struct {
	Type            string `json:"type"` // always TypeAssistantMessageDelta
	InvestigationID string `json:"investigation_id,omitempty"`
	Content         string `json:"content"`
}

// ToolCallPayload announces a tool invocation the agent is making (transient).
type ToolCallPayload struct {
	Type      string         `json:"type"` // always TypeToolCall
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResultPayload carries a masked tool result (transient).
type ToolResultPayload struct {
	Type        string `json:"type"` // always TypeToolResult
	ID          string `json:"id"`
	Name        string `json:"name"`
	Result      string `json:"result"`
	DisplayType string `json:"display_type,omitempty"` // text, table, json
}

// ActionRequestPayload asks connected clients to approve a proposed command
// (durable: an operator reconnecting during the approval window must see it).
type ActionRequestPayload struct {
	Type        string `json:"type"` // always TypeActionRequest
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	Command     string `json:"command"`
	RiskLevel   string `json:"risk_level"`
	Reversible  bool   `json:"reversible"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// ActionExecutingPayload announces an approved command starting (durable).
type ActionExecutingPayload struct {
	Type    string `json:"type"` // always TypeActionExecuting
	ID      string `json:"id"`
	Command string `json:"command"`
}

// ActionCompletePayload carries the outcome of an executed command (durable).
// Stdout and stderr are masked and truncated before publishing.
type ActionCompletePayload struct {
	Type       string `json:"type"` // always TypeActionComplete
	ID         string `json:"id"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

// InvestigationStartPayload is the durable start marker of an investigation.
type InvestigationStartPayload struct {
	Type            string `json:"type"` // always TypeInvestigationStart
	InvestigationID string `json:"investigation_id"`
	Trigger         string `json:"trigger"`
	Severity        string `json:"severity"`
	Timestamp       string `json:"timestamp"` // RFC3339Nano
}

// InvestigationUpdatePayload streams accumulated investigation narration
// (transient).
type InvestigationUpdatePayload struct {
	Type            string `json:"type"` // always TypeInvestigationUpdate
	InvestigationID string `json:"investigation_id"`
	Content         string `json:"content"`
}

// InvestigationEndPayload is the durable terminal marker of an investigation.
type InvestigationEndPayload struct {
	Type            string `json:"type"` // always TypeInvestigationEnd
	InvestigationID string `json:"investigation_id"`
	Summary         string `json:"summary"`
	TokensUsed      int    `json:"tokens_used"`
	Timestamp       string `json:"timestamp"` // RFC3339Nano
}

// BudgetUpdatePayload is the durable token budget snapshot broadcast after
// each recorded usage.
type BudgetUpdatePayload struct {
	Type        string `json:"type"` // always TypeBudgetUpdate
	HourlyUsed  int    `json:"hourly_used"`
	HourlyLimit int    `json:"hourly_limit"`
	DailyUsed   int    `json:"daily_used"`
	DailyLimit  int    `json:"daily_limit"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// ErrorPayload reports a protocol or request error to a single client.
type ErrorPayload struct {
	Type    string `json:"type"` // always TypeError
	Message string `json:"message"`
}
