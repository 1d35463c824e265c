package actions

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-obs/argus/pkg/masking"
	"github.com/argus-obs/argus/pkg/storage"
	"github.com/argus-obs/argus/pkg/stream"
)

const defaultCommandTimeout = 30 * time.Second

// AuditStore persists append-only audit rows.
type AuditStore interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Broadcaster publishes action lifecycle events to connected clients.
type Broadcaster interface {
	PublishActionRequest(ctx context.Context, payload stream.ActionRequestPayload) error
	PublishActionExecuting(ctx context.Context, payload stream.ActionExecutingPayload) error
	PublishActionComplete(ctx context.Context, payload stream.ActionCompletePayload) error
}

// ActionResult is the outcome of one proposed action.
type ActionResult struct {
	ActionID string
	Approved bool
	Executed bool
	Command  *CommandResult
	Err      string
}

type pendingAction struct {
	argv        []string
	risk        Risk
	description string
	resp        chan approvalResponse
}

type approvalResponse struct {
	approved bool
	user     string
}

// Engine runs the propose → approve → execute → audit state machine.
// READ_ONLY commands execute immediately; everything else waits for an
// operator response or times out. Many actions may be pending at once, each
// resolved exactly once.
type Engine struct {
	sandbox   *Sandbox
	audit     AuditStore
	publisher Broadcaster
	masker    *masking.Masker
	tenant    string
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingAction
}

func NewEngine(sandbox *Sandbox, audit AuditStore, publisher Broadcaster, masker *masking.Masker, tenant string, approvalTimeout time.Duration, logger *slog.Logger) *Engine {
	if approvalTimeout <= 0 {
		approvalTimeout = 300 * time.Second
	}
	return &Engine{
		sandbox:   sandbox,
		audit:     audit,
		publisher: publisher,
		masker:    masker,
		tenant:    tenant,
		timeout:   approvalTimeout,
		logger:    logger.With("component", "action_engine"),
		pending:   map[string]*pendingAction{},
	}
}

// Propose validates a command and routes it through the approval flow.
// Blocks until the action resolves: blocked, executed, rejected, or timed
// out.
func (e *Engine) Propose(ctx context.Context, argv []string, description, requestedBy string) ActionResult {
	actionID := uuid.NewString()
	cmdStr := strings.Join(argv, " ")
	if description == "" {
		description = "Execute: " + cmdStr
	}

	v := e.sandbox.Validate(argv)
	if !v.Allowed {
		e.appendAudit(ctx, storage.AuditEntry{
			ID:            actionID,
			Command:       cmdStr,
			Description:   description,
			RiskLevel:     string(v.Risk),
			Outcome:       "blocked by sandbox",
			ExitCode:      -1,
			ResultExcerpt: v.Reason,
			RequestedBy:   requestedBy,
		})
		return ActionResult{ActionID: actionID, Err: "Command blocked by safety filter"}
	}

	if v.Risk == RiskReadOnly {
		return e.execute(ctx, actionID, argv, description, v.Risk, requestedBy, "")
	}

	pend := &pendingAction{
		argv:        argv,
		risk:        v.Risk,
		description: description,
		resp:        make(chan approvalResponse, 1),
	}
	e.mu.Lock()
	e.pending[actionID] = pend
	e.mu.Unlock()

	if err := e.publisher.PublishActionRequest(ctx, stream.ActionRequestPayload{
		ID:          actionID,
		Tool:        "run_command",
		Description: description,
		Command:     cmdStr,
		RiskLevel:   string(v.Risk),
		Reversible:  false,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		e.logger.Warn("Failed to broadcast action request", "action_id", actionID, "error", err)
	}

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case resp := <-pend.resp:
		if !resp.approved {
			e.appendAudit(ctx, storage.AuditEntry{
				ID:          actionID,
				Command:     cmdStr,
				Description: description,
				RiskLevel:   string(v.Risk),
				Outcome:     "rejected by user",
				ExitCode:    -1,
				RequestedBy: requestedBy,
				ApprovedBy:  resp.user,
			})
			return ActionResult{ActionID: actionID, Err: "Action rejected by user"}
		}
		return e.execute(ctx, actionID, argv, description, v.Risk, requestedBy, resp.user)

	case <-timer.C:
		if resp, raced := e.popLate(actionID, pend); raced {
			// A response slipped in as the timer fired; honour it.
			if resp.approved {
				return e.execute(ctx, actionID, argv, description, v.Risk, requestedBy, resp.user)
			}
			return ActionResult{ActionID: actionID, Err: "Action rejected by user"}
		}
		e.appendAudit(ctx, storage.AuditEntry{
			ID:          actionID,
			Command:     cmdStr,
			Description: description,
			RiskLevel:   string(v.Risk),
			Outcome:     "approval timed out",
			ExitCode:    -1,
			RequestedBy: requestedBy,
		})
		return ActionResult{ActionID: actionID, Err: "Approval timed out"}

	case <-ctx.Done():
		if resp, raced := e.popLate(actionID, pend); raced && resp.approved {
			return e.execute(context.WithoutCancel(ctx), actionID, argv, description, v.Risk, requestedBy, resp.user)
		}
		e.appendAudit(context.WithoutCancel(ctx), storage.AuditEntry{
			ID:          actionID,
			Command:     cmdStr,
			Description: description,
			RiskLevel:   string(v.Risk),
			Outcome:     "cancelled",
			ExitCode:    -1,
			RequestedBy: requestedBy,
		})
		return ActionResult{ActionID: actionID, Err: "Cancelled before approval"}
	}
}

// HandleResponse resolves a pending action from an operator's
// action_response message. Unknown ids are logged and ignored; an action can
// only resolve once because the entry is popped under the lock.
func (e *Engine) HandleResponse(actionID string, approved bool, user string) bool {
	e.mu.Lock()
	pend, ok := e.pending[actionID]
	if ok {
		delete(e.pending, actionID)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("Action response for unknown action", "action_id", actionID)
		return false
	}
	pend.resp <- approvalResponse{approved: approved, user: user}
	return true
}

// PendingCount reports how many actions await approval.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// popLate removes the pending entry after a timeout or cancellation. When
// HandleResponse already popped it, the response is sitting in the buffered
// channel; return it so the race resolves in the operator's favour.
func (e *Engine) popLate(actionID string, pend *pendingAction) (approvalResponse, bool) {
	e.mu.Lock()
	_, still := e.pending[actionID]
	delete(e.pending, actionID)
	e.mu.Unlock()

	if still {
		return approvalResponse{}, false
	}
	return <-pend.resp, true
}

func (e *Engine) execute(ctx context.Context, actionID string, argv []string, description string, risk Risk, requestedBy, approvedBy string) ActionResult {
	cmdStr := strings.Join(argv, " ")

	if err := e.publisher.PublishActionExecuting(ctx, stream.ActionExecutingPayload{
		ID:      actionID,
		Command: cmdStr,
	}); err != nil {
		e.logger.Warn("Failed to broadcast action executing", "action_id", actionID, "error", err)
	}

	result := e.sandbox.Execute(ctx, argv, defaultCommandTimeout)
	result.Stdout = e.masker.MaskText(result.Stdout)
	result.Stderr = e.masker.MaskText(result.Stderr)

	excerpt := result.Stdout
	if result.ExitCode != 0 {
		excerpt = result.Stderr
	}
	outcome := "executed"
	if result.ExitCode != 0 {
		outcome = "failed"
	}
	e.appendAudit(ctx, storage.AuditEntry{
		ID:            actionID,
		Command:       cmdStr,
		Description:   description,
		RiskLevel:     string(risk),
		Outcome:       outcome,
		ExitCode:      result.ExitCode,
		ResultExcerpt: truncate(excerpt, 500),
		RequestedBy:   requestedBy,
		ApprovedBy:    approvedBy,
	})

	if err := e.publisher.PublishActionComplete(ctx, stream.ActionCompletePayload{
		ID:         actionID,
		ExitCode:   result.ExitCode,
		Stdout:     truncate(result.Stdout, 1000),
		Stderr:     truncate(result.Stderr, 1000),
		DurationMS: result.DurationMs,
	}); err != nil {
		e.logger.Warn("Failed to broadcast action complete", "action_id", actionID, "error", err)
	}

	return ActionResult{ActionID: actionID, Approved: true, Executed: true, Command: &result}
}

func (e *Engine) appendAudit(ctx context.Context, entry storage.AuditEntry) {
	entry.Tenant = e.tenant
	entry.Timestamp = time.Now().UTC()
	entry.ResultExcerpt = e.masker.MaskText(entry.ResultExcerpt)
	if err := e.audit.AppendAudit(ctx, entry); err != nil {
		e.logger.Error("Failed to append audit entry", "action_id", entry.ID, "error", err)
	}
}
