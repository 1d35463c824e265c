package investigator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-obs/argus/pkg/agent"
	"github.com/argus-obs/argus/pkg/budget"
	"github.com/argus-obs/argus/pkg/stream"
)

const chatEstimate = 4000

// ErrChatBusy is returned when a connection submits a message while its
// previous one is still being answered.
var ErrChatBusy = errors.New("a response is already in progress")

// ErrChatBudget is returned when the normal-priority budget cannot cover
// another chat turn.
var ErrChatBudget = errors.New("token budget exhausted, try again later")

// chatSession holds the per-connection conversation state. Memory carries
// context across turns; the DB row is the durable transcript.
type chatSession struct {
	conversationID string
	memory         *agent.Memory

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while a turn is running
}

func (s *chatSession) cancelRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// beginTurn registers a cancel for the in-flight turn. Returns false when
// one is already running.
func (s *chatSession) beginTurn(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	s.cancel = cancel
	return true
}

func (s *chatSession) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
}

// SubmitChat answers one user message asynchronously, streaming deltas on
// the conversation's investigation channel. Implements stream.ChatRunner.
func (p *Pool) SubmitChat(ctx context.Context, connectionID, content string) error {
	if !p.budget.CanSpend(chatEstimate, budget.PriorityNormal) {
		return ErrChatBudget
	}

	p.mu.Lock()
	session, ok := p.sessions[connectionID]
	if !ok {
		session = &chatSession{
			conversationID: uuid.NewString(),
			memory:         agent.NewMemory(),
		}
		p.sessions[connectionID] = session
	}
	p.mu.Unlock()

	if !ok {
		title := content
		if len(title) > 80 {
			title = title[:80]
		}
		if err := p.store.CreateConversation(ctx, p.tenant, session.conversationID, title); err != nil {
			p.logger.Warn("failed to persist conversation",
				"conversation_id", session.conversationID, "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if !session.beginTurn(cancel) {
		cancel()
		return ErrChatBusy
	}

	if err := p.store.AppendMessage(ctx, p.tenant, session.conversationID, "user", content); err != nil {
		p.logger.Warn("failed to persist chat message",
			"conversation_id", session.conversationID, "error", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer session.endTurn()
		p.runChatTurn(runCtx, session, content)
	}()
	return nil
}

// CancelChat cancels the connection's in-flight turn and drops its
// session. The transcript stays in the conversations table. Implements
// stream.ChatRunner.
func (p *Pool) CancelChat(connectionID string) {
	p.mu.Lock()
	session, ok := p.sessions[connectionID]
	delete(p.sessions, connectionID)
	p.mu.Unlock()
	if ok {
		session.cancelRun()
	}
}

func (p *Pool) runChatTurn(ctx context.Context, session *chatSession, content string) {
	id := session.conversationID
	channel := stream.InvestigationChannel(id)

	callbacks := agent.Callbacks{
		OnThinkingStart: func() { _ = p.publisher.PublishThinking(ctx, id, true) },
		OnThinkingEnd:   func() { _ = p.publisher.PublishThinking(ctx, id, false) },
		OnAssistantDelta: func(text string) {
			_ = p.publisher.PublishAssistantDelta(ctx, stream.AssistantDeltaPayload{
				InvestigationID: id,
				Content:         text,
			})
		},
		OnToolCall: func(callID, name string, args map[string]any) {
			_ = p.publisher.PublishToolCall(ctx, channel, stream.ToolCallPayload{
				ID: callID, Name: name, Arguments: args,
			})
		},
		OnToolResult: func(callID, name, result string) {
			_ = p.publisher.PublishToolResult(ctx, channel, stream.ToolResultPayload{
				ID: callID, Name: name, Result: result,
			})
		},
	}

	systemPrompt := p.prompts.BuildSystemPrompt(agent.ClientChat, p.alertsText(), p.baselineText())
	runner := agent.NewRunner(p.provider, p.tools, session.memory, p.budget, callbacks, "chat", p.logger)

	result, err := runner.Run(ctx, systemPrompt, content)
	if err != nil {
		p.logger.Warn("chat turn failed", "conversation_id", id, "error", err)
		return
	}

	endCtx := context.WithoutCancel(ctx)
	if err := p.store.AppendMessage(endCtx, p.tenant, id, "assistant", result.Content); err != nil {
		p.logger.Warn("failed to persist assistant message", "conversation_id", id, "error", err)
	}
	if err := p.publisher.PublishInvestigationEnd(endCtx, stream.InvestigationEndPayload{
		InvestigationID: id,
		Summary:         result.Content,
		TokensUsed:      result.PromptTokens + result.CompletionTokens,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		p.logger.Warn("failed to broadcast chat completion", "conversation_id", id, "error", err)
	}
}

var _ stream.ChatRunner = (*Pool)(nil)
