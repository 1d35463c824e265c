// Package investigator runs autonomous AI investigations: a bounded queue
// of urgent events consumed by a fixed worker pool, plus the scheduled
// review/digest runs and interactive chat sessions that share the same
// agent loop.
package investigator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-obs/argus/pkg/agent"
	"github.com/argus-obs/argus/pkg/budget"
	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/llm"
	"github.com/argus-obs/argus/pkg/storage"
	"github.com/argus-obs/argus/pkg/stream"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 20

	// estimatedTokens is the admission estimate for one investigation.
	estimatedTokens = 4000
	reviewEstimate  = 3000
	digestEstimate  = 5000
)

// EnqueueStatus is the outcome of an enqueue attempt.
type EnqueueStatus string

const (
	Queued           EnqueueStatus = "queued"
	DroppedBudget    EnqueueStatus = "dropped_budget"
	DroppedQueueFull EnqueueStatus = "dropped_queue_full"
)

// Request carries the context needed to run one investigation.
type Request struct {
	ID      string
	Event   events.Event
	AlertID string
}

// Store is the slice of the operational repo the pool persists through.
type Store interface {
	CreateInvestigation(ctx context.Context, inv storage.Investigation) error
	TransitionInvestigation(ctx context.Context, tenant, id, status string) error
	CompleteInvestigation(ctx context.Context, tenant, id, status, summary string, tokensUsed, rounds int) error
	CreateConversation(ctx context.Context, tenant, id, title string) error
	AppendMessage(ctx context.Context, tenant, conversationID, role, content string) error
}

// Publisher is the slice of the stream publisher the pool broadcasts through.
type Publisher interface {
	PublishInvestigationStart(ctx context.Context, payload stream.InvestigationStartPayload) error
	PublishInvestigationEnd(ctx context.Context, payload stream.InvestigationEndPayload) error
	PublishInvestigationUpdate(ctx context.Context, payload stream.InvestigationUpdatePayload) error
	PublishThinking(ctx context.Context, investigationID string, start bool) error
	PublishAssistantDelta(ctx context.Context, payload stream.AssistantDeltaPayload) error
	PublishToolCall(ctx context.Context, channel string, payload stream.ToolCallPayload) error
	PublishToolResult(ctx context.Context, channel string, payload stream.ToolResultPayload) error
}

// Budget gates admission and records per-round spend.
type Budget interface {
	CanSpend(tokens int, priority budget.Priority) bool
	RecordUsage(promptTokens, completionTokens int, usageContext string)
}

// ReportSink forwards completed investigation summaries to external
// channels. Implemented by alerting.Formatter.
type ReportSink interface {
	SendInvestigationReport(ctx context.Context, e events.Event, summary string)
}

// Snapshot is a point-in-time view of pool health.
type Snapshot struct {
	Workers    int `json:"workers"`
	QueueDepth int `json:"queue_depth"`
	QueueMax   int `json:"queue_max"`
	Running    int `json:"running"`
}

// Pool dispatches investigations to a fixed set of workers over a bounded
// queue. Admission is budget-gated and non-blocking; a full queue drops
// the request without mutating any state.
type Pool struct {
	provider  llm.Provider
	tools     agent.ToolExecutor
	budget    Budget
	store     Store
	publisher Publisher
	reports   ReportSink
	prompts   *agent.PromptBuilder
	tenant    string
	workers   int
	logger    *slog.Logger

	// activeAlerts and baseline feed the system prompt; both optional.
	activeAlerts func() string
	baseline     func() string

	queue chan Request

	mu       sync.Mutex
	running  int
	cancels  map[string]context.CancelFunc // investigation id -> cancel
	sessions map[string]*chatSession       // connection id -> session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers overrides the worker count.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queue = make(chan Request, n)
		}
	}
}

// WithReportSink wires external delivery of completed summaries.
func WithReportSink(r ReportSink) PoolOption {
	return func(p *Pool) { p.reports = r }
}

// WithActiveAlerts injects the active-alert context for system prompts.
func WithActiveAlerts(fn func() string) PoolOption {
	return func(p *Pool) { p.activeAlerts = fn }
}

// WithBaseline injects the baseline context for system prompts.
func WithBaseline(fn func() string) PoolOption {
	return func(p *Pool) { p.baseline = fn }
}

func NewPool(provider llm.Provider, tools agent.ToolExecutor, b Budget, store Store, publisher Publisher, prompts *agent.PromptBuilder, tenant string, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		provider:  provider,
		tools:     tools,
		budget:    b,
		store:     store,
		publisher: publisher,
		prompts:   prompts,
		tenant:    tenant,
		workers:   defaultWorkers,
		logger:    logger.With("component", "investigator"),
		queue:     make(chan Request, defaultQueueSize),
		cancels:   map[string]context.CancelFunc{},
		sessions:  map[string]*chatSession{},
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker pool.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("investigator started", "workers", p.workers, "queue_max", cap(p.queue))
}

// Stop cancels in-flight runs and waits for the workers to exit. Queued
// requests are abandoned; orphan rows are failed on the next startup.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	for _, s := range p.sessions {
		s.cancelRun()
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("investigator stopped")
}

// Snapshot reports pool health for /system/status.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Workers:    p.workers,
		QueueDepth: len(p.queue),
		QueueMax:   cap(p.queue),
		Running:    p.running,
	}
}

// Enqueue admits one investigation: budget first, then a non-blocking send
// to the bounded queue. A QUEUED outcome also persists the investigation
// row; a dropped request mutates nothing.
func (p *Pool) Enqueue(ctx context.Context, e events.Event, alertID string) EnqueueStatus {
	if !p.budget.CanSpend(estimatedTokens, budget.PriorityUrgent) {
		p.logger.Warn("budget exceeded, dropping investigation", "event_type", e.Type)
		return DroppedBudget
	}

	req := Request{ID: uuid.NewString(), Event: e, AlertID: alertID}
	select {
	case p.queue <- req:
	default:
		p.logger.Warn("investigation queue full, dropping request",
			"queue_max", cap(p.queue), "event_type", e.Type)
		return DroppedQueueFull
	}

	inv := storage.Investigation{
		ID:          req.ID,
		Tenant:      p.tenant,
		Trigger:     e.Message,
		EventType:   string(e.Type),
		EventSource: string(e.Source),
		Prompt:      p.prompts.BuildInvestigationPrompt(e),
		Status:      storage.InvestigationQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if inv.Trigger == "" {
		inv.Trigger = string(e.Type)
	}
	if err := p.store.CreateInvestigation(ctx, inv); err != nil {
		p.logger.Error("failed to persist queued investigation", "id", req.ID, "error", err)
	}
	p.logger.Info("investigation enqueued",
		"id", req.ID, "event_type", e.Type, "queue_depth", len(p.queue))
	return Queued
}

// Investigate adapts Enqueue to the alert engine's callback signature.
func (p *Pool) Investigate(ctx context.Context, e events.Event, alertID string) error {
	if status := p.Enqueue(ctx, e, alertID); status != Queued {
		return fmt.Errorf("investigation not queued: %s", status)
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("investigation worker started", "worker", id)
	for {
		select {
		case <-p.stopCh:
			return
		case req := <-p.queue:
			p.runInvestigation(req)
		}
	}
}

func (p *Pool) runInvestigation(req Request) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancels[req.ID] = cancel
	p.running++
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.cancels, req.ID)
		p.running--
		p.mu.Unlock()
	}()

	e := req.Event

	// Authoritative budget check at dequeue time: the queue may have been
	// filled while the window drained.
	if !p.budget.CanSpend(estimatedTokens, budget.PriorityUrgent) {
		p.logger.Warn("budget exceeded at dequeue, dropping investigation",
			"id", req.ID, "event_type", e.Type)
		p.complete(req.ID, storage.InvestigationDropped, "", 0, 0)
		return
	}

	if err := p.store.TransitionInvestigation(ctx, p.tenant, req.ID, storage.InvestigationRunning); err != nil {
		p.logger.Warn("failed to mark investigation running", "id", req.ID, "error", err)
	}

	trigger := e.Message
	if trigger == "" {
		trigger = string(e.Type)
	}
	if err := p.publisher.PublishInvestigationStart(ctx, stream.InvestigationStartPayload{
		InvestigationID: req.ID,
		Trigger:         trigger,
		Severity:        string(e.Severity),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		p.logger.Warn("failed to broadcast investigation start", "id", req.ID, "error", err)
	}

	systemPrompt := p.prompts.BuildSystemPrompt(agent.ClientInvestigator, p.alertsText(), p.baselineText())
	task := p.prompts.BuildInvestigationPrompt(e)

	result, runErr := p.runAgent(ctx, req.ID, systemPrompt, task, "investigation")

	summary := "Investigation failed"
	tokens, rounds := 0, 0
	status := storage.InvestigationFailed
	if runErr == nil {
		summary = result.Content
		tokens = result.PromptTokens + result.CompletionTokens
		rounds = result.Rounds
		status = storage.InvestigationCompleted
	} else {
		p.logger.Error("investigation failed", "id", req.ID, "event_type", e.Type, "error", runErr)
	}

	// Terminal broadcast and persistence run even when the run context was
	// cancelled mid-flight.
	endCtx := context.WithoutCancel(ctx)
	if err := p.publisher.PublishInvestigationEnd(endCtx, stream.InvestigationEndPayload{
		InvestigationID: req.ID,
		Summary:         summary,
		TokensUsed:      tokens,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		p.logger.Warn("failed to broadcast investigation end", "id", req.ID, "error", err)
	}
	p.complete(req.ID, status, summary, tokens, rounds)

	if p.reports != nil && runErr == nil && summary != "" {
		p.reports.SendInvestigationReport(endCtx, e, summary)
	}
	p.logger.Info("investigation finished", "id", req.ID, "status", status, "rounds", rounds)
}

// runAgent wires one Runner with streaming callbacks for the given
// investigation id and executes it.
func (p *Pool) runAgent(ctx context.Context, id, systemPrompt, task, usageContext string) (*agent.Result, error) {
	channel := stream.InvestigationChannel(id)
	var narration strings.Builder

	callbacks := agent.Callbacks{
		OnThinkingStart: func() {
			_ = p.publisher.PublishThinking(ctx, id, true)
		},
		OnThinkingEnd: func() {
			_ = p.publisher.PublishThinking(ctx, id, false)
		},
		OnAssistantDelta: func(text string) {
			narration.WriteString(text)
			_ = p.publisher.PublishAssistantDelta(ctx, stream.AssistantDeltaPayload{
				InvestigationID: id,
				Content:         text,
			})
			_ = p.publisher.PublishInvestigationUpdate(ctx, stream.InvestigationUpdatePayload{
				InvestigationID: id,
				Content:         narration.String(),
			})
		},
		OnToolCall: func(callID, name string, args map[string]any) {
			_ = p.publisher.PublishToolCall(ctx, channel, stream.ToolCallPayload{
				ID:        callID,
				Name:      name,
				Arguments: args,
			})
		},
		OnToolResult: func(callID, name, result string) {
			_ = p.publisher.PublishToolResult(ctx, channel, stream.ToolResultPayload{
				ID:     callID,
				Name:   name,
				Result: result,
			})
		},
	}

	runner := agent.NewRunner(p.provider, p.tools, agent.NewMemory(), p.budget, callbacks, usageContext, p.logger)
	return runner.Run(ctx, systemPrompt, task)
}

func (p *Pool) complete(id, status, summary string, tokens, rounds int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.CompleteInvestigation(ctx, p.tenant, id, status, summary, tokens, rounds); err != nil {
		p.logger.Error("failed to persist investigation outcome", "id", id, "error", err)
	}
}

// RunPeriodicReview runs the scheduled health review. Skipped when the
// normal-priority budget cannot cover it.
func (p *Pool) RunPeriodicReview(ctx context.Context) {
	p.runScheduled(ctx, "periodic_review", agent.ClientReview, p.prompts.BuildReviewPrompt(), reviewEstimate)
}

// RunDailyDigest runs the scheduled daily report. Skipped when the
// normal-priority budget cannot cover it.
func (p *Pool) RunDailyDigest(ctx context.Context) {
	p.runScheduled(ctx, "daily_digest", agent.ClientDigest, p.prompts.BuildDigestPrompt(), digestEstimate)
}

func (p *Pool) runScheduled(ctx context.Context, kind string, client agent.ClientType, task string, estimate int) {
	if !p.budget.CanSpend(estimate, budget.PriorityNormal) {
		p.logger.Info("budget insufficient, skipping scheduled run", "kind", kind)
		return
	}

	id := uuid.NewString()
	inv := storage.Investigation{
		ID:        id,
		Tenant:    p.tenant,
		Trigger:   kind,
		Prompt:    task,
		Status:    storage.InvestigationRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.CreateInvestigation(ctx, inv); err != nil {
		p.logger.Warn("failed to persist scheduled run", "kind", kind, "error", err)
	}

	systemPrompt := p.prompts.BuildSystemPrompt(client, p.alertsText(), p.baselineText())
	result, err := p.runAgent(ctx, id, systemPrompt, task, kind)
	if err != nil {
		p.logger.Error("scheduled run failed", "kind", kind, "error", err)
		p.complete(id, storage.InvestigationFailed, "", 0, 0)
		return
	}

	if result.Content != "" {
		if perr := p.publisher.PublishInvestigationEnd(ctx, stream.InvestigationEndPayload{
			InvestigationID: id,
			Summary:         result.Content,
			TokensUsed:      result.PromptTokens + result.CompletionTokens,
			Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		}); perr != nil {
			p.logger.Warn("failed to broadcast scheduled summary", "kind", kind, "error", perr)
		}
	}
	p.complete(id, storage.InvestigationCompleted, result.Content,
		result.PromptTokens+result.CompletionTokens, result.Rounds)
}

func (p *Pool) alertsText() string {
	if p.activeAlerts == nil {
		return ""
	}
	return p.activeAlerts()
}

func (p *Pool) baselineText() string {
	if p.baseline == nil {
		return ""
	}
	return p.baseline()
}
