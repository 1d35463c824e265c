// Package api serves the HTTP surface: health, SDK telemetry ingest, the
// operational REST API under /api/v1, and the WebSocket event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-obs/argus/pkg/alerting"
	"github.com/argus-obs/argus/pkg/budget"
	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/database"
	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/investigator"
	"github.com/argus-obs/argus/pkg/scheduler"
	"github.com/argus-obs/argus/pkg/storage"
	"github.com/argus-obs/argus/pkg/stream"
)

// AlertEngine is the slice of the alert engine the REST handlers drive.
type AlertEngine interface {
	ActiveAlerts(includeResolved bool) []alerting.ActiveAlert
	Rules() []alerting.Rule
	MutedRules() map[string]time.Time
	Acknowledge(ctx context.Context, alertID, by string, expiresAt *time.Time) bool
	Unacknowledge(ctx context.Context, alertID string) bool
	Resolve(ctx context.Context, alertID string) bool
	Mute(ctx context.Context, ruleID, by string, until time.Time) bool
	Unmute(ctx context.Context, ruleID string) bool
}

// Investigator admits manual investigations and reports pool health.
type Investigator interface {
	Enqueue(ctx context.Context, e events.Event, alertID string) investigator.EnqueueStatus
	Snapshot() investigator.Snapshot
}

// OperationalStore is the slice of the operational repo the API reads.
type OperationalStore interface {
	ListInvestigations(ctx context.Context, tenant string, limit int) ([]storage.Investigation, error)
	GetInvestigation(ctx context.Context, tenant, id string) (storage.Investigation, error)
	ListAudit(ctx context.Context, tenant string, limit int) ([]storage.AuditEntry, error)
	TenantForIngestKey(ctx context.Context, key string) (string, error)
}

// IngestStore receives routed SDK telemetry writes.
type IngestStore interface {
	InsertSDKEvent(ctx context.Context, tenant string, e storage.SDKEvent) error
	InsertSpan(ctx context.Context, tenant string, s storage.Span) error
	InsertSDKMetric(ctx context.Context, tenant string, m storage.SDKMetricRow) error
	InsertDependencyCall(ctx context.Context, tenant string, d storage.DependencyCall) error
	InsertDeployEvent(ctx context.Context, tenant string, d storage.DeployEvent) error
	LastDeployVersion(ctx context.Context, tenant, service string) (string, error)
}

// TelemetryReader backs the read-side service metrics endpoints.
type TelemetryReader interface {
	QueryServiceSummary(ctx context.Context, tenant string, from, to time.Time) ([]storage.ServiceSummary, error)
	QueryFunctionMetrics(ctx context.Context, tenant, service string, from, to time.Time, bucket time.Duration) ([]storage.FunctionMetricsBucket, error)
	QueryRequestMetrics(ctx context.Context, tenant, service string, from, to time.Time, bucket time.Duration) ([]storage.RequestMetricsBucket, error)
	QueryTraceSummary(ctx context.Context, tenant, service string, from, to time.Time, limit int) ([]storage.TraceSummary, error)
	QueryTrace(ctx context.Context, tenant, traceID string) ([]storage.Span, error)
	QueryErrorGroups(ctx context.Context, tenant, service string, from, to time.Time, limit int) ([]storage.ErrorGroup, error)
	QueryDependencySummary(ctx context.Context, tenant, service string, from, to time.Time) ([]storage.DependencySummary, error)
	QueryDeployHistory(ctx context.Context, tenant, service string, limit int) ([]storage.DeployEvent, error)
}

// ActionResponder resolves pending action approvals.
type ActionResponder interface {
	HandleResponse(actionID string, approved bool, user string) bool
}

// BudgetSource reports the current token budget state.
type BudgetSource interface {
	Snapshot() budget.Snapshot
}

// SchedulerSource reports per-task run statistics.
type SchedulerSource interface {
	Snapshot() []scheduler.TaskStats
}

// Deps carries the server's collaborators. Nil fields degrade the related
// endpoints instead of panicking (tests and sdk_only deployments).
type Deps struct {
	DBClient    *database.Client
	Engine      AlertEngine
	Invest      Investigator
	Ops         OperationalStore
	Ingest      IngestStore
	Telemetry   TelemetryReader
	Bus         *events.Bus
	Budget      BudgetSource
	Scheduler   SchedulerSource
	Actions     ActionResponder
	ConnManager *stream.ConnectionManager

	// CollectorHealth reports per-collector liveness for system status.
	CollectorHealth func() map[string]any
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.Config
	deps       Deps
	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		echo:   echo.New(),
		logger: logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.POST("/ingest", s.ingestHandler)
	e.GET("/ws", s.wsHandler)

	g := e.Group("/api/v1")
	g.GET("/alerts", s.listAlertsHandler)
	g.POST("/alerts/:id/acknowledge", s.acknowledgeAlertHandler)
	g.POST("/alerts/:id/unacknowledge", s.unacknowledgeAlertHandler)
	g.POST("/alerts/:id/resolve", s.resolveAlertHandler)
	g.GET("/rules", s.listRulesHandler)
	g.POST("/rules/:id/mute", s.muteRuleHandler)
	g.POST("/rules/:id/unmute", s.unmuteRuleHandler)

	g.GET("/investigations", s.listInvestigationsHandler)
	g.GET("/investigations/:id", s.getInvestigationHandler)
	g.POST("/investigations", s.createInvestigationHandler)

	g.GET("/audit", s.listAuditHandler)
	g.GET("/system/status", s.systemStatusHandler)
	g.GET("/version", s.versionHandler)
	g.POST("/actions/:id/response", s.actionResponseHandler)

	g.GET("/services", s.listServicesHandler)
	g.GET("/services/:service/functions", s.functionMetricsHandler)
	g.GET("/services/:service/requests", s.requestMetricsHandler)
	g.GET("/services/:service/traces", s.listTracesHandler)
	g.GET("/services/:service/errors", s.errorGroupsHandler)
	g.GET("/services/:service/dependencies", s.dependencySummaryHandler)
	g.GET("/services/:service/deploys", s.deployHistoryHandler)
	g.GET("/traces/:id", s.getTraceHandler)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP exposes the router for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) tenant() string {
	if s.cfg.Tenant != "" {
		return s.cfg.Tenant
	}
	return "default"
}
