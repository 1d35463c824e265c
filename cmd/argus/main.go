// Argus agent server — runs the host/SDK collectors, the event pipeline and
// alert engine, the AI investigator, and the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/argus-obs/argus/pkg/actions"
	"github.com/argus-obs/argus/pkg/agent"
	"github.com/argus-obs/argus/pkg/alerting"
	"github.com/argus-obs/argus/pkg/api"
	"github.com/argus-obs/argus/pkg/baseline"
	"github.com/argus-obs/argus/pkg/budget"
	"github.com/argus-obs/argus/pkg/collectors"
	"github.com/argus-obs/argus/pkg/config"
	"github.com/argus-obs/argus/pkg/database"
	"github.com/argus-obs/argus/pkg/events"
	"github.com/argus-obs/argus/pkg/investigator"
	"github.com/argus-obs/argus/pkg/llm"
	"github.com/argus-obs/argus/pkg/masking"
	"github.com/argus-obs/argus/pkg/scheduler"
	"github.com/argus-obs/argus/pkg/sdkhook"
	"github.com/argus-obs/argus/pkg/storage"
	"github.com/argus-obs/argus/pkg/stream"
	"github.com/argus-obs/argus/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging replaces the default slog handler per the logging config.
// A configured file gets rotation via lumberjack alongside stderr.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}

// thresholdRules converts configured threshold overrides into classifier rules.
func thresholdRules(overrides []config.ThresholdRuleConfig) []events.ThresholdRule {
	if len(overrides) == 0 {
		return nil
	}
	rules := make([]events.ThresholdRule, 0, len(overrides))
	for _, o := range overrides {
		rules = append(rules, events.ThresholdRule{
			Metric:    o.Metric,
			NotableAt: o.NotableAt,
			UrgentAt:  o.UrgentAt,
			Type:      events.Type(o.Type),
			Template:  o.MessageTemplate,
		})
	}
	return rules
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	logger := slog.Default()

	secretKey, err := config.EnsureSecretKey(cfg)
	if err != nil {
		slog.Error("Failed to ensure secret key", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Argus",
		"mode", cfg.Mode,
		"tenant", cfg.Tenant,
		"config_dir", *configDir)

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.New(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	opsRepo := storage.NewOperationalRepo(dbClient)
	tsRepo := storage.NewTimeseriesRepo(dbClient)

	// 3. One-time startup orphan cleanup
	if n, err := opsRepo.FailOrphanedInvestigations(ctx); err != nil {
		slog.Error("Failed to fail orphaned investigations", "error", err)
		// Non-fatal — continue
	} else if n > 0 {
		slog.Info("Failed orphaned investigations from previous run", "count", n)
	}

	// 4. Event pipeline
	ringSize := cfg.Bus.RingSize
	if ringSize <= 0 {
		ringSize = events.DefaultRingSize
	}
	bus := events.NewBus(ringSize)
	defer bus.Close()
	classifier := events.NewClassifier(thresholdRules(cfg.Thresholds))

	// 5. Baselines, budget, masking
	tracker := baseline.NewTracker(tsRepo, cfg.Tenant, logger)
	if err := tracker.Load(ctx); err != nil {
		slog.Warn("Baseline load failed, anomaly detection starts cold", "error", err)
	}
	detector := baseline.NewDetector(tracker)

	tokenBudget := budget.New(cfg.AIBudget, cfg.Tenant, logger, budget.WithRecorder(opsRepo))
	masker := masking.New(cfg.Masking)

	// 6. LLM provider (optional — the agent runs degraded without one)
	var provider llm.Provider
	if cfg.LLMEnabled() {
		provider, err = llm.New(cfg.LLM)
		if err != nil {
			slog.Error("Failed to initialize LLM provider", "error", err)
			os.Exit(1)
		}
		slog.Info("LLM provider initialized", "provider", provider.Name(), "model", cfg.LLM.Model)
	} else {
		slog.Warn("No LLM API key configured — investigations, triage, and chat disabled")
	}

	// 7. Streaming infrastructure
	publisher := stream.NewPublisher(dbClient.DB(), cfg.Tenant)
	connManager := stream.NewConnectionManager(opsRepo, 10*time.Second)

	notifyListener := stream.NewNotifyListener(dbClient.ConnString(), connManager)
	if err := notifyListener.Start(ctx); err != nil {
		slog.Error("Failed to start notify listener", "error", err)
		os.Exit(1)
	}
	defer notifyListener.Stop(ctx)
	connManager.SetListener(notifyListener)
	slog.Info("Streaming infrastructure initialized")

	// 8. External alert delivery
	channels := alerting.BuildChannels(cfg.Alerting, logger)
	var formatterOpts []alerting.FormatterOption
	if min := events.Severity(strings.ToUpper(cfg.Alerting.MinExternalSeverity)); min != "" {
		formatterOpts = append(formatterOpts, alerting.WithMinExternalSeverity(min))
	}
	if cfg.Alerting.AIEnhance && provider != nil {
		formatterOpts = append(formatterOpts, alerting.WithTriage(provider, tokenBudget))
	}
	formatter := alerting.NewFormatter(channels, cfg.Alerting.BatchEvery(), logger, formatterOpts...)
	formatter.Start()

	// 9. Action engine
	sandbox := actions.NewSandbox(cfg.Collector.HostRoot, logger)
	actionEngine := actions.NewEngine(sandbox, opsRepo, publisher, masker, cfg.Tenant,
		cfg.Security.ApprovalWindow(), logger)
	connManager.SetActionResponder(actionEngine)

	// 10. Collectors per mode (constructed now, started after the pipeline
	// is wired so no event outruns its consumers)
	var cs []collectors.Collector
	var sysMetrics *collectors.SystemMetrics
	cs = append(cs, collectors.NewSDKAnalyzer(bus, tsRepo, tracker, cfg.Tenant,
		cfg.Collector.SDKEvery(), logger))
	if !cfg.SDKOnly() {
		sysMetrics = collectors.NewSystemMetrics(bus, classifier, tsRepo, detector,
			cfg.Tenant, cfg.Collector.HostRoot, cfg.Collector.MetricsEvery(), logger)
		cs = append(cs,
			sysMetrics,
			collectors.NewProcessMonitor(bus, cfg.Tenant, cfg.Collector.ProcessEvery(), logger),
			collectors.NewLogWatcher(bus, tsRepo, masker, cfg.Collector.LogPaths, cfg.Tenant, logger),
			collectors.NewSecurityScanner(bus, cfg.Tenant, cfg.Collector.HostRoot,
				cfg.Collector.SecurityEvery(), logger),
		)
	}

	// Alert engine. The engine's investigator and the pool's alert-text
	// source reference each other, so the investigate hook is late-bound.
	var pool *investigator.Pool
	engineOpts := []alerting.EngineOption{
		alerting.WithBroadcaster(publisher),
		alerting.WithSink(formatter),
	}
	if provider != nil {
		engineOpts = append(engineOpts,
			alerting.WithInvestigator(func(ctx context.Context, e events.Event, alertID string) error {
				return pool.Investigate(ctx, e, alertID)
			}))
	}
	alertEngine := alerting.NewEngine(opsRepo, cfg.Tenant, logger, engineOpts...)

	// 11. Investigator pool (needs the provider)
	if provider != nil {
		registry := tools.NewRegistry(masker, logger)
		var snapshot tools.SnapshotFunc
		if sysMetrics != nil {
			snapshot = sysMetrics.Snapshot
		}
		registerTools(registry, cfg, secretKey, tsRepo, alertEngine, actionEngine, snapshot)

		pool = investigator.NewPool(provider, registry, tokenBudget, opsRepo, publisher,
			agent.NewPromptBuilder(cfg.Mode), cfg.Tenant, logger,
			investigator.WithWorkers(cfg.Investigator.Workers),
			investigator.WithQueueSize(cfg.Investigator.QueueSize),
			investigator.WithReportSink(formatter),
			investigator.WithActiveAlerts(activeAlertsText(alertEngine)),
			investigator.WithBaseline(tracker.FormatForPrompt),
		)
		pool.Start()
		connManager.SetChatRunner(pool)
	}

	// Start consuming events only after the investigate hook's target exists.
	if err := alertEngine.Start(ctx, bus); err != nil {
		slog.Error("Failed to start alert engine", "error", err)
		os.Exit(1)
	}

	// 12. Scheduler
	sched := scheduler.New(logger)
	sched.Register("baseline_refresh", 6*time.Hour, func(ctx context.Context) {
		if err := tracker.Refresh(ctx); err != nil {
			slog.Error("Baseline refresh failed", "error", err)
		}
	})
	if pool != nil {
		sched.Register("periodic_review", cfg.AIBudget.ReviewEvery(), pool.RunPeriodicReview)
		sched.Register("daily_digest", cfg.AIBudget.DigestEvery(), pool.RunDailyDigest)
	}
	sched.Register("stream_retention", time.Hour, func(ctx context.Context) {
		if _, err := opsRepo.DeleteOldStreamEvents(ctx, time.Now().Add(-24*time.Hour)); err != nil {
			slog.Error("Stream event retention sweep failed", "error", err)
		}
	})
	sched.Register("suppression_sweep", time.Hour, func(ctx context.Context) {
		if err := opsRepo.DeactivateExpiredSuppressions(ctx, time.Now()); err != nil {
			slog.Error("Suppression sweep failed", "error", err)
		}
	})
	sched.Start()

	// 13. Start collectors last so every consumer is already subscribed
	stopCollectors := collectors.StartAll(ctx, logger, cs...)

	// 14. HTTP server
	deps := api.Deps{
		DBClient:    dbClient,
		Engine:      alertEngine,
		Ops:         opsRepo,
		Ingest:      tsRepo,
		Telemetry:   tsRepo,
		Bus:         bus,
		Budget:      tokenBudget,
		Scheduler:   sched,
		Actions:     actionEngine,
		ConnManager: connManager,
		CollectorHealth: func() map[string]any {
			health := make(map[string]any, len(cs))
			for _, c := range cs {
				health[c.Name()] = "running"
			}
			return health
		},
	}
	if pool != nil {
		deps.Invest = pool
	}
	httpServer := api.NewServer(*cfg, deps, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Argus started successfully",
		"mode", cfg.Mode,
		"collectors", len(cs),
		"llm_enabled", provider != nil)

	// 15. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 16. Graceful shutdown: producers first, then consumers, then the API.
	stopCollectors()
	sched.Stop()

	if pool != nil {
		done := make(chan struct{})
		go func() {
			pool.Stop()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("Investigator pool stopped gracefully")
		case <-time.After(30 * time.Second):
			slog.Warn("Investigator shutdown timeout exceeded — orphans recovered on next start")
		}
	}

	formatter.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// activeAlertsText formats the current alert set for the system prompt.
func activeAlertsText(engine *alerting.Engine) func() string {
	return func() string {
		alerts := engine.ActiveAlerts(false)
		if len(alerts) == 0 {
			return ""
		}
		var b strings.Builder
		for _, a := range alerts {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", a.Severity, a.RuleName, a.Event.Message)
		}
		return b.String()
	}
}

// registerTools wires every investigation tool the deployment supports.
func registerTools(registry *tools.Registry, cfg *config.Config, secretKey string,
	tsRepo *storage.TimeseriesRepo, alertEngine *alerting.Engine,
	actionEngine *actions.Engine, snapshot tools.SnapshotFunc) {

	register := func(t tools.Tool) {
		if err := registry.Register(t); err != nil {
			slog.Error("Tool registration failed", "tool", t.Name, "error", err)
		}
	}

	register(tools.NewGetMetricsTool(tsRepo, cfg.Tenant, snapshot))
	register(tools.NewSearchLogsTool(tsRepo, cfg.Tenant))
	register(tools.NewGetServiceMetricsTool(tsRepo, cfg.Tenant))
	register(tools.NewGetErrorGroupsTool(tsRepo, cfg.Tenant))
	register(tools.NewGetDeployHistoryTool(tsRepo, cfg.Tenant))
	register(tools.NewGetActiveAlertsTool(func(ctx context.Context) (any, error) {
		return alertEngine.ActiveAlerts(false), nil
	}))
	register(tools.NewRunCommandTool(actionEngine))

	if !cfg.SDKOnly() {
		register(tools.NewGetProcessesTool(tools.ListProcesses))
	}
	if len(cfg.Collector.RemoteHosts) > 0 {
		runners := make(map[string]tools.RemoteRunner, len(cfg.Collector.RemoteHosts))
		for host, baseURL := range cfg.Collector.RemoteHosts {
			runners[host] = sdkhook.NewClient(baseURL, []byte(secretKey))
		}
		register(tools.NewRunRemoteCommandTool(runners))
	}
}
