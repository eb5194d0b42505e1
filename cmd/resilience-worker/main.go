// Package main is the entry point for the RelayPoint resilience worker.
//
// It loads configuration, opens the pgx connection pool and AWS clients,
// wires the resilience core (circuit breakers, retry engine, retry queue),
// the channel health monitor, the fallback service, the dead letter queue,
// the tiered health monitor, the recovery manager, and the recovery
// orchestrator, then runs the background loops alongside the chi HTTP
// surface for dead letter review, workflow control, and health snapshots.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"relaypoint/internal/alerts"
	"relaypoint/internal/api"
	"relaypoint/internal/channels"
	"relaypoint/internal/config"
	"relaypoint/internal/dlq"
	"relaypoint/internal/health"
	"relaypoint/internal/metrics"
	"relaypoint/internal/orchestrator"
	"relaypoint/internal/queue"
	"relaypoint/internal/recovery"
	"relaypoint/internal/resilience"
	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slogger := newLogger(cfg.LogLevel)
	logger := types.NewLogger(slogger)
	logger.Info("resilience worker starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool.
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	defer pool.Close()

	// AWS clients. EndpointURL overrides the resolver for LocalStack.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	// Repositories.
	dlqRepo := store.NewDeadLetterRepository(pool)
	workflowRepo := store.NewWorkflowRepository(pool)
	outcomeRepo := store.NewOutcomeRepository(pool)
	healthRepo := store.NewHealthRepository(pool)
	auditRepo := store.NewAuditRepository(pool)

	// Observability sinks.
	alertSink := alerts.NewSQSAlertSink(sqsClient, cfg.AWS.AlertQueue, logger.With("component", "alerts"), nil)
	metricsSink := metrics.NewCloudWatchMetrics(cwClient, logger.With("component", "metrics"))

	// Resilience core.
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.Resilience.BreakerRecoveryTimeout,
		HalfOpenMaxCalls: cfg.Resilience.BreakerHalfOpenCalls,
	}, logger.With("component", "breakers"))

	budget := resilience.NewRetryBudget(cfg.Resilience.BudgetWindow, resilience.DefaultBudgetLimits(), nil)
	engine := resilience.NewEngine(budget, logger.With("component", "retry"))

	// Channel health and fallback.
	channelHealth := channels.NewHealthMonitor(channels.HealthMonitorOptions{
		Outcomes: outcomeRepo,
		Logger:   logger.With("component", "channel-health"),
	})
	fallback := channels.NewFallbackService(channels.FallbackOptions{
		Health:  channelHealth,
		Audit:   auditRepo,
		Alerts:  alertSink,
		Metrics: metricsSink,
		Logger:  logger.With("component", "fallback"),
	})

	// Dead letter queue. Resends go back onto the delivery queue for the
	// delivery workers to execute.
	resender := queue.NewResendPublisher(sqsClient, cfg.AWS.DeliveryQueue, logger.With("component", "resend"), nil)
	deadLetters := dlq.New(dlq.Options{
		Store:      dlqRepo,
		Outcomes:   outcomeRepo,
		Resender:   resender,
		Alerts:     alertSink,
		Logger:     logger.With("component", "dlq"),
		Retention:  cfg.DLQ.Retention,
		BatchDelay: cfg.DLQ.BatchDelay,
		AutoRecovery: map[types.FailureReason]time.Duration{
			types.FailureRateLimitExceeded:  cfg.DLQ.AutoRetryRateLimit,
			types.FailureServiceUnavailable: cfg.DLQ.AutoRetryUnavailable,
			types.FailureNetworkTimeout:     cfg.DLQ.AutoRetryTimeout,
		},
	})

	// Delivery workers dead-letter with full notification context through
	// deadLetters.Add; the scheduler-level hook covers operations queued
	// without one, so exhaustion is never silent.
	onExhausted := func(ctx context.Context, entry resilience.ScheduledRetry, err error) {
		logger.Error("retry exhausted",
			"operation_id", entry.OperationID,
			"attempts", entry.Attempt,
			"error", err.Error(),
		)
		metricsSink.RecordDeadLetter(ctx, types.FailureRetriesExhausted)
	}
	scheduler := resilience.NewScheduler(resilience.SchedulerConfig{
		Tick:       cfg.Resilience.QueueTick,
		MaxPerTick: cfg.Resilience.QueueMaxPerTick,
	}, budget, onExhausted, logger.With("component", "retry-queue"), nil)

	// Tiered health monitoring.
	healthMonitor := health.NewMonitor(health.MonitorOptions{
		Components: monitoredComponents(),
		Probes: health.DefaultProbes(health.ProbeDeps{
			DB:       pool,
			Channels: channelHealth,
			Logger:   logger.With("component", "health-probes"),
		}),
		History: healthRepo,
		Audit:   auditRepo,
		Alerts:  alertSink,
		Metrics: metricsSink,
		Logger:  logger.With("component", "health"),
	})

	// Recovery orchestrator. Service control and data restore are backed by
	// the deployment environment; until those integrations land the stubs
	// fail loudly instead of pretending to succeed.
	orch := orchestrator.New(orchestrator.Options{
		Store:  workflowRepo,
		Engine: engine,
		Deps: orchestrator.HandlerDeps{
			Services: &poolServiceController{pool: pool, logger: logger},
			Caches:   noopCacheInvalidator{logger: logger},
			Health:   &monitorHealthChecker{monitor: healthMonitor},
		},
		DepChecks: map[types.DependencyType]orchestrator.DependencyChecker{
			types.DepServiceHealthy: func(ctx context.Context, target string) error {
				return pool.Ping(ctx)
			},
			types.DepExternalService: func(ctx context.Context, target string) error {
				return nil // verified by the per-step health checks
			},
			types.DepDataAvailable: func(ctx context.Context, target string) error {
				return pool.Ping(ctx)
			},
		},
		Logger: logger.With("component", "orchestrator"),
	})

	// Recovery manager.
	manager := recovery.NewManager(recovery.ManagerConfig{
		Breakers:  breakers,
		Audit:     auditRepo,
		Alerts:    alertSink,
		Metrics:   metricsSink,
		Workflows: orch,
		Logger:    logger.With("component", "recovery"),
		Dependencies: map[string]recovery.DependencyProbe{
			"database": func(ctx context.Context) error {
				return pool.Ping(ctx)
			},
		},
	})

	// Background loops and the HTTP surface run under one errgroup; the
	// first failure or a shutdown signal cancels the rest.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		channelHealth.Run(gctx)
		return nil
	})
	g.Go(func() error {
		healthMonitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		manager.Run(gctx)
		return nil
	})
	opsHandler := api.NewOpsHandler(
		deadLetters,
		fallback,
		orch,
		healthMonitor,
		channelHealth,
		logger.With("component", "api"),
	)
	g.Go(func() error {
		return runHTTPServer(gctx, cfg, opsHandler, slogger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("resilience worker stopped cleanly")
	return nil
}

// newPool opens the pgx connection pool with the configured tuning.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// monitoredComponents is the static component registry for the tiered health
// monitor. Channel components sit in the important tier; the database is
// critical; the DLQ sweep is standard housekeeping.
func monitoredComponents() []health.Component {
	components := []health.Component{
		{
			ID:   "database",
			Name: "PostgreSQL",
			Type: types.ComponentDatabase,
			Tier: types.TierCritical,
			Thresholds: health.Thresholds{
				ResponseTimeWarn:     500 * time.Millisecond,
				ResponseTimeCritical: 2 * time.Second,
				ErrorRate:            10,
			},
		},
	}
	for _, ch := range types.AllChannels {
		components = append(components, health.Component{
			ID:      "channel:" + string(ch),
			Name:    string(ch) + " delivery",
			Type:    types.ComponentChannel,
			Tier:    types.TierImportant,
			Channel: ch,
			Thresholds: health.Thresholds{
				ResponseTimeWarn:     2 * time.Second,
				ResponseTimeCritical: 5 * time.Second,
				ErrorRate:            25,
			},
		})
	}
	return components
}

// runHTTPServer serves the operational API with graceful shutdown tied to ctx.
func runHTTPServer(ctx context.Context, cfg *config.Config, ops *api.OpsHandler, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	ops.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// poolServiceController implements the orchestrator's ServiceController for
// the subset of actions the worker can perform itself. Restart and failover
// belong to the deployment environment and fail loudly until wired.
type poolServiceController struct {
	pool   *pgxpool.Pool
	logger types.Logger
}

func (c *poolServiceController) Restart(_ context.Context, target string) error {
	return fmt.Errorf("service restart for %q requires the deployment integration", target)
}

func (c *poolServiceController) Failover(_ context.Context, target string) error {
	return fmt.Errorf("failover for %q requires the deployment integration", target)
}

func (c *poolServiceController) ResetConnections(_ context.Context, target string) error {
	c.logger.Info("resetting database connections", "target", target)
	c.pool.Reset()
	return nil
}

func (c *poolServiceController) ReloadConfig(_ context.Context, target string) error {
	return fmt.Errorf("config reload for %q requires the deployment integration", target)
}

// monitorHealthChecker adapts the tiered monitor to the orchestrator's
// post-step health verification.
type monitorHealthChecker struct {
	monitor *health.Monitor
}

func (c *monitorHealthChecker) Check(ctx context.Context, target string) error {
	snapshot := c.monitor.SystemHealth(ctx)
	if target != "" {
		if comp, ok := snapshot.Components[target]; ok {
			if comp.Status == types.HealthCritical {
				return fmt.Errorf("component %s is critical", target)
			}
			return nil
		}
	}
	if snapshot.Overall == types.HealthCritical {
		return fmt.Errorf("system health is critical")
	}
	return nil
}

// noopCacheInvalidator acknowledges cache invalidation steps. The worker has
// no process-local caches yet; the step stays in the templates so workflows
// keep their shape when a cache layer arrives.
type noopCacheInvalidator struct {
	logger types.Logger
}

func (c noopCacheInvalidator) Invalidate(_ context.Context, scope string) error {
	c.logger.Info("cache invalidation acknowledged", "scope", scope)
	return nil
}

// Compile-time interface assertions.
var (
	_ orchestrator.ServiceController = (*poolServiceController)(nil)
	_ orchestrator.HealthChecker     = (*monitorHealthChecker)(nil)
	_ orchestrator.CacheInvalidator  = (noopCacheInvalidator{})
)
