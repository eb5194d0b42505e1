package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"relaypoint/internal/resilience"
	"relaypoint/internal/types"
)

// CredentialRefresher re-establishes credentials for a service. Backed by the
// provider integration layer outside this core.
type CredentialRefresher interface {
	Refresh(ctx context.Context, serviceID string) error
}

// WorkflowLauncher starts a named recovery workflow. Implemented by the
// orchestrator; an interface here avoids a package cycle.
type WorkflowLauncher interface {
	Launch(ctx context.Context, templateID string, serviceID string) error
}

// ResourceOptimizer sheds load or frees capacity for a service (cache
// trimming, pool resizing). Best-effort.
type ResourceOptimizer interface {
	Optimize(ctx context.Context, serviceID string) error
}

// DependencyProbe checks one dependency and returns an error when unhealthy.
type DependencyProbe func(ctx context.Context) error

// Metrics is the narrow metrics surface the manager needs.
type Metrics interface {
	RecordRecovery(ctx context.Context, category types.ErrorCategory, succeeded bool)
	RecordAuditWriteFailure(ctx context.Context)
}

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Breakers     *resilience.BreakerRegistry
	Audit        types.AuditAppender
	Alerts       types.AlertSink
	Metrics      Metrics
	Credentials  CredentialRefresher // optional
	Workflows    WorkflowLauncher    // optional
	Optimizer    ResourceOptimizer   // optional
	Logger       types.Logger
	Clock        types.Clock
	PollInterval time.Duration              // dependency health poll cadence; default 30s
	Dependencies map[string]DependencyProbe // serviceID -> probe
}

// Manager composes circuit breaking and failure classification into the
// "execute with protection" surface delivery workers call, and keeps an
// independent health view of its configured dependencies.
type Manager struct {
	breakers    *resilience.BreakerRegistry
	audit       types.AuditAppender
	alerts      types.AlertSink
	metrics     Metrics
	credentials CredentialRefresher
	workflows   WorkflowLauncher
	optimizer   ResourceOptimizer
	logger      types.Logger
	clock       types.Clock

	pollInterval time.Duration
	deps         map[string]DependencyProbe

	health *healthMap
}

// NewManager creates a recovery Manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		breakers:     cfg.Breakers,
		audit:        cfg.Audit,
		alerts:       cfg.Alerts,
		metrics:      cfg.Metrics,
		credentials:  cfg.Credentials,
		workflows:    cfg.Workflows,
		optimizer:    cfg.Optimizer,
		logger:       cfg.Logger,
		clock:        clock,
		pollInterval: interval,
		deps:         cfg.Dependencies,
		health:       newHealthMap(),
	}
}

// ExecuteWithProtection runs op behind serviceID's circuit breaker. When the
// breaker rejects the call (open or saturated half-open) and a fallback is
// supplied, the fallback runs instead of propagating the rejection. Errors
// from op itself propagate after breaker bookkeeping.
func (m *Manager) ExecuteWithProtection(ctx context.Context, serviceID string, op func(ctx context.Context) (any, error), fallback func(ctx context.Context) (any, error)) (any, error) {
	out, err := m.breakers.Execute(ctx, serviceID, op)
	if err == nil {
		return out, nil
	}

	if resilience.IsCircuitOpen(err) {
		m.logger.Warn("circuit open, call rejected",
			"service_id", serviceID,
		)
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, types.NewAppError(types.ErrCodeCircuitOpen,
			"circuit breaker open for "+serviceID, err)
	}

	return nil, err
}

// ClassifyAndRecover classifies err, records a recovery audit event, executes
// the selected strategy's side effects best-effort, and returns the strategy
// for the caller to act on (typically to pick a fallback channel). Strategy
// execution failures trigger the strategy's escalation rules, never silent
// loss.
func (m *Manager) ClassifyAndRecover(ctx context.Context, err error, cctx Context) (Strategy, error) {
	classification := Classify(err, cctx)
	strategy := DetermineStrategy(classification, cctx)

	m.logger.Error("delivery failure classified",
		"service_id", cctx.ServiceID,
		"category", string(classification.Category),
		"severity", string(classification.Severity),
		"retryable", classification.Retryable,
		"strategy", string(strategy.Type),
		"error", err.Error(),
	)

	execErr := m.executeStrategy(ctx, strategy, cctx)
	if execErr != nil {
		m.logger.Warn("recovery strategy execution failed",
			"service_id", cctx.ServiceID,
			"strategy", string(strategy.Type),
			"error", execErr.Error(),
		)
		cond := CondStrategyErrored
		if errors.Is(execErr, context.DeadlineExceeded) {
			cond = CondRecoveryTimedOut
		}
		m.escalate(ctx, strategy, cond, cctx)
	}

	m.metrics.RecordRecovery(ctx, classification.Category, execErr == nil)
	m.appendRecoveryEvent(ctx, cctx, classification, strategy, execErr == nil)

	return strategy, nil
}

// executeStrategy performs the strategy's immediate side effects. Retry-style
// strategies have none here; their retry counts are consumed by the caller
// through the retry engine.
func (m *Manager) executeStrategy(ctx context.Context, s Strategy, cctx Context) error {
	switch s.Type {
	case types.StrategyRetry, types.StrategyBackoffAndRetry:
		return nil
	case types.StrategyRefreshCredentials:
		if m.credentials == nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected,
				"no credential refresher configured", nil)
		}
		return m.credentials.Refresh(ctx, cctx.ServiceID)
	case types.StrategyResourceOptimize:
		if m.optimizer == nil {
			return nil
		}
		return m.optimizer.Optimize(ctx, cctx.ServiceID)
	case types.StrategyDatabaseRecovery:
		if m.workflows == nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected,
				"no workflow launcher configured", nil)
		}
		return m.workflows.Launch(ctx, "database_recovery", cctx.ServiceID)
	default:
		return nil
	}
}

// escalate evaluates the strategy's rules for the given condition and executes
// matching actions.
func (m *Manager) escalate(ctx context.Context, s Strategy, cond EscalationCondition, cctx Context) {
	for _, rule := range s.Escalations {
		if rule.Condition != cond {
			continue
		}
		switch rule.Action {
		case ActionAlertOperations:
			m.alerts.Raise(ctx, types.AlertWarning,
				"recovery escalation for "+cctx.ServiceID,
				map[string]string{
					"service_id": cctx.ServiceID,
					"condition":  string(cond),
					"strategy":   string(s.Type),
				})
		case ActionTriggerWorkflow:
			if m.workflows != nil {
				if err := m.workflows.Launch(ctx, rule.WorkflowTemplate, cctx.ServiceID); err != nil {
					m.logger.Error("escalation workflow launch failed",
						"template", rule.WorkflowTemplate,
						"error", err.Error(),
					)
				}
			}
		case ActionUseFallbackChannel, ActionDeadLetter:
			// Acted on by the caller: the strategy carries the fallback hint
			// and the worker owns dead-lettering.
		}
	}
}

// appendRecoveryEvent writes the audit record. Failures never block the
// caller; they bump the audit-write-failure counter so silent loss stays
// observable.
func (m *Manager) appendRecoveryEvent(ctx context.Context, cctx Context, c Classification, s Strategy, succeeded bool) {
	ev := types.RecoveryEvent{
		ID:        uuid.New().String(),
		ServiceID: cctx.ServiceID,
		Category:  c.Category,
		Strategy:  s.Type,
		Succeeded: succeeded,
		At:        m.clock.Now(),
	}
	if err := m.audit.AppendRecoveryEvent(ctx, ev); err != nil {
		m.logger.Error("failed to append recovery event", "error", err.Error())
		m.metrics.RecordAuditWriteFailure(ctx)
	}
}

// Run polls the configured dependencies on the manager's interval until ctx
// is cancelled. This health view is independent of the system Health Monitor:
// it covers only the channel-adjacent services this manager protects.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) {
	for serviceID, probe := range m.deps {
		start := m.clock.Now()
		err := probe(ctx)
		latency := m.clock.Now().Sub(start)

		status := types.HealthHealthy
		errorRate := 0.0
		details := map[string]string{}
		if err != nil {
			status = types.HealthCritical
			errorRate = 100
			details["error"] = err.Error()
		}

		m.health.set(serviceID, types.ServiceHealth{
			ServiceID: serviceID,
			Status:    status,
			Latency:   latency,
			ErrorRate: errorRate,
			LastCheck: m.clock.Now(),
			Details:   details,
		})
	}
}

// SystemHealth returns the latest snapshot for every polled dependency.
func (m *Manager) SystemHealth() map[string]types.ServiceHealth {
	return m.health.snapshot()
}
