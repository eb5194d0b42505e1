package health

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaypoint/internal/types"
)

// historyLimit bounds the in-memory history kept per component.
const historyLimit = 100

// tierIntervals maps a monitoring tier to its polling cadence.
var tierIntervals = map[types.MonitorTier]time.Duration{
	types.TierCritical:  30 * time.Second,
	types.TierImportant: 60 * time.Second,
	types.TierStandard:  300 * time.Second,
}

// Thresholds trigger alerts when a component's check results breach them.
type Thresholds struct {
	ResponseTimeWarn     time.Duration
	ResponseTimeCritical time.Duration
	ErrorRate            float64 // percent
}

// Component is one monitored unit of the system.
type Component struct {
	ID         string
	Name       string
	Type       types.ComponentType
	Tier       types.MonitorTier
	Channel    types.ChannelType // set for notification_channel components
	Thresholds Thresholds
}

// CheckResult is one named sub-check of a component probe. A failed check
// flagged Critical drives the component's overall status to critical.
type CheckResult struct {
	Name     string
	Passed   bool
	Critical bool
	Details  string
}

// HistoryAppender persists health snapshots. Implemented over Postgres in
// internal/store; the monitor also keeps its own bounded in-memory history.
type HistoryAppender interface {
	AppendHealthSnapshot(ctx context.Context, sh types.ServiceHealth) error
}

// Metrics is the narrow metrics surface the monitor needs.
type Metrics interface {
	RecordAuditWriteFailure(ctx context.Context)
}

// MonitorOptions configures the system health monitor.
type MonitorOptions struct {
	Components []Component
	Probes     map[types.ComponentType]ProbeFunc
	History    HistoryAppender // optional
	Audit      types.AuditAppender
	Alerts     types.AlertSink
	Metrics    Metrics
	Logger     types.Logger
	Clock      types.Clock
}

// Monitor polls a static set of components on independent per-tier intervals,
// keeps a bounded check history, and raises alerts on threshold breaches.
type Monitor struct {
	components []Component
	probes     map[types.ComponentType]ProbeFunc
	history    HistoryAppender
	audit      types.AuditAppender
	alerts     types.AlertSink
	metrics    Metrics
	logger     types.Logger
	clock      types.Clock

	mu        sync.RWMutex
	latest    map[string]types.ServiceHealth
	histories map[string][]types.ServiceHealth
}

// NewMonitor creates a monitor from opts.
func NewMonitor(opts MonitorOptions) *Monitor {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Monitor{
		components: opts.Components,
		probes:     opts.Probes,
		history:    opts.History,
		audit:      opts.Audit,
		alerts:     opts.Alerts,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		clock:      clock,
		latest:     make(map[string]types.ServiceHealth),
		histories:  make(map[string][]types.ServiceHealth),
	}
}

// Run starts one polling loop per tier and blocks until ctx is cancelled.
// Every tier gets an immediate first pass so dashboards are not empty for up
// to five minutes after startup.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for tier, interval := range tierIntervals {
		wg.Add(1)
		go func(tier types.MonitorTier, interval time.Duration) {
			defer wg.Done()
			m.checkTier(ctx, tier)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.checkTier(ctx, tier)
				}
			}
		}(tier, interval)
	}
	wg.Wait()
}

func (m *Monitor) checkTier(ctx context.Context, tier types.MonitorTier) {
	for _, comp := range m.components {
		if comp.Tier != tier {
			continue
		}
		m.CheckComponent(ctx, comp)
	}
}

// CheckComponent probes one component, derives its status, records the
// snapshot, and evaluates alert thresholds. The snapshot is returned for
// on-demand callers.
func (m *Monitor) CheckComponent(ctx context.Context, comp Component) types.ServiceHealth {
	probe, ok := m.probes[comp.Type]
	if !ok {
		sh := types.ServiceHealth{
			ServiceID: comp.ID,
			Status:    types.HealthCritical,
			LastCheck: m.clock.Now(),
			Details:   map[string]string{"error": "no probe registered for type " + string(comp.Type)},
		}
		m.record(ctx, sh)
		return sh
	}

	start := m.clock.Now()
	checks := probe(ctx, comp)
	latency := m.clock.Now().Sub(start)

	status := types.HealthHealthy
	failed := 0
	details := make(map[string]string, len(checks))
	for _, c := range checks {
		state := "pass"
		if !c.Passed {
			state = "fail"
			failed++
			if c.Critical {
				status = types.HealthCritical
			} else if status != types.HealthCritical {
				status = types.HealthDegraded
			}
		}
		details[c.Name] = state
		if c.Details != "" {
			details[c.Name+"_details"] = c.Details
		}
	}

	errorRate := 0.0
	if len(checks) > 0 {
		errorRate = float64(failed) / float64(len(checks)) * 100
	}

	sh := types.ServiceHealth{
		ServiceID: comp.ID,
		Status:    status,
		Latency:   latency,
		ErrorRate: errorRate,
		LastCheck: m.clock.Now(),
		Details:   details,
	}

	m.record(ctx, sh)
	m.evaluateThresholds(ctx, comp, sh)
	return sh
}

// record stores the snapshot in the latest map and the bounded history, and
// persists it best-effort.
func (m *Monitor) record(ctx context.Context, sh types.ServiceHealth) {
	m.mu.Lock()
	m.latest[sh.ServiceID] = sh
	hist := append(m.histories[sh.ServiceID], sh)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	m.histories[sh.ServiceID] = hist
	m.mu.Unlock()

	if m.history != nil {
		if err := m.history.AppendHealthSnapshot(ctx, sh); err != nil {
			m.logger.Warn("failed to persist health snapshot",
				"service_id", sh.ServiceID,
				"error", err.Error(),
			)
		}
	}
}

func (m *Monitor) evaluateThresholds(ctx context.Context, comp Component, sh types.ServiceHealth) {
	th := comp.Thresholds

	if th.ResponseTimeCritical > 0 && sh.Latency >= th.ResponseTimeCritical {
		m.raiseAlert(ctx, types.AlertCritical, comp, "response time "+sh.Latency.String()+" over critical threshold")
	} else if th.ResponseTimeWarn > 0 && sh.Latency >= th.ResponseTimeWarn {
		m.raiseAlert(ctx, types.AlertWarning, comp, "response time "+sh.Latency.String()+" over warning threshold")
	}

	if th.ErrorRate > 0 && sh.ErrorRate >= th.ErrorRate {
		m.raiseAlert(ctx, types.AlertCritical, comp, "error rate over threshold")
	}

	if sh.Status == types.HealthCritical {
		m.raiseAlert(ctx, types.AlertCritical, comp, "component critical")
	}
}

func (m *Monitor) raiseAlert(ctx context.Context, severity types.AlertSeverity, comp Component, message string) {
	alert := types.HealthAlert{
		ID:        uuid.New().String(),
		Severity:  severity,
		Component: comp.ID,
		Message:   message,
		At:        m.clock.Now(),
	}
	if err := m.audit.AppendHealthAlert(ctx, alert); err != nil {
		m.logger.Error("failed to append health alert",
			"component", comp.ID,
			"error", err.Error(),
		)
		m.metrics.RecordAuditWriteFailure(ctx)
	}
	m.alerts.Raise(ctx, severity, comp.Name+": "+message, map[string]string{
		"component": comp.ID,
		"type":      string(comp.Type),
	})
}

// SystemHealth runs a live check of every component and aggregates the
// results. Deliberately not served from the cached history: the dashboard
// answer reflects current state at the cost of probe latency.
func (m *Monitor) SystemHealth(ctx context.Context) SystemSnapshot {
	snapshot := SystemSnapshot{
		Overall:    types.HealthHealthy,
		Components: make(map[string]types.ServiceHealth, len(m.components)),
		At:         m.clock.Now(),
	}
	for _, comp := range m.components {
		sh := m.CheckComponent(ctx, comp)
		snapshot.Components[comp.ID] = sh
		switch sh.Status {
		case types.HealthCritical:
			snapshot.Overall = types.HealthCritical
		case types.HealthDegraded:
			if snapshot.Overall != types.HealthCritical {
				snapshot.Overall = types.HealthDegraded
			}
		}
	}
	return snapshot
}

// SystemSnapshot is the aggregated dashboard view.
type SystemSnapshot struct {
	Overall    types.HealthStatus
	Components map[string]types.ServiceHealth
	At         time.Time
}

// Latest returns the most recent cached snapshot for a component.
func (m *Monitor) Latest(componentID string) (types.ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.latest[componentID]
	return sh, ok
}

// History returns a copy of the bounded in-memory history for a component,
// oldest first.
func (m *Monitor) History(componentID string) []types.ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.histories[componentID]
	out := make([]types.ServiceHealth, len(hist))
	copy(out, hist)
	return out
}
