package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relaypoint/internal/channels"
	"relaypoint/internal/types"
)

type testLogger struct{}

func (testLogger) Info(string, ...any)      {}
func (testLogger) Error(string, ...any)     {}
func (testLogger) Warn(string, ...any)      {}
func (testLogger) With(...any) types.Logger { return testLogger{} }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type mockAudit struct {
	mu     sync.Mutex
	alerts []types.HealthAlert
	err    error
}

func (m *mockAudit) AppendFallbackEvent(context.Context, types.FallbackEvent) error { return m.err }
func (m *mockAudit) AppendRecoveryEvent(context.Context, types.RecoveryEvent) error { return m.err }

func (m *mockAudit) AppendHealthAlert(_ context.Context, alert types.HealthAlert) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	return m.err
}

type mockAlerts struct {
	mu     sync.Mutex
	raised []string
}

func (m *mockAlerts) Raise(_ context.Context, _ types.AlertSeverity, message string, _ map[string]string) {
	m.mu.Lock()
	m.raised = append(m.raised, message)
	m.mu.Unlock()
}

func (m *mockAlerts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raised)
}

type mockMetrics struct {
	mu                 sync.Mutex
	auditWriteFailures int
}

func (m *mockMetrics) RecordAuditWriteFailure(context.Context) {
	m.mu.Lock()
	m.auditWriteFailures++
	m.mu.Unlock()
}

func (m *mockMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auditWriteFailures
}

type mockHistory struct {
	mu        sync.Mutex
	snapshots []types.ServiceHealth
}

func (m *mockHistory) AppendHealthSnapshot(_ context.Context, sh types.ServiceHealth) error {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, sh)
	m.mu.Unlock()
	return nil
}

func staticProbe(checks []CheckResult) ProbeFunc {
	return func(context.Context, Component) []CheckResult { return checks }
}

func newTestMonitor(components []Component, probes map[types.ComponentType]ProbeFunc) (*Monitor, *mockAudit, *mockAlerts, *mockHistory, *mockMetrics) {
	audit := &mockAudit{}
	alerts := &mockAlerts{}
	history := &mockHistory{}
	metrics := &mockMetrics{}
	m := NewMonitor(MonitorOptions{
		Components: components,
		Probes:     probes,
		History:    history,
		Audit:      audit,
		Alerts:     alerts,
		Metrics:    metrics,
		Logger:     testLogger{},
		Clock:      newFakeClock(),
	})
	return m, audit, alerts, history, metrics
}

func TestCheckComponent_AllPassing(t *testing.T) {
	comp := Component{ID: "db", Name: "Postgres", Type: types.ComponentDatabase, Tier: types.TierCritical}
	m, _, alerts, history, _ := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{
		types.ComponentDatabase: staticProbe([]CheckResult{
			{Name: "connectivity", Passed: true, Critical: true},
			{Name: "latency", Passed: true},
		}),
	})

	sh := m.CheckComponent(context.Background(), comp)
	if sh.Status != types.HealthHealthy {
		t.Errorf("expected healthy, got %s", sh.Status)
	}
	if sh.ErrorRate != 0 {
		t.Errorf("expected 0 error rate, got %v", sh.ErrorRate)
	}
	if alerts.count() != 0 {
		t.Errorf("healthy component must not alert, got %d", alerts.count())
	}
	if len(history.snapshots) != 1 {
		t.Errorf("expected 1 persisted snapshot, got %d", len(history.snapshots))
	}
}

func TestCheckComponent_NonCriticalFailureDegrades(t *testing.T) {
	comp := Component{ID: "svc", Type: types.ComponentInternalService}
	m, _, _, _, _ := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{
		types.ComponentInternalService: staticProbe([]CheckResult{
			{Name: "responding", Passed: true, Critical: true},
			{Name: "queue_depth", Passed: false, Details: "backlog"},
		}),
	})

	sh := m.CheckComponent(context.Background(), comp)
	if sh.Status != types.HealthDegraded {
		t.Errorf("expected degraded, got %s", sh.Status)
	}
	if sh.ErrorRate != 50 {
		t.Errorf("expected 50%% error rate, got %v", sh.ErrorRate)
	}
}

func TestCheckComponent_CriticalFailureGoesCriticalAndAlerts(t *testing.T) {
	comp := Component{ID: "db", Name: "Postgres", Type: types.ComponentDatabase}
	m, audit, alerts, _, _ := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{
		types.ComponentDatabase: staticProbe([]CheckResult{
			{Name: "connectivity", Passed: false, Critical: true, Details: "connection refused"},
		}),
	})

	sh := m.CheckComponent(context.Background(), comp)
	if sh.Status != types.HealthCritical {
		t.Errorf("expected critical, got %s", sh.Status)
	}
	if sh.Details["connectivity"] != "fail" {
		t.Errorf("expected recorded failure detail, got %v", sh.Details)
	}
	if alerts.count() == 0 {
		t.Error("critical status must raise an alert")
	}
	if len(audit.alerts) == 0 {
		t.Error("critical status must append a health alert audit record")
	}
}

func TestRaiseAlert_AuditFailureCountedNotBlocking(t *testing.T) {
	comp := Component{ID: "db", Name: "Postgres", Type: types.ComponentDatabase}
	m, audit, alerts, _, metrics := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{
		types.ComponentDatabase: staticProbe([]CheckResult{
			{Name: "connectivity", Passed: false, Critical: true},
		}),
	})
	audit.err = errors.New("audit table unavailable")

	sh := m.CheckComponent(context.Background(), comp)
	if sh.Status != types.HealthCritical {
		t.Fatalf("expected critical, got %s", sh.Status)
	}
	if alerts.count() == 0 {
		t.Error("the alert must still reach the sink when the audit write fails")
	}
	if metrics.count() == 0 {
		t.Error("expected the lost audit write counted")
	}
}

func TestCheckComponent_ThresholdAlerts(t *testing.T) {
	comp := Component{
		ID:   "svc",
		Type: types.ComponentInternalService,
		Thresholds: Thresholds{
			ErrorRate: 40,
		},
	}
	m, _, alerts, _, _ := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{
		types.ComponentInternalService: staticProbe([]CheckResult{
			{Name: "a", Passed: true},
			{Name: "b", Passed: false},
		}),
	})

	m.CheckComponent(context.Background(), comp)
	if alerts.count() != 1 {
		t.Errorf("expected error-rate threshold alert, got %d", alerts.count())
	}
}

func TestCheckComponent_MissingProbeIsCritical(t *testing.T) {
	comp := Component{ID: "mystery", Type: types.ComponentExternalAPI}
	m, _, _, _, _ := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{})

	sh := m.CheckComponent(context.Background(), comp)
	if sh.Status != types.HealthCritical {
		t.Errorf("expected critical for missing probe, got %s", sh.Status)
	}
}

func TestHistory_BoundedAtLimit(t *testing.T) {
	comp := Component{ID: "svc", Type: types.ComponentInternalService}
	m, _, _, _, _ := newTestMonitor([]Component{comp}, map[types.ComponentType]ProbeFunc{
		types.ComponentInternalService: staticProbe([]CheckResult{{Name: "responding", Passed: true}}),
	})

	for i := 0; i < historyLimit+20; i++ {
		m.CheckComponent(context.Background(), comp)
	}

	hist := m.History("svc")
	if len(hist) != historyLimit {
		t.Errorf("expected history bounded at %d, got %d", historyLimit, len(hist))
	}
}

func TestSystemHealth_AggregatesWorstStatus(t *testing.T) {
	components := []Component{
		{ID: "db", Type: types.ComponentDatabase, Tier: types.TierCritical},
		{ID: "svc", Type: types.ComponentInternalService, Tier: types.TierStandard},
	}
	m, _, _, _, _ := newTestMonitor(components, map[types.ComponentType]ProbeFunc{
		types.ComponentDatabase: staticProbe([]CheckResult{{Name: "connectivity", Passed: true, Critical: true}}),
		types.ComponentInternalService: staticProbe([]CheckResult{
			{Name: "responding", Passed: true, Critical: true},
			{Name: "queue_depth", Passed: false},
		}),
	})

	snapshot := m.SystemHealth(context.Background())
	if snapshot.Overall != types.HealthDegraded {
		t.Errorf("expected overall degraded, got %s", snapshot.Overall)
	}
	if len(snapshot.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(snapshot.Components))
	}
}

func TestDatabaseProbe(t *testing.T) {
	probes := DefaultProbes(ProbeDeps{DB: pingerFunc(func(context.Context) error { return nil })})
	checks := probes[types.ComponentDatabase](context.Background(), Component{ID: "db"})
	if len(checks) != 2 || !checks[0].Passed {
		t.Errorf("expected passing connectivity check, got %+v", checks)
	}

	probes = DefaultProbes(ProbeDeps{DB: pingerFunc(func(context.Context) error { return errors.New("refused") })})
	checks = probes[types.ComponentDatabase](context.Background(), Component{ID: "db"})
	if checks[0].Passed || !checks[0].Critical {
		t.Errorf("expected failed critical connectivity check, got %+v", checks[0])
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestChannelProbe(t *testing.T) {
	cm := channels.NewHealthMonitor(channels.HealthMonitorOptions{Logger: testLogger{}, Clock: newFakeClock()})
	probes := DefaultProbes(ProbeDeps{Channels: cm})
	comp := Component{ID: "channel-email", Type: types.ComponentChannel, Channel: types.ChannelEmail}

	checks := probes[types.ComponentChannel](context.Background(), comp)
	for _, c := range checks {
		if !c.Passed {
			t.Errorf("fresh channel must pass %s: %+v", c.Name, c)
		}
	}

	// Drive the channel critical; the critical check must fail.
	for i := 0; i < 10; i++ {
		cm.Record(types.ChannelEmail, false, 0)
	}
	checks = probes[types.ComponentChannel](context.Background(), comp)
	criticalFailed := false
	for _, c := range checks {
		if c.Name == "health_score" && !c.Passed && c.Critical {
			criticalFailed = true
		}
	}
	if !criticalFailed {
		t.Error("critical channel must fail the health_score check")
	}
}

func TestEndpointProbe_Registered(t *testing.T) {
	calls := 0
	probes := DefaultProbes(ProbeDeps{
		Endpoints: map[string]EndpointCheck{
			"sendgrid": func(context.Context) error { calls++; return nil },
		},
	})
	comp := Component{ID: "sendgrid", Type: types.ComponentExternalAPI}

	checks := probes[types.ComponentExternalAPI](context.Background(), comp)
	if calls != 1 || !checks[0].Passed {
		t.Errorf("expected registered check to run and pass, got %+v", checks)
	}

	unknown := Component{ID: "unknown", Type: types.ComponentExternalAPI}
	checks = probes[types.ComponentExternalAPI](context.Background(), unknown)
	if checks[0].Passed {
		t.Error("unregistered endpoint must fail its check")
	}
}

func TestTierIntervals(t *testing.T) {
	expected := map[types.MonitorTier]time.Duration{
		types.TierCritical:  30 * time.Second,
		types.TierImportant: time.Minute,
		types.TierStandard:  5 * time.Minute,
	}
	for tier, want := range expected {
		if got := tierIntervals[tier]; got != want {
			t.Errorf("%s: expected %v, got %v", tier, want, got)
		}
	}
}

func TestRun_ImmediateFirstPass(t *testing.T) {
	var mu sync.Mutex
	checked := map[string]int{}
	probe := func(_ context.Context, comp Component) []CheckResult {
		mu.Lock()
		checked[comp.ID]++
		mu.Unlock()
		return []CheckResult{{Name: "ok", Passed: true}}
	}

	components := make([]Component, 0, 3)
	for i, tier := range []types.MonitorTier{types.TierCritical, types.TierImportant, types.TierStandard} {
		components = append(components, Component{
			ID:   fmt.Sprintf("c%d", i),
			Type: types.ComponentInternalService,
			Tier: tier,
		})
	}
	m, _, _, _, _ := newTestMonitor(components, map[types.ComponentType]ProbeFunc{
		types.ComponentInternalService: probe,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(checked)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("every tier must get an immediate first pass")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
