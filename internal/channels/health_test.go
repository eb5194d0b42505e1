package channels

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

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

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeOutcomes struct {
	byChannel map[types.ChannelType][]types.DeliveryOutcome
	err       error
}

func (f *fakeOutcomes) RecentOutcomes(_ context.Context, channel types.ChannelType, _ time.Time) ([]types.DeliveryOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byChannel[channel], nil
}

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 0.01 {
		t.Errorf("%s: expected %.2f, got %.2f", label, want, got)
	}
}

func TestHealthMonitor_StartsHealthy(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorOptions{Logger: testLogger{}, Clock: newFakeClock()})

	for _, ch := range types.AllChannels {
		h := m.Snapshot(ch)
		if h.HealthScore != 100 || h.Status != types.HealthHealthy {
			t.Errorf("%s: expected fresh channel healthy at 100, got %v/%s", ch, h.HealthScore, h.Status)
		}
	}
}

func TestHealthMonitor_EMAFailure(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorOptions{Logger: testLogger{}, Clock: newFakeClock()})

	m.Record(types.ChannelEmail, false, 0)

	h := m.Snapshot(types.ChannelEmail)
	approx(t, h.ErrorRate, 30, "error rate")
	approx(t, h.Availability, 70, "availability")
	// 70*0.4 + 70*0.4 + 100*0.2
	approx(t, h.HealthScore, 76, "health score")
	if h.Status != types.HealthDegraded {
		t.Errorf("expected degraded, got %s", h.Status)
	}
}

func TestHealthMonitor_EMASuccessWithLatency(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorOptions{Logger: testLogger{}, Clock: newFakeClock()})

	m.Record(types.ChannelPush, true, time.Second)

	h := m.Snapshot(types.ChannelPush)
	approx(t, h.Availability, 100, "availability")
	approx(t, h.ErrorRate, 0, "error rate")
	approx(t, h.LatencyMS, 300, "latency ms")
	// 100*0.4 + 100*0.4 + (100-300/50)*0.2
	approx(t, h.HealthScore, 98.8, "health score")
	if h.Status != types.HealthHealthy {
		t.Errorf("expected healthy, got %s", h.Status)
	}
}

func TestHealthMonitor_RepeatedFailuresGoCritical(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorOptions{Logger: testLogger{}, Clock: newFakeClock()})

	for i := 0; i < 10; i++ {
		m.Record(types.ChannelSMS, false, 0)
	}

	h := m.Snapshot(types.ChannelSMS)
	if h.Status != types.HealthCritical {
		t.Errorf("expected critical after sustained failures, got %s (score %.1f)", h.Status, h.HealthScore)
	}
}

func TestHealthMonitor_ResyncOverridesEMA(t *testing.T) {
	outcomes := make([]types.DeliveryOutcome, 0, 10)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, types.DeliveryOutcome{
			Channel: types.ChannelEmail,
			Success: i < 8,
			Latency: 100 * time.Millisecond,
			At:      now,
		})
	}

	m := NewHealthMonitor(HealthMonitorOptions{
		Logger:   testLogger{},
		Clock:    newFakeClock(),
		Outcomes: &fakeOutcomes{byChannel: map[types.ChannelType][]types.DeliveryOutcome{types.ChannelEmail: outcomes}},
	})

	// Drive the EMA far from the windowed truth first.
	for i := 0; i < 10; i++ {
		m.Record(types.ChannelEmail, false, 0)
	}

	m.resyncOnce(context.Background())

	h := m.Snapshot(types.ChannelEmail)
	approx(t, h.Availability, 80, "availability")
	approx(t, h.ErrorRate, 20, "error rate")
	approx(t, h.LatencyMS, 100, "latency ms")
	approx(t, h.ThroughputPerMin, 2, "throughput per min")
	// 80*0.4 + 80*0.4 + (100-2)*0.2
	approx(t, h.HealthScore, 83.6, "health score")
	if h.Status != types.HealthHealthy {
		t.Errorf("expected healthy after resync, got %s", h.Status)
	}
}

func TestHealthMonitor_ResyncSkipsEmptyWindow(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorOptions{
		Logger:   testLogger{},
		Clock:    newFakeClock(),
		Outcomes: &fakeOutcomes{byChannel: map[types.ChannelType][]types.DeliveryOutcome{}},
	})

	m.Record(types.ChannelInApp, false, 0)
	before := m.Snapshot(types.ChannelInApp)

	m.resyncOnce(context.Background())

	after := m.Snapshot(types.ChannelInApp)
	if after.HealthScore != before.HealthScore {
		t.Errorf("empty window must keep the EMA state: %.2f != %.2f", after.HealthScore, before.HealthScore)
	}
}

func TestScoreFrom_Clamping(t *testing.T) {
	if got := scoreFrom(0, 100, 10000); got != 0 {
		t.Errorf("expected floor at 0, got %.2f", got)
	}
	if got := scoreFrom(100, 0, 0); got != 100 {
		t.Errorf("expected perfect score 100, got %.2f", got)
	}
	// Latency beyond 5000ms contributes zero, never negative.
	approx(t, scoreFrom(100, 0, 9999), 80, "latency floor")
}

func TestStatusTiers(t *testing.T) {
	if statusFor(80) != types.HealthHealthy {
		t.Error("80 must be healthy")
	}
	if statusFor(79.9) != types.HealthDegraded {
		t.Error("just under 80 must be degraded")
	}
	if statusFor(50) != types.HealthDegraded {
		t.Error("50 must be degraded")
	}
	if statusFor(49.9) != types.HealthCritical {
		t.Error("just under 50 must be critical")
	}
}
