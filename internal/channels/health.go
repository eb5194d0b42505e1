package channels

import (
	"context"
	"sync"
	"time"

	"relaypoint/internal/types"
)

// alpha is the EMA smoothing factor for per-outcome health updates.
const alpha = 0.3

// OutcomeSource reads the delivery outcome log. The periodic resync pulls a
// trailing window per channel to correct EMA drift with windowed truth.
type OutcomeSource interface {
	RecentOutcomes(ctx context.Context, channel types.ChannelType, since time.Time) ([]types.DeliveryOutcome, error)
}

// HealthMonitorOptions configures the channel health monitor.
type HealthMonitorOptions struct {
	ResyncInterval time.Duration // default 60s
	Window         time.Duration // trailing outcome window, default 5m
	Outcomes       OutcomeSource // optional; no resync without it
	Logger         types.Logger
	Clock          types.Clock
}

// HealthMonitor keeps a rolling health score per delivery channel. Delivery
// workers report every outcome through Record; a background resync recomputes
// availability, error rate, latency, and throughput from the outcome log and
// overwrites the EMA state with the windowed truth.
type HealthMonitor struct {
	resyncInterval time.Duration
	window         time.Duration
	outcomes       OutcomeSource
	logger         types.Logger
	clock          types.Clock

	mu    sync.RWMutex
	state map[types.ChannelType]types.ChannelHealth
}

// NewHealthMonitor creates a monitor with every channel starting healthy.
func NewHealthMonitor(opts HealthMonitorOptions) *HealthMonitor {
	if opts.ResyncInterval <= 0 {
		opts.ResyncInterval = 60 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	state := make(map[types.ChannelType]types.ChannelHealth, len(types.AllChannels))
	now := clock.Now()
	for _, ch := range types.AllChannels {
		state[ch] = types.ChannelHealth{
			Channel:      ch,
			HealthScore:  100,
			Availability: 100,
			ErrorRate:    0,
			Status:       types.HealthHealthy,
			LastUpdated:  now,
		}
	}

	return &HealthMonitor{
		resyncInterval: opts.ResyncInterval,
		window:         opts.Window,
		outcomes:       opts.Outcomes,
		logger:         opts.Logger,
		clock:          clock,
		state:          state,
	}
}

// Record folds one delivery outcome into the channel's EMA state.
func (m *HealthMonitor) Record(channel types.ChannelType, success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.state[channel]
	h.Channel = channel

	errSample := 100.0
	availSample := 0.0
	if success {
		errSample = 0
		availSample = 100
	}
	h.ErrorRate = h.ErrorRate*(1-alpha) + errSample*alpha
	h.Availability = h.Availability*(1-alpha) + availSample*alpha
	h.LatencyMS = h.LatencyMS*(1-alpha) + float64(latency.Milliseconds())*alpha

	h.HealthScore = scoreFrom(h.Availability, h.ErrorRate, h.LatencyMS)
	h.Status = statusFor(h.HealthScore)
	h.LastUpdated = m.clock.Now()

	m.state[channel] = h
}

// Snapshot returns the current health of one channel.
func (m *HealthMonitor) Snapshot(channel types.ChannelType) types.ChannelHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state[channel]
}

// SnapshotAll returns the current health of every channel.
func (m *HealthMonitor) SnapshotAll() map[types.ChannelType]types.ChannelHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.ChannelType]types.ChannelHealth, len(m.state))
	for ch, h := range m.state {
		out[ch] = h
	}
	return out
}

// Run resyncs channel health from the outcome log on the monitor's interval
// until ctx is cancelled. No-op when no outcome source is configured.
func (m *HealthMonitor) Run(ctx context.Context) {
	if m.outcomes == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.resyncOnce(ctx)
		}
	}
}

// resyncOnce recomputes each channel's metrics from the trailing outcome
// window and overwrites the EMA state. Channels with no recent outcomes keep
// their EMA values; an empty window says nothing about health.
func (m *HealthMonitor) resyncOnce(ctx context.Context) {
	since := m.clock.Now().Add(-m.window)

	for _, ch := range types.AllChannels {
		outcomes, err := m.outcomes.RecentOutcomes(ctx, ch, since)
		if err != nil {
			m.logger.Warn("channel health resync failed",
				"channel", string(ch),
				"error", err.Error(),
			)
			continue
		}
		if len(outcomes) == 0 {
			continue
		}

		var successes int
		var totalLatency time.Duration
		for _, o := range outcomes {
			if o.Success {
				successes++
			}
			totalLatency += o.Latency
		}

		total := float64(len(outcomes))
		availability := float64(successes) / total * 100
		errorRate := 100 - availability
		latencyMS := float64(totalLatency.Milliseconds()) / total
		throughput := total / m.window.Minutes()

		m.mu.Lock()
		h := m.state[ch]
		h.Availability = availability
		h.ErrorRate = errorRate
		h.LatencyMS = latencyMS
		h.ThroughputPerMin = throughput
		h.HealthScore = scoreFrom(availability, errorRate, latencyMS)
		h.Status = statusFor(h.HealthScore)
		h.LastUpdated = m.clock.Now()
		m.state[ch] = h
		m.mu.Unlock()
	}
}

// scoreFrom blends availability (40%), success rate (40%), and latency (20%)
// into a 0-100 health score. 5000ms of latency zeroes the latency component.
func scoreFrom(availability, errorRate, latencyMS float64) float64 {
	latencyScore := 100 - latencyMS/50
	if latencyScore < 0 {
		latencyScore = 0
	}
	score := availability*0.4 + (100-errorRate)*0.4 + latencyScore*0.2
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func statusFor(score float64) types.HealthStatus {
	switch {
	case score >= 80:
		return types.HealthHealthy
	case score >= 50:
		return types.HealthDegraded
	default:
		return types.HealthCritical
	}
}
