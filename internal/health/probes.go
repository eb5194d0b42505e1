package health

import (
	"context"
	"fmt"
	"time"

	"relaypoint/internal/channels"
	"relaypoint/internal/types"
)

// ProbeFunc checks one component and returns its named sub-checks.
type ProbeFunc func(ctx context.Context, comp Component) []CheckResult

// Pinger is the connectivity surface a database probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EndpointCheck verifies reachability of one external API.
type EndpointCheck func(ctx context.Context) error

// ProbeDeps carries the collaborators the default probes read from.
type ProbeDeps struct {
	DB        Pinger
	Channels  *channels.HealthMonitor
	Endpoints map[string]EndpointCheck // component ID -> external API check
	Services  map[string]EndpointCheck // component ID -> internal service check
	Logger    types.Logger
}

// DefaultProbes builds the probe set dispatched by component type.
func DefaultProbes(deps ProbeDeps) map[types.ComponentType]ProbeFunc {
	return map[types.ComponentType]ProbeFunc{
		types.ComponentDatabase:        databaseProbe(deps.DB),
		types.ComponentExternalAPI:     endpointProbe(deps.Endpoints, "reachability"),
		types.ComponentChannel:         channelProbe(deps.Channels),
		types.ComponentInternalService: endpointProbe(deps.Services, "responding"),
	}
}

// databaseProbe checks connectivity and round-trip latency. Connectivity is
// the critical check; slow-but-alive only degrades.
func databaseProbe(db Pinger) ProbeFunc {
	return func(ctx context.Context, _ Component) []CheckResult {
		if db == nil {
			return []CheckResult{{Name: "connectivity", Critical: true, Details: "no database configured"}}
		}
		start := time.Now()
		err := db.Ping(ctx)
		latency := time.Since(start)

		connectivity := CheckResult{Name: "connectivity", Passed: err == nil, Critical: true}
		if err != nil {
			connectivity.Details = err.Error()
		}
		return []CheckResult{
			connectivity,
			{Name: "latency", Passed: latency < 2*time.Second, Details: latency.String()},
		}
	}
}

// endpointProbe runs the registered check for the component. Used for both
// external APIs and internal services; only the check name differs.
func endpointProbe(checks map[string]EndpointCheck, checkName string) ProbeFunc {
	return func(ctx context.Context, comp Component) []CheckResult {
		check, ok := checks[comp.ID]
		if !ok {
			return []CheckResult{{Name: checkName, Critical: true, Details: "no check registered for " + comp.ID}}
		}
		err := check(ctx)
		result := CheckResult{Name: checkName, Passed: err == nil, Critical: true}
		if err != nil {
			result.Details = err.Error()
		}
		return []CheckResult{result}
	}
}

// channelProbe reads the channel health monitor's rolling state. A critical
// channel score fails the critical check; a degraded score fails only the
// degradation check.
func channelProbe(monitor *channels.HealthMonitor) ProbeFunc {
	return func(_ context.Context, comp Component) []CheckResult {
		if monitor == nil {
			return []CheckResult{{Name: "health_score", Critical: true, Details: "no channel monitor configured"}}
		}
		h := monitor.Snapshot(comp.Channel)
		return []CheckResult{
			{
				Name:     "health_score",
				Passed:   h.Status != types.HealthCritical,
				Critical: true,
				Details:  fmt.Sprintf("%.1f", h.HealthScore),
			},
			{
				Name:    "not_degraded",
				Passed:  h.Status == types.HealthHealthy,
				Details: string(h.Status),
			},
			{
				Name:    "latency",
				Passed:  h.LatencyMS < 5000,
				Details: fmt.Sprintf("%.0fms", h.LatencyMS),
			},
		}
	}
}
