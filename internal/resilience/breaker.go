// Package resilience provides the delivery-protection primitives shared by
// every channel worker: per-service circuit breakers, a retry engine with
// backoff/jitter policies, sliding-window retry budgets, and a priority
// retry queue with a background drain loop.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"relaypoint/internal/types"
)

// BreakerConfig holds the circuit breaker tuning for one service.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before allowing
	// half-open trial calls.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls is the number of consecutive successes in half-open
	// required to close the breaker. A single failure while half-open reopens it.
	HalfOpenMaxCalls uint32
}

// DefaultBreakerConfig returns the standard breaker tuning for delivery
// dependencies.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// BreakerRegistry owns one circuit breaker per service ID. Breakers are
// created lazily on first use and live for the process lifetime. The registry
// map is mutex-guarded; the breakers themselves are internally synchronized.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*gobreaker.CircuitBreaker[any]
	logger   types.Logger
}

// NewBreakerRegistry creates a BreakerRegistry applying cfg to every breaker
// it creates.
func NewBreakerRegistry(cfg BreakerConfig, logger types.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
		logger:   logger,
	}
}

// For returns the breaker guarding serviceID, creating it if needed.
func (r *BreakerRegistry) For(serviceID string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[serviceID]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	logger := r.logger
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        serviceID,
		MaxRequests: r.cfg.HalfOpenMaxCalls,
		Timeout:     r.cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"service_id", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	r.breakers[serviceID] = cb
	return cb
}

// Execute runs op through the breaker for serviceID. When the breaker is open
// and the recovery timeout has not elapsed, op is not invoked and the returned
// error satisfies IsCircuitOpen.
func (r *BreakerRegistry) Execute(ctx context.Context, serviceID string, op func(ctx context.Context) (any, error)) (any, error) {
	return r.For(serviceID).Execute(func() (any, error) {
		return op(ctx)
	})
}

// State reports the current state of the breaker for serviceID. A service that
// has never been called reports closed.
func (r *BreakerRegistry) State(serviceID string) gobreaker.State {
	return r.For(serviceID).State()
}

// IsCircuitOpen reports whether err is a fail-fast rejection from an open or
// saturated half-open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
