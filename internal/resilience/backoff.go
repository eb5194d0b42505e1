package resilience

import (
	"math"
	"time"

	"relaypoint/internal/types"
)

// Policy configures one retryable operation: attempt limits, delay growth,
// jitter, and the budget key (ServiceID, Priority) consulted before each
// retry.
type Policy struct {
	ServiceID            string
	Priority             types.Priority
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Multiplier           float64
	Strategy             types.BackoffStrategy
	Jitter               types.JitterType
	RetryOnUnknownErrors bool
}

// DefaultPolicy returns the standard delivery retry policy: 3 attempts,
// exponential backoff from 1s capped at 30s, equal jitter.
func DefaultPolicy(serviceID string, priority types.Priority) Policy {
	return Policy{
		ServiceID:   serviceID,
		Priority:    priority,
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Strategy:    types.BackoffExponential,
		Jitter:      types.JitterEqual,
	}
}

// Delay computes the backoff delay after the given 1-based failed attempt.
//
// The growth formula by strategy:
//
//	fixed       = base
//	linear      = base * attempt
//	exponential = base * multiplier^(attempt-1)
//	polynomial  = base * attempt^2
//
// The result is capped at MaxDelay BEFORE jitter is applied. Jitter bounds:
// full = uniform(0, delay); equal = delay * uniform(0.5, 1.0);
// decorrelated = uniform(0, delay*3); none leaves the delay unchanged.
// The cap-before-jitter ordering is load-bearing: it bounds the worst case
// for every jitter mode except decorrelated, whose 3x spread is intentional.
//
// randFn must return a uniform float64 in [0, 1).
func Delay(p Policy, attempt int, randFn func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(p.BaseDelay)
	var delay float64
	switch p.Strategy {
	case types.BackoffFixed:
		delay = base
	case types.BackoffLinear:
		delay = base * float64(attempt)
	case types.BackoffExponential:
		multiplier := p.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay = base * math.Pow(multiplier, float64(attempt-1))
	case types.BackoffPolynomial:
		delay = base * float64(attempt) * float64(attempt)
	default:
		delay = base
	}

	maxDelay := float64(p.MaxDelay)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	switch p.Jitter {
	case types.JitterFull:
		delay = randFn() * delay
	case types.JitterEqual:
		delay = delay * (0.5 + randFn()*0.5)
	case types.JitterDecorrelated:
		delay = randFn() * delay * 3
	case types.JitterNone:
		// unchanged
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
