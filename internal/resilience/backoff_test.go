package resilience

import (
	"testing"
	"time"

	"relaypoint/internal/types"
)

// fixedRand returns a randFn that always yields v.
func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func policyFor(strategy types.BackoffStrategy, jitter types.JitterType) Policy {
	return Policy{
		ServiceID:   "svc",
		Priority:    types.PriorityMedium,
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Strategy:    strategy,
		Jitter:      jitter,
	}
}

func TestDelay_Strategies(t *testing.T) {
	tests := []struct {
		strategy types.BackoffStrategy
		attempt  int
		expected time.Duration
	}{
		{types.BackoffFixed, 1, 100 * time.Millisecond},
		{types.BackoffFixed, 4, 100 * time.Millisecond},
		{types.BackoffLinear, 1, 100 * time.Millisecond},
		{types.BackoffLinear, 3, 300 * time.Millisecond},
		{types.BackoffExponential, 1, 100 * time.Millisecond}, // 100 * 2^0
		{types.BackoffExponential, 2, 200 * time.Millisecond}, // 100 * 2^1
		{types.BackoffExponential, 4, 800 * time.Millisecond}, // 100 * 2^3
		{types.BackoffPolynomial, 1, 100 * time.Millisecond},  // 100 * 1^2
		{types.BackoffPolynomial, 3, 900 * time.Millisecond},  // 100 * 3^2
	}

	for _, tt := range tests {
		p := policyFor(tt.strategy, types.JitterNone)
		d := Delay(p, tt.attempt, fixedRand(0.5))
		if d != tt.expected {
			t.Errorf("%s attempt %d: expected %v, got %v", tt.strategy, tt.attempt, tt.expected, d)
		}
	}
}

func TestDelay_CapAppliedBeforeJitter(t *testing.T) {
	p := policyFor(types.BackoffExponential, types.JitterNone)
	// 100ms * 2^9 = 51.2s, capped at 2s.
	d := Delay(p, 10, fixedRand(0.5))
	if d != 2*time.Second {
		t.Errorf("expected cap at 2s, got %v", d)
	}

	// Equal jitter on a capped delay stays within [cap/2, cap].
	p.Jitter = types.JitterEqual
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		d := Delay(p, 10, fixedRand(r))
		if d < 1*time.Second || d > 2*time.Second {
			t.Errorf("equal jitter out of [cap/2, cap]: %v (rand=%v)", d, r)
		}
	}
}

func TestDelay_ExponentialMonotonicUntilCap(t *testing.T) {
	p := policyFor(types.BackoffExponential, types.JitterNone)
	prev := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		d := Delay(p, attempt, fixedRand(0))
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
	if prev != p.MaxDelay {
		t.Errorf("expected final delay at cap %v, got %v", p.MaxDelay, prev)
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	base := policyFor(types.BackoffFixed, types.JitterNone)
	raw := Delay(base, 1, fixedRand(0))

	full := base
	full.Jitter = types.JitterFull
	for _, r := range []float64{0, 0.3, 0.999} {
		d := Delay(full, 1, fixedRand(r))
		if d < 0 || d > raw {
			t.Errorf("full jitter out of [0, delay]: %v", d)
		}
	}

	equal := base
	equal.Jitter = types.JitterEqual
	for _, r := range []float64{0, 0.5, 0.999} {
		d := Delay(equal, 1, fixedRand(r))
		if d < raw/2 || d > raw {
			t.Errorf("equal jitter out of [delay/2, delay]: %v", d)
		}
	}

	deco := base
	deco.Jitter = types.JitterDecorrelated
	for _, r := range []float64{0, 0.5, 0.999} {
		d := Delay(deco, 1, fixedRand(r))
		if d < 0 || d > 3*raw {
			t.Errorf("decorrelated jitter out of [0, 3*delay]: %v", d)
		}
	}
}

func TestDelay_NegativeAttemptTreatedAsFirst(t *testing.T) {
	p := policyFor(types.BackoffLinear, types.JitterNone)
	if d := Delay(p, -3, fixedRand(0)); d != 100*time.Millisecond {
		t.Errorf("expected base delay for negative attempt, got %v", d)
	}
}
