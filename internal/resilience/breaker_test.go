package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	reg := NewBreakerRegistry(testBreakerConfig(), testLogger{})
	ctx := context.Background()
	boom := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		_, err := reg.Execute(ctx, "push-provider", func(context.Context) (any, error) {
			return nil, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("failure %d: expected underlying error, got %v", i+1, err)
		}
	}

	if got := reg.State("push-provider"); got != gobreaker.StateOpen {
		t.Fatalf("expected open after 3rd failure, got %v", got)
	}

	// 4th call is rejected without invoking the operation.
	invoked := false
	_, err := reg.Execute(ctx, "push-provider", func(context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open rejection, got %v", err)
	}
	if invoked {
		t.Error("operation must not be invoked while the breaker is open")
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	reg := NewBreakerRegistry(testBreakerConfig(), testLogger{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = reg.Execute(ctx, "email-provider", func(context.Context) (any, error) {
			return nil, errors.New("503 from provider")
		})
	}
	if got := reg.State("email-provider"); got != gobreaker.StateOpen {
		t.Fatalf("expected open, got %v", got)
	}

	time.Sleep(80 * time.Millisecond) // past the recovery timeout

	// First trial call runs in half-open.
	if _, err := reg.Execute(ctx, "email-provider", func(context.Context) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("trial call should be allowed: %v", err)
	}
	if got := reg.State("email-provider"); got != gobreaker.StateHalfOpen {
		t.Fatalf("expected half-open after first trial success, got %v", got)
	}

	// Second consecutive success closes the breaker (HalfOpenMaxCalls=2).
	if _, err := reg.Execute(ctx, "email-provider", func(context.Context) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("second trial call failed: %v", err)
	}
	if got := reg.State("email-provider"); got != gobreaker.StateClosed {
		t.Errorf("expected closed after %d successes, got %v", testBreakerConfig().HalfOpenMaxCalls, got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	reg := NewBreakerRegistry(testBreakerConfig(), testLogger{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = reg.Execute(ctx, "svc", func(context.Context) (any, error) {
			return nil, errors.New("timeout")
		})
	}
	time.Sleep(80 * time.Millisecond)

	_, _ = reg.Execute(ctx, "svc", func(context.Context) (any, error) {
		return nil, errors.New("timeout again")
	})
	if got := reg.State("svc"); got != gobreaker.StateOpen {
		t.Errorf("expected reopen after half-open failure, got %v", got)
	}
}

func TestBreaker_PerServiceIsolation(t *testing.T) {
	reg := NewBreakerRegistry(testBreakerConfig(), testLogger{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = reg.Execute(ctx, "flaky", func(context.Context) (any, error) {
			return nil, errors.New("boom")
		})
	}

	// A different service's breaker is unaffected.
	out, err := reg.Execute(ctx, "steady", func(context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(int) != 42 {
		t.Errorf("expected passthrough result, got %v", out)
	}
	if got := reg.State("steady"); got != gobreaker.StateClosed {
		t.Errorf("expected steady closed, got %v", got)
	}
}
