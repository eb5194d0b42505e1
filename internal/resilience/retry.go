package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"relaypoint/internal/types"
)

// Engine executes operations with retry, backoff, and budget enforcement.
type Engine struct {
	budget *RetryBudget
	logger types.Logger

	// Injectable for tests; default to real sleep and math/rand.
	sleepFn func(ctx context.Context, d time.Duration) error
	randFn  func() float64
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithSleepFunc overrides the sleep function used between attempts.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleepFn = fn }
}

// WithRandFunc overrides the randomness source used for jitter.
func WithRandFunc(fn func() float64) EngineOption {
	return func(e *Engine) { e.randFn = fn }
}

// NewEngine creates a retry Engine sharing the given budget.
func NewEngine(budget *RetryBudget, logger types.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		budget:  budget,
		logger:  logger,
		sleepFn: sleepCtx,
		randFn:  rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteWithRetry runs op up to policy.MaxAttempts times.
//
// The first attempt is free; each retry (attempt > 1) must pass the retry
// budget for (policy.ServiceID, policy.Priority) and budget exhaustion fails
// immediately with a non-retryable error. Non-retryable failures propagate
// without consuming further attempts. When attempts are exhausted, the final
// error is wrapped with the attempt count.
func (e *Engine) ExecuteWithRetry(ctx context.Context, operationID string, op func(ctx context.Context) error, policy Policy) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if !e.budget.Consume(policy.ServiceID, policy.Priority) {
				e.logger.Warn("retry budget exhausted",
					"operation_id", operationID,
					"service_id", policy.ServiceID,
					"priority", string(policy.Priority),
					"attempt", attempt,
				)
				return types.NewAppError(types.ErrCodeRetryBudgetExhausted,
					fmt.Sprintf("retry budget exhausted for %s/%s", policy.ServiceID, policy.Priority),
					lastErr,
				)
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if !Retryable(lastErr, policy.RetryOnUnknownErrors) {
			e.logger.Info("non-retryable failure",
				"operation_id", operationID,
				"attempt", attempt,
				"error", lastErr.Error(),
			)
			return lastErr
		}

		if attempt < maxAttempts {
			delay := Delay(policy, attempt, e.randFn)
			e.logger.Info("retrying after backoff",
				"operation_id", operationID,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
			)
			if err := e.sleepFn(ctx, delay); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationID, maxAttempts, lastErr)
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
