package resilience

import (
	"sync"
	"time"

	"relaypoint/internal/types"
)

// BudgetLimits caps retry attempts per priority tier within the budget window.
type BudgetLimits map[types.Priority]int

// DefaultBudgetLimits returns the standard per-priority retry caps for a
// 5-minute window.
func DefaultBudgetLimits() BudgetLimits {
	return BudgetLimits{
		types.PriorityCritical: 20,
		types.PriorityHigh:     15,
		types.PriorityMedium:   10,
		types.PriorityLow:      5,
	}
}

// RetryBudget is a sliding-window rate limiter on retries, keyed by
// (serviceID, priority). Budgets are advisory: a crash between consuming
// budget and executing the retry loses the consumption, which is acceptable
// because the budget is a rate limiter, not a correctness counter.
//
// Attempts are pruned lazily on read; the map is mutex-guarded because the
// retry engine, the queue drain loop, and request-path callers all consume
// from it concurrently.
type RetryBudget struct {
	mu       sync.Mutex
	window   time.Duration
	limits   BudgetLimits
	attempts map[string]map[types.Priority][]time.Time
	clock    types.Clock
}

// NewRetryBudget creates a RetryBudget with the given window and limits.
// A zero window defaults to 5 minutes; nil limits default to
// DefaultBudgetLimits.
func NewRetryBudget(window time.Duration, limits BudgetLimits, clock types.Clock) *RetryBudget {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if limits == nil {
		limits = DefaultBudgetLimits()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &RetryBudget{
		window:   window,
		limits:   limits,
		attempts: make(map[string]map[types.Priority][]time.Time),
		clock:    clock,
	}
}

// Consume records a retry attempt for (serviceID, priority) if the window has
// capacity, returning whether the retry is allowed. A disallowed attempt is
// not recorded.
func (b *RetryBudget) Consume(serviceID string, priority types.Priority) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	recent := b.prune(serviceID, priority, now)

	limit, ok := b.limits[priority]
	if !ok {
		limit = b.limits[types.PriorityLow]
	}
	if len(recent) >= limit {
		return false
	}

	b.attempts[serviceID][priority] = append(recent, now)
	return true
}

// Remaining reports how many retry attempts are left in the current window
// for (serviceID, priority).
func (b *RetryBudget) Remaining(serviceID string, priority types.Priority) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	recent := b.prune(serviceID, priority, b.clock.Now())
	limit, ok := b.limits[priority]
	if !ok {
		limit = b.limits[types.PriorityLow]
	}
	remaining := limit - len(recent)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// prune drops attempts older than the window and returns the surviving slice.
// Caller must hold b.mu.
func (b *RetryBudget) prune(serviceID string, priority types.Priority, now time.Time) []time.Time {
	byPriority, ok := b.attempts[serviceID]
	if !ok {
		byPriority = make(map[types.Priority][]time.Time)
		b.attempts[serviceID] = byPriority
	}

	cutoff := now.Add(-b.window)
	stamps := byPriority[priority]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	byPriority[priority] = kept
	return kept
}
