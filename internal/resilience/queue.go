package resilience

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"relaypoint/internal/types"
)

// ScheduledRetry is one deferred retry entry in the priority queue.
type ScheduledRetry struct {
	OperationID   string
	Attempt       int
	Op            func(ctx context.Context) error
	Policy        Policy
	NextAttemptAt time.Time
	QueuedAt      time.Time
}

// ExhaustedFunc is invoked when a scheduled retry runs out of attempts,
// budget, or retryability. This is the terminal failure path; the worker
// wiring routes it to the dead letter queue.
type ExhaustedFunc func(ctx context.Context, entry ScheduledRetry, err error)

// SchedulerConfig tunes the retry queue drain loop.
type SchedulerConfig struct {
	// Tick is the drain interval.
	Tick time.Duration
	// MaxPerTick bounds how many entries execute concurrently per tick.
	MaxPerTick int
}

// DefaultSchedulerConfig returns the standard drain cadence: every 5 seconds,
// at most 10 executions per tick.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Tick:       5 * time.Second,
		MaxPerTick: 10,
	}
}

// Scheduler maintains priority buckets of deferred retries and drains ready
// entries on a fixed tick. Dequeue order is strict priority (critical before
// high before medium before low) and, within a bucket, ascending
// NextAttemptAt; a ready lower-priority entry never waits on a not-yet-ready
// higher-priority one.
//
// Buckets are mutex-guarded: Schedule/Cancel run on request paths while the
// drain loop runs on its own goroutine.
type Scheduler struct {
	mu      sync.Mutex
	buckets map[types.Priority][]*ScheduledRetry

	cfg         SchedulerConfig
	budget      *RetryBudget
	onExhausted ExhaustedFunc
	logger      types.Logger
	clock       types.Clock
	randFn      func() float64
}

// NewScheduler creates a retry Scheduler. onExhausted may be nil, in which
// case exhausted entries are only logged.
func NewScheduler(cfg SchedulerConfig, budget *RetryBudget, onExhausted ExhaustedFunc, logger types.Logger, clock types.Clock) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSchedulerConfig().Tick
	}
	if cfg.MaxPerTick <= 0 {
		cfg.MaxPerTick = DefaultSchedulerConfig().MaxPerTick
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Scheduler{
		buckets:     make(map[types.Priority][]*ScheduledRetry),
		cfg:         cfg,
		budget:      budget,
		onExhausted: onExhausted,
		logger:      logger,
		clock:       clock,
		randFn:      rand.Float64,
	}
}

// Schedule enqueues op for asynchronous retry after delay. The entry starts
// at attempt 1; subsequent failures re-enqueue it with backoff until the
// policy's MaxAttempts is reached.
func (s *Scheduler) Schedule(operationID string, op func(ctx context.Context) error, policy Policy, delay time.Duration) {
	now := s.clock.Now()
	entry := &ScheduledRetry{
		OperationID:   operationID,
		Attempt:       1,
		Op:            op,
		Policy:        policy,
		NextAttemptAt: now.Add(delay),
		QueuedAt:      now,
	}

	s.mu.Lock()
	s.insert(entry)
	s.mu.Unlock()

	s.logger.Info("retry scheduled",
		"operation_id", operationID,
		"priority", string(policy.Priority),
		"next_attempt_at", entry.NextAttemptAt.Format(time.RFC3339),
	)
}

// Cancel removes a pending entry from all priority buckets. It is idempotent:
// cancelling an already-executed or unknown operation returns false.
func (s *Scheduler) Cancel(operationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for priority, bucket := range s.buckets {
		for i, entry := range bucket {
			if entry.OperationID == operationID {
				s.buckets[priority] = append(bucket[:i], bucket[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Pending reports the number of queued entries across all buckets.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, bucket := range s.buckets {
		n += len(bucket)
	}
	return n
}

// Run drives the drain loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started", "tick", s.cfg.Tick.String(), "max_per_tick", s.cfg.MaxPerTick)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopped")
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

// drainOnce dequeues up to MaxPerTick ready entries and executes them with
// bounded concurrency. Execution is fire-and-forget per tick: the drain loop
// waits for this tick's batch but never blocks Schedule/Cancel callers.
func (s *Scheduler) drainOnce(ctx context.Context) {
	now := s.clock.Now()
	ready := s.dequeueReady(now, s.cfg.MaxPerTick)
	if len(ready) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxPerTick)
	for _, entry := range ready {
		g.Go(func() error {
			s.execute(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()
}

// dequeueReady removes and returns up to max ready entries in priority order,
// ascending NextAttemptAt within each bucket.
func (s *Scheduler) dequeueReady(now time.Time, max int) []*ScheduledRetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []*ScheduledRetry
	for _, priority := range types.PriorityOrder {
		if len(ready) >= max {
			break
		}
		bucket := s.buckets[priority]
		var kept []*ScheduledRetry
		for _, entry := range bucket {
			if len(ready) < max && !entry.NextAttemptAt.After(now) {
				ready = append(ready, entry)
			} else {
				kept = append(kept, entry)
			}
		}
		s.buckets[priority] = kept
	}
	return ready
}

// insert adds entry to its priority bucket keeping the bucket sorted by
// NextAttemptAt. Caller must hold s.mu.
func (s *Scheduler) insert(entry *ScheduledRetry) {
	bucket := append(s.buckets[entry.Policy.Priority], entry)
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].NextAttemptAt.Before(bucket[j].NextAttemptAt)
	})
	s.buckets[entry.Policy.Priority] = bucket
}

// execute runs one attempt of entry. On retryable failure with attempts and
// budget remaining, the entry is re-enqueued with backoff; otherwise it is
// routed to the exhausted handler.
func (s *Scheduler) execute(ctx context.Context, entry *ScheduledRetry) {
	err := entry.Op(ctx)
	if err == nil {
		s.logger.Info("scheduled retry succeeded",
			"operation_id", entry.OperationID,
			"attempt", entry.Attempt,
		)
		return
	}

	retryable := Retryable(err, entry.Policy.RetryOnUnknownErrors)
	attemptsLeft := entry.Attempt < entry.Policy.MaxAttempts

	if retryable && attemptsLeft {
		if !s.budget.Consume(entry.Policy.ServiceID, entry.Policy.Priority) {
			s.exhaust(ctx, entry, types.NewAppError(types.ErrCodeRetryBudgetExhausted,
				"retry budget exhausted for scheduled retry", err))
			return
		}

		delay := Delay(entry.Policy, entry.Attempt, s.randFn)
		next := &ScheduledRetry{
			OperationID:   entry.OperationID,
			Attempt:       entry.Attempt + 1,
			Op:            entry.Op,
			Policy:        entry.Policy,
			NextAttemptAt: s.clock.Now().Add(delay),
			QueuedAt:      entry.QueuedAt,
		}
		s.mu.Lock()
		s.insert(next)
		s.mu.Unlock()

		s.logger.Warn("scheduled retry failed, re-enqueued",
			"operation_id", entry.OperationID,
			"attempt", entry.Attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		return
	}

	s.exhaust(ctx, entry, err)
}

func (s *Scheduler) exhaust(ctx context.Context, entry *ScheduledRetry, err error) {
	s.logger.Error("scheduled retry exhausted",
		"operation_id", entry.OperationID,
		"attempt", entry.Attempt,
		"error", err.Error(),
	)
	if s.onExhausted != nil {
		s.onExhausted(ctx, *entry, err)
	}
}
