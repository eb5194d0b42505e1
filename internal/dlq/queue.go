package dlq

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relaypoint/internal/channels"
	"relaypoint/internal/types"
)

// Store persists dead-letter records. Implemented over Postgres in
// internal/store.
type Store interface {
	Insert(ctx context.Context, rec types.DeadLetterRecord) error
	Get(ctx context.Context, id string) (types.DeadLetterRecord, error)
	Update(ctx context.Context, rec types.DeadLetterRecord) error
	List(ctx context.Context, filter Filter) ([]types.DeadLetterRecord, error)
	DueForRetry(ctx context.Context, now time.Time) ([]types.DeadLetterRecord, error)
	ResolvedBefore(ctx context.Context, cutoff time.Time) ([]types.DeadLetterRecord, error)
	Delete(ctx context.Context, ids []string) (int, error)
}

// Filter narrows a dead-letter listing. Zero values match everything.
type Filter struct {
	TenantID      string
	Channel       types.ChannelType
	FailureReason types.FailureReason
	Status        types.DeadLetterStatus
	Limit         int
}

// Resender re-attempts delivery of a dead-lettered notification, optionally
// on a different channel and with field modifications applied. Implemented by
// the delivery worker over the sender registry.
type Resender interface {
	Resend(ctx context.Context, rec types.DeadLetterRecord, channel types.ChannelType, modifications map[string]string) error
}

// defaultAutoRecovery maps transient-looking failure reasons to the delay
// before an automatic retry. Reasons absent from the map are never
// auto-recovered.
func defaultAutoRecovery() map[types.FailureReason]time.Duration {
	return map[types.FailureReason]time.Duration{
		types.FailureRateLimitExceeded:  15 * time.Minute,
		types.FailureServiceUnavailable: 30 * time.Minute,
		types.FailureNetworkTimeout:     5 * time.Minute,
	}
}

// Options configures the dead letter queue.
type Options struct {
	Store    Store
	Outcomes channels.OutcomeSource // optional, feeds related-incident lookup
	Resender Resender               // optional until a worker wires it
	Alerts   types.AlertSink
	Logger   types.Logger
	Clock    types.Clock

	// AutoRecovery overrides the per-reason auto-retry delays. Nil keeps the
	// defaults; an explicit empty map disables auto-recovery entirely.
	AutoRecovery map[types.FailureReason]time.Duration

	// Retention is how long resolved records are kept before the sweep
	// removes them. Default 30 days.
	Retention time.Duration

	// BatchDelay is the pause between bulk-recovery batches. Default 1s.
	BatchDelay time.Duration
}

// Queue is the terminal sink for notifications that exhausted every automated
// delivery path. Nothing is silently dropped: every arrival produces exactly
// one record with a forensic trail, and transient-looking failures get an
// automatic retry scheduled.
type Queue struct {
	store        Store
	outcomes     channels.OutcomeSource
	resender     Resender
	alerts       types.AlertSink
	logger       types.Logger
	clock        types.Clock
	autoRecovery map[types.FailureReason]time.Duration
	retention    time.Duration
	batchDelay   time.Duration
	sleepFn      func(ctx context.Context, d time.Duration) error
}

// New creates a dead letter queue from opts.
func New(opts Options) *Queue {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	auto := opts.AutoRecovery
	if auto == nil {
		auto = defaultAutoRecovery()
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	batchDelay := opts.BatchDelay
	if batchDelay <= 0 {
		batchDelay = time.Second
	}
	return &Queue{
		store:        opts.Store,
		outcomes:     opts.Outcomes,
		resender:     opts.Resender,
		alerts:       opts.Alerts,
		logger:       opts.Logger,
		clock:        clock,
		autoRecovery: auto,
		retention:    retention,
		batchDelay:   batchDelay,
		sleepFn:      sleepCtx,
	}
}

// Add dead-letters a notification. The record carries a synchronously
// computed forensic analysis; critical-priority arrivals raise an operator
// alert; auto-recoverable failure reasons leave with status scheduled_retry
// and a reason-specific next-retry time, everything else pending_review.
func (q *Queue) Add(ctx context.Context, n *types.Notification, reason types.FailureReason, attemptCount int, lastError string) (types.DeadLetterRecord, error) {
	now := q.clock.Now()
	rec := types.DeadLetterRecord{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		TenantID:       n.TenantID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		FailureReason:  reason,
		AttemptCount:   attemptCount,
		LastError:      lastError,
		Forensics:      q.analyzeForensics(ctx, n, reason, attemptCount, lastError),
		Status:         types.DeadLetterPendingReview,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if delay, ok := q.autoRecovery[reason]; ok && delay > 0 {
		next := now.Add(delay)
		rec.Status = types.DeadLetterScheduledRetry
		rec.NextRetryAt = &next
	}

	if err := q.store.Insert(ctx, rec); err != nil {
		return types.DeadLetterRecord{}, types.NewAppError(types.ErrCodeInternalDB,
			"failed to persist dead letter record", err)
	}

	q.logger.Error("notification dead-lettered",
		"notification_id", n.ID,
		"channel", string(n.Channel),
		"reason", string(reason),
		"attempts", attemptCount,
		"status", string(rec.Status),
	)

	if n.Priority == types.PriorityCritical {
		q.alerts.Raise(ctx, types.AlertCritical,
			"critical notification dead-lettered: "+n.ID,
			map[string]string{
				"notification_id": n.ID,
				"tenant_id":       n.TenantID,
				"channel":         string(n.Channel),
				"reason":          string(reason),
			})
	}

	return rec, nil
}

// Get returns one record by id.
func (q *Queue) Get(ctx context.Context, id string) (types.DeadLetterRecord, error) {
	return q.store.Get(ctx, id)
}

// List returns records matching the filter.
func (q *Queue) List(ctx context.Context, filter Filter) ([]types.DeadLetterRecord, error) {
	return q.store.List(ctx, filter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
