package dlq

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"relaypoint/internal/types"
)

// bulkBatchSize bounds how many records one bulk-recovery batch touches, so a
// mass recovery cannot stampede the downstream senders.
const bulkBatchSize = 10

// ReviewOptions carries the optional inputs of a manual review action.
type ReviewOptions struct {
	// AlternativeChannel is required for retry_alternative_channel.
	AlternativeChannel types.ChannelType
	// Modifications are field overrides applied by modify_and_retry.
	Modifications map[string]string
}

// ReviewResult reports the outcome of one manual review action.
type ReviewResult struct {
	RecordID string
	Action   types.ReviewAction
	Success  bool
	Status   types.DeadLetterStatus
	Error    string
}

// PerformManualReview applies a reviewer action to a record. Action failures
// are caught and leave the record in manual_review_failed with the failure
// noted, never in an ambiguous state. The returned error covers store
// failures only.
func (q *Queue) PerformManualReview(ctx context.Context, recordID string, action types.ReviewAction, reviewer, notes string, opts ReviewOptions) (ReviewResult, error) {
	rec, err := q.store.Get(ctx, recordID)
	if err != nil {
		return ReviewResult{}, err
	}

	actionErr := q.applyReviewAction(ctx, &rec, action, opts)

	rec.ReviewedBy = reviewer
	rec.ReviewNotes = notes
	rec.UpdatedAt = q.clock.Now()

	result := ReviewResult{RecordID: recordID, Action: action, Success: actionErr == nil}
	if actionErr != nil {
		rec.Status = types.DeadLetterManualReviewFailed
		result.Error = actionErr.Error()
		q.logger.Warn("manual review action failed",
			"record_id", recordID,
			"action", string(action),
			"error", actionErr.Error(),
		)
	}
	result.Status = rec.Status

	if err := q.store.Update(ctx, rec); err != nil {
		return ReviewResult{}, types.NewAppError(types.ErrCodeInternalDB,
			"failed to update dead letter record "+recordID, err)
	}

	q.logger.Info("manual review applied",
		"record_id", recordID,
		"action", string(action),
		"reviewer", reviewer,
		"status", string(rec.Status),
	)
	return result, nil
}

// applyReviewAction mutates rec per the action and performs its side effects.
func (q *Queue) applyReviewAction(ctx context.Context, rec *types.DeadLetterRecord, action types.ReviewAction, opts ReviewOptions) error {
	switch action {
	case types.ReviewRetryOriginal:
		if err := q.resend(ctx, *rec, rec.Channel, nil); err != nil {
			return err
		}
		rec.Status = types.DeadLetterResolved
		return nil

	case types.ReviewRetryAlternative:
		if opts.AlternativeChannel == "" {
			return types.NewAppError(types.ErrCodeInternalUnexpected,
				"retry_alternative_channel requires an alternative channel", nil)
		}
		if err := q.resend(ctx, *rec, opts.AlternativeChannel, nil); err != nil {
			return err
		}
		rec.Status = types.DeadLetterResolved
		return nil

	case types.ReviewModifyAndRetry:
		if err := q.resend(ctx, *rec, rec.Channel, opts.Modifications); err != nil {
			return err
		}
		rec.Status = types.DeadLetterResolved
		return nil

	case types.ReviewMarkResolved, types.ReviewPermanentFailure:
		rec.Status = types.DeadLetterResolved
		return nil

	case types.ReviewEscalate:
		q.alerts.Raise(ctx, types.AlertCritical,
			"dead letter record escalated: "+rec.ID,
			map[string]string{
				"record_id":       rec.ID,
				"notification_id": rec.NotificationID,
				"tenant_id":       rec.TenantID,
				"reason":          string(rec.FailureReason),
			})
		// Stays pending_review; escalation hands it to a human.
		return nil

	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"unknown review action "+string(action), nil)
	}
}

func (q *Queue) resend(ctx context.Context, rec types.DeadLetterRecord, channel types.ChannelType, modifications map[string]string) error {
	if q.resender == nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"no resender configured", nil)
	}
	return q.resender.Resend(ctx, rec, channel, modifications)
}

// BulkResult aggregates a bulk recovery run.
type BulkResult struct {
	Processed int
	Succeeded int
	Failed    int
	Errors    map[string]string // record id -> error text
}

// BulkRecover applies one review action to every record matching the filter,
// in batches of bulkBatchSize with a pause between batches. Per-record
// failures are collected, never aborting the run.
func (q *Queue) BulkRecover(ctx context.Context, filter Filter, action types.ReviewAction, reviewer string, opts ReviewOptions) (BulkResult, error) {
	records, err := q.store.List(ctx, filter)
	if err != nil {
		return BulkResult{}, err
	}

	result := BulkResult{Errors: make(map[string]string)}
	var resultMu sync.Mutex

	for start := 0; start < len(records); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(records) {
			end = len(records)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(bulkBatchSize)
		for _, rec := range records[start:end] {
			rec := rec
			g.Go(func() error {
				rr, err := q.PerformManualReview(gctx, rec.ID, action, reviewer, "bulk recovery", opts)
				resultMu.Lock()
				defer resultMu.Unlock()
				result.Processed++
				switch {
				case err != nil:
					result.Failed++
					result.Errors[rec.ID] = err.Error()
				case !rr.Success:
					result.Failed++
					result.Errors[rec.ID] = rr.Error
				default:
					result.Succeeded++
				}
				return nil
			})
		}
		_ = g.Wait()

		if end < len(records) {
			if err := q.sleepFn(ctx, q.batchDelay); err != nil {
				return result, err
			}
		}
	}

	q.logger.Info("bulk recovery finished",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}
