package dlq

import (
	"context"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"

	"relaypoint/internal/types"
)

// ProcessDueRetries re-attempts every scheduled_retry record whose next-retry
// time has passed. A successful resend resolves the record; a failed one
// drops it back to pending_review for a human, since the automatic path
// already had its chance.
func (q *Queue) ProcessDueRetries(ctx context.Context) (int, error) {
	due, err := q.store.DueForRetry(ctx, q.clock.Now())
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, rec := range due {
		err := q.resend(ctx, rec, rec.Channel, nil)
		if err == nil {
			rec.Status = types.DeadLetterResolved
			recovered++
		} else {
			rec.Status = types.DeadLetterPendingReview
			q.logger.Warn("auto-recovery retry failed",
				"record_id", rec.ID,
				"error", err.Error(),
			)
		}
		rec.NextRetryAt = nil
		rec.UpdatedAt = q.clock.Now()
		if uerr := q.store.Update(ctx, rec); uerr != nil {
			return recovered, types.NewAppError(types.ErrCodeInternalDB,
				"failed to update dead letter record "+rec.ID, uerr)
		}
	}

	if len(due) > 0 {
		q.logger.Info("auto-recovery pass finished",
			"due", len(due),
			"recovered", recovered,
		)
	}
	return recovered, nil
}

// Sweep archives resolved records older than the retention cutoff to w as
// zstd-compressed JSON lines, then deletes them. The archive write happens
// before deletion so a failed sweep never loses records. Pass a nil writer to
// delete without archiving.
func (q *Queue) Sweep(ctx context.Context, w io.Writer) (int, error) {
	cutoff := q.clock.Now().Add(-q.retention)
	expired, err := q.store.ResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if w != nil {
		if err := writeArchive(w, expired); err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalUnexpected,
				"failed to archive expired dead letter records", err)
		}
	}

	ids := make([]string, len(expired))
	for i, rec := range expired {
		ids[i] = rec.ID
	}
	deleted, err := q.store.Delete(ctx, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB,
			"failed to delete expired dead letter records", err)
	}

	q.logger.Info("retention sweep finished",
		"cutoff", cutoff,
		"deleted", deleted,
	)
	return deleted, nil
}

func writeArchive(w io.Writer, records []types.DeadLetterRecord) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}
