package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/dlq"
	"relaypoint/internal/types"
)

// DeadLetterRepository provides data access for the dead_letter_records
// table. Forensics are stored as a jsonb column.
type DeadLetterRepository struct {
	db DBTX
}

var _ dlq.Store = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a repository backed by the given connection
// (pool or transaction).
func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

const deadLetterColumns = `id, notification_id, tenant_id, channel, priority, failure_reason,
	 attempt_count, last_error, forensics, status, next_retry_at, reviewed_by,
	 review_notes, created_at, updated_at`

func (r *DeadLetterRepository) Insert(ctx context.Context, rec types.DeadLetterRecord) error {
	forensics, err := json.Marshal(rec.Forensics)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode forensics", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO dead_letter_records
		 (`+deadLetterColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID,
		rec.NotificationID,
		rec.TenantID,
		string(rec.Channel),
		string(rec.Priority),
		string(rec.FailureReason),
		rec.AttemptCount,
		rec.LastError,
		forensics,
		string(rec.Status),
		rec.NextRetryAt,
		rec.ReviewedBy,
		rec.ReviewNotes,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert dead letter record", err)
	}
	return nil
}

func (r *DeadLetterRepository) Get(ctx context.Context, id string) (types.DeadLetterRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_records WHERE id = $1`, id)
	rec, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.DeadLetterRecord{}, types.NewAppError(types.ErrCodeRecordNotFound,
				"no dead letter record "+id, err)
		}
		return types.DeadLetterRecord{}, types.NewAppError(types.ErrCodeInternalDB,
			"failed to load dead letter record "+id, err)
	}
	return rec, nil
}

func (r *DeadLetterRepository) Update(ctx context.Context, rec types.DeadLetterRecord) error {
	forensics, err := json.Marshal(rec.Forensics)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode forensics", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE dead_letter_records
		 SET status = $2, next_retry_at = $3, reviewed_by = $4, review_notes = $5,
		     forensics = $6, updated_at = $7
		 WHERE id = $1`,
		rec.ID,
		string(rec.Status),
		rec.NextRetryAt,
		rec.ReviewedBy,
		rec.ReviewNotes,
		forensics,
		rec.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update dead letter record "+rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeRecordNotFound, "no dead letter record "+rec.ID, nil)
	}
	return nil
}

func (r *DeadLetterRepository) List(ctx context.Context, filter dlq.Filter) ([]types.DeadLetterRecord, error) {
	var conditions []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.Channel != "" {
		add("channel = $%d", string(filter.Channel))
	}
	if filter.FailureReason != "" {
		add("failure_reason = $%d", string(filter.FailureReason))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	sql := `SELECT ` + deadLetterColumns + ` FROM dead_letter_records`
	if len(conditions) > 0 {
		sql += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	sql += ` ORDER BY created_at`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return r.queryRecords(ctx, sql, args...)
}

func (r *DeadLetterRepository) DueForRetry(ctx context.Context, now time.Time) ([]types.DeadLetterRecord, error) {
	return r.queryRecords(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_records
		 WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		 ORDER BY next_retry_at`,
		string(types.DeadLetterScheduledRetry), now)
}

func (r *DeadLetterRepository) ResolvedBefore(ctx context.Context, cutoff time.Time) ([]types.DeadLetterRecord, error) {
	return r.queryRecords(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_records
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at`,
		string(types.DeadLetterResolved), cutoff)
}

func (r *DeadLetterRepository) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dead_letter_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete dead letter records", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *DeadLetterRepository) queryRecords(ctx context.Context, sql string, args ...any) ([]types.DeadLetterRecord, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query dead letter records", err)
	}
	defer rows.Close()

	var out []types.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dead letter record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read dead letter records", err)
	}
	return out, nil
}

func scanDeadLetter(row pgx.Row) (types.DeadLetterRecord, error) {
	var rec types.DeadLetterRecord
	var channel, priority, reason, status string
	var forensics []byte
	if err := row.Scan(
		&rec.ID,
		&rec.NotificationID,
		&rec.TenantID,
		&channel,
		&priority,
		&reason,
		&rec.AttemptCount,
		&rec.LastError,
		&forensics,
		&status,
		&rec.NextRetryAt,
		&rec.ReviewedBy,
		&rec.ReviewNotes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return types.DeadLetterRecord{}, err
	}
	rec.Channel = types.ChannelType(channel)
	rec.Priority = types.Priority(priority)
	rec.FailureReason = types.FailureReason(reason)
	rec.Status = types.DeadLetterStatus(status)
	if len(forensics) > 0 {
		if err := json.Unmarshal(forensics, &rec.Forensics); err != nil {
			return types.DeadLetterRecord{}, err
		}
	}
	return rec, nil
}
