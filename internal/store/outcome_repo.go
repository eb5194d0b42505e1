package store

import (
	"context"
	"time"

	"relaypoint/internal/channels"
	"relaypoint/internal/types"
)

// OutcomeRepository provides data access for the delivery_log table. Every
// delivery attempt appends one row; the channel health monitor and the dead
// letter queue's forensics read trailing windows from it.
type OutcomeRepository struct {
	db DBTX
}

var _ channels.OutcomeSource = (*OutcomeRepository)(nil)

// NewOutcomeRepository creates a repository backed by the given connection.
func NewOutcomeRepository(db DBTX) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Append records one delivery outcome.
func (r *OutcomeRepository) Append(ctx context.Context, o types.DeliveryOutcome) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_log
		 (notification_id, channel, success, latency_ms, error, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.NotificationID,
		string(o.Channel),
		o.Success,
		o.Latency.Milliseconds(),
		o.Error,
		o.At,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append delivery outcome", err)
	}
	return nil
}

// RecentOutcomes returns a channel's outcomes since the given time, oldest
// first.
func (r *OutcomeRepository) RecentOutcomes(ctx context.Context, channel types.ChannelType, since time.Time) ([]types.DeliveryOutcome, error) {
	rows, err := r.db.Query(ctx,
		`SELECT notification_id, channel, success, latency_ms, error, occurred_at
		 FROM delivery_log
		 WHERE channel = $1 AND occurred_at >= $2
		 ORDER BY occurred_at`,
		string(channel), since)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query delivery outcomes", err)
	}
	defer rows.Close()

	var out []types.DeliveryOutcome
	for rows.Next() {
		var o types.DeliveryOutcome
		var ch string
		var latencyMS int64
		if err := rows.Scan(&o.NotificationID, &ch, &o.Success, &latencyMS, &o.Error, &o.At); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery outcome", err)
		}
		o.Channel = types.ChannelType(ch)
		o.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read delivery outcomes", err)
	}
	return out, nil
}
