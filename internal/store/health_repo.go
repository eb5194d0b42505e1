package store

import (
	"context"
	"encoding/json"

	"relaypoint/internal/health"
	"relaypoint/internal/types"
)

// HealthRepository persists health snapshots in the health_history table.
// The monitor keeps its own bounded in-memory history; this table is the
// durable trail dashboards query over longer ranges.
type HealthRepository struct {
	db DBTX
}

var _ health.HistoryAppender = (*HealthRepository)(nil)

// NewHealthRepository creates a repository backed by the given connection.
func NewHealthRepository(db DBTX) *HealthRepository {
	return &HealthRepository{db: db}
}

func (r *HealthRepository) AppendHealthSnapshot(ctx context.Context, sh types.ServiceHealth) error {
	details, err := json.Marshal(sh.Details)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode health details", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO health_history
		 (service_id, status, latency_ms, error_rate, details, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sh.ServiceID,
		string(sh.Status),
		sh.Latency.Milliseconds(),
		sh.ErrorRate,
		details,
		sh.LastCheck,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append health snapshot", err)
	}
	return nil
}
