package store

import (
	"context"
	"encoding/json"

	"relaypoint/internal/types"
)

// AuditRepository persists append-only audit events in the audit_events
// table, one row per event with the payload as jsonb. Audit events are
// written by the fallback service, the recovery manager, and the health
// monitor; the control logic never reads them back.
type AuditRepository struct {
	db DBTX
}

var _ types.AuditAppender = (*AuditRepository)(nil)

// NewAuditRepository creates a repository backed by the given connection.
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) AppendFallbackEvent(ctx context.Context, ev types.FallbackEvent) error {
	return r.append(ctx, "fallback", ev.ID, ev.At, ev)
}

func (r *AuditRepository) AppendRecoveryEvent(ctx context.Context, ev types.RecoveryEvent) error {
	return r.append(ctx, "recovery", ev.ID, ev.At, ev)
}

func (r *AuditRepository) AppendHealthAlert(ctx context.Context, alert types.HealthAlert) error {
	return r.append(ctx, "health_alert", alert.ID, alert.At, alert)
}

func (r *AuditRepository) append(ctx context.Context, kind, id string, at any, payload any) error {
	doc, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode audit event", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_events (id, kind, payload, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		id, kind, doc, at)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append audit event", err)
	}
	return nil
}
