package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/orchestrator"
	"relaypoint/internal/types"
)

// WorkflowRepository persists recovery workflows in the recovery_workflows
// table. Steps, checkpoints, context, and the rollback plan are stored as
// jsonb; the orchestrator saves incrementally after every step, so the row is
// upserted on conflict.
type WorkflowRepository struct {
	db DBTX
}

var _ orchestrator.WorkflowStore = (*WorkflowRepository)(nil)

// NewWorkflowRepository creates a repository backed by the given connection.
func NewWorkflowRepository(db DBTX) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// workflowDoc is the jsonb payload holding everything except the indexed
// columns.
type workflowDoc struct {
	Steps       []orchestrator.RecoveryStep `json:"steps"`
	Context     map[string]string           `json:"context"`
	Checkpoints []orchestrator.Checkpoint   `json:"checkpoints"`
	Rollback    *orchestrator.RollbackPlan  `json:"rollback,omitempty"`
}

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *orchestrator.Workflow) error {
	doc, err := json.Marshal(workflowDoc{
		Steps:       wf.Steps,
		Context:     wf.Context,
		Checkpoints: wf.Checkpoints,
		Rollback:    wf.Rollback,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode workflow", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO recovery_workflows
		 (id, template_id, service_id, state, current_step, progress, doc, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   state = EXCLUDED.state,
		   current_step = EXCLUDED.current_step,
		   progress = EXCLUDED.progress,
		   doc = EXCLUDED.doc,
		   completed_at = EXCLUDED.completed_at`,
		wf.ID,
		wf.TemplateID,
		wf.ServiceID,
		string(wf.State),
		wf.CurrentStep,
		wf.Progress,
		doc,
		wf.StartedAt,
		wf.CompletedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save workflow "+wf.ID, err)
	}
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*orchestrator.Workflow, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, template_id, service_id, state, current_step, progress, doc, started_at, completed_at
		 FROM recovery_workflows WHERE id = $1`, id)

	var wf orchestrator.Workflow
	var state string
	var doc []byte
	if err := row.Scan(
		&wf.ID,
		&wf.TemplateID,
		&wf.ServiceID,
		&state,
		&wf.CurrentStep,
		&wf.Progress,
		&doc,
		&wf.StartedAt,
		&wf.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeWorkflowNotFound, "no workflow "+id, err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load workflow "+id, err)
	}
	wf.State = types.WorkflowState(state)

	var decoded workflowDoc
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode workflow "+id, err)
	}
	wf.Steps = decoded.Steps
	wf.Context = decoded.Context
	wf.Checkpoints = decoded.Checkpoints
	wf.Rollback = decoded.Rollback
	return &wf, nil
}
