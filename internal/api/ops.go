// Package api contains the HTTP handlers for the resilience worker's
// operational surface: dead letter review, channel selection previews,
// recovery workflow control, and health snapshots.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"relaypoint/internal/channels"
	"relaypoint/internal/dlq"
	"relaypoint/internal/health"
	"relaypoint/internal/orchestrator"
	"relaypoint/internal/types"
)

// DeadLetterService defines the dead letter operations the handler calls.
// Matches dlq.Queue but is defined locally to keep the handler decoupled.
type DeadLetterService interface {
	Get(ctx context.Context, id string) (types.DeadLetterRecord, error)
	List(ctx context.Context, filter dlq.Filter) ([]types.DeadLetterRecord, error)
	PerformManualReview(ctx context.Context, recordID string, action types.ReviewAction, reviewer, notes string, opts dlq.ReviewOptions) (dlq.ReviewResult, error)
	BulkRecover(ctx context.Context, filter dlq.Filter, action types.ReviewAction, reviewer string, opts dlq.ReviewOptions) (dlq.BulkResult, error)
}

// ChannelSelector previews channel ranking for a notification context.
type ChannelSelector interface {
	OptimalChannel(nctx types.NotificationContext, prefs types.ChannelPreferences, exclude []types.ChannelType) (channels.Selection, error)
}

// WorkflowService defines the orchestrator operations exposed over HTTP.
type WorkflowService interface {
	ExecuteWorkflow(ctx context.Context, templateID, serviceID string, wfContext map[string]string, customSteps []orchestrator.RecoveryStep) (*orchestrator.Workflow, error)
	Resume(ctx context.Context, workflowID string) (*orchestrator.Workflow, error)
	RollbackWorkflow(ctx context.Context, workflowID, checkpointID string) (*orchestrator.Workflow, error)
	Cancel(workflowID string) bool
	Active() []string
}

// SystemHealthReader exposes the tiered monitor's live snapshot.
type SystemHealthReader interface {
	SystemHealth(ctx context.Context) health.SystemSnapshot
}

// ChannelHealthReader exposes per-channel health state.
type ChannelHealthReader interface {
	SnapshotAll() map[types.ChannelType]types.ChannelHealth
}

// OpsHandler maps HTTP requests onto the resilience services.
type OpsHandler struct {
	deadLetters DeadLetterService
	selector    ChannelSelector
	workflows   WorkflowService
	system      SystemHealthReader
	channels    ChannelHealthReader
	validator   *validator.Validate
	logger      types.Logger
}

// NewOpsHandler creates the operational handler with its service dependencies.
func NewOpsHandler(
	deadLetters DeadLetterService,
	selector ChannelSelector,
	workflows WorkflowService,
	system SystemHealthReader,
	channelHealth ChannelHealthReader,
	logger types.Logger,
) *OpsHandler {
	return &OpsHandler{
		deadLetters: deadLetters,
		selector:    selector,
		workflows:   workflows,
		system:      system,
		channels:    channelHealth,
		validator:   validator.New(),
		logger:      logger,
	}
}

// RegisterRoutes mounts the operational endpoints onto the mux.
func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleLiveness)
	r.Get("/health/system", h.HandleSystemHealth)
	r.Get("/health/channels", h.HandleChannelHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/dead-letters", h.HandleListDeadLetters)
		r.Get("/dead-letters/{id}", h.HandleGetDeadLetter)
		r.Post("/dead-letters/{id}/review", h.HandleReview)
		r.Post("/dead-letters/recover", h.HandleBulkRecover)

		r.Post("/channels/select", h.HandleSelectChannel)

		r.Get("/workflows/active", h.HandleActiveWorkflows)
		r.Post("/workflows", h.HandleExecuteWorkflow)
		r.Post("/workflows/{id}/resume", h.HandleResumeWorkflow)
		r.Post("/workflows/{id}/rollback", h.HandleRollbackWorkflow)
		r.Post("/workflows/{id}/cancel", h.HandleCancelWorkflow)
	})
}

// HandleLiveness handles GET /health.
func (h *OpsHandler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSystemHealth handles GET /health/system. Returns 503 when the
// aggregate status is critical so load balancers can react.
func (h *OpsHandler) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.system.SystemHealth(r.Context())
	status := http.StatusOK
	if snapshot.Overall == types.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snapshot)
}

// HandleChannelHealth handles GET /health/channels.
func (h *OpsHandler) HandleChannelHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.channels.SnapshotAll())
}

// HandleListDeadLetters handles GET /v1/dead-letters with optional filters:
// tenant_id, channel, reason, status, limit.
func (h *OpsHandler) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := dlq.Filter{
		TenantID:      q.Get("tenant_id"),
		Channel:       types.ChannelType(q.Get("channel")),
		FailureReason: types.FailureReason(q.Get("reason")),
		Status:        types.DeadLetterStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, h.logger, types.NewAppError(types.ErrCodeInternalUnexpected,
				"limit must be a non-negative integer", nil), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	records, err := h.deadLetters.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// HandleGetDeadLetter handles GET /v1/dead-letters/{id}.
func (h *OpsHandler) HandleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deadLetters.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// reviewRequest is the body for POST /v1/dead-letters/{id}/review.
type reviewRequest struct {
	Action             string            `json:"action" validate:"required"`
	Reviewer           string            `json:"reviewer" validate:"required"`
	Notes              string            `json:"notes"`
	AlternativeChannel string            `json:"alternative_channel,omitempty"`
	Modifications      map[string]string `json:"modifications,omitempty"`
}

// HandleReview handles POST /v1/dead-letters/{id}/review.
func (h *OpsHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.deadLetters.PerformManualReview(
		r.Context(),
		chi.URLParam(r, "id"),
		types.ReviewAction(req.Action),
		req.Reviewer,
		req.Notes,
		dlq.ReviewOptions{
			AlternativeChannel: types.ChannelType(req.AlternativeChannel),
			Modifications:      req.Modifications,
		},
	)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// bulkRecoverRequest is the body for POST /v1/dead-letters/recover.
type bulkRecoverRequest struct {
	Action   string `json:"action" validate:"required"`
	Reviewer string `json:"reviewer" validate:"required"`

	TenantID string `json:"tenant_id,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty" validate:"gte=0"`

	AlternativeChannel string            `json:"alternative_channel,omitempty"`
	Modifications      map[string]string `json:"modifications,omitempty"`
}

// HandleBulkRecover handles POST /v1/dead-letters/recover.
func (h *OpsHandler) HandleBulkRecover(w http.ResponseWriter, r *http.Request) {
	var req bulkRecoverRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.deadLetters.BulkRecover(
		r.Context(),
		dlq.Filter{
			TenantID:      req.TenantID,
			Channel:       types.ChannelType(req.Channel),
			FailureReason: types.FailureReason(req.Reason),
			Status:        types.DeadLetterStatus(req.Status),
			Limit:         req.Limit,
		},
		types.ReviewAction(req.Action),
		req.Reviewer,
		dlq.ReviewOptions{
			AlternativeChannel: types.ChannelType(req.AlternativeChannel),
			Modifications:      req.Modifications,
		},
	)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// selectChannelRequest is the body for POST /v1/channels/select.
type selectChannelRequest struct {
	NotificationID      string   `json:"notification_id" validate:"required"`
	TenantID            string   `json:"tenant_id"`
	Priority            string   `json:"priority" validate:"required,oneof=critical high medium low"`
	RequiresRichContent bool     `json:"requires_rich_content"`
	RequiresAttachments bool     `json:"requires_attachments"`
	Urgent              bool     `json:"urgent"`
	Enabled             []string `json:"enabled_channels" validate:"required,min=1"`
	Exclude             []string `json:"exclude_channels,omitempty"`
}

// HandleSelectChannel handles POST /v1/channels/select. It previews the
// channel ranking without sending anything.
func (h *OpsHandler) HandleSelectChannel(w http.ResponseWriter, r *http.Request) {
	var req selectChannelRequest
	if !h.decode(w, r, &req) {
		return
	}

	enabled := make(map[types.ChannelType]bool, len(req.Enabled))
	for _, ch := range req.Enabled {
		enabled[types.ChannelType(ch)] = true
	}
	exclude := make([]types.ChannelType, 0, len(req.Exclude))
	for _, ch := range req.Exclude {
		exclude = append(exclude, types.ChannelType(ch))
	}

	selection, err := h.selector.OptimalChannel(
		types.NotificationContext{
			NotificationID:      req.NotificationID,
			TenantID:            req.TenantID,
			Priority:            types.Priority(req.Priority),
			RequiresRichContent: req.RequiresRichContent,
			RequiresAttachments: req.RequiresAttachments,
			Urgent:              req.Urgent,
		},
		types.ChannelPreferences{Enabled: enabled},
		exclude,
	)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

// executeWorkflowRequest is the body for POST /v1/workflows.
type executeWorkflowRequest struct {
	TemplateID string            `json:"template_id" validate:"required"`
	ServiceID  string            `json:"service_id" validate:"required"`
	Context    map[string]string `json:"context,omitempty"`
}

// HandleExecuteWorkflow handles POST /v1/workflows. The workflow runs
// synchronously; the completed (or failed) workflow is returned.
func (h *OpsHandler) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req executeWorkflowRequest
	if !h.decode(w, r, &req) {
		return
	}

	wf, err := h.workflows.ExecuteWorkflow(r.Context(), req.TemplateID, req.ServiceID, req.Context, nil)
	if err != nil && wf == nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// HandleResumeWorkflow handles POST /v1/workflows/{id}/resume.
func (h *OpsHandler) HandleResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil && wf == nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// rollbackRequest is the body for POST /v1/workflows/{id}/rollback.
type rollbackRequest struct {
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// HandleRollbackWorkflow handles POST /v1/workflows/{id}/rollback. An empty
// checkpoint_id rolls back from the latest checkpoint.
func (h *OpsHandler) HandleRollbackWorkflow(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, types.NewAppError(types.ErrCodeInternalUnexpected,
				"invalid JSON body", err), http.StatusBadRequest)
			return
		}
	}

	wf, err := h.workflows.RollbackWorkflow(r.Context(), chi.URLParam(r, "id"), req.CheckpointID)
	if err != nil && wf == nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// HandleCancelWorkflow handles POST /v1/workflows/{id}/cancel.
func (h *OpsHandler) HandleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.workflows.Cancel(id) {
		writeError(w, h.logger, types.NewAppError(types.ErrCodeWorkflowNotFound,
			"workflow "+id+" is not active", nil), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "cancelling"})
}

// HandleActiveWorkflows handles GET /v1/workflows/active.
func (h *OpsHandler) HandleActiveWorkflows(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active": h.workflows.Active()})
}

// decode parses and validates a JSON request body, writing a 400 and
// returning false on any problem.
func (h *OpsHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, h.logger, types.NewAppError(types.ErrCodeInternalUnexpected,
			"invalid JSON body", err), http.StatusBadRequest)
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		writeError(w, h.logger, types.NewAppError(types.ErrCodeInternalUnexpected,
			"validation failed: "+err.Error(), err), http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps an AppError code onto an HTTP status.
func (h *OpsHandler) writeServiceError(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, err.Error(), err)
	}
	writeError(w, h.logger, appErr, statusFor(appErr.Code))
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrCodeRecordNotFound, types.ErrCodeWorkflowNotFound, types.ErrCodeCheckpointNotFound:
		return http.StatusNotFound
	case types.ErrCodeFallbackExhausted:
		return http.StatusConflict
	case types.ErrCodeCircuitOpen, types.ErrCodeRetryBudgetExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger types.Logger, appErr *types.AppError, status int) {
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "code", string(appErr.Code), "error", appErr.Error())
	}
	writeJSON(w, status, map[string]any{"error": appErr})
}
