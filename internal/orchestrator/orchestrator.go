package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaypoint/internal/resilience"
	"relaypoint/internal/types"
)

// defaultStepTimeout bounds one execution attempt of a step. A stuck external
// call must never stall a workflow indefinitely.
const defaultStepTimeout = 2 * time.Minute

// WorkflowStore persists workflows incrementally during execution.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
}

// DependencyChecker verifies one pre-step dependency for a target.
type DependencyChecker func(ctx context.Context, target string) error

// Options wires the orchestrator's collaborators.
type Options struct {
	Store       WorkflowStore
	Engine      *resilience.Engine
	Deps        HandlerDeps
	DepChecks   map[types.DependencyType]DependencyChecker
	Logger      types.Logger
	Clock       types.Clock
	StepTimeout time.Duration // default 2m
}

// Orchestrator runs multi-step recovery workflows instantiated from named
// templates, with dependency checks, checkpoints before critical steps, and
// rollback plans that are themselves workflows.
type Orchestrator struct {
	templates   map[string]templateFunc
	store       WorkflowStore
	engine      *resilience.Engine
	deps        HandlerDeps
	depChecks   map[types.DependencyType]DependencyChecker
	logger      types.Logger
	clock       types.Clock
	stepTimeout time.Duration

	mu        sync.Mutex
	active    map[string]*Workflow
	cancelled map[string]bool
}

// New creates an orchestrator from opts.
func New(opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	timeout := opts.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	return &Orchestrator{
		templates:   builtinTemplates(),
		store:       opts.Store,
		engine:      opts.Engine,
		deps:        opts.Deps,
		depChecks:   opts.DepChecks,
		logger:      opts.Logger,
		clock:       clock,
		stepTimeout: timeout,
		active:      make(map[string]*Workflow),
		cancelled:   make(map[string]bool),
	}
}

// ExecuteWorkflow instantiates a workflow from templateID and runs it to a
// terminal state. Custom steps, when supplied, replace the template's steps
// but keep its rollback plan.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, templateID, serviceID string, wfContext map[string]string, customSteps []RecoveryStep) (*Workflow, error) {
	tmpl, ok := o.templates[templateID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeWorkflowNotFound,
			"no workflow template "+templateID, nil)
	}

	steps, rollback := tmpl()
	if len(customSteps) > 0 {
		steps = customSteps
	}
	for i := range steps {
		steps[i].Status = StepPending
	}

	wf := &Workflow{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		ServiceID:  serviceID,
		Steps:      steps,
		State:      types.WorkflowPending,
		Context:    copyContext(wfContext),
		Rollback:   rollback,
		StartedAt:  o.clock.Now(),
	}
	if wf.Context == nil {
		wf.Context = make(map[string]string)
	}

	return wf, o.runWorkflow(ctx, wf)
}

// Launch satisfies the recovery manager's workflow-launcher interface.
func (o *Orchestrator) Launch(ctx context.Context, templateID string, serviceID string) error {
	_, err := o.ExecuteWorkflow(ctx, templateID, serviceID, nil, nil)
	return err
}

// Resume continues a workflow from its recorded current step. Steps already
// completed are never re-executed.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string) (*Workflow, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	switch wf.State {
	case types.WorkflowCompleted:
		return wf, nil
	case types.WorkflowRunning:
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"workflow "+workflowID+" is already running", nil)
	}
	wf.CompletedAt = nil
	return wf, o.runWorkflow(ctx, wf)
}

// Cancel marks an active workflow cancelled. Best-effort: a step already
// mid-execution runs to completion and the workflow is marked cancelled
// before the next step. Returns false when the workflow is not active.
func (o *Orchestrator) Cancel(workflowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[workflowID]; !ok {
		return false
	}
	o.cancelled[workflowID] = true
	return true
}

// Active returns the ids of workflows currently executing.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// runWorkflow executes steps sequentially from wf.CurrentStep to a terminal
// state, persisting incrementally after every step.
func (o *Orchestrator) runWorkflow(ctx context.Context, wf *Workflow) error {
	wf.State = types.WorkflowRunning
	o.mu.Lock()
	o.active[wf.ID] = wf
	o.mu.Unlock()
	defer o.evict(wf.ID)

	o.persist(ctx, wf)
	o.logger.Info("workflow started",
		"workflow_id", wf.ID,
		"template", wf.TemplateID,
		"from_step", wf.CurrentStep,
	)

	for wf.CurrentStep < len(wf.Steps) {
		if o.isCancelled(wf.ID) {
			return o.finish(ctx, wf, types.WorkflowCancelled,
				types.NewAppError(types.ErrCodeWorkflowCancelled, "workflow "+wf.ID+" cancelled", nil))
		}

		i := wf.CurrentStep
		step := &wf.Steps[i]

		if err := o.checkDependencies(ctx, step); err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			return o.finish(ctx, wf, types.WorkflowFailed,
				types.NewAppError(types.ErrCodeWorkflowDepsNotReady,
					"dependencies not ready for step "+step.ID, err))
		}

		if step.Critical {
			o.takeCheckpoint(wf, i)
		}

		step.Status = StepRunning
		err := o.executeStepWithRetry(ctx, wf, *step)
		now := o.clock.Now()
		step.CompletedAt = &now

		if err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			o.logger.Error("workflow step failed",
				"workflow_id", wf.ID,
				"step_id", step.ID,
				"critical", step.Critical,
				"error", err.Error(),
			)
			if step.Critical && !step.ContinueOnFailure {
				wf.recomputeProgress()
				return o.finish(ctx, wf, types.WorkflowFailed,
					fmt.Errorf("critical step %s failed: %w", step.ID, err))
			}
		} else {
			step.Status = StepCompleted
		}

		wf.CurrentStep = i + 1
		wf.recomputeProgress()
		o.persist(ctx, wf)
	}

	return o.finish(ctx, wf, types.WorkflowCompleted, nil)
}

// executeStepWithRetry runs one step through the retry engine with the
// orchestrator's per-attempt timeout.
func (o *Orchestrator) executeStepWithRetry(ctx context.Context, wf *Workflow, step RecoveryStep) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.stepTimeout
	}

	policy := resilience.Policy{
		ServiceID:            "recovery-orchestrator",
		Priority:             types.PriorityHigh,
		MaxAttempts:          3,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		Multiplier:           2,
		Strategy:             types.BackoffExponential,
		Jitter:               types.JitterNone,
		RetryOnUnknownErrors: true,
	}

	return o.engine.ExecuteWithRetry(ctx, wf.ID+"/"+step.ID, func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return o.executeStep(stepCtx, wf, step)
	}, policy)
}

func (o *Orchestrator) checkDependencies(ctx context.Context, step *RecoveryStep) error {
	for _, dep := range step.Dependencies {
		check, ok := o.depChecks[dep.Type]
		if !ok {
			return fmt.Errorf("no checker for dependency type %s", dep.Type)
		}
		if err := check(ctx, dep.Target); err != nil {
			return fmt.Errorf("dependency %s/%s: %w", dep.Type, dep.Target, err)
		}
	}
	return nil
}

// takeCheckpoint snapshots the workflow context before a critical step.
func (o *Orchestrator) takeCheckpoint(wf *Workflow, stepIndex int) {
	wf.Checkpoints = append(wf.Checkpoints, Checkpoint{
		ID:        uuid.New().String(),
		StepIndex: stepIndex,
		StepID:    wf.Steps[stepIndex].ID,
		Context:   copyContext(wf.Context),
		TakenAt:   o.clock.Now(),
	})
}

// RollbackWorkflow builds a workflow whose steps undo everything executed
// since the chosen checkpoint (latest when checkpointID is empty), in reverse
// execution order, and runs it through the same machinery.
func (o *Orchestrator) RollbackWorkflow(ctx context.Context, workflowID, checkpointID string) (*Workflow, error) {
	source, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if source.Rollback == nil || len(source.Rollback.StepRollbacks) == 0 {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"workflow "+workflowID+" has no rollback plan", nil)
	}
	if len(source.Checkpoints) == 0 {
		return nil, types.NewAppError(types.ErrCodeCheckpointNotFound,
			"workflow "+workflowID+" has no checkpoints", nil)
	}

	checkpoint := source.Checkpoints[len(source.Checkpoints)-1]
	if checkpointID != "" {
		found := false
		for _, cp := range source.Checkpoints {
			if cp.ID == checkpointID {
				checkpoint = cp
				found = true
				break
			}
		}
		if !found {
			return nil, types.NewAppError(types.ErrCodeCheckpointNotFound,
				"no checkpoint "+checkpointID+" on workflow "+workflowID, nil)
		}
	}

	// Undo executed steps from most recent back to the checkpoint's step.
	var rollbackSteps []RecoveryStep
	for i := len(source.Steps) - 1; i >= checkpoint.StepIndex; i-- {
		step := source.Steps[i]
		if step.Status != StepCompleted && step.Status != StepFailed {
			continue
		}
		for _, rb := range source.Rollback.StepRollbacks[step.ID] {
			rb.Status = StepPending
			rollbackSteps = append(rollbackSteps, rb)
		}
	}
	if len(rollbackSteps) == 0 {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"nothing to roll back since checkpoint "+checkpoint.ID, nil)
	}

	wf := &Workflow{
		ID:         uuid.New().String(),
		TemplateID: source.TemplateID + ":rollback",
		ServiceID:  source.ServiceID,
		Steps:      rollbackSteps,
		State:      types.WorkflowPending,
		Context:    copyContext(checkpoint.Context),
		StartedAt:  o.clock.Now(),
	}

	o.logger.Info("rollback workflow built",
		"source_workflow_id", workflowID,
		"checkpoint_id", checkpoint.ID,
		"steps", len(rollbackSteps),
	)
	return wf, o.runWorkflow(ctx, wf)
}

func (o *Orchestrator) finish(ctx context.Context, wf *Workflow, state types.WorkflowState, err error) error {
	now := o.clock.Now()
	wf.State = state
	wf.CompletedAt = &now
	o.persist(ctx, wf)

	o.logger.Info("workflow finished",
		"workflow_id", wf.ID,
		"template", wf.TemplateID,
		"state", string(state),
		"progress", wf.Progress,
	)
	return err
}

// persist saves the workflow best-effort. A persistence failure never aborts
// execution; the in-memory run continues and the next save retries.
func (o *Orchestrator) persist(ctx context.Context, wf *Workflow) {
	if err := o.store.SaveWorkflow(ctx, wf); err != nil {
		o.logger.Error("failed to persist workflow",
			"workflow_id", wf.ID,
			"error", err.Error(),
		)
	}
}

func (o *Orchestrator) evict(workflowID string) {
	o.mu.Lock()
	delete(o.active, workflowID)
	delete(o.cancelled, workflowID)
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled(workflowID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[workflowID]
}
