package orchestrator

import (
	"time"

	"relaypoint/internal/types"
)

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// DependencyCheck must pass before its step may run.
type DependencyCheck struct {
	Type   types.DependencyType
	Target string
}

// RecoveryStep is one unit of a recovery workflow.
type RecoveryStep struct {
	ID   string
	Name string
	Type types.StepType

	// Critical steps get a checkpoint before execution and abort the whole
	// workflow on failure unless ContinueOnFailure is set.
	Critical          bool
	ContinueOnFailure bool

	// Timeout bounds one execution attempt. Zero applies the orchestrator
	// default.
	Timeout time.Duration

	Dependencies []DependencyCheck
	Params       map[string]string

	Status      StepStatus
	Error       string
	CompletedAt *time.Time
}

// Checkpoint is a deep snapshot of workflow context taken before a critical
// step, referenced later for rollback.
type Checkpoint struct {
	ID        string
	StepIndex int
	StepID    string
	Context   map[string]string
	TakenAt   time.Time
}

// RollbackPlan maps a step to the steps that undo it.
type RollbackPlan struct {
	StepRollbacks map[string][]RecoveryStep
}

// Workflow is one orchestration run instantiated from a template.
type Workflow struct {
	ID          string
	TemplateID  string
	ServiceID   string
	Steps       []RecoveryStep
	State       types.WorkflowState
	CurrentStep int
	Progress    float64 // percent of steps finished
	Context     map[string]string
	Checkpoints []Checkpoint
	Rollback    *RollbackPlan
	StartedAt   time.Time
	CompletedAt *time.Time
}

// recomputeProgress updates the percentage of steps in a terminal status.
func (w *Workflow) recomputeProgress() {
	if len(w.Steps) == 0 {
		w.Progress = 100
		return
	}
	done := 0
	for _, s := range w.Steps {
		if s.Status == StepCompleted || s.Status == StepFailed {
			done++
		}
	}
	w.Progress = float64(done) / float64(len(w.Steps)) * 100
}

// copyContext deep-copies a workflow context map.
func copyContext(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
