package orchestrator

import (
	"context"

	"relaypoint/internal/types"
)

// ServiceController performs process-level actions on a managed service.
// Backed by the deployment environment outside this core.
type ServiceController interface {
	Restart(ctx context.Context, target string) error
	Failover(ctx context.Context, target string) error
	ResetConnections(ctx context.Context, target string) error
	ReloadConfig(ctx context.Context, target string) error
}

// DataRestorer re-applies records lost or left unflushed by an outage.
type DataRestorer interface {
	Restore(ctx context.Context, target string) error
}

// CacheInvalidator drops cached state for a scope.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, scope string) error
}

// HealthChecker verifies a target is responding.
type HealthChecker interface {
	Check(ctx context.Context, target string) error
}

// NotificationResender re-sends notifications held back during an outage.
type NotificationResender interface {
	ResendPending(ctx context.Context, target string) (int, error)
}

// UserNotifier tells affected users about a delivery disruption.
type UserNotifier interface {
	NotifyDisruption(ctx context.Context, message string) error
}

// HandlerDeps carries the collaborators the step handlers act through. Any
// nil collaborator fails its steps instead of silently succeeding.
type HandlerDeps struct {
	Services ServiceController
	Data     DataRestorer
	Caches   CacheInvalidator
	Health   HealthChecker
	Resender NotificationResender
	Users    UserNotifier
}

// executeStep dispatches a step to its handler over the closed step-type set.
// An unrecognized type is an execution error, never a silent fallthrough.
func (o *Orchestrator) executeStep(ctx context.Context, wf *Workflow, step RecoveryStep) error {
	target := step.Params["target"]

	switch step.Type {
	case types.StepServiceRestart:
		if o.deps.Services == nil {
			return missingCollaborator("service controller")
		}
		return o.deps.Services.Restart(ctx, target)

	case types.StepFailover:
		if o.deps.Services == nil {
			return missingCollaborator("service controller")
		}
		return o.deps.Services.Failover(ctx, target)

	case types.StepConnectionReset:
		if o.deps.Services == nil {
			return missingCollaborator("service controller")
		}
		return o.deps.Services.ResetConnections(ctx, target)

	case types.StepConfigUpdate:
		if o.deps.Services == nil {
			return missingCollaborator("service controller")
		}
		return o.deps.Services.ReloadConfig(ctx, target)

	case types.StepDataRecovery:
		if o.deps.Data == nil {
			return missingCollaborator("data restorer")
		}
		return o.deps.Data.Restore(ctx, target)

	case types.StepCacheInvalidation:
		if o.deps.Caches == nil {
			return missingCollaborator("cache invalidator")
		}
		return o.deps.Caches.Invalidate(ctx, step.Params["scope"])

	case types.StepHealthCheck:
		if o.deps.Health == nil {
			return missingCollaborator("health checker")
		}
		return o.deps.Health.Check(ctx, target)

	case types.StepNotificationResend:
		if o.deps.Resender == nil {
			return missingCollaborator("notification resender")
		}
		count, err := o.deps.Resender.ResendPending(ctx, target)
		if err != nil {
			return err
		}
		o.logger.Info("resent pending notifications",
			"workflow_id", wf.ID,
			"target", target,
			"count", count,
		)
		return nil

	case types.StepUserNotification:
		if o.deps.Users == nil {
			return missingCollaborator("user notifier")
		}
		return o.deps.Users.NotifyDisruption(ctx, step.Params["message"])

	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"unknown recovery step type "+string(step.Type), nil)
	}
}

func missingCollaborator(name string) error {
	return types.NewAppError(types.ErrCodeInternalUnexpected,
		"no "+name+" configured", nil)
}
