package recovery

import (
	"time"

	"relaypoint/internal/types"
)

// EscalationCondition names the trigger for an escalation rule.
type EscalationCondition string

const (
	CondRetryExhausted   EscalationCondition = "retry_exhausted"
	CondStillFailing     EscalationCondition = "still_failing"
	CondCircuitOpen      EscalationCondition = "circuit_open"
	CondRecoveryTimedOut EscalationCondition = "recovery_timed_out"
	CondStrategyErrored  EscalationCondition = "strategy_errored"
)

// EscalationAction names what the manager does when a condition fires.
type EscalationAction string

const (
	ActionUseFallbackChannel EscalationAction = "use_fallback_channel"
	ActionAlertOperations    EscalationAction = "alert_operations"
	ActionTriggerWorkflow    EscalationAction = "trigger_workflow"
	ActionDeadLetter         EscalationAction = "dead_letter"
)

// EscalationRule is a condition -> action pair evaluated by the recovery
// manager when a strategy's own measures fail.
type EscalationRule struct {
	Condition EscalationCondition
	Action    EscalationAction
	// WorkflowTemplate names the orchestrator template for ActionTriggerWorkflow.
	WorkflowTemplate string
}

// Strategy is the recovery plan produced for a classified failure.
type Strategy struct {
	Type              types.StrategyType
	RetryCount        int
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	FallbackChannels  []types.ChannelType
	Escalations       []EscalationRule
}

// DetermineStrategy maps a classification to its recovery strategy archetype.
// Each category gets a distinct plan; the caller (the recovery manager or a
// delivery worker) executes the plan and evaluates escalations.
func DetermineStrategy(c Classification, cctx Context) Strategy {
	switch c.Category {
	case types.CategoryNetwork:
		return Strategy{
			Type:              types.StrategyRetry,
			RetryCount:        3,
			BackoffMultiplier: 2.0,
			MaxBackoff:        30 * time.Second,
			FallbackChannels:  fallbackOrderFor(cctx.Channel),
			Escalations: []EscalationRule{
				{Condition: CondRetryExhausted, Action: ActionUseFallbackChannel},
				{Condition: CondCircuitOpen, Action: ActionAlertOperations},
			},
		}
	case types.CategoryAuthentication:
		return Strategy{
			Type:       types.StrategyRefreshCredentials,
			RetryCount: 1,
			MaxBackoff: 0,
			Escalations: []EscalationRule{
				{Condition: CondStillFailing, Action: ActionAlertOperations},
				{Condition: CondStrategyErrored, Action: ActionAlertOperations},
				{Condition: CondRecoveryTimedOut, Action: ActionAlertOperations},
			},
		}
	case types.CategoryRateLimit:
		return Strategy{
			Type:              types.StrategyBackoffAndRetry,
			RetryCount:        5,
			BackoffMultiplier: 3.0,
			MaxBackoff:        5 * time.Minute,
			Escalations: []EscalationRule{
				{Condition: CondRetryExhausted, Action: ActionUseFallbackChannel},
			},
		}
	case types.CategoryResourceExhaustion:
		return Strategy{
			Type:              types.StrategyResourceOptimize,
			RetryCount:        2,
			BackoffMultiplier: 2.0,
			MaxBackoff:        2 * time.Minute,
			Escalations: []EscalationRule{
				{Condition: CondStillFailing, Action: ActionAlertOperations},
				{Condition: CondRetryExhausted, Action: ActionDeadLetter},
			},
		}
	case types.CategoryDatabase:
		return Strategy{
			Type:              types.StrategyDatabaseRecovery,
			RetryCount:        2,
			BackoffMultiplier: 2.0,
			MaxBackoff:        1 * time.Minute,
			Escalations: []EscalationRule{
				{Condition: CondStillFailing, Action: ActionTriggerWorkflow, WorkflowTemplate: "database_recovery"},
				{Condition: CondStrategyErrored, Action: ActionAlertOperations},
				{Condition: CondRecoveryTimedOut, Action: ActionAlertOperations},
			},
		}
	case types.CategoryThirdParty:
		return Strategy{
			Type:              types.StrategyRetry,
			RetryCount:        3,
			BackoffMultiplier: 2.0,
			MaxBackoff:        2 * time.Minute,
			FallbackChannels:  fallbackOrderFor(cctx.Channel),
			Escalations: []EscalationRule{
				{Condition: CondRetryExhausted, Action: ActionUseFallbackChannel},
				{Condition: CondCircuitOpen, Action: ActionUseFallbackChannel},
			},
		}
	default:
		return Strategy{
			Type:       types.StrategyRetry,
			RetryCount: 1,
			MaxBackoff: 30 * time.Second,
			Escalations: []EscalationRule{
				{Condition: CondRetryExhausted, Action: ActionDeadLetter},
			},
		}
	}
}

// fallbackOrderFor returns the alternative channels for a failed channel,
// most preferred first. The channel fallback service refines this with live
// health ranking; this list is the strategy's static hint.
func fallbackOrderFor(failed types.ChannelType) []types.ChannelType {
	var out []types.ChannelType
	for _, ch := range types.AllChannels {
		if ch != failed {
			out = append(out, ch)
		}
	}
	return out
}
