package types

// ChannelType identifies a notification delivery channel.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelPush  ChannelType = "push"
	ChannelInApp ChannelType = "in_app"
	ChannelSMS   ChannelType = "sms"
)

// AllChannels lists every delivery channel in ranking-table order. Ties in
// channel ranking are broken by this order (stable sort).
var AllChannels = []ChannelType{ChannelEmail, ChannelPush, ChannelInApp, ChannelSMS}

// Priority determines retry-budget tiers and queue ordering.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityOrder lists priorities from most to least urgent. Retry queue
// dequeue scans buckets in this order.
var PriorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Rank returns a numeric rank for the priority; lower is more urgent.
// Unknown priorities rank after low.
func (p Priority) Rank() int {
	for i, known := range PriorityOrder {
		if p == known {
			return i
		}
	}
	return len(PriorityOrder)
}

// HealthStatus is the coarse health tier for a service or channel.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// FailureReason is the closed enumeration of terminal delivery failure causes
// recorded on dead-letter records.
type FailureReason string

const (
	FailureRateLimitExceeded  FailureReason = "rate_limit_exceeded"
	FailureServiceUnavailable FailureReason = "temporary_service_unavailable"
	FailureNetworkTimeout     FailureReason = "network_timeout"
	FailureAuthentication     FailureReason = "authentication_failed"
	FailureInvalidRecipient   FailureReason = "invalid_recipient"
	FailurePayloadRejected    FailureReason = "payload_rejected"
	FailureChannelDisabled    FailureReason = "channel_disabled"
	FailureRetriesExhausted   FailureReason = "max_retries_exhausted"
	FailureFallbackExhausted  FailureReason = "fallback_exhausted"
	FailureUnknown            FailureReason = "unknown_failure"
)

// DeadLetterStatus tracks the review lifecycle of a dead-letter record.
type DeadLetterStatus string

const (
	DeadLetterPendingReview      DeadLetterStatus = "pending_review"
	DeadLetterScheduledRetry     DeadLetterStatus = "scheduled_retry"
	DeadLetterResolved           DeadLetterStatus = "resolved"
	DeadLetterManualReviewFailed DeadLetterStatus = "manual_review_failed"
)

// ReviewAction enumerates the operator actions available during manual review
// of a dead-letter record.
type ReviewAction string

const (
	ReviewRetryOriginal    ReviewAction = "retry_original"
	ReviewRetryAlternative ReviewAction = "retry_alternative_channel"
	ReviewModifyAndRetry   ReviewAction = "modify_and_retry"
	ReviewMarkResolved     ReviewAction = "mark_resolved"
	ReviewPermanentFailure ReviewAction = "permanent_failure"
	ReviewEscalate         ReviewAction = "escalate"
)

// ErrorCategory is the classification taxonomy for delivery failures.
type ErrorCategory string

const (
	CategoryNetwork            ErrorCategory = "network"
	CategoryAuthentication     ErrorCategory = "authentication"
	CategoryRateLimit          ErrorCategory = "rate_limit"
	CategoryResourceExhaustion ErrorCategory = "resource_exhaustion"
	CategoryDatabase           ErrorCategory = "database"
	CategoryThirdParty         ErrorCategory = "third_party"
	CategoryUnknown            ErrorCategory = "unknown"
)

// Severity grades the impact of a classified failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// StrategyType names a recovery strategy archetype.
type StrategyType string

const (
	StrategyRetry              StrategyType = "retry"
	StrategyRefreshCredentials StrategyType = "refresh_credentials"
	StrategyBackoffAndRetry    StrategyType = "backoff_and_retry"
	StrategyResourceOptimize   StrategyType = "resource_optimization"
	StrategyDatabaseRecovery   StrategyType = "database_recovery"
)

// BackoffStrategy selects the delay growth formula between retry attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
	BackoffPolynomial  BackoffStrategy = "polynomial"
)

// JitterType selects how randomness perturbs a computed backoff delay.
type JitterType string

const (
	JitterNone         JitterType = "none"
	JitterFull         JitterType = "full"
	JitterEqual        JitterType = "equal"
	JitterDecorrelated JitterType = "decorrelated"
)

// FallbackStrategy names how a failed delivery is redirected.
type FallbackStrategy string

const (
	FallbackImmediateAlternative FallbackStrategy = "immediate_alternative"
	FallbackDelayedRetry         FallbackStrategy = "delayed_retry"
	FallbackAdminEscalation      FallbackStrategy = "admin_escalation"
	FallbackUserNotification     FallbackStrategy = "user_notification"
)

// WorkflowState is the lifecycle state of a recovery workflow run.
type WorkflowState string

const (
	WorkflowPending   WorkflowState = "pending"
	WorkflowRunning   WorkflowState = "running"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// StepType enumerates the recovery step handlers. The orchestrator dispatches
// over this closed set; an unrecognized type is an execution error, never a
// silent fallthrough.
type StepType string

const (
	StepServiceRestart     StepType = "service_restart"
	StepFailover           StepType = "failover"
	StepDataRecovery       StepType = "data_recovery"
	StepConfigUpdate       StepType = "configuration_update"
	StepCacheInvalidation  StepType = "cache_invalidation"
	StepConnectionReset    StepType = "connection_reset"
	StepHealthCheck        StepType = "health_check"
	StepNotificationResend StepType = "notification_resend"
	StepUserNotification   StepType = "user_notification"
)

// DependencyType enumerates pre-step dependency checks.
type DependencyType string

const (
	DepServiceHealthy  DependencyType = "service_healthy"
	DepDataAvailable   DependencyType = "data_available"
	DepExternalService DependencyType = "external_service"
)

// ComponentType routes a monitored component to its health probe family.
type ComponentType string

const (
	ComponentDatabase        ComponentType = "database"
	ComponentExternalAPI     ComponentType = "external_api"
	ComponentChannel         ComponentType = "notification_channel"
	ComponentInternalService ComponentType = "internal_service"
)

// MonitorTier determines the polling cadence for a monitored component.
type MonitorTier string

const (
	TierCritical  MonitorTier = "critical"
	TierImportant MonitorTier = "important"
	TierStandard  MonitorTier = "standard"
)

// AlertSeverity grades operator alerts.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)
