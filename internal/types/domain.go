package types

import "time"

// Notification is the unit of delivery handled by the resilience core. The
// rendering and transport of the payload belong to the channel senders; the
// core only routes, retries, and records it.
type Notification struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Channel   ChannelType       `json:"channel"`
	Priority  Priority          `json:"priority"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// DeliveryResult is returned by channel senders.
type DeliveryResult struct {
	Success           bool
	ProviderMessageID string
	Latency           time.Duration
}

// DeliveryOutcome is one row of the delivery outcome log. The channel health
// monitor recomputes windowed availability/error-rate/latency from these, and
// the dead letter queue's forensic analysis scans them for related incidents.
type DeliveryOutcome struct {
	NotificationID string
	Channel        ChannelType
	Success        bool
	Latency        time.Duration
	Error          string
	At             time.Time
}

// NotificationContext carries the delivery-relevant attributes of a
// notification into ranking and classification decisions.
type NotificationContext struct {
	NotificationID      string
	TenantID            string
	ServiceID           string
	Channel             ChannelType
	Priority            Priority
	AttemptCount        int
	RequiresRichContent bool
	RequiresAttachments bool
	Urgent              bool
}

// FallbackRule is a tenant-defined override for fallback strategy selection.
// Rules are evaluated in declaration order; the first rule whose Match
// substring appears in the failure reason wins.
type FallbackRule struct {
	Match    string           `json:"match"`
	Strategy FallbackStrategy `json:"strategy"`
	Channel  ChannelType      `json:"channel,omitempty"`
	Delay    time.Duration    `json:"delay,omitempty"`
}

// ChannelPreferences captures which channels a tenant has enabled and any
// custom fallback rules.
type ChannelPreferences struct {
	Enabled     map[ChannelType]bool `json:"enabled"`
	CustomRules []FallbackRule       `json:"custom_rules,omitempty"`
}

// ServiceHealth is a point-in-time snapshot of a monitored service. It is
// recreated on every poll; only the history log persists it.
type ServiceHealth struct {
	ServiceID string
	Status    HealthStatus
	Latency   time.Duration
	ErrorRate float64
	LastCheck time.Time
	Details   map[string]string
}

// ChannelHealth is the rolling health state of a delivery channel.
// HealthScore is 0-100: availability*0.4 + (100-errorRate)*0.4 +
// latency-derived*0.2, clamped.
type ChannelHealth struct {
	Channel          ChannelType
	HealthScore      float64
	Availability     float64
	ErrorRate        float64
	LatencyMS        float64
	ThroughputPerMin float64
	Status           HealthStatus
	LastUpdated      time.Time
}

// ForensicAnalysis is the diagnostic payload computed when a notification is
// dead-lettered.
type ForensicAnalysis struct {
	RootCause           string   `json:"root_cause"`
	ContributingFactors []string `json:"contributing_factors"`
	ImpactAssessments   []string `json:"impact_assessments"`
	RelatedIncidents    []string `json:"related_incidents"`
	Recommendations     []string `json:"recommendations"`
	Confidence          float64  `json:"confidence"`
}

// DeadLetterRecord is the terminal record of a notification that exhausted
// every automated delivery path. Immutable once created except through the
// manual-review and auto-recovery operations.
type DeadLetterRecord struct {
	ID             string
	NotificationID string
	TenantID       string
	Channel        ChannelType
	Priority       Priority
	FailureReason  FailureReason
	AttemptCount   int
	LastError      string
	Forensics      ForensicAnalysis
	Status         DeadLetterStatus
	NextRetryAt    *time.Time
	ReviewedBy     string
	ReviewNotes    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HealthAlert is an append-only audit record of a threshold breach.
type HealthAlert struct {
	ID        string
	Severity  AlertSeverity
	Component string
	Message   string
	Metadata  map[string]string
	At        time.Time
}

// FallbackEvent is an append-only audit record of a fallback decision.
type FallbackEvent struct {
	ID              string
	NotificationID  string
	OriginalChannel ChannelType
	FallbackChannel ChannelType
	Strategy        FallbackStrategy
	FailureReason   string
	At              time.Time
}

// RecoveryEvent is an append-only audit record of a recovery-strategy
// execution.
type RecoveryEvent struct {
	ID        string
	ServiceID string
	Category  ErrorCategory
	Strategy  StrategyType
	Succeeded bool
	Detail    string
	At        time.Time
}
