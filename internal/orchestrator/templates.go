package orchestrator

import "relaypoint/internal/types"

// Template names.
const (
	TemplateDatabaseRecovery = "database_recovery"
	TemplateChannelRecovery  = "notification_channel_recovery"
	TemplateFullRecovery     = "full_system_recovery"
)

// templateFunc builds a fresh step list plus rollback plan for one run.
// Templates are functions, not shared values: every workflow mutates its own
// step statuses.
type templateFunc func() ([]RecoveryStep, *RollbackPlan)

func builtinTemplates() map[string]templateFunc {
	return map[string]templateFunc{
		TemplateDatabaseRecovery: databaseRecoveryTemplate,
		TemplateChannelRecovery:  channelRecoveryTemplate,
		TemplateFullRecovery:     fullRecoveryTemplate,
	}
}

func databaseRecoveryTemplate() ([]RecoveryStep, *RollbackPlan) {
	steps := []RecoveryStep{
		{
			ID:     "db-health-precheck",
			Name:   "confirm database is actually unhealthy",
			Type:   types.StepHealthCheck,
			Params: map[string]string{"target": "database"},
		},
		{
			ID:       "db-connection-reset",
			Name:     "reset connection pool",
			Type:     types.StepConnectionReset,
			Critical: true,
			Dependencies: []DependencyCheck{
				{Type: types.DepServiceHealthy, Target: "database"},
			},
			Params: map[string]string{"target": "database"},
		},
		{
			ID:       "db-data-recovery",
			Name:     "recover unflushed records",
			Type:     types.StepDataRecovery,
			Critical: true,
			Params:   map[string]string{"target": "database"},
		},
		{
			ID:     "db-cache-invalidation",
			Name:   "invalidate stale caches",
			Type:   types.StepCacheInvalidation,
			Params: map[string]string{"scope": "database"},
		},
		{
			ID:     "db-health-postcheck",
			Name:   "verify database recovered",
			Type:   types.StepHealthCheck,
			Params: map[string]string{"target": "database"},
		},
	}
	rollback := &RollbackPlan{StepRollbacks: map[string][]RecoveryStep{
		"db-connection-reset": {
			{ID: "rb-db-connection-reset", Name: "re-reset connection pool", Type: types.StepConnectionReset,
				Params: map[string]string{"target": "database"}},
		},
		"db-data-recovery": {
			{ID: "rb-db-cache-flush", Name: "flush caches touched by recovery", Type: types.StepCacheInvalidation,
				Params: map[string]string{"scope": "database"}},
		},
	}}
	return steps, rollback
}

func channelRecoveryTemplate() ([]RecoveryStep, *RollbackPlan) {
	steps := []RecoveryStep{
		{
			ID:     "ch-health-check",
			Name:   "check channel provider health",
			Type:   types.StepHealthCheck,
			Params: map[string]string{"target": "channel"},
		},
		{
			ID:       "ch-config-update",
			Name:     "reload channel provider configuration",
			Type:     types.StepConfigUpdate,
			Critical: true,
			Params:   map[string]string{"target": "channel"},
		},
		{
			ID:       "ch-connection-reset",
			Name:     "reset provider connections",
			Type:     types.StepConnectionReset,
			Critical: true,
			Dependencies: []DependencyCheck{
				{Type: types.DepExternalService, Target: "channel"},
			},
			Params: map[string]string{"target": "channel"},
		},
		{
			ID:                "ch-resend",
			Name:              "resend notifications held during the outage",
			Type:              types.StepNotificationResend,
			ContinueOnFailure: true,
			Params:            map[string]string{"target": "channel"},
		},
	}
	rollback := &RollbackPlan{StepRollbacks: map[string][]RecoveryStep{
		"ch-config-update": {
			{ID: "rb-ch-config-update", Name: "restore previous channel configuration", Type: types.StepConfigUpdate,
				Params: map[string]string{"target": "channel", "restore": "previous"}},
		},
	}}
	return steps, rollback
}

func fullRecoveryTemplate() ([]RecoveryStep, *RollbackPlan) {
	steps := []RecoveryStep{
		{
			ID:     "sys-health-survey",
			Name:   "survey component health",
			Type:   types.StepHealthCheck,
			Params: map[string]string{"target": "system"},
		},
		{
			ID:       "sys-failover",
			Name:     "fail over to standby capacity",
			Type:     types.StepFailover,
			Critical: true,
			Dependencies: []DependencyCheck{
				{Type: types.DepServiceHealthy, Target: "standby"},
			},
			Params: map[string]string{"target": "primary"},
		},
		{
			ID:       "sys-service-restart",
			Name:     "restart delivery services",
			Type:     types.StepServiceRestart,
			Critical: true,
			Params:   map[string]string{"target": "delivery"},
		},
		{
			ID:     "sys-cache-invalidation",
			Name:   "invalidate all caches",
			Type:   types.StepCacheInvalidation,
			Params: map[string]string{"scope": "all"},
		},
		{
			ID:                "sys-resend",
			Name:              "resend notifications held during the outage",
			Type:              types.StepNotificationResend,
			ContinueOnFailure: true,
			Params:            map[string]string{"target": "all"},
		},
		{
			ID:                "sys-user-notice",
			Name:              "notify affected users of the disruption",
			Type:              types.StepUserNotification,
			ContinueOnFailure: true,
			Params:            map[string]string{"message": "service disruption resolved"},
		},
	}
	rollback := &RollbackPlan{StepRollbacks: map[string][]RecoveryStep{
		"sys-failover": {
			{ID: "rb-sys-failback", Name: "fail back to primary", Type: types.StepFailover,
				Params: map[string]string{"target": "standby"}},
		},
		"sys-service-restart": {
			{ID: "rb-sys-health-check", Name: "verify services after rollback", Type: types.StepHealthCheck,
				Params: map[string]string{"target": "delivery"}},
		},
	}}
	return steps, rollback
}
