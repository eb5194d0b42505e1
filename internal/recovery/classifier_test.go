package recovery

import (
	"errors"
	"testing"
	"time"

	"relaypoint/internal/types"
)

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		msg      string
		expected types.ErrorCategory
	}{
		{"dial tcp: connection refused", types.CategoryNetwork},
		{"request timed out after 10s", types.CategoryNetwork},
		{"unauthorized: invalid api key", types.CategoryAuthentication},
		{"token expired, refresh required", types.CategoryAuthentication},
		{"429 too many requests", types.CategoryRateLimit},
		{"provider quota exceeded for today", types.CategoryRateLimit},
		{"worker pool exhausted", types.CategoryResourceExhaustion},
		{"out of memory in renderer", types.CategoryResourceExhaustion},
		{"database deadlock detected", types.CategoryDatabase},
		{"sendgrid returned an unexpected response", types.CategoryThirdParty},
		{"twilio webhook misbehaving", types.CategoryThirdParty},
		{"some completely novel failure", types.CategoryUnknown},
	}

	for _, tt := range tests {
		got := Classify(errors.New(tt.msg), Context{ServiceID: "svc"})
		if got.Category != tt.expected {
			t.Errorf("%q: expected %s, got %s", tt.msg, tt.expected, got.Category)
		}
	}
}

func TestClassify_OrderingNetworkBeforeThirdParty(t *testing.T) {
	// Message mentions both a network symptom and a provider name; network is
	// matched first by category order.
	got := Classify(errors.New("sendgrid connection reset by peer"), Context{})
	if got.Category != types.CategoryNetwork {
		t.Errorf("expected network (matched first), got %s", got.Category)
	}
}

func TestClassify_Profiles(t *testing.T) {
	network := Classify(errors.New("network unreachable"), Context{})
	if !network.Transient || !network.Retryable {
		t.Error("network failures must be transient and retryable")
	}
	if network.EstimatedRecovery != 30*time.Second {
		t.Errorf("unexpected network recovery estimate: %v", network.EstimatedRecovery)
	}

	auth := Classify(errors.New("authentication rejected"), Context{})
	if auth.Transient || auth.Retryable {
		t.Error("authentication failures must be non-transient and non-retryable")
	}
	if auth.Severity != types.SeverityHigh {
		t.Errorf("expected high severity for auth, got %s", auth.Severity)
	}

	db := Classify(errors.New("database connection lost"), Context{})
	if db.Severity != types.SeverityCritical {
		t.Errorf("expected critical severity for database, got %s", db.Severity)
	}
}

func TestClassify_AppErrorCodeShortCircuit(t *testing.T) {
	err := types.NewAppError(types.ErrCodeUpstreamRateLimited, "slow down", nil)
	got := Classify(err, Context{})
	if got.Category != types.CategoryRateLimit {
		t.Errorf("expected rate_limit from code, got %s", got.Category)
	}
}

func TestClassify_NilError(t *testing.T) {
	got := Classify(nil, Context{})
	if got.Category != types.CategoryUnknown {
		t.Errorf("expected unknown for nil error, got %s", got.Category)
	}
}

func TestDetermineStrategy_Archetypes(t *testing.T) {
	cctx := Context{ServiceID: "svc", Channel: types.ChannelEmail}

	tests := []struct {
		category types.ErrorCategory
		expected types.StrategyType
	}{
		{types.CategoryNetwork, types.StrategyRetry},
		{types.CategoryAuthentication, types.StrategyRefreshCredentials},
		{types.CategoryRateLimit, types.StrategyBackoffAndRetry},
		{types.CategoryResourceExhaustion, types.StrategyResourceOptimize},
		{types.CategoryDatabase, types.StrategyDatabaseRecovery},
		{types.CategoryThirdParty, types.StrategyRetry},
	}

	for _, tt := range tests {
		s := DetermineStrategy(categoryProfiles[tt.category], cctx)
		if s.Type != tt.expected {
			t.Errorf("%s: expected strategy %s, got %s", tt.category, tt.expected, s.Type)
		}
	}
}

func TestDetermineStrategy_FallbackExcludesFailedChannel(t *testing.T) {
	s := DetermineStrategy(categoryProfiles[types.CategoryNetwork], Context{Channel: types.ChannelPush})
	for _, ch := range s.FallbackChannels {
		if ch == types.ChannelPush {
			t.Fatal("fallback channels must not include the failed channel")
		}
	}
	if len(s.FallbackChannels) != len(types.AllChannels)-1 {
		t.Errorf("expected %d fallback channels, got %d", len(types.AllChannels)-1, len(s.FallbackChannels))
	}
}

func TestDetermineStrategy_DatabaseEscalatesToWorkflow(t *testing.T) {
	s := DetermineStrategy(categoryProfiles[types.CategoryDatabase], Context{})
	found := false
	for _, rule := range s.Escalations {
		if rule.Action == ActionTriggerWorkflow && rule.WorkflowTemplate == "database_recovery" {
			found = true
		}
	}
	if !found {
		t.Error("database strategy must escalate to the database_recovery workflow")
	}
}
