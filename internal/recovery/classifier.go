// Package recovery classifies delivery failures and orchestrates the
// protective machinery around them: circuit breakers, recovery strategies,
// and per-dependency health tracking.
package recovery

import (
	"errors"
	"strings"
	"time"

	"relaypoint/internal/types"
)

// Classification is the outcome of inspecting a failure.
type Classification struct {
	Category          types.ErrorCategory
	Severity          types.Severity
	Transient         bool
	Retryable         bool
	EstimatedRecovery time.Duration
}

// Context carries the failure's surroundings into classification and
// strategy selection.
type Context struct {
	ServiceID      string
	Channel        types.ChannelType
	NotificationID string
	Priority       types.Priority
	AttemptCount   int
}

// categoryProfile is the fixed severity/transience/retryability profile for a
// category. Profiles are documented constants, not re-derived at runtime.
var categoryProfiles = map[types.ErrorCategory]Classification{
	types.CategoryNetwork: {
		Category:          types.CategoryNetwork,
		Severity:          types.SeverityMedium,
		Transient:         true,
		Retryable:         true,
		EstimatedRecovery: 30 * time.Second,
	},
	types.CategoryAuthentication: {
		Category:          types.CategoryAuthentication,
		Severity:          types.SeverityHigh,
		Transient:         false,
		Retryable:         false,
		EstimatedRecovery: 5 * time.Minute,
	},
	types.CategoryRateLimit: {
		Category:          types.CategoryRateLimit,
		Severity:          types.SeverityMedium,
		Transient:         true,
		Retryable:         true,
		EstimatedRecovery: 1 * time.Minute,
	},
	types.CategoryResourceExhaustion: {
		Category:          types.CategoryResourceExhaustion,
		Severity:          types.SeverityHigh,
		Transient:         true,
		Retryable:         true,
		EstimatedRecovery: 2 * time.Minute,
	},
	types.CategoryDatabase: {
		Category:          types.CategoryDatabase,
		Severity:          types.SeverityCritical,
		Transient:         true,
		Retryable:         true,
		EstimatedRecovery: 1 * time.Minute,
	},
	types.CategoryThirdParty: {
		Category:          types.CategoryThirdParty,
		Severity:          types.SeverityMedium,
		Transient:         true,
		Retryable:         true,
		EstimatedRecovery: 5 * time.Minute,
	},
	types.CategoryUnknown: {
		Category:          types.CategoryUnknown,
		Severity:          types.SeverityMedium,
		Transient:         false,
		Retryable:         false,
		EstimatedRecovery: 0,
	},
}

// categoryMatcher pairs a category with its message substrings. Matching is
// ordered: the first category with a hit wins.
type categoryMatcher struct {
	category types.ErrorCategory
	patterns []string
}

var categoryMatchers = []categoryMatcher{
	{types.CategoryNetwork, []string{
		"network", "timeout", "timed out", "connection refused", "connection reset",
		"econnreset", "etimedout", "no such host", "dns",
	}},
	{types.CategoryAuthentication, []string{
		"unauthorized", "authentication", "api key", "credential", "token expired", "forbidden",
	}},
	{types.CategoryRateLimit, []string{
		"rate limit", "too many requests", "429", "quota exceeded", "throttl",
	}},
	{types.CategoryResourceExhaustion, []string{
		"out of memory", "resource exhausted", "pool exhausted", "no capacity", "overloaded",
	}},
	{types.CategoryDatabase, []string{
		"database", "sql", "deadlock", "constraint", "pg:", "connection pool",
	}},
	// Third-party is matched by known provider names.
	{types.CategoryThirdParty, []string{
		"sendgrid", "twilio", "firebase", "fcm", "apns", "ses", "sns", "stripe",
	}},
}

// Classify inspects err and assigns it a category with the category's fixed
// profile. An *types.AppError is mapped from its code before any message
// matching.
func Classify(err error, _ Context) Classification {
	if err == nil {
		return categoryProfiles[types.CategoryUnknown]
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if cat, ok := codeCategory(appErr.Code); ok {
			return categoryProfiles[cat]
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range categoryMatchers {
		for _, p := range m.patterns {
			if strings.Contains(msg, p) {
				return categoryProfiles[m.category]
			}
		}
	}
	return categoryProfiles[types.CategoryUnknown]
}

// codeCategory maps a typed error code to a classification category.
func codeCategory(code types.ErrorCode) (types.ErrorCategory, bool) {
	switch code {
	case types.ErrCodeUpstreamTimeout:
		return types.CategoryNetwork, true
	case types.ErrCodeUpstreamRateLimited:
		return types.CategoryRateLimit, true
	case types.ErrCodeUpstreamUnavailable:
		return types.CategoryThirdParty, true
	case types.ErrCodeAuthFailed:
		return types.CategoryAuthentication, true
	case types.ErrCodeInternalDB:
		return types.CategoryDatabase, true
	default:
		return "", false
	}
}
