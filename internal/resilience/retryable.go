package resilience

import (
	"errors"
	"strings"

	"relaypoint/internal/types"
)

// nonRetryablePatterns are checked first. A match means the failure is a
// caller problem (auth, validation) and retrying cannot help.
var nonRetryablePatterns = []string{
	"unauthorized",
	"forbidden",
	"invalid",
	"validation error",
	"not found",
	"malformed",
	"unsubscribed",
	"blocked recipient",
}

// retryablePatterns match transient transport and upstream failures.
var retryablePatterns = []string{
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
	"connection refused",
	"connection reset",
	"econnreset",
	"etimedout",
	"temporarily unavailable",
	"service unavailable",
	"no such host",
}

// Retryable reports whether err is worth retrying. An *types.AppError
// short-circuits pattern matching via its code. Otherwise the lower-cased
// message is matched against the deny-list, then the allow-list; errors
// matching neither fall back to the policy's RetryOnUnknownErrors flag.
func Retryable(err error, retryOnUnknown bool) bool {
	if err == nil {
		return false
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code.Retryable()
	}

	msg := strings.ToLower(err.Error())
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return retryOnUnknown
}
