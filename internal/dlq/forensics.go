package dlq

import (
	"context"
	"fmt"
	"time"

	"relaypoint/internal/types"
)

// relatedIncidentWindow bounds the delivery-log scan for related incidents.
const relatedIncidentWindow = time.Hour

var rootCauses = map[types.FailureReason]string{
	types.FailureRateLimitExceeded:  "provider rate limit exceeded",
	types.FailureServiceUnavailable: "provider temporarily unavailable",
	types.FailureNetworkTimeout:     "network timeout reaching provider",
	types.FailureAuthentication:     "provider rejected credentials",
	types.FailureInvalidRecipient:   "recipient address invalid or unreachable",
	types.FailurePayloadRejected:    "provider rejected the notification payload",
	types.FailureChannelDisabled:    "channel disabled by tenant preferences",
	types.FailureRetriesExhausted:   "all retry attempts exhausted",
	types.FailureFallbackExhausted:  "no fallback channel could deliver",
	types.FailureUnknown:            "undetermined failure",
}

var recommendations = map[types.FailureReason][]string{
	types.FailureRateLimitExceeded:  {"spread sends over a longer window", "review provider rate limit tier"},
	types.FailureServiceUnavailable: {"verify provider status page", "confirm auto-recovery retry fires"},
	types.FailureNetworkTimeout:     {"check egress connectivity", "review provider latency trend"},
	types.FailureAuthentication:     {"rotate provider credentials", "verify credential refresh succeeded"},
	types.FailureInvalidRecipient:   {"validate recipient before enqueue", "prune stale contact data"},
	types.FailurePayloadRejected:    {"validate payload against provider limits", "review template output size"},
	types.FailureChannelDisabled:    {"confirm tenant channel preferences are intentional"},
	types.FailureRetriesExhausted:   {"inspect last error for a persistent upstream fault"},
	types.FailureFallbackExhausted:  {"review channel health across the fallback chain"},
	types.FailureUnknown:            {"inspect last error text manually"},
}

// analyzeForensics builds the diagnostic payload recorded with a dead-letter
// record. Confidence rises with attempt count: more attempts means more
// evidence the cause is what the last error says, capped at 0.95 because a
// post-mortem from logs alone is never certain.
func (q *Queue) analyzeForensics(ctx context.Context, n *types.Notification, reason types.FailureReason, attemptCount int, lastError string) types.ForensicAnalysis {
	confidence := 0.5 + 0.1*float64(attemptCount)
	if confidence > 0.95 {
		confidence = 0.95
	}

	var factors []string
	if attemptCount >= 3 {
		factors = append(factors, fmt.Sprintf("%d delivery attempts failed consistently", attemptCount))
	}
	if lastError != "" {
		factors = append(factors, "last error: "+lastError)
	}

	impacts := []string{fmt.Sprintf("notification to %s not delivered via %s", n.Recipient, n.Channel)}
	if n.Priority == types.PriorityCritical || n.Priority == types.PriorityHigh {
		impacts = append(impacts, string(n.Priority)+"-priority delivery missed its window")
	}

	return types.ForensicAnalysis{
		RootCause:           rootCauses[reason],
		ContributingFactors: factors,
		ImpactAssessments:   impacts,
		RelatedIncidents:    q.relatedIncidents(ctx, n.Channel, n.ID),
		Recommendations:     recommendations[reason],
		Confidence:          confidence,
	}
}

// relatedIncidents scans the recent delivery log for other failures on the
// same channel. A cluster of failures points at the channel, a lone failure
// at the notification. Best-effort; a log read failure yields no incidents.
func (q *Queue) relatedIncidents(ctx context.Context, channel types.ChannelType, selfID string) []string {
	if q.outcomes == nil {
		return nil
	}
	since := q.clock.Now().Add(-relatedIncidentWindow)
	recent, err := q.outcomes.RecentOutcomes(ctx, channel, since)
	if err != nil {
		q.logger.Warn("related incident lookup failed",
			"channel", string(channel),
			"error", err.Error(),
		)
		return nil
	}

	var incidents []string
	for _, o := range recent {
		if !o.Success && o.NotificationID != selfID {
			incidents = append(incidents, o.NotificationID)
		}
	}
	return incidents
}
