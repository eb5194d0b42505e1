package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaypoint/internal/types"
)

// Ranking weights. Health dominates; cost is a tiebreaker concern.
const (
	weightHealth            = 0.4
	weightCapability        = 0.3
	weightPriorityAlignment = 0.2
	weightCost              = 0.1
)

// maxAlternatives bounds the alternatives returned alongside the top choice.
const maxAlternatives = 3

type capabilitySet struct {
	richContent bool
	attachments bool
	immediate   bool
}

// channelCapabilities is the static capability table. A channel that cannot
// satisfy a required capability is penalized, not excluded; a degraded
// rendering still beats no delivery.
var channelCapabilities = map[types.ChannelType]capabilitySet{
	types.ChannelEmail: {richContent: true, attachments: true, immediate: false},
	types.ChannelPush:  {richContent: false, attachments: false, immediate: true},
	types.ChannelInApp: {richContent: true, attachments: false, immediate: true},
	types.ChannelSMS:   {richContent: false, attachments: false, immediate: true},
}

// priorityAlignment scores how well a channel suits a priority tier.
var priorityAlignment = map[types.Priority]map[types.ChannelType]float64{
	types.PriorityCritical: {
		types.ChannelPush:  100,
		types.ChannelSMS:   90,
		types.ChannelInApp: 70,
		types.ChannelEmail: 50,
	},
	types.PriorityHigh: {
		types.ChannelPush:  90,
		types.ChannelSMS:   80,
		types.ChannelEmail: 75,
		types.ChannelInApp: 65,
	},
	types.PriorityMedium: {
		types.ChannelEmail: 90,
		types.ChannelInApp: 80,
		types.ChannelPush:  70,
		types.ChannelSMS:   40,
	},
	types.PriorityLow: {
		types.ChannelEmail: 100,
		types.ChannelInApp: 90,
		types.ChannelPush:  50,
		types.ChannelSMS:   20,
	},
}

// costScore reflects relative per-message cost, higher meaning cheaper.
var costScore = map[types.ChannelType]float64{
	types.ChannelInApp: 100,
	types.ChannelPush:  95,
	types.ChannelEmail: 90,
	types.ChannelSMS:   40,
}

// RankedChannel is one entry of a channel ranking with its sub-scores kept
// for reasoning strings and tests.
type RankedChannel struct {
	Channel           types.ChannelType
	Score             float64
	Health            float64
	Capability        float64
	PriorityAlignment float64
	Cost              float64
}

// Selection is the result of an optimal-channel query.
type Selection struct {
	Channel      types.ChannelType
	Confidence   float64
	Reasoning    string
	Alternatives []RankedChannel
}

// FallbackResult describes how a failed delivery is redirected.
type FallbackResult struct {
	FallbackChannel     types.ChannelType
	Strategy            types.FallbackStrategy
	Delay               time.Duration
	PreservePreferences bool
}

// Metrics is the narrow metrics surface the fallback service needs.
type Metrics interface {
	RecordFallback(ctx context.Context, strategy types.FallbackStrategy)
	RecordAuditWriteFailure(ctx context.Context)
}

// FallbackOptions wires the fallback service's collaborators.
type FallbackOptions struct {
	Health  *HealthMonitor
	Audit   types.AuditAppender
	Alerts  types.AlertSink
	Metrics Metrics
	Logger  types.Logger
	Clock   types.Clock
}

// FallbackService ranks alternative channels and selects a fallback strategy
// when a delivery fails on its primary channel.
type FallbackService struct {
	health  *HealthMonitor
	audit   types.AuditAppender
	alerts  types.AlertSink
	metrics Metrics
	logger  types.Logger
	clock   types.Clock
}

// NewFallbackService creates a fallback service from opts.
func NewFallbackService(opts FallbackOptions) *FallbackService {
	clock := opts.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &FallbackService{
		health:  opts.Health,
		audit:   opts.Audit,
		alerts:  opts.Alerts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		clock:   clock,
	}
}

// OptimalChannel ranks the enabled, non-excluded channels for nctx and returns
// the best one plus up to three alternatives. Returns an error when preferences
// leave no channel to rank.
func (s *FallbackService) OptimalChannel(nctx types.NotificationContext, prefs types.ChannelPreferences, exclude []types.ChannelType) (Selection, error) {
	ranked := s.rankChannels(nctx, prefs, exclude)
	if len(ranked) == 0 {
		return Selection{}, types.NewAppError(types.ErrCodeFallbackExhausted,
			"no eligible channel for notification "+nctx.NotificationID, nil)
	}

	top := ranked[0]
	alternatives := ranked[1:]
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	return Selection{
		Channel:    top.Channel,
		Confidence: top.Score / 100,
		Reasoning: fmt.Sprintf("%s scored %.1f (health %.1f, capability %.1f, priority %.1f, cost %.1f)",
			top.Channel, top.Score, top.Health, top.Capability, top.PriorityAlignment, top.Cost),
		Alternatives: alternatives,
	}, nil
}

// rankChannels scores eligible channels and sorts them best-first. The sort is
// stable over the fixed channel table order, so equal scores keep table order
// and identical inputs always produce identical rankings.
func (s *FallbackService) rankChannels(nctx types.NotificationContext, prefs types.ChannelPreferences, exclude []types.ChannelType) []RankedChannel {
	excluded := make(map[types.ChannelType]bool, len(exclude))
	for _, ch := range exclude {
		excluded[ch] = true
	}

	var ranked []RankedChannel
	for _, ch := range types.AllChannels {
		if excluded[ch] || !prefs.Enabled[ch] {
			continue
		}
		health := s.health.Snapshot(ch).HealthScore
		capability := capabilityScore(ch, nctx)
		alignment := priorityAlignment[nctx.Priority][ch]
		cost := costScore[ch]
		ranked = append(ranked, RankedChannel{
			Channel:           ch,
			Score:             weightedScore(health, capability, alignment, cost),
			Health:            health,
			Capability:        capability,
			PriorityAlignment: alignment,
			Cost:              cost,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// ExecuteFallback records the failure against channel health, selects a
// fallback strategy for the failed delivery, executes it, and audits the
// decision. The original channel is always excluded from immediate
// alternatives.
func (s *FallbackService) ExecuteFallback(ctx context.Context, originalChannel types.ChannelType, nctx types.NotificationContext, prefs types.ChannelPreferences, failureReason string) (FallbackResult, error) {
	s.health.Record(originalChannel, false, 0)

	strategy, delay, forced := s.selectStrategy(nctx, prefs, failureReason)

	result, err := s.executeStrategy(ctx, strategy, delay, forced, originalChannel, nctx, prefs)
	if err != nil {
		return FallbackResult{}, err
	}

	s.metrics.RecordFallback(ctx, result.Strategy)
	s.appendFallbackEvent(ctx, originalChannel, result, nctx, failureReason)

	s.logger.Info("fallback executed",
		"notification_id", nctx.NotificationID,
		"original_channel", string(originalChannel),
		"fallback_channel", string(result.FallbackChannel),
		"strategy", string(result.Strategy),
	)
	return result, nil
}

// selectStrategy picks the fallback strategy. Tenant custom rules are checked
// first in declaration order; the first rule whose Match substring appears in
// the failure reason wins. Fixed heuristics apply otherwise.
func (s *FallbackService) selectStrategy(nctx types.NotificationContext, prefs types.ChannelPreferences, failureReason string) (types.FallbackStrategy, time.Duration, types.ChannelType) {
	reason := strings.ToLower(failureReason)

	for _, rule := range prefs.CustomRules {
		if rule.Match != "" && strings.Contains(reason, strings.ToLower(rule.Match)) {
			return rule.Strategy, rule.Delay, rule.Channel
		}
	}

	switch {
	case strings.Contains(reason, "rate limit"):
		return types.FallbackDelayedRetry, 5 * time.Minute, ""
	case strings.Contains(reason, "authentication"), strings.Contains(reason, "configuration"):
		return types.FallbackAdminEscalation, 0, ""
	case nctx.Priority == types.PriorityCritical || nctx.Priority == types.PriorityHigh:
		return types.FallbackImmediateAlternative, 0, ""
	default:
		return types.FallbackDelayedRetry, time.Minute, ""
	}
}

// executeStrategy runs the per-strategy routine. forced carries a custom
// rule's channel override, if any.
func (s *FallbackService) executeStrategy(ctx context.Context, strategy types.FallbackStrategy, delay time.Duration, forced types.ChannelType, originalChannel types.ChannelType, nctx types.NotificationContext, prefs types.ChannelPreferences) (FallbackResult, error) {
	switch strategy {
	case types.FallbackImmediateAlternative:
		if forced != "" {
			return FallbackResult{FallbackChannel: forced, Strategy: strategy, PreservePreferences: true}, nil
		}
		sel, err := s.OptimalChannel(nctx, prefs, []types.ChannelType{originalChannel})
		if err != nil {
			return FallbackResult{}, err
		}
		return FallbackResult{FallbackChannel: sel.Channel, Strategy: strategy, PreservePreferences: true}, nil

	case types.FallbackDelayedRetry:
		// Reuse the original channel after the delay; the caller schedules it.
		return FallbackResult{FallbackChannel: originalChannel, Strategy: strategy, Delay: delay, PreservePreferences: true}, nil

	case types.FallbackUserNotification:
		// Degraded in-app notice telling the user about the delivery issue.
		return FallbackResult{FallbackChannel: types.ChannelInApp, Strategy: strategy, PreservePreferences: false}, nil

	case types.FallbackAdminEscalation:
		s.alerts.Raise(ctx, types.AlertCritical,
			"delivery failure escalated for notification "+nctx.NotificationID,
			map[string]string{
				"notification_id": nctx.NotificationID,
				"tenant_id":       nctx.TenantID,
				"channel":         string(originalChannel),
			})
		return FallbackResult{FallbackChannel: originalChannel, Strategy: strategy, PreservePreferences: true}, nil

	default:
		return FallbackResult{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			"unknown fallback strategy "+string(strategy), nil)
	}
}

func (s *FallbackService) appendFallbackEvent(ctx context.Context, originalChannel types.ChannelType, result FallbackResult, nctx types.NotificationContext, failureReason string) {
	ev := types.FallbackEvent{
		ID:              uuid.New().String(),
		NotificationID:  nctx.NotificationID,
		OriginalChannel: originalChannel,
		FallbackChannel: result.FallbackChannel,
		Strategy:        result.Strategy,
		FailureReason:   failureReason,
		At:              s.clock.Now(),
	}
	if err := s.audit.AppendFallbackEvent(ctx, ev); err != nil {
		s.logger.Error("failed to append fallback event",
			"notification_id", nctx.NotificationID,
			"error", err.Error(),
		)
		s.metrics.RecordAuditWriteFailure(ctx)
	}
}

// capabilityScore grades a channel against the notification's content and
// urgency requirements. Penalties, not exclusion.
func capabilityScore(channel types.ChannelType, nctx types.NotificationContext) float64 {
	caps := channelCapabilities[channel]
	score := 100.0
	if nctx.RequiresRichContent && !caps.richContent {
		score -= 40
	}
	if nctx.RequiresAttachments && !caps.attachments {
		score -= 40
	}
	if nctx.Urgent && !caps.immediate {
		score -= 30
	}
	if score < 0 {
		return 0
	}
	return score
}

func weightedScore(health, capability, alignment, cost float64) float64 {
	return health*weightHealth + capability*weightCapability + alignment*weightPriorityAlignment + cost*weightCost
}
