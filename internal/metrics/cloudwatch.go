// Package metrics emits resilience metrics to AWS CloudWatch. Emission is
// fire-and-forget: a failed put is logged, never returned to the hot path.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"relaypoint/internal/channels"
	"relaypoint/internal/health"
	"relaypoint/internal/recovery"
	"relaypoint/internal/types"
)

// Namespace is the CloudWatch namespace all resilience metrics publish to.
const Namespace = "RelayPoint/Resilience"

// Metric names.
const (
	MetricDeliveryAttempt   = "DeliveryAttempt"
	MetricDeliveryLatency   = "DeliveryLatency"
	MetricFallback          = "FallbackExecuted"
	MetricRecovery          = "RecoveryExecuted"
	MetricDeadLetter        = "DeadLettered"
	MetricAuditWriteFailure = "AuditWriteFailure"
)

// Dimension names.
const (
	DimChannel  = "Channel"
	DimResult   = "Result"
	DimCategory = "Category"
	DimStrategy = "Strategy"
	DimReason   = "Reason"
)

// CloudWatchClient abstracts the PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes resilience counters and latencies.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var (
	_ recovery.Metrics = (*CloudWatchMetrics)(nil)
	_ channels.Metrics = (*CloudWatchMetrics)(nil)
	_ health.Metrics   = (*CloudWatchMetrics)(nil)
)

// NewCloudWatchMetrics creates a metrics publisher for the resilience
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:    client,
		namespace: Namespace,
		logger:    logger,
	}
}

// RecordDelivery emits a DeliveryAttempt count with Channel and Result
// dimensions, plus a latency datum for the channel.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel types.ChannelType, success bool, latency time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricDeliveryAttempt),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims(DimChannel, string(channel), DimResult, result),
		},
		{
			MetricName: aws.String(MetricDeliveryLatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims(DimChannel, string(channel)),
		},
	})
}

// RecordFallback counts one fallback execution by strategy.
func (m *CloudWatchMetrics) RecordFallback(ctx context.Context, strategy types.FallbackStrategy) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(MetricFallback),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(DimStrategy, string(strategy)),
	}})
}

// RecordRecovery counts one recovery-strategy execution by category and
// outcome.
func (m *CloudWatchMetrics) RecordRecovery(ctx context.Context, category types.ErrorCategory, succeeded bool) {
	result := "success"
	if !succeeded {
		result = "failure"
	}
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(MetricRecovery),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(DimCategory, string(category), DimResult, result),
	}})
}

// RecordDeadLetter counts one dead-lettered notification by failure reason.
func (m *CloudWatchMetrics) RecordDeadLetter(ctx context.Context, reason types.FailureReason) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(MetricDeadLetter),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims(DimReason, string(reason)),
	}})
}

// RecordAuditWriteFailure counts a lost audit write so silent audit loss
// stays observable.
func (m *CloudWatchMetrics) RecordAuditWriteFailure(ctx context.Context) {
	m.put(ctx, []cwtypes.MetricDatum{{
		MetricName: aws.String(MetricAuditWriteFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	}})
}

func (m *CloudWatchMetrics) put(ctx context.Context, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to publish metrics", "error", err.Error())
	}
}

func dims(pairs ...string) []cwtypes.Dimension {
	out := make([]cwtypes.Dimension, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(pairs[i]),
			Value: aws.String(pairs[i+1]),
		})
	}
	return out
}
