// Package queue provides SQS-based message producers for dispatching delivery
// payloads to downstream workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"relaypoint/internal/dlq"
	"relaypoint/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ResendMessage is the wire payload placed on the delivery queue when a
// dead-lettered notification is re-attempted. Delivery workers consume it
// and send through the named channel with the modifications applied.
type ResendMessage struct {
	TraceID        string            `json:"trace_id"`
	RecordID       string            `json:"record_id"`
	NotificationID string            `json:"notification_id"`
	TenantID       string            `json:"tenant_id"`
	Channel        types.ChannelType `json:"channel"`
	Priority       types.Priority    `json:"priority"`
	Modifications  map[string]string `json:"modifications,omitempty"`
	RequestedAt    time.Time         `json:"requested_at"`
}

// ResendPublisher implements the dead letter queue's Resender by publishing
// resend requests onto the delivery queue. The actual channel transport runs
// in the delivery workers; a successful publish means the re-attempt is
// durably queued, which is the success contract auto-recovery needs.
type ResendPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
	clock    types.Clock
}

var _ dlq.Resender = (*ResendPublisher)(nil)

// NewResendPublisher creates a publisher for the given delivery queue URL.
func NewResendPublisher(client SQSSender, queueURL string, logger types.Logger, clock types.Clock) *ResendPublisher {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ResendPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		clock:    clock,
	}
}

// Resend serializes the re-attempt and dispatches it to the delivery queue.
func (p *ResendPublisher) Resend(ctx context.Context, rec types.DeadLetterRecord, channel types.ChannelType, modifications map[string]string) error {
	msg := ResendMessage{
		TraceID:        uuid.New().String(),
		RecordID:       rec.ID,
		NotificationID: rec.NotificationID,
		TenantID:       rec.TenantID,
		Channel:        channel,
		Priority:       rec.Priority,
		Modifications:  modifications,
		RequestedAt:    p.clock.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ResendMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(channel)),
			},
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(rec.Priority)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send ResendMessage to %s: %w", p.queueURL, err)
	}

	p.logger.Info("resend message sent",
		"queue_url", p.queueURL,
		"trace_id", msg.TraceID,
		"record_id", rec.ID,
		"notification_id", rec.NotificationID,
		"channel", string(channel),
	)
	return nil
}
