// Package alerts publishes operator alerts to an SQS queue consumed by the
// on-call tooling. Publishing is fire-and-forget per the AlertSink contract:
// a failed send is logged and counted, never surfaced to the caller.
package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"relaypoint/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// alertMessage is the wire payload placed on the alert queue.
type alertMessage struct {
	ID       string            `json:"id"`
	Severity string            `json:"severity"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
	RaisedAt time.Time         `json:"raised_at"`
}

// SQSAlertSink implements types.AlertSink over an SQS queue.
type SQSAlertSink struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
	clock    types.Clock
}

var _ types.AlertSink = (*SQSAlertSink)(nil)

// NewSQSAlertSink creates an alert sink publishing to queueURL.
func NewSQSAlertSink(client SQSSender, queueURL string, logger types.Logger, clock types.Clock) *SQSAlertSink {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SQSAlertSink{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		clock:    clock,
	}
}

// Raise publishes one alert. Severity rides along as a message attribute so
// consumers can filter without decoding the body.
func (s *SQSAlertSink) Raise(ctx context.Context, severity types.AlertSeverity, message string, metadata map[string]string) {
	msg := alertMessage{
		ID:       uuid.New().String(),
		Severity: string(severity),
		Message:  message,
		Metadata: metadata,
		RaisedAt: s.clock.Now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode alert", "error", err.Error())
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(severity)),
			},
		},
	}
	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.logger.Error("failed to publish alert",
			"severity", string(severity),
			"message", message,
			"error", err.Error(),
		)
	}
}
