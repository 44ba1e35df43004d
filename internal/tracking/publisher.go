package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/open-tracker/internal/pkg/retry"
)

type EventType string

const (
	EventSent   EventType = "sent"
	EventOpened EventType = "opened"
)

// TrackingEvent is what accepted records look like to downstream consumers.
type TrackingEvent struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	TrackingID string    `json:"tracking_id"`
	Recipient  string    `json:"recipient,omitempty"`
	Campaign   string    `json:"campaign,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Referer    string    `json:"referer,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher forwards accepted events somewhere outside the process.
// Publish is called off the request path; errors are only logged.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, evt TrackingEvent) error
}

// RetryingPublisher retries a transient Publish failure with backoff.
type RetryingPublisher struct {
	Publisher
	policy retry.Policy
}

// WithRetry wraps p so failed publishes are retried under policy.
func WithRetry(p Publisher, policy retry.Policy) *RetryingPublisher {
	return &RetryingPublisher{Publisher: p, policy: policy}
}

func (r *RetryingPublisher) Publish(ctx context.Context, evt TrackingEvent) error {
	return retry.Do(ctx, r.policy, r.Name(), func(ctx context.Context) error {
		return r.Publisher.Publish(ctx, evt)
	})
}

// sqsAPI is the subset of *sqs.Client used here.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends each event as a JSON message to an SQS queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

// NewSQSPublisher wraps an SQS client (usually *sqs.Client).
func NewSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Name() string { return "sqs" }

func (p *SQSPublisher) Publish(ctx context.Context, evt TrackingEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal tracking event: %w", err))
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.EventType)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}
