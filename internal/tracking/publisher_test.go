package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/open-tracker/internal/pkg/retry"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func sampleEvent() TrackingEvent {
	return TrackingEvent{
		EventID:    "evt-1",
		EventType:  EventOpened,
		TrackingID: "msg-1",
		Recipient:  "ann@example.com",
		IPAddress:  "203.0.113.1",
		UserAgent:  "Mozilla/5.0 (iPhone)",
		DeviceType: "mobile",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQSPublisherSendsEvent(t *testing.T) {
	client := &fakeSQS{}
	pub := NewSQSPublisher(client, "https://sqs.us-west-2.amazonaws.com/123/tracking")

	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/123/tracking", aws.ToString(in.QueueUrl))
	assert.Equal(t, "opened", aws.ToString(in.MessageAttributes["event_type"].StringValue))

	var got TrackingEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, sampleEvent(), got)
}

func TestSQSPublisherWrapsError(t *testing.T) {
	boom := errors.New("throttled")
	pub := NewSQSPublisher(&fakeSQS{err: boom}, "q")

	err := pub.Publish(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sqs send")
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	client := newTestRedis(t)
	pub := NewRedisPublisher(client, "tracking:events", 0)
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, sampleEvent()))

	msgs, err := client.XRange(ctx, "tracking:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "opened", msgs[0].Values["event_type"])
	assert.Equal(t, "msg-1", msgs[0].Values["tracking_id"])

	var got TrackingEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got))
	assert.Equal(t, "evt-1", got.EventID)
}

func TestRedisPublisherTrimsStream(t *testing.T) {
	client := newTestRedis(t)
	pub := NewRedisPublisher(client, "tracking:events", 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.Publish(ctx, sampleEvent()))
	}

	n, err := client.XLen(ctx, "tracking:events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRedisPublisherUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	err := NewRedisPublisher(client, "tracking:events", 0).Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis xadd tracking:events")
}

type flakyPublisher struct {
	failures int
	calls    int
}

func (f *flakyPublisher) Name() string { return "flaky" }

func (f *flakyPublisher) Publish(context.Context, TrackingEvent) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWithRetry(t *testing.T) {
	policy := retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	ok := &flakyPublisher{failures: 2}
	pub := WithRetry(ok, policy)
	assert.Equal(t, "flaky", pub.Name())
	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, 3, ok.calls)

	down := &flakyPublisher{failures: 10}
	assert.Error(t, WithRetry(down, policy).Publish(context.Background(), sampleEvent()))
	assert.Equal(t, 3, down.calls)
}
