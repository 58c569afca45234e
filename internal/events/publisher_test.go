package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/emma-intake/pkg/logging"
)

type fakeNATS struct {
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATS) Close() { f.closed = true }

func TestNATSPublisher_PublishesOnDerivedSubject(t *testing.T) {
	conn := &fakeNATS{}
	pub := newNATSPublisherWithConn(conn, logging.Default())

	env, err := pub.Publish(context.Background(), "conversation:c1", "", IntakeCompletedV1{ConversationID: "c1"})
	require.NoError(t, err)
	require.Equal(t, []string{"emma.intake.completed"}, conn.subjects)

	var got Envelope
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, env.EventID, got.EventID)

	pub.Close()
	assert.True(t, conn.closed)
}

func TestNATSPublisher_Errors(t *testing.T) {
	pub := newNATSPublisherWithConn(&fakeNATS{err: errors.New("no responders")}, nil)
	_, err := pub.Publish(context.Background(), "conversation:c1", "", IntakeDeclinedV1{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emma.intake.declined")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "conversation:c1", "", IntakeDeclinedV1{})
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSQS struct {
	sent     []string
	deleted  []string
	received []sqstypes.Message
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.received}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestQueuePublisher_SQS(t *testing.T) {
	client := &fakeSQS{}
	queue := NewSQSQueue(client, "https://sqs.local/intake")
	pub := NewQueuePublisher(queue)

	_, err := pub.Publish(context.Background(), "conversation:c2", "req-1", IntakeCompletedV1{ConversationID: "c2"})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(client.sent[0]), &env))
	assert.Equal(t, TypeIntakeCompleted, env.EventType)
	assert.Equal(t, "req-1", env.CorrelationID)

	client.received = []sqstypes.Message{{MessageId: aws.String("m-1"), Body: aws.String("{}"), ReceiptHandle: aws.String("rh-1")}}
	msgs, err := queue.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, queue.Delete(context.Background(), "rh-1"))
	require.NoError(t, queue.Delete(context.Background(), ""))
	assert.Equal(t, []string{"rh-1"}, client.deleted)
}

func TestMemoryQueue_SendReceive(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "a"))
	require.NoError(t, q.Send(ctx, "b"))

	msgs, err := q.Receive(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)

	start := time.Now()
	msgs, err = q.Receive(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestMemoryAndMultiPublisher(t *testing.T) {
	a, b := NewMemoryPublisher(), NewMemoryPublisher()
	multi := MultiPublisher{a, b}

	_, err := multi.Publish(context.Background(), "conversation:c3", "", IntakeDeclinedV1{ConversationID: "c3", OptedOut: true})
	require.NoError(t, err)
	assert.Len(t, a.Envelopes(), 1)
	assert.Len(t, b.Envelopes(), 1)

	failing := MultiPublisher{newNATSPublisherWithConn(&fakeNATS{err: errors.New("down")}, nil), a}
	_, err = failing.Publish(context.Background(), "conversation:c3", "", IntakeDeclinedV1{})
	assert.Error(t, err)
	assert.Len(t, a.Envelopes(), 2, "later publishers still run")
}
